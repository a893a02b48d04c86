// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

// Package workflow runs time-boxed two-phase confirmation for
// irreversible bulk operations.
//
// An operation names its targets, an action to run per target, and a
// confirmation and cancellation keyword. Requesting it creates a
// ticket and arms a deadline; a matching confirmation within the
// deadline starts execution, anything else deletes the ticket. At
// most one ticket may be pending per conversation, and every ticket
// is deleted once its workflow reaches a terminal outcome.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ojuolokun86/BMM2-sub000/lib/clock"
	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
)

var (
	// ErrTicketPending is returned when a conversation already has a
	// pending ticket. The pending ticket is never silently
	// overwritten.
	ErrTicketPending = errors.New("workflow: a ticket is already pending for this conversation")

	// ErrNothingToDo is returned when enumeration finds no targets;
	// no ticket is created.
	ErrNothingToDo = errors.New("workflow: no targets to act on")
)

// Target is one entity an operation acts on.
type Target struct {
	// ID identifies the target in the external system.
	ID string
	// Elevated targets must be demoted before a full-conversation
	// teardown can exit the conversation.
	Elevated bool
}

// Operation parameterizes one destructive workflow.
type Operation struct {
	// Name appears in announcements and logs.
	Name string

	// Conversation keys the ticket; one pending ticket per
	// conversation.
	Conversation ref.ConversationID

	// Enumerate lists the current targets at request time.
	Enumerate func(ctx context.Context) ([]Target, error)

	// Act performs the operation on one target.
	Act func(ctx context.Context, target Target) error

	// Demote strips a target's elevation. Required when
	// FullTeardown is set.
	Demote func(ctx context.Context, target Target) error

	// Exit leaves the conversation after a successful full
	// teardown.
	Exit func(ctx context.Context) error

	// Notify sends a message to the conversation. Announcements,
	// abort notices, and the final report all go through it.
	Notify func(ctx context.Context, message string)

	// ConfirmWord and CancelWord are the keywords matched against
	// inbound commands, case-insensitively.
	ConfirmWord string
	CancelWord  string

	// FullTeardown operations demote every elevated target first
	// and exit the conversation at the end. A failed demotion
	// aborts the whole execution rather than leaving the
	// conversation partially demoted.
	FullTeardown bool
}

// Outcome is a ticket's terminal result.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomePartial
	OutcomeCancelled
	OutcomeExpired
	OutcomeAborted
)

// String returns the outcome name for logs and reports.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomePartial:
		return "partial"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeExpired:
		return "expired"
	case OutcomeAborted:
		return "aborted"
	default:
		return "invalid"
	}
}

// Report summarizes a finished execution.
type Report struct {
	TicketID     uuid.UUID
	Conversation ref.ConversationID
	Outcome      Outcome
	Acted        []string
	Failed       []string
}

// TicketState tracks a ticket through its lifecycle.
type TicketState int

const (
	TicketRequested TicketState = iota
	TicketConfirmed
	TicketCancelled
	TicketExpired
	TicketCompleted
)

// String returns the state name for logs.
func (s TicketState) String() string {
	switch s {
	case TicketRequested:
		return "requested"
	case TicketConfirmed:
		return "confirmed"
	case TicketCancelled:
		return "cancelled"
	case TicketExpired:
		return "expired"
	case TicketCompleted:
		return "completed"
	default:
		return "invalid"
	}
}

// Ticket is one pending or executing workflow instance.
type Ticket struct {
	ID           uuid.UUID
	Conversation ref.ConversationID
	CreatedAt    time.Time

	op      Operation
	targets []Target

	mu        sync.Mutex
	state     TicketState
	cancelled bool
	deadline  *clock.Timer
}

// State returns the ticket's current lifecycle state.
func (t *Ticket) State() TicketState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Targets returns the targets enumerated at request time.
func (t *Ticket) Targets() []Target {
	return append([]Target(nil), t.targets...)
}

// liveCancelled reports whether a cancellation arrived during
// execution. Checked before each target's action.
func (t *Ticket) liveCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Timing is the workflow timer table.
type Timing struct {
	// ConfirmDeadline bounds the wait for a confirmation keyword.
	ConfirmDeadline time.Duration
	// ActDelay is the fixed pause between consecutive target
	// actions, rate-limiting against the external system.
	ActDelay time.Duration
	// RetryDelay is the pause before the single retry of a failed
	// target action.
	RetryDelay time.Duration
}

// DefaultTiming returns the production timer table.
func DefaultTiming() Timing {
	return Timing{
		ConfirmDeadline: 30 * time.Second,
		ActDelay:        800 * time.Millisecond,
		RetryDelay:      2 * time.Second,
	}
}

// Coordinator owns all pending tickets.
type Coordinator struct {
	ctx    context.Context
	clock  clock.Clock
	logger *slog.Logger
	timing Timing

	// OnReport, when set, receives every terminal execution report.
	OnReport func(Report)

	mu      sync.Mutex
	tickets map[ref.ConversationID]*Ticket
}

// NewCoordinator builds a Coordinator. ctx bounds execution spawned
// by confirmed tickets; clk and logger may be nil.
func NewCoordinator(ctx context.Context, clk clock.Clock, logger *slog.Logger, timing Timing) *Coordinator {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Coordinator{
		ctx:     ctx,
		clock:   clk,
		logger:  logger,
		timing:  timing,
		tickets: make(map[ref.ConversationID]*Ticket),
	}
}

// Request starts the request phase: enumerate targets, create a
// ticket, announce it, and arm the confirmation deadline. An empty
// enumeration reports "nothing to do" and creates no ticket.
func (c *Coordinator) Request(ctx context.Context, op Operation) (*Ticket, error) {
	c.mu.Lock()
	if _, pending := c.tickets[op.Conversation]; pending {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTicketPending, op.Conversation)
	}
	c.mu.Unlock()

	targets, err := op.Enumerate(ctx)
	if err != nil {
		return nil, fmt.Errorf("workflow: enumerating targets for %s: %w", op.Name, err)
	}
	if len(targets) == 0 {
		op.Notify(ctx, fmt.Sprintf("%s: nothing to do", op.Name))
		return nil, fmt.Errorf("%w: %s", ErrNothingToDo, op.Name)
	}

	ticket := &Ticket{
		ID:           uuid.New(),
		Conversation: op.Conversation,
		CreatedAt:    c.clock.Now(),
		op:           op,
		targets:      targets,
		state:        TicketRequested,
	}

	c.mu.Lock()
	if _, pending := c.tickets[op.Conversation]; pending {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTicketPending, op.Conversation)
	}
	c.tickets[op.Conversation] = ticket
	ticket.deadline = c.clock.AfterFunc(c.timing.ConfirmDeadline, func() {
		c.expire(ticket)
	})
	c.mu.Unlock()

	op.Notify(ctx, fmt.Sprintf("%s: %d target(s) affected. Reply %q to confirm or %q to cancel within %s.",
		op.Name, len(targets), op.ConfirmWord, op.CancelWord, c.timing.ConfirmDeadline))
	c.logger.Info("ticket created",
		"ticket_id", ticket.ID, "conversation_id", op.Conversation,
		"operation", op.Name, "targets", len(targets))
	return ticket, nil
}

// Pending returns the conversation's pending ticket, or nil.
func (c *Coordinator) Pending(conversation ref.ConversationID) *Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickets[conversation]
}

// HandleCommand matches an inbound keyword against the conversation's
// pending ticket. It reports whether the word was consumed by a
// ticket.
func (c *Coordinator) HandleCommand(ctx context.Context, conversation ref.ConversationID, word string) bool {
	c.mu.Lock()
	ticket := c.tickets[conversation]
	c.mu.Unlock()
	if ticket == nil {
		return false
	}

	switch {
	case strings.EqualFold(word, ticket.op.ConfirmWord):
		return c.confirm(ctx, ticket)
	case strings.EqualFold(word, ticket.op.CancelWord):
		return c.cancel(ctx, ticket)
	default:
		return false
	}
}

// confirm transitions a requested ticket to confirmed and starts
// execution. The deadline timer is canceled so a stale timeout cannot
// fire after the fact.
func (c *Coordinator) confirm(ctx context.Context, ticket *Ticket) bool {
	ticket.mu.Lock()
	if ticket.state != TicketRequested {
		ticket.mu.Unlock()
		return false
	}
	ticket.state = TicketConfirmed
	if ticket.deadline != nil {
		ticket.deadline.Stop()
		ticket.deadline = nil
	}
	ticket.mu.Unlock()

	c.logger.Info("ticket confirmed", "ticket_id", ticket.ID, "operation", ticket.op.Name)
	go c.execute(ticket)
	return true
}

// cancel aborts a requested ticket, or flags a confirmed one so the
// execution loop stops before its next target.
func (c *Coordinator) cancel(ctx context.Context, ticket *Ticket) bool {
	ticket.mu.Lock()
	switch ticket.state {
	case TicketRequested:
		ticket.state = TicketCancelled
		if ticket.deadline != nil {
			ticket.deadline.Stop()
			ticket.deadline = nil
		}
		ticket.mu.Unlock()
		c.remove(ticket)
		ticket.op.Notify(ctx, fmt.Sprintf("%s: cancelled", ticket.op.Name))
		c.logger.Info("ticket cancelled", "ticket_id", ticket.ID, "operation", ticket.op.Name)
		return true
	case TicketConfirmed:
		ticket.cancelled = true
		ticket.mu.Unlock()
		c.logger.Info("live cancellation requested", "ticket_id", ticket.ID)
		return true
	default:
		ticket.mu.Unlock()
		return false
	}
}

// expire fires when the confirmation deadline elapses on a
// still-requested ticket.
func (c *Coordinator) expire(ticket *Ticket) {
	ticket.mu.Lock()
	if ticket.state != TicketRequested {
		ticket.mu.Unlock()
		return
	}
	ticket.state = TicketExpired
	ticket.mu.Unlock()

	c.remove(ticket)
	ticket.op.Notify(c.ctx, fmt.Sprintf("%s: confirmation window elapsed, operation aborted", ticket.op.Name))
	c.logger.Info("ticket expired", "ticket_id", ticket.ID, "operation", ticket.op.Name)
}

// remove deletes the ticket from the pending map if it is still the
// conversation's current ticket.
func (c *Coordinator) remove(ticket *Ticket) {
	c.mu.Lock()
	if c.tickets[ticket.Conversation] == ticket {
		delete(c.tickets, ticket.Conversation)
	}
	c.mu.Unlock()
}

// execute is the execution phase: demote elevated targets for full
// teardowns, then act on each target sequentially with the
// inter-action delay, retrying a failed target once before skipping
// it. A live cancellation stops the loop before the next target.
func (c *Coordinator) execute(ticket *Ticket) {
	op := ticket.op
	report := Report{
		TicketID:     ticket.ID,
		Conversation: ticket.Conversation,
		Outcome:      OutcomeCompleted,
	}
	defer func() {
		c.finish(ticket, report)
	}()

	if op.FullTeardown {
		for _, target := range ticket.targets {
			if !target.Elevated {
				continue
			}
			if ticket.liveCancelled() {
				op.Notify(c.ctx, fmt.Sprintf("%s: cancelled during demotion", op.Name))
				report.Outcome = OutcomeCancelled
				return
			}
			if err := op.Demote(c.ctx, target); err != nil {
				// A partially-demoted conversation cannot be
				// exited safely; abort outright.
				c.logger.Error("demotion failed, aborting teardown",
					"ticket_id", ticket.ID, "target", target.ID, "error", err)
				op.Notify(c.ctx, fmt.Sprintf("%s: could not demote %s, aborting", op.Name, target.ID))
				report.Outcome = OutcomeAborted
				return
			}
			c.clock.Sleep(c.timing.ActDelay)
		}
	}

	for i, target := range ticket.targets {
		if ticket.liveCancelled() {
			op.Notify(c.ctx, fmt.Sprintf("%s: cancelled after %d of %d target(s)",
				op.Name, i, len(ticket.targets)))
			report.Outcome = OutcomeCancelled
			return
		}
		if i > 0 {
			c.clock.Sleep(c.timing.ActDelay)
		}

		err := op.Act(c.ctx, target)
		if err != nil {
			c.clock.Sleep(c.timing.RetryDelay)
			err = op.Act(c.ctx, target)
		}
		if err != nil {
			c.logger.Warn("target action failed after retry, skipping",
				"ticket_id", ticket.ID, "target", target.ID, "error", err)
			report.Failed = append(report.Failed, target.ID)
			continue
		}
		report.Acted = append(report.Acted, target.ID)
	}

	if len(report.Failed) > 0 {
		report.Outcome = OutcomePartial
	}

	if op.FullTeardown && report.Outcome == OutcomeCompleted {
		if err := op.Exit(c.ctx); err != nil {
			c.logger.Error("leaving conversation failed",
				"ticket_id", ticket.ID, "error", err)
			report.Outcome = OutcomePartial
		}
	}
}

// finish is the single terminal path for executed tickets: the
// ticket is deleted, the report delivered, and the outcome announced.
func (c *Coordinator) finish(ticket *Ticket, report Report) {
	ticket.mu.Lock()
	switch report.Outcome {
	case OutcomeCancelled:
		ticket.state = TicketCancelled
	default:
		ticket.state = TicketCompleted
	}
	ticket.mu.Unlock()

	c.remove(ticket)

	if report.Outcome == OutcomeCompleted || report.Outcome == OutcomePartial {
		ticket.op.Notify(c.ctx, fmt.Sprintf("%s: %s, %d succeeded, %d failed",
			ticket.op.Name, report.Outcome, len(report.Acted), len(report.Failed)))
	}
	c.logger.Info("ticket finished",
		"ticket_id", ticket.ID, "operation", ticket.op.Name,
		"outcome", report.Outcome.String(),
		"acted", len(report.Acted), "failed", len(report.Failed))
	if c.OnReport != nil {
		c.OnReport(report)
	}
}
