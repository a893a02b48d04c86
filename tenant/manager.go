// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

// Package tenant owns the per-tenant connection state machine.
//
// Each tenant moves through Idle → Pairing → Open → Reconnecting →
// Terminated. The manager drives the transitions: it creates
// credential records for fresh tenants, requests pairing artifacts,
// registers session handles on successful authentication, classifies
// disconnects, and tears everything down when a tenant is deleted.
// One tenant's failure never touches another tenant's session, queue
// lanes, or timers.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ojuolokun86/BMM2-sub000/credstore"
	"github.com/ojuolokun86/BMM2-sub000/delivery"
	"github.com/ojuolokun86/BMM2-sub000/lib/clock"
	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
	"github.com/ojuolokun86/BMM2-sub000/protocol"
	"github.com/ojuolokun86/BMM2-sub000/session"
	"github.com/ojuolokun86/BMM2-sub000/taskqueue"
)

var (
	// ErrUnknownTenant is returned for operations on a tenant with
	// no session state.
	ErrUnknownTenant = errors.New("tenant: unknown tenant")

	// ErrSessionActive is returned by StartSession when the tenant
	// already has live session state.
	ErrSessionActive = errors.New("tenant: session already active")
)

// Phase is a tenant's position in the lifecycle state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePairing
	PhaseConnecting
	PhaseOpen
	PhaseReconnecting
	PhaseTerminated
)

// String returns the phase name for logs.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePairing:
		return "pairing"
	case PhaseConnecting:
		return "connecting"
	case PhaseOpen:
		return "open"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseTerminated:
		return "terminated"
	default:
		return "invalid"
	}
}

// Timers is the lifecycle timer table. All timers are cancelable and
// keyed by tenant; superseding an armed timer always cancels it.
type Timers struct {
	// PairingDeadline bounds time spent in Pairing before the
	// tenant is torn down and its credentials deleted.
	PairingDeadline time.Duration

	// ReconnectDelay is the fixed backoff before re-entry after a
	// transient disconnect.
	ReconnectDelay time.Duration

	// PostRegistrationRestart is the one-time delay before the
	// clean self-restart that follows a first registration.
	PostRegistrationRestart time.Duration

	// PresenceReset marks a session idle after this much
	// inactivity.
	PresenceReset time.Duration
}

// DefaultTimers returns the production timer table.
func DefaultTimers() Timers {
	return Timers{
		PairingDeadline:         60 * time.Second,
		ReconnectDelay:          5 * time.Second,
		PostRegistrationRestart: 10 * time.Second,
		PresenceReset:           5 * time.Minute,
	}
}

// InboundFunc receives inbound events after per-conversation
// serialization.
type InboundFunc func(ctx context.Context, tenant ref.TenantID, event protocol.InboundEvent) error

// PurgeFunc deletes a tenant's derived application data during
// tenant deletion.
type PurgeFunc func(ctx context.Context, tenant ref.TenantID) error

// Options configures a Manager.
type Options struct {
	Store    credstore.Store
	Dialer   protocol.Dialer
	Registry *session.Registry
	Queues   *taskqueue.Runner
	Delivery delivery.Channel
	Host     ref.HostID
	Timers   Timers

	// Clock may be nil for the system clock.
	Clock clock.Clock
	// Logger may be nil to discard logs.
	Logger *slog.Logger

	// Inbound, when set, receives serialized inbound events.
	Inbound InboundFunc
	// PurgeAppData, when set, runs during DeleteTenant after the
	// credential record is gone.
	PurgeAppData PurgeFunc
}

// state is one tenant's lifecycle state. All fields are guarded by
// the manager's mutex.
type state struct {
	owner  ref.OwnerID
	phase  Phase
	client protocol.Client
	record *credstore.Record

	// fresh means the credential record was minted by this session
	// and has never completed a registration.
	fresh bool
	// restartDone means the one-time post-registration restart has
	// already been scheduled.
	restartDone bool

	pairingTimer   *clock.Timer
	reconnectTimer *clock.Timer
	restartTimer   *clock.Timer
	presenceTimer  *clock.Timer
}

// cancelTimersLocked stops every armed timer for the tenant.
func (s *state) cancelTimersLocked() {
	for _, timer := range []**clock.Timer{
		&s.pairingTimer, &s.reconnectTimer, &s.restartTimer, &s.presenceTimer,
	} {
		if *timer != nil {
			(*timer).Stop()
			*timer = nil
		}
	}
}

// Manager is the connection lifecycle controller for all tenants on
// this host.
type Manager struct {
	ctx      context.Context
	store    credstore.Store
	dialer   protocol.Dialer
	registry *session.Registry
	queues   *taskqueue.Runner
	delivery delivery.Channel
	host     ref.HostID
	timers   Timers
	clock    clock.Clock
	logger   *slog.Logger
	inbound  InboundFunc
	purge    PurgeFunc

	mu      sync.Mutex
	tenants map[ref.TenantID]*state
	ignored map[ref.TenantID]bool
}

// NewManager builds a Manager. ctx bounds background work spawned by
// timers (reconnects, restarts); canceling it stops new transitions
// but does not tear down live sessions; use Shutdown for that.
func NewManager(ctx context.Context, opts Options) *Manager {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		ctx:      ctx,
		store:    opts.Store,
		dialer:   opts.Dialer,
		registry: opts.Registry,
		queues:   opts.Queues,
		delivery: opts.Delivery,
		host:     opts.Host,
		timers:   opts.Timers,
		clock:    clk,
		logger:   logger,
		inbound:  opts.Inbound,
		purge:    opts.PurgeAppData,
		tenants:  make(map[ref.TenantID]*state),
		ignored:  make(map[ref.TenantID]bool),
	}
}

func credLane(tenant ref.TenantID) string {
	return "cred:" + tenant.String()
}

func inboundLanePrefix(tenant ref.TenantID) string {
	return "in:" + tenant.String() + ":"
}

func inboundLane(tenant ref.TenantID, conversation ref.ConversationID) string {
	return inboundLanePrefix(tenant) + conversation.String()
}

// StartSession opens (or re-opens) the tenant's connection. A tenant
// with no credential record gets a fresh one and enters Pairing; a
// tenant with stored credentials reconnects directly. At most one
// live session may exist per tenant.
func (m *Manager) StartSession(ctx context.Context, tenant ref.TenantID, owner ref.OwnerID) error {
	m.mu.Lock()
	if st := m.tenants[tenant]; st != nil && st.phase != PhaseTerminated {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionActive, tenant)
	}
	// Registration revives a tenant that was marked for deletion.
	delete(m.ignored, tenant)
	m.mu.Unlock()

	record, err := m.store.Load(ctx, tenant)
	fresh := false
	switch {
	case errors.Is(err, credstore.ErrNotFound):
		record, err = credstore.NewRecord(owner, m.host, m.clock.Now())
		if err != nil {
			return fmt.Errorf("tenant: creating credential record for %s: %w", tenant, err)
		}
		fresh = true
	case err != nil:
		return fmt.Errorf("tenant: loading credentials for %s: %w", tenant, err)
	}

	client, err := m.dialer.Dial(ctx, tenant, record)
	if err != nil {
		return fmt.Errorf("tenant: dialing for %s: %w", tenant, err)
	}

	st := &state{
		owner:  owner,
		phase:  PhaseConnecting,
		client: client,
		record: record,
		fresh:  fresh,
	}
	if fresh {
		st.phase = PhasePairing
	}

	m.mu.Lock()
	if existing := m.tenants[tenant]; existing != nil && existing.phase != PhaseTerminated {
		m.mu.Unlock()
		client.Terminate()
		return fmt.Errorf("%w: %s", ErrSessionActive, tenant)
	}
	m.tenants[tenant] = st
	m.mu.Unlock()

	client.SetHandler(&eventHandler{manager: m, tenant: tenant})
	if err := client.Connect(ctx); err != nil {
		client.SetHandler(nil)
		m.mu.Lock()
		delete(m.tenants, tenant)
		m.mu.Unlock()
		return fmt.Errorf("tenant: connecting %s: %w", tenant, err)
	}

	if fresh {
		m.mu.Lock()
		st.pairingTimer = m.clock.AfterFunc(m.timers.PairingDeadline, func() {
			m.pairingExpired(tenant)
		})
		m.mu.Unlock()

		if err := client.RequestPairingCode(ctx); err != nil {
			if stopErr := m.StopSession(ctx, tenant); stopErr != nil {
				m.logger.Warn("teardown after failed pairing request",
					"tenant_id", tenant, "error", stopErr)
			}
			return fmt.Errorf("tenant: requesting pairing code for %s: %w", tenant, err)
		}
		m.logger.Info("pairing started",
			"tenant_id", tenant, "owner_id", owner, "deadline", m.timers.PairingDeadline)
	} else {
		m.logger.Info("session connecting", "tenant_id", tenant, "owner_id", owner)
	}
	return nil
}

// StopSession fully tears the tenant's session down: cancels all
// timers, detaches the event handler, closes then terminates the
// transport, and only then removes the session handle. The credential
// record is untouched.
func (m *Manager) StopSession(ctx context.Context, tenant ref.TenantID) error {
	m.mu.Lock()
	st := m.tenants[tenant]
	if st == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTenant, tenant)
	}
	st.cancelTimersLocked()
	st.phase = PhaseTerminated
	client := st.client
	delete(m.tenants, tenant)
	m.mu.Unlock()

	if handle := m.registry.Get(tenant); handle != nil {
		handle.MarkIntentional()
	}
	if client != nil {
		client.SetHandler(nil)
		if err := client.Close(); err != nil {
			m.logger.Warn("graceful close failed", "tenant_id", tenant, "error", err)
		}
		client.Terminate()
	}
	m.registry.Remove(tenant)
	m.logger.Info("session stopped", "tenant_id", tenant)
	return nil
}

// DeleteTenant removes every trace of the tenant, in order: further
// inbound events are ignored, the session is fully stopped, queue
// lanes are cleared, the credential record is deleted from all tiers,
// and derived application data is purged.
func (m *Manager) DeleteTenant(ctx context.Context, tenant ref.TenantID) error {
	m.mu.Lock()
	m.ignored[tenant] = true
	m.mu.Unlock()

	if err := m.StopSession(ctx, tenant); err != nil && !errors.Is(err, ErrUnknownTenant) {
		return err
	}

	m.queues.Drop(credLane(tenant))
	m.queues.DropPrefix(inboundLanePrefix(tenant))

	if err := m.store.Delete(ctx, tenant); err != nil {
		return fmt.Errorf("tenant: deleting credentials for %s: %w", tenant, err)
	}
	if m.purge != nil {
		if err := m.purge(ctx, tenant); err != nil {
			return fmt.Errorf("tenant: purging application data for %s: %w", tenant, err)
		}
	}
	m.logger.Info("tenant deleted", "tenant_id", tenant)
	return nil
}

// Shutdown stops every live session gracefully.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	tenants := make([]ref.TenantID, 0, len(m.tenants))
	for tenant := range m.tenants {
		tenants = append(tenants, tenant)
	}
	m.mu.Unlock()

	for _, tenant := range tenants {
		if err := m.StopSession(ctx, tenant); err != nil && !errors.Is(err, ErrUnknownTenant) {
			m.logger.Warn("shutdown stop failed", "tenant_id", tenant, "error", err)
		}
	}
}

// Phase reports the tenant's current lifecycle phase.
func (m *Manager) Phase(tenant ref.TenantID) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.tenants[tenant]; st != nil {
		return st.phase
	}
	return PhaseIdle
}

// pairingExpired fires when the pairing deadline elapses without a
// successful authentication. The tenant is torn down and its
// credential record deleted, so no session handle ever exists for it.
func (m *Manager) pairingExpired(tenant ref.TenantID) {
	m.mu.Lock()
	st := m.tenants[tenant]
	if st == nil || st.phase != PhasePairing {
		m.mu.Unlock()
		return
	}
	owner := st.owner
	m.mu.Unlock()

	m.logger.Warn("pairing deadline elapsed", "tenant_id", tenant)
	if err := m.StopSession(m.ctx, tenant); err != nil && !errors.Is(err, ErrUnknownTenant) {
		m.logger.Warn("teardown after pairing timeout", "tenant_id", tenant, "error", err)
	}
	if err := m.store.Delete(m.ctx, tenant); err != nil {
		m.logger.Error("deleting credentials after pairing timeout",
			"tenant_id", tenant, "error", err)
	}
	m.delivery.DeliverStatus(owner, delivery.RegistrationStatus{
		TenantID: tenant,
		Success:  false,
		Message:  "pairing timed out",
	})
}

// handleConnected runs on the protocol client signaling successful
// authentication.
func (m *Manager) handleConnected(tenant ref.TenantID) {
	m.mu.Lock()
	st := m.tenants[tenant]
	if st == nil || st.phase == PhaseTerminated {
		m.mu.Unlock()
		return
	}
	if st.pairingTimer != nil {
		st.pairingTimer.Stop()
		st.pairingTimer = nil
	}
	firstRegistration := st.fresh && !st.restartDone
	st.phase = PhaseOpen
	owner := st.owner
	client := st.client
	m.mu.Unlock()

	m.persistCredentials(tenant)

	if _, err := m.registry.Put(tenant, owner, client); err != nil {
		// A live handle here means a teardown was skipped; stand
		// down rather than run two connections for one identity.
		m.logger.Error("registering session handle", "tenant_id", tenant, "error", err)
		client.SetHandler(nil)
		client.Terminate()
		m.mu.Lock()
		if st := m.tenants[tenant]; st != nil {
			st.cancelTimersLocked()
			delete(m.tenants, tenant)
		}
		m.mu.Unlock()
		return
	}

	m.armPresence(tenant)
	m.delivery.DeliverStatus(owner, delivery.RegistrationStatus{
		TenantID: tenant,
		Success:  true,
		Message:  "connected",
	})
	m.logger.Info("session open", "tenant_id", tenant, "owner_id", owner)

	if firstRegistration {
		m.mu.Lock()
		if st := m.tenants[tenant]; st != nil {
			st.restartDone = true
			st.restartTimer = m.clock.AfterFunc(m.timers.PostRegistrationRestart, func() {
				m.restart(tenant)
			})
		}
		m.mu.Unlock()
	}
}

// restart is the one-time clean re-initialization after a first
// registration.
func (m *Manager) restart(tenant ref.TenantID) {
	m.mu.Lock()
	st := m.tenants[tenant]
	if st == nil {
		m.mu.Unlock()
		return
	}
	owner := st.owner
	m.mu.Unlock()

	m.logger.Info("post-registration restart", "tenant_id", tenant)
	if err := m.StopSession(m.ctx, tenant); err != nil {
		m.logger.Warn("post-registration stop failed", "tenant_id", tenant, "error", err)
		return
	}
	if err := m.StartSession(m.ctx, tenant, owner); err != nil {
		m.logger.Error("post-registration restart failed", "tenant_id", tenant, "error", err)
	}
}

// handleDisconnect classifies a closed connection and reacts: clear
// an intentional-disconnect flag, stand down on conflict, schedule a
// backoff reconnect on transient causes, or delete all tenant data on
// fatal ones.
func (m *Manager) handleDisconnect(tenant ref.TenantID, cause protocol.DisconnectCause) {
	if handle := m.registry.Get(tenant); handle != nil && handle.ConsumeIntent() {
		m.logger.Debug("intentional disconnect", "tenant_id", tenant, "cause", cause)
		m.registry.Remove(tenant)
		return
	}

	class := Classify(cause)
	m.registry.Remove(tenant)

	switch class {
	case ClassConflict:
		// Another live connection owns this identity. Stand down
		// without touching the credential record.
		m.logger.Warn("conflicting live connection, standing down",
			"tenant_id", tenant, "cause", cause)
		m.mu.Lock()
		st := m.tenants[tenant]
		if st == nil {
			m.mu.Unlock()
			return
		}
		st.cancelTimersLocked()
		st.phase = PhaseTerminated
		client := st.client
		delete(m.tenants, tenant)
		m.mu.Unlock()
		client.SetHandler(nil)
		client.Terminate()

	case ClassTransient:
		m.mu.Lock()
		st := m.tenants[tenant]
		if st == nil || st.phase == PhaseTerminated {
			m.mu.Unlock()
			return
		}
		st.cancelTimersLocked()
		st.phase = PhaseReconnecting
		st.reconnectTimer = m.clock.AfterFunc(m.timers.ReconnectDelay, func() {
			m.reconnect(tenant)
		})
		m.mu.Unlock()
		m.logger.Info("transient disconnect, reconnect scheduled",
			"tenant_id", tenant, "cause", cause, "delay", m.timers.ReconnectDelay)

	case ClassFatal:
		m.logger.Error("fatal disconnect, deleting tenant data",
			"tenant_id", tenant, "cause", cause)
		m.mu.Lock()
		var owner ref.OwnerID
		if st := m.tenants[tenant]; st != nil {
			owner = st.owner
		}
		m.mu.Unlock()
		if err := m.DeleteTenant(m.ctx, tenant); err != nil {
			m.logger.Error("deleting tenant after fatal disconnect",
				"tenant_id", tenant, "error", err)
		}
		if !owner.IsZero() {
			m.delivery.DeliverStatus(owner, delivery.RegistrationStatus{
				TenantID: tenant,
				Success:  false,
				Message:  "session ended: " + cause.String(),
			})
		}
	}
}

// reconnect fires after the transient-disconnect backoff.
func (m *Manager) reconnect(tenant ref.TenantID) {
	m.mu.Lock()
	st := m.tenants[tenant]
	if st == nil || st.phase != PhaseReconnecting {
		m.mu.Unlock()
		return
	}
	owner := st.owner
	client := st.client
	delete(m.tenants, tenant)
	m.mu.Unlock()

	client.SetHandler(nil)
	client.Terminate()

	if err := m.StartSession(m.ctx, tenant, owner); err != nil {
		m.logger.Error("reconnect failed", "tenant_id", tenant, "error", err)
	}
}

// persistCredentials enqueues a save of the tenant's record on its
// credential lane, serializing it against other credential writes for
// the same tenant. The record is snapshotted under the manager's
// mutex: the lane goroutine must never touch the live record, which
// handleCredentials keeps mutating while the connection is open.
func (m *Manager) persistCredentials(tenant ref.TenantID) {
	m.mu.Lock()
	st := m.tenants[tenant]
	if st == nil {
		m.mu.Unlock()
		return
	}
	record := st.record.Clone()
	m.mu.Unlock()

	m.queues.Enqueue(credLane(tenant), func(ctx context.Context) error {
		if err := m.store.Save(ctx, tenant, record); err != nil {
			return fmt.Errorf("persisting credentials for %s: %w", tenant, err)
		}
		return nil
	})
}

// handleCredentials applies a credential mutation to the in-memory
// record and persists it immediately.
func (m *Manager) handleCredentials(tenant ref.TenantID, mutation protocol.CredentialMutation) {
	m.mu.Lock()
	st := m.tenants[tenant]
	if st == nil || m.ignored[tenant] {
		m.mu.Unlock()
		return
	}
	if mutation.Identity != nil {
		st.record.Identity = mutation.Identity
	}
	for _, update := range mutation.Keys {
		st.record.SetKey(update.Category, update.KeyID, update.Data)
	}
	m.mu.Unlock()

	m.persistCredentials(tenant)
}

// handleInbound records activity and forwards the event through the
// conversation's lane.
func (m *Manager) handleInbound(tenant ref.TenantID, event protocol.InboundEvent) {
	m.mu.Lock()
	st := m.tenants[tenant]
	ignored := m.ignored[tenant]
	m.mu.Unlock()
	if st == nil || ignored {
		return
	}

	m.registry.Touch(tenant)
	m.armPresence(tenant)

	if m.inbound == nil {
		return
	}
	m.queues.Enqueue(inboundLane(tenant, event.Conversation), func(ctx context.Context) error {
		return m.inbound(ctx, tenant, event)
	})
}

// armPresence (re)arms the tenant's presence-reset timer. Each
// inbound event pushes the idle mark out again.
func (m *Manager) armPresence(tenant ref.TenantID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.tenants[tenant]
	if st == nil || st.phase == PhaseTerminated {
		return
	}
	if st.presenceTimer != nil {
		st.presenceTimer.Stop()
	}
	st.presenceTimer = m.clock.AfterFunc(m.timers.PresenceReset, func() {
		m.logger.Debug("presence reset, session idle", "tenant_id", tenant)
	})
}

// eventHandler adapts protocol events for one tenant onto the
// manager.
type eventHandler struct {
	manager *Manager
	tenant  ref.TenantID
}

var _ protocol.Handler = (*eventHandler)(nil)

func (h *eventHandler) HandleCredentials(mutation protocol.CredentialMutation) {
	h.manager.handleCredentials(h.tenant, mutation)
}

func (h *eventHandler) HandleStateChange(change protocol.StateChange) {
	if change.Pairing != nil {
		h.manager.relayPairing(h.tenant, *change.Pairing)
	}
	switch change.State {
	case protocol.StateOpen:
		h.manager.handleConnected(h.tenant)
	case protocol.StateClosed:
		h.manager.handleDisconnect(h.tenant, change.Cause)
	}
}

func (h *eventHandler) HandleInbound(event protocol.InboundEvent) {
	h.manager.handleInbound(h.tenant, event)
}

// relayPairing forwards a pairing artifact to the owner's front end.
func (m *Manager) relayPairing(tenant ref.TenantID, artifact protocol.PairingArtifact) {
	m.mu.Lock()
	st := m.tenants[tenant]
	if st == nil {
		m.mu.Unlock()
		return
	}
	owner := st.owner
	m.mu.Unlock()
	m.delivery.DeliverPairing(owner, tenant, artifact)
}
