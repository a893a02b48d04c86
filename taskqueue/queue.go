// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskqueue serializes asynchronous work per key.
//
// A key is a tenant or conversation ID. Tasks enqueued under the same
// key run strictly one at a time in submission order; tasks under
// different keys run fully concurrently with no ordering relationship.
// This is the only concurrency-control primitive for per-entity
// ordering in the orchestrator: inbound protocol events, credential
// writes, and destructive-operation steps all pass through a lane
// before any business logic runs.
//
// Lanes are ephemeral. The first enqueue for a key creates its lane
// and starts a drainer goroutine; the lane is deleted the moment it
// drains. A task that returns an error (or panics) is logged and the
// lane moves on; one bad task never stalls or drops the tasks queued
// behind it.
package taskqueue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/ojuolokun86/BMM2-sub000/lib/clock"
)

// Task is one unit of serialized work. The context is the runner's
// base context; it is cancelled when the runner shuts down.
type Task func(ctx context.Context) error

// Runner owns the per-key lanes.
type Runner struct {
	baseCtx context.Context
	clock   clock.Clock
	logger  *slog.Logger

	mu    sync.Mutex
	lanes map[string][]Task
	wg    sync.WaitGroup
}

// New creates a Runner. Tasks receive ctx; cancelling it makes
// in-flight tasks wind down but does not discard queued tasks; each
// still runs (and typically returns ctx.Err() promptly).
func New(ctx context.Context, clk clock.Clock, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Runner{
		baseCtx: ctx,
		clock:   clk,
		logger:  logger,
		lanes:   make(map[string][]Task),
	}
}

// Enqueue appends task to key's lane, creating the lane and starting
// its drainer when the lane did not exist.
func (r *Runner) Enqueue(key string, task Task) {
	r.mu.Lock()
	_, exists := r.lanes[key]
	r.lanes[key] = append(r.lanes[key], task)
	r.mu.Unlock()

	if !exists {
		r.wg.Add(1)
		go r.drain(key)
	}
}

// drain runs key's lane to empty, then removes it. At most one drain
// goroutine exists per live lane; lane existence and emptiness are
// checked under the same lock, so a concurrent Enqueue either lands
// in the live lane or starts a fresh drainer after this one removed it.
func (r *Runner) drain(key string) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		tasks := r.lanes[key]
		if len(tasks) == 0 {
			delete(r.lanes, key)
			r.mu.Unlock()
			return
		}
		task := tasks[0]
		r.mu.Unlock()

		r.runOne(key, task)

		r.mu.Lock()
		remaining := r.lanes[key][1:]
		if len(remaining) == 0 {
			delete(r.lanes, key)
			r.mu.Unlock()
			return
		}
		r.lanes[key] = remaining
		r.mu.Unlock()
	}
}

// runOne executes a single task with timing and error isolation. A
// panic inside a task is contained to that task.
func (r *Runner) runOne(key string, task Task) {
	started := r.clock.Now()
	err := func() (err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				err = fmt.Errorf("taskqueue: task panicked: %v", recovered)
			}
		}()
		return task(r.baseCtx)
	}()

	elapsed := r.clock.Now().Sub(started)
	if err != nil {
		r.logger.Error("queued task failed",
			"queue_key", key,
			"elapsed", elapsed,
			"error", err,
		)
		return
	}
	r.logger.Debug("queued task done", "queue_key", key, "elapsed", elapsed)
}

// Len returns the number of tasks pending in key's lane, including
// the one in flight.
func (r *Runner) Len(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lanes[key])
}

// ActiveLanes returns the number of live lanes.
func (r *Runner) ActiveLanes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lanes)
}

// Drop discards every queued task for key. The in-flight task, if
// any, still completes; its drainer then finds the empty lane and
// exits. Used by tenant deletion to clear a lane without waiting.
func (r *Runner) Drop(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tasks, ok := r.lanes[key]; ok && len(tasks) > 1 {
		// Keep the head: it is the one in flight.
		r.lanes[key] = tasks[:1]
	}
}

// DropPrefix drops queued tasks on every lane whose key starts with
// prefix. Used when an entity that owns a family of lanes (one per
// conversation, say) is deleted.
func (r *Runner) DropPrefix(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, tasks := range r.lanes {
		if strings.HasPrefix(key, prefix) && len(tasks) > 1 {
			r.lanes[key] = tasks[:1]
		}
	}
}

// Shutdown waits for every lane to drain, or for ctx. Enqueues racing
// with Shutdown may still start lanes; callers stop producers first.
func (r *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("taskqueue: shutdown: %w", ctx.Err())
	}
}
