// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

// Package session tracks the live connection handle for each tenant.
//
// The registry is the authoritative answer to "is this tenant
// connected, and through which client". At most one live handle may
// exist per tenant: registering a second one fails loudly rather than
// silently replacing the first, which would orphan a live connection.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ojuolokun86/BMM2-sub000/lib/clock"
	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
	"github.com/ojuolokun86/BMM2-sub000/protocol"
)

// ErrHandleExists is returned by Put when the tenant already has a
// live handle.
var ErrHandleExists = errors.New("session: tenant already has a live session")

// Handle is one tenant's live connection.
type Handle struct {
	TenantID ref.TenantID
	OwnerID  ref.OwnerID
	Client   protocol.Client

	// StartTime is when the handle was registered.
	StartTime time.Time

	mu          sync.Mutex
	lastActive  time.Time
	intentional bool
}

// LastActive is the last time activity was recorded for the handle.
func (h *Handle) LastActive() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastActive
}

// Uptime is the handle age at now.
func (h *Handle) Uptime(now time.Time) time.Duration {
	return now.Sub(h.StartTime)
}

// MarkIntentional flags the next disconnect on this handle as
// operator-initiated, so the lifecycle controller treats it as
// intentional regardless of the wire-level cause.
func (h *Handle) MarkIntentional() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.intentional = true
}

// ConsumeIntent atomically reads and clears the intentional-disconnect
// flag. The flag covers exactly one disconnect; a later unexpected
// drop must not inherit it.
func (h *Handle) ConsumeIntent() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	was := h.intentional
	h.intentional = false
	return was
}

// Registry maps tenants to live handles.
type Registry struct {
	clock clock.Clock

	mu      sync.Mutex
	handles map[ref.TenantID]*Handle
}

// NewRegistry returns an empty registry. clk may be nil for the
// system clock.
func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.Real()
	}
	return &Registry{
		clock:   clk,
		handles: make(map[ref.TenantID]*Handle),
	}
}

// Put registers a live handle for tenant. It fails if the tenant
// already has one; the caller must tear the existing session down
// first.
func (r *Registry) Put(tenant ref.TenantID, owner ref.OwnerID, client protocol.Client) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handles[tenant]; exists {
		return nil, fmt.Errorf("%w: %s", ErrHandleExists, tenant)
	}
	now := r.clock.Now()
	handle := &Handle{
		TenantID:   tenant,
		OwnerID:    owner,
		Client:     client,
		StartTime:  now,
		lastActive: now,
	}
	r.handles[tenant] = handle
	return handle, nil
}

// Get returns the tenant's live handle, or nil.
func (r *Registry) Get(tenant ref.TenantID) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[tenant]
}

// Touch records activity on the tenant's handle. A touch for a tenant
// with no live handle is a no-op.
func (r *Registry) Touch(tenant ref.TenantID) {
	r.mu.Lock()
	handle := r.handles[tenant]
	r.mu.Unlock()
	if handle == nil {
		return
	}
	handle.mu.Lock()
	handle.lastActive = r.clock.Now()
	handle.mu.Unlock()
}

// Remove drops the tenant's handle if present and reports whether one
// was removed. Remove only unregisters; closing the client is the
// caller's job.
func (r *Registry) Remove(tenant ref.TenantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handles[tenant]; !exists {
		return false
	}
	delete(r.handles, tenant)
	return true
}

// Len is the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Snapshot returns the live handles in no particular order.
func (r *Registry) Snapshot() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, handle := range r.handles {
		handles = append(handles, handle)
	}
	return handles
}
