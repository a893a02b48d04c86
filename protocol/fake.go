// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"sync"

	"github.com/ojuolokun86/BMM2-sub000/credstore"
	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
)

// FakeClient is an in-memory Client for tests. Event emission is
// explicit: tests call EmitStateChange and friends to simulate the
// server, and inspect the counters to assert lifecycle calls.
type FakeClient struct {
	mu      sync.Mutex
	handler Handler

	connectCalls   int
	pairingCalls   int
	closeCalls     int
	terminateCalls int

	// ConnectErr, when set, is returned by Connect.
	ConnectErr error
	// PairingErr, when set, is returned by RequestPairingCode.
	PairingErr error
	// CloseErr, when set, is returned by Close.
	CloseErr error
}

var _ Client = (*FakeClient)(nil)

func (f *FakeClient) SetHandler(handler Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *FakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.ConnectErr
}

func (f *FakeClient) RequestPairingCode(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairingCalls++
	return f.PairingErr
}

func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return f.CloseErr
}

func (f *FakeClient) Terminate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminateCalls++
}

// Handler returns the currently attached handler, or nil.
func (f *FakeClient) Handler() Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler
}

// ConnectCalls reports how many times Connect ran.
func (f *FakeClient) ConnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

// PairingCalls reports how many times RequestPairingCode ran.
func (f *FakeClient) PairingCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pairingCalls
}

// CloseCalls reports how many times Close ran.
func (f *FakeClient) CloseCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

// TerminateCalls reports how many times Terminate ran.
func (f *FakeClient) TerminateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminateCalls
}

// EmitStateChange delivers a state change to the attached handler, if
// any. Emission with no handler attached is dropped, matching a real
// client after SetHandler(nil).
func (f *FakeClient) EmitStateChange(change StateChange) {
	if h := f.Handler(); h != nil {
		h.HandleStateChange(change)
	}
}

// EmitCredentials delivers a credential mutation to the attached
// handler, if any.
func (f *FakeClient) EmitCredentials(mutation CredentialMutation) {
	if h := f.Handler(); h != nil {
		h.HandleCredentials(mutation)
	}
}

// EmitInbound delivers an inbound event to the attached handler, if
// any.
func (f *FakeClient) EmitInbound(event InboundEvent) {
	if h := f.Handler(); h != nil {
		h.HandleInbound(event)
	}
}

// FakeDialer hands out FakeClients keyed by tenant, constructing one
// per tenant on first dial and returning the same instance on
// redials so tests can keep a reference across reconnects.
type FakeDialer struct {
	mu      sync.Mutex
	clients map[ref.TenantID]*FakeClient
	dials   map[ref.TenantID]int

	// DialErr, when set, fails every Dial.
	DialErr error
}

var _ Dialer = (*FakeDialer)(nil)

func NewFakeDialer() *FakeDialer {
	return &FakeDialer{
		clients: make(map[ref.TenantID]*FakeClient),
		dials:   make(map[ref.TenantID]int),
	}
}

func (d *FakeDialer) Dial(ctx context.Context, tenant ref.TenantID, record *credstore.Record) (Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	d.dials[tenant]++
	client, ok := d.clients[tenant]
	if !ok {
		client = &FakeClient{}
		d.clients[tenant] = client
	}
	return client, nil
}

// Client returns the fake dialed for tenant, or nil if never dialed.
func (d *FakeDialer) Client(tenant ref.TenantID) *FakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[tenant]
}

// Dials reports how many times tenant was dialed.
func (d *FakeDialer) Dials(tenant ref.TenantID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[tenant]
}
