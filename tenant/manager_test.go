// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package tenant

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ojuolokun86/BMM2-sub000/credstore"
	"github.com/ojuolokun86/BMM2-sub000/delivery"
	"github.com/ojuolokun86/BMM2-sub000/lib/clock"
	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
	"github.com/ojuolokun86/BMM2-sub000/lib/testutil"
	"github.com/ojuolokun86/BMM2-sub000/protocol"
	"github.com/ojuolokun86/BMM2-sub000/session"
	"github.com/ojuolokun86/BMM2-sub000/taskqueue"
)

var testEpoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	manager  *Manager
	clock    *clock.FakeClock
	store    *credstore.Memory
	dialer   *protocol.FakeDialer
	registry *session.Registry
	channel  *delivery.Memory

	mu      sync.Mutex
	inbound []protocol.InboundEvent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &fixture{
		clock:   clock.Fake(testEpoch),
		store:   credstore.NewMemory(),
		dialer:  protocol.NewFakeDialer(),
		channel: delivery.NewMemory(),
	}
	f.registry = session.NewRegistry(f.clock)
	queues := taskqueue.New(ctx, f.clock, nil)
	f.manager = NewManager(ctx, Options{
		Store:    f.store,
		Dialer:   f.dialer,
		Registry: f.registry,
		Queues:   queues,
		Delivery: f.channel,
		Host:     testHost(t),
		Timers:   DefaultTimers(),
		Clock:    f.clock,
		Inbound: func(_ context.Context, _ ref.TenantID, event protocol.InboundEvent) error {
			f.mu.Lock()
			f.inbound = append(f.inbound, event)
			f.mu.Unlock()
			return nil
		},
	})
	return f
}

func (f *fixture) inboundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inbound)
}

func testTenant(t *testing.T, digits string) ref.TenantID {
	t.Helper()
	tenant, err := ref.NewTenantID(digits)
	if err != nil {
		t.Fatalf("NewTenantID(%q): %v", digits, err)
	}
	return tenant
}

func testOwner(t *testing.T) ref.OwnerID {
	t.Helper()
	owner, err := ref.NewOwnerID("owner-1")
	if err != nil {
		t.Fatal(err)
	}
	return owner
}

func testHost(t *testing.T) ref.HostID {
	t.Helper()
	host, err := ref.NewHostID("host-1")
	if err != nil {
		t.Fatal(err)
	}
	return host
}

// waitFor polls cond with real time; queue lanes run on their own
// goroutines, so store writes land shortly after the triggering call.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// startOpenSession drives a fresh tenant through pairing to Open and
// waits for the credential record to land in the store.
func startOpenSession(t *testing.T, f *fixture, tenant ref.TenantID) *protocol.FakeClient {
	t.Helper()
	if err := f.manager.StartSession(context.Background(), tenant, testOwner(t)); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	client := f.dialer.Client(tenant)
	if client == nil {
		t.Fatal("no client dialed")
	}
	client.EmitStateChange(protocol.StateChange{State: protocol.StateOpen})
	status := testutil.RequireReceive(t, f.channel.StatusCh, 5*time.Second, "registration status")
	if !status.Status.Success {
		t.Fatalf("status = %+v, want success", status.Status)
	}
	waitFor(t, func() bool {
		_, err := f.store.Load(context.Background(), tenant)
		return err == nil
	}, "credential record persisted")
	return client
}

func TestFreshRegistrationRunsPairingFlow(t *testing.T) {
	f := newFixture(t)
	tenant := testTenant(t, "2348100000001")

	if err := f.manager.StartSession(context.Background(), tenant, testOwner(t)); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	client := f.dialer.Client(tenant)
	if client.ConnectCalls() != 1 {
		t.Fatalf("ConnectCalls = %d, want 1", client.ConnectCalls())
	}
	if client.PairingCalls() != 1 {
		t.Fatalf("PairingCalls = %d, want 1", client.PairingCalls())
	}
	if got := f.manager.Phase(tenant); got != PhasePairing {
		t.Fatalf("phase = %s, want pairing", got)
	}

	// The pairing artifact is relayed to the owner's front end.
	client.EmitStateChange(protocol.StateChange{
		State:   protocol.StateConnecting,
		Pairing: &protocol.PairingArtifact{Code: "ABCD-1234"},
	})
	pairing := testutil.RequireReceive(t, f.channel.PairingCh, 5*time.Second, "pairing artifact")
	if pairing.Artifact.Code != "ABCD-1234" {
		t.Fatalf("artifact = %+v", pairing.Artifact)
	}

	// Authentication succeeds: deadline canceled, handle registered,
	// success delivered, credentials persisted.
	client.EmitStateChange(protocol.StateChange{State: protocol.StateOpen})
	status := testutil.RequireReceive(t, f.channel.StatusCh, 5*time.Second, "registration status")
	if !status.Status.Success {
		t.Fatalf("status = %+v, want success", status.Status)
	}
	if f.registry.Get(tenant) == nil {
		t.Fatal("no session handle registered")
	}
	waitFor(t, func() bool {
		_, err := f.store.Load(context.Background(), tenant)
		return err == nil
	}, "credential record persisted")
}

func TestPairingTimeoutDeletesCredentials(t *testing.T) {
	f := newFixture(t)
	tenant := testTenant(t, "2348100000002")

	if err := f.manager.StartSession(context.Background(), tenant, testOwner(t)); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	// No authentication arrives before the deadline.
	f.clock.Advance(DefaultTimers().PairingDeadline)

	status := testutil.RequireReceive(t, f.channel.StatusCh, 5*time.Second, "failure status")
	if status.Status.Success {
		t.Fatalf("status = %+v, want failure", status.Status)
	}
	if f.registry.Get(tenant) != nil {
		t.Fatal("session handle exists after pairing timeout")
	}
	if _, err := f.store.Load(context.Background(), tenant); !errors.Is(err, credstore.ErrNotFound) {
		t.Fatalf("Load after timeout = %v, want ErrNotFound", err)
	}
	if got := f.manager.Phase(tenant); got != PhaseIdle {
		t.Fatalf("phase = %s, want idle", got)
	}
}

func TestSecondStartSessionRejected(t *testing.T) {
	f := newFixture(t)
	tenant := testTenant(t, "2348100000003")
	startOpenSession(t, f, tenant)

	err := f.manager.StartSession(context.Background(), tenant, testOwner(t))
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second StartSession = %v, want ErrSessionActive", err)
	}
	if f.registry.Get(tenant) == nil {
		t.Fatal("first session's handle was displaced")
	}
}

func TestTransientDisconnectReconnects(t *testing.T) {
	f := newFixture(t)
	tenant := testTenant(t, "2348100000004")
	client := startOpenSession(t, f, tenant)

	client.EmitStateChange(protocol.StateChange{
		State: protocol.StateClosed,
		Cause: protocol.CauseTimedOut,
	})
	if f.registry.Get(tenant) != nil {
		t.Fatal("handle survived disconnect")
	}
	if got := f.manager.Phase(tenant); got != PhaseReconnecting {
		t.Fatalf("phase = %s, want reconnecting", got)
	}
	// Credentials are untouched by a transient disconnect.
	if _, err := f.store.Load(context.Background(), tenant); err != nil {
		t.Fatalf("Load after transient disconnect: %v", err)
	}
	if got := f.dialer.Dials(tenant); got != 1 {
		t.Fatalf("Dials before backoff = %d, want 1", got)
	}

	f.clock.Advance(DefaultTimers().ReconnectDelay)
	if got := f.dialer.Dials(tenant); got != 2 {
		t.Fatalf("Dials after backoff = %d, want 2", got)
	}

	// The re-dial found stored credentials, so no pairing request.
	if got := client.PairingCalls(); got != 1 {
		t.Fatalf("PairingCalls = %d, want 1", got)
	}
	client.EmitStateChange(protocol.StateChange{State: protocol.StateOpen})
	if f.registry.Get(tenant) == nil {
		t.Fatal("no handle after reconnect")
	}
}

func TestConflictDisconnectStandsDown(t *testing.T) {
	f := newFixture(t)
	tenant := testTenant(t, "2348100000005")
	client := startOpenSession(t, f, tenant)

	client.EmitStateChange(protocol.StateChange{
		State: protocol.StateClosed,
		Cause: protocol.CauseConflictReplaced,
	})
	if f.registry.Get(tenant) != nil {
		t.Fatal("handle survived conflict")
	}
	if client.TerminateCalls() == 0 {
		t.Fatal("transport not terminated on conflict")
	}

	// No reconnect is ever scheduled.
	f.clock.Advance(time.Hour)
	if got := f.dialer.Dials(tenant); got != 1 {
		t.Fatalf("Dials = %d, want 1 (no retry on conflict)", got)
	}
	// The credential record is untouched; another instance owns the
	// live connection now.
	if _, err := f.store.Load(context.Background(), tenant); err != nil {
		t.Fatalf("Load after conflict: %v", err)
	}
}

func TestFatalDisconnectDeletesTenantData(t *testing.T) {
	f := newFixture(t)
	tenant := testTenant(t, "2348100000006")
	client := startOpenSession(t, f, tenant)

	client.EmitStateChange(protocol.StateChange{
		State: protocol.StateClosed,
		Cause: protocol.CauseLoggedOut,
	})

	status := testutil.RequireReceive(t, f.channel.StatusCh, 5*time.Second, "failure status")
	if status.Status.Success {
		t.Fatalf("status = %+v, want failure", status.Status)
	}
	if f.registry.Get(tenant) != nil {
		t.Fatal("handle survived fatal disconnect")
	}
	if _, err := f.store.Load(context.Background(), tenant); !errors.Is(err, credstore.ErrNotFound) {
		t.Fatalf("Load after fatal disconnect = %v, want ErrNotFound", err)
	}
	f.clock.Advance(time.Hour)
	if got := f.dialer.Dials(tenant); got != 1 {
		t.Fatalf("Dials = %d, want 1 (no retry after fatal)", got)
	}
}

func TestIntentionalDisconnectTakesNoAction(t *testing.T) {
	f := newFixture(t)
	tenant := testTenant(t, "2348100000007")
	client := startOpenSession(t, f, tenant)

	// Ride through the one-time post-registration restart so no
	// restart timer is armed when the intent flag is tested.
	f.clock.Advance(DefaultTimers().PostRegistrationRestart)
	client.EmitStateChange(protocol.StateChange{State: protocol.StateOpen})
	dials := f.dialer.Dials(tenant)

	f.registry.Get(tenant).MarkIntentional()
	client.EmitStateChange(protocol.StateChange{
		State: protocol.StateClosed,
		Cause: protocol.CauseConnectionClosed,
	})

	if f.registry.Get(tenant) != nil {
		t.Fatal("handle survived intentional disconnect")
	}
	f.clock.Advance(time.Hour)
	if got := f.dialer.Dials(tenant); got != dials {
		t.Fatalf("Dials = %d, want %d (no retry on intentional disconnect)", got, dials)
	}
	if _, err := f.store.Load(context.Background(), tenant); err != nil {
		t.Fatalf("Load after intentional disconnect: %v", err)
	}
}

func TestCredentialMutationsPersistImmediately(t *testing.T) {
	f := newFixture(t)
	tenant := testTenant(t, "2348100000008")
	client := startOpenSession(t, f, tenant)

	client.EmitCredentials(protocol.CredentialMutation{
		Keys: []protocol.KeyUpdate{
			{Category: credstore.CategoryPreKey, KeyID: "7", Data: []byte("pk-7")},
		},
	})
	waitFor(t, func() bool {
		record, err := f.store.Load(context.Background(), tenant)
		return err == nil && string(record.Key(credstore.CategoryPreKey, "7")) == "pk-7"
	}, "key mutation persisted")
}

func TestCredentialSavesSnapshotTheRecord(t *testing.T) {
	f := newFixture(t)
	tenant := testTenant(t, "2348100000013")
	client := startOpenSession(t, f, tenant)

	// A save in flight on the credential lane while the protocol
	// client streams further mutations is the steady state of an open
	// session. Each save must operate on a snapshot taken under the
	// manager's lock, never on the live record.
	for i := 0; i < 500; i++ {
		client.EmitCredentials(protocol.CredentialMutation{
			Keys: []protocol.KeyUpdate{
				{Category: credstore.CategoryPreKey, KeyID: strconv.Itoa(i), Data: []byte("pk")},
			},
		})
	}
	waitFor(t, func() bool {
		record, err := f.store.Load(context.Background(), tenant)
		return err == nil && record.Key(credstore.CategoryPreKey, "499") != nil
	}, "final mutation persisted")
}

func TestStopSessionTearsEverythingDown(t *testing.T) {
	f := newFixture(t)
	tenant := testTenant(t, "2348100000009")
	client := startOpenSession(t, f, tenant)

	if err := f.manager.StopSession(context.Background(), tenant); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if client.CloseCalls() == 0 {
		t.Fatal("graceful close not attempted")
	}
	if client.TerminateCalls() == 0 {
		t.Fatal("transport not terminated")
	}
	if client.Handler() != nil {
		t.Fatal("event handler still attached")
	}
	if f.registry.Get(tenant) != nil {
		t.Fatal("handle survived teardown")
	}
	if got := f.clock.PendingCount(); got != 0 {
		t.Fatalf("pending timers after teardown = %d, want 0", got)
	}
	// The record survives; only DeleteTenant removes credentials.
	if _, err := f.store.Load(context.Background(), tenant); err != nil {
		t.Fatalf("Load after stop: %v", err)
	}
}

func TestPostRegistrationRestartHappensOnce(t *testing.T) {
	f := newFixture(t)
	tenant := testTenant(t, "2348100000010")
	client := startOpenSession(t, f, tenant)

	// First registration schedules the one-time restart.
	f.clock.Advance(DefaultTimers().PostRegistrationRestart)
	if got := f.dialer.Dials(tenant); got != 2 {
		t.Fatalf("Dials after restart delay = %d, want 2", got)
	}
	client.EmitStateChange(protocol.StateChange{State: protocol.StateOpen})
	if f.registry.Get(tenant) == nil {
		t.Fatal("no handle after restart")
	}

	// The restarted session is no longer fresh: no further restart.
	f.clock.Advance(time.Hour)
	if got := f.dialer.Dials(tenant); got != 2 {
		t.Fatalf("Dials = %d, want 2 (restart must be one-time)", got)
	}
}

func TestDeleteTenantRemovesEveryTrace(t *testing.T) {
	f := newFixture(t)
	tenant := testTenant(t, "2348100000011")
	conversation, err := ref.NewConversationID("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	client := startOpenSession(t, f, tenant)

	if err := f.manager.DeleteTenant(context.Background(), tenant); err != nil {
		t.Fatalf("DeleteTenant: %v", err)
	}
	if f.registry.Get(tenant) != nil {
		t.Fatal("handle survived deletion")
	}
	if _, err := f.store.Load(context.Background(), tenant); !errors.Is(err, credstore.ErrNotFound) {
		t.Fatalf("Load after deletion = %v, want ErrNotFound", err)
	}

	// Inbound events for a deleted tenant are ignored.
	client.EmitInbound(protocol.InboundEvent{Conversation: conversation, Payload: []byte("x")})
	time.Sleep(50 * time.Millisecond)
	if got := f.inboundCount(); got != 0 {
		t.Fatalf("inbound events after deletion = %d, want 0", got)
	}
}

func TestInboundEventsFlowThroughConversationLane(t *testing.T) {
	f := newFixture(t)
	tenant := testTenant(t, "2348100000012")
	conversation, err := ref.NewConversationID("conv-9")
	if err != nil {
		t.Fatal(err)
	}
	client := startOpenSession(t, f, tenant)

	before := f.registry.Get(tenant).LastActive()
	f.clock.Advance(time.Second)
	client.EmitInbound(protocol.InboundEvent{Conversation: conversation, Sender: "peer", Payload: []byte("hi")})

	waitFor(t, func() bool { return f.inboundCount() == 1 }, "inbound event delivered")
	if got := f.registry.Get(tenant).LastActive(); !got.After(before) {
		t.Fatal("inbound event did not refresh activity")
	}
}

func TestClassifyTable(t *testing.T) {
	cases := []struct {
		cause protocol.DisconnectCause
		want  Classification
	}{
		{protocol.CauseTimedOut, ClassTransient},
		{protocol.CauseConnectionClosed, ClassTransient},
		{protocol.CauseConnectionLost, ClassTransient},
		{protocol.CauseRestartRequired, ClassTransient},
		{protocol.CauseServiceUnavailable, ClassTransient},
		{protocol.CauseUnknown, ClassTransient},
		{protocol.CauseConflictReplaced, ClassConflict},
		{protocol.CauseBadSession, ClassFatal},
		{protocol.CauseMultideviceMismatch, ClassFatal},
		{protocol.CauseLoggedOut, ClassFatal},
		// Causes outside the table default to transient.
		{protocol.DisconnectCause(99), ClassTransient},
	}
	for _, c := range cases {
		if got := Classify(c.cause); got != c.want {
			t.Errorf("Classify(%s) = %s, want %s", c.cause, got, c.want)
		}
	}
}
