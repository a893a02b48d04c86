// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"testing"

	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
)

type recordingHandler struct {
	states  []StateChange
	creds   []CredentialMutation
	inbound []InboundEvent
}

func (h *recordingHandler) HandleStateChange(c StateChange)        { h.states = append(h.states, c) }
func (h *recordingHandler) HandleCredentials(m CredentialMutation) { h.creds = append(h.creds, m) }
func (h *recordingHandler) HandleInbound(e InboundEvent)           { h.inbound = append(h.inbound, e) }

func TestFakeClientDeliversToAttachedHandler(t *testing.T) {
	client := &FakeClient{}
	handler := &recordingHandler{}
	client.SetHandler(handler)

	client.EmitStateChange(StateChange{State: StateOpen})
	client.EmitInbound(InboundEvent{Sender: "peer", Payload: []byte("x")})
	if len(handler.states) != 1 || handler.states[0].State != StateOpen {
		t.Fatalf("states = %v, want one open", handler.states)
	}
	if len(handler.inbound) != 1 {
		t.Fatalf("inbound = %v, want one event", handler.inbound)
	}
}

func TestFakeClientDropsEventsAfterDetach(t *testing.T) {
	client := &FakeClient{}
	handler := &recordingHandler{}
	client.SetHandler(handler)
	client.SetHandler(nil)

	client.EmitStateChange(StateChange{State: StateClosed, Cause: CauseLoggedOut})
	if len(handler.states) != 0 {
		t.Fatalf("detached handler received %v", handler.states)
	}
}

func TestFakeDialerReturnsSameClientPerTenant(t *testing.T) {
	dialer := NewFakeDialer()
	tenant, err := ref.NewTenantID("2348100000001")
	if err != nil {
		t.Fatal(err)
	}

	first, err := dialer.Dial(context.Background(), tenant, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := dialer.Dial(context.Background(), tenant, nil)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("redial returned a different client instance")
	}
	if got := dialer.Dials(tenant); got != 2 {
		t.Fatalf("Dials = %d, want 2", got)
	}
}

func TestCauseStrings(t *testing.T) {
	if got := CauseConflictReplaced.String(); got != "conflict-replaced" {
		t.Fatalf("String = %q", got)
	}
	if got := DisconnectCause(99).String(); got != "invalid" {
		t.Fatalf("String = %q", got)
	}
}
