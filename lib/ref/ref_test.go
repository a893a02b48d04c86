// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "testing"

func TestNewTenantID(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"2348012345678", "2348012345678", false},
		{"+234 801 234 5678", "2348012345678", false},
		{"+1 (555) 012-3456", "15550123456", false},
		{"", "", true},
		{"12345", "", true},           // too short
		{"1234567890123456", "", true}, // too long
		{"+234-801-abc", "", true},
	}
	for _, tt := range tests {
		got, err := NewTenantID(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NewTenantID(%q) = %v, want error", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NewTenantID(%q): %v", tt.input, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("NewTenantID(%q) = %q, want %q", tt.input, got.String(), tt.want)
		}
	}
}

func TestTenantIDRoundTrip(t *testing.T) {
	id, err := NewTenantID("+2348012345678")
	if err != nil {
		t.Fatalf("NewTenantID: %v", err)
	}
	text, err := id.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var back TenantID
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if back != id {
		t.Errorf("round trip = %v, want %v", back, id)
	}
}

func TestZeroValues(t *testing.T) {
	if !(TenantID{}).IsZero() {
		t.Error("zero TenantID not IsZero")
	}
	if !(OwnerID{}).IsZero() {
		t.Error("zero OwnerID not IsZero")
	}
	if !(ConversationID{}).IsZero() {
		t.Error("zero ConversationID not IsZero")
	}
	if !(HostID{}).IsZero() {
		t.Error("zero HostID not IsZero")
	}
	if _, err := (TenantID{}).MarshalText(); err == nil {
		t.Error("marshal of zero TenantID should fail")
	}
}

func TestOwnerAndConversationValidation(t *testing.T) {
	if _, err := NewOwnerID(""); err == nil {
		t.Error("NewOwnerID(\"\") should fail")
	}
	if _, err := NewConversationID(""); err == nil {
		t.Error("NewConversationID(\"\") should fail")
	}
	if _, err := NewHostID(""); err == nil {
		t.Error("NewHostID(\"\") should fail")
	}
	owner, err := NewOwnerID("auth0|user-17")
	if err != nil {
		t.Fatalf("NewOwnerID: %v", err)
	}
	if owner.String() != "auth0|user-17" {
		t.Errorf("OwnerID.String() = %q", owner.String())
	}
}
