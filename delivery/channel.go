// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

// Package delivery carries pairing artifacts and registration status
// to the owner's front end.
//
// The orchestrator only emits; it does not manage the front end's
// transport beyond the relay in this package. Events are keyed by
// owner, not tenant, because one owner may be pairing several numbers
// through one front-end connection.
package delivery

import (
	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
	"github.com/ojuolokun86/BMM2-sub000/protocol"
)

// RegistrationStatus reports the outcome of a registration attempt.
type RegistrationStatus struct {
	TenantID ref.TenantID `json:"tenant_id"`
	Success  bool         `json:"success"`
	Message  string       `json:"message,omitempty"`
}

// Channel is the outbound contract the lifecycle controller emits on.
// Implementations must not block: a slow or absent front end must
// never stall a tenant's state machine.
type Channel interface {
	// DeliverPairing relays a pairing artifact for one of the
	// owner's tenants.
	DeliverPairing(owner ref.OwnerID, tenant ref.TenantID, artifact protocol.PairingArtifact)

	// DeliverStatus relays a registration outcome.
	DeliverStatus(owner ref.OwnerID, status RegistrationStatus)
}
