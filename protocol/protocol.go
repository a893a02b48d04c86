// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol is the boundary to the wire-protocol client that
// maintains a tenant's authenticated connection.
//
// The orchestrator never speaks the wire protocol itself and never
// interprets message payloads. It consumes exactly three event kinds
// from a connection: credential mutations, connection state changes
// carrying a disconnect cause and optional pairing artifact, and
// inbound events. It drives the connection through Connect, Close, and
// Terminate. Everything else about the protocol lives behind this
// boundary, out of scope.
package protocol

import (
	"context"

	"github.com/ojuolokun86/BMM2-sub000/credstore"
	"github.com/ojuolokun86/BMM2-sub000/lib/codec"
	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
)

// State is the connection's coarse lifecycle state as reported by the
// protocol client.
type State int

const (
	// StateConnecting is the initial handshake, including pairing.
	StateConnecting State = iota
	// StateOpen is an authenticated, live connection.
	StateOpen
	// StateClosed is a closed connection; the Cause on the state
	// change says why.
	StateClosed
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// DisconnectCause is the protocol client's closed enumeration of why
// a connection ended. The lifecycle controller maps each cause to a
// retry decision; causes unknown to the mapping are treated as
// transient.
type DisconnectCause int

const (
	// CauseNone accompanies non-terminal state changes.
	CauseNone DisconnectCause = iota
	// CauseConnectionClosed is a dropped stream with no further
	// detail.
	CauseConnectionClosed
	// CauseConnectionLost is network-level loss of connectivity.
	CauseConnectionLost
	// CauseTimedOut is a keepalive or request timeout.
	CauseTimedOut
	// CauseRestartRequired is the server instructing the client to
	// reconnect (routine after pairing).
	CauseRestartRequired
	// CauseServiceUnavailable is a server-side 503.
	CauseServiceUnavailable
	// CauseConflictReplaced means another live connection for the
	// same identity took over the stream.
	CauseConflictReplaced
	// CauseBadSession means the server rejected the session state
	// as unusable.
	CauseBadSession
	// CauseMultideviceMismatch means the stored credentials do not
	// match the account's multi-device registration.
	CauseMultideviceMismatch
	// CauseLoggedOut means the identity's credentials were revoked
	// (the user unlinked the device).
	CauseLoggedOut
	// CauseUnknown is anything the protocol client could not
	// classify.
	CauseUnknown
)

// String returns the cause name for logs.
func (c DisconnectCause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseConnectionClosed:
		return "connection-closed"
	case CauseConnectionLost:
		return "connection-lost"
	case CauseTimedOut:
		return "timed-out"
	case CauseRestartRequired:
		return "restart-required"
	case CauseServiceUnavailable:
		return "service-unavailable"
	case CauseConflictReplaced:
		return "conflict-replaced"
	case CauseBadSession:
		return "bad-session"
	case CauseMultideviceMismatch:
		return "multidevice-mismatch"
	case CauseLoggedOut:
		return "logged-out"
	case CauseUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// PairingArtifact is the payload the front end needs to link a phone:
// a QR payload, a short pairing code, or both.
type PairingArtifact struct {
	QRCode string `json:"qr_code,omitempty"`
	Code   string `json:"code,omitempty"`
}

// StateChange is one connectionStateChanged event.
type StateChange struct {
	State   State
	Cause   DisconnectCause
	Pairing *PairingArtifact
}

// KeyUpdate is one key-store write inside a credential mutation.
type KeyUpdate struct {
	Category credstore.KeyCategory
	KeyID    string
	Data     []byte
}

// CredentialMutation is one credentialsMutated event. Identity, when
// non-nil, is the in-place-mutated identity blob; Keys carry added or
// overwritten key-store entries. The orchestrator persists every
// mutation immediately, not only on clean shutdown.
type CredentialMutation struct {
	Identity codec.RawMessage
	Keys     []KeyUpdate
}

// InboundEvent is one inbound protocol event (message, receipt, group
// update). The payload is opaque to the orchestrator; Conversation is
// the queue key that serializes handling.
type InboundEvent struct {
	Conversation ref.ConversationID
	Sender       string
	Payload      []byte
}

// Handler receives a connection's events. Calls for one connection
// are serialized by the protocol client.
type Handler interface {
	HandleCredentials(mutation CredentialMutation)
	HandleStateChange(change StateChange)
	HandleInbound(event InboundEvent)
}

// Client is one tenant's connection object.
type Client interface {
	// SetHandler attaches the event handler, replacing any previous
	// one. Passing nil detaches; teardown uses this to stop event
	// delivery before closing the transport.
	SetHandler(handler Handler)

	// Connect starts the connection using the credentials the
	// client was constructed with. Progress and failure arrive as
	// state-change events.
	Connect(ctx context.Context) error

	// RequestPairingCode asks the server for a pairing artifact for
	// an unregistered identity. The artifact arrives on a
	// state-change event.
	RequestPairingCode(ctx context.Context) error

	// Close closes the connection gracefully.
	Close() error

	// Terminate force-closes the underlying transport. Used after a
	// failed or timed-out Close.
	Terminate()
}

// Dialer constructs protocol clients from credential records.
type Dialer interface {
	Dial(ctx context.Context, tenant ref.TenantID, record *credstore.Record) (Client, error)
}
