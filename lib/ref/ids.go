// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// OwnerID identifies the account that owns a tenant. It is the auth
// identifier of the user who registered the phone number, opaque to
// the orchestrator beyond equality and non-emptiness. Pairing
// artifacts and registration status events are keyed by OwnerID when
// relayed to the front end.
type OwnerID struct{ id string }

// NewOwnerID validates an owner identifier. Any non-empty string is
// accepted: the auth layer that minted it is out of scope.
func NewOwnerID(id string) (OwnerID, error) {
	if id == "" {
		return OwnerID{}, fmt.Errorf("ref: empty owner ID")
	}
	return OwnerID{id: id}, nil
}

// String returns the raw identifier.
func (o OwnerID) String() string { return o.id }

// IsZero reports whether the OwnerID is the zero value.
func (o OwnerID) IsZero() bool { return o.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (o OwnerID) MarshalText() ([]byte, error) {
	if o.IsZero() {
		return nil, fmt.Errorf("ref: marshal zero OwnerID")
	}
	return []byte(o.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *OwnerID) UnmarshalText(data []byte) error {
	parsed, err := NewOwnerID(string(data))
	if err != nil {
		return fmt.Errorf("unmarshal OwnerID: %w", err)
	}
	*o = parsed
	return nil
}

// ConversationID identifies a chat the protocol client participates
// in (a direct chat or a group). The wire format is protocol-defined;
// the orchestrator treats it as an opaque non-empty string used as a
// queue key and a destructive-operation ticket key.
type ConversationID struct{ id string }

// NewConversationID validates a conversation identifier.
func NewConversationID(id string) (ConversationID, error) {
	if id == "" {
		return ConversationID{}, fmt.Errorf("ref: empty conversation ID")
	}
	return ConversationID{id: id}, nil
}

// String returns the raw identifier.
func (c ConversationID) String() string { return c.id }

// IsZero reports whether the ConversationID is the zero value.
func (c ConversationID) IsZero() bool { return c.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (c ConversationID) MarshalText() ([]byte, error) {
	if c.IsZero() {
		return nil, fmt.Errorf("ref: marshal zero ConversationID")
	}
	return []byte(c.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ConversationID) UnmarshalText(data []byte) error {
	parsed, err := NewConversationID(string(data))
	if err != nil {
		return fmt.Errorf("unmarshal ConversationID: %w", err)
	}
	*c = parsed
	return nil
}

// HostID identifies one orchestrator host in the fleet. The fleet
// store records which host currently owns each tenant; a host-local
// credential copy whose recorded owner differs from the running host
// is an orphan.
type HostID struct{ id string }

// NewHostID validates a host identifier.
func NewHostID(id string) (HostID, error) {
	if id == "" {
		return HostID{}, fmt.Errorf("ref: empty host ID")
	}
	return HostID{id: id}, nil
}

// String returns the raw identifier.
func (h HostID) String() string { return h.id }

// IsZero reports whether the HostID is the zero value.
func (h HostID) IsZero() bool { return h.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (h HostID) MarshalText() ([]byte, error) {
	if h.IsZero() {
		return nil, fmt.Errorf("ref: marshal zero HostID")
	}
	return []byte(h.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *HostID) UnmarshalText(data []byte) error {
	parsed, err := NewHostID(string(data))
	if err != nil {
		return fmt.Errorf("unmarshal HostID: %w", err)
	}
	*h = parsed
	return nil
}
