// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ojuolokun86/BMM2-sub000/lib/codec"
	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
)

// KeyCategory groups key-store entries by protocol purpose. The set
// is defined by the protocol client; the store treats categories as
// opaque grouping labels.
type KeyCategory string

// Categories the protocol client is known to emit. The store accepts
// any category; these constants exist for tests and logging.
const (
	CategoryPreKey       KeyCategory = "pre-key"
	CategorySession      KeyCategory = "session"
	CategorySenderKey    KeyCategory = "sender-key"
	CategoryAppStateSync KeyCategory = "app-state-sync-key"
)

// Record is one tenant's credential state. Identity is created once
// when the tenant first registers and thereafter only mutated in
// place; Keys entries are added or overwritten by ID, never replaced
// as a whole map.
type Record struct {
	// Identity is the opaque identity-credential blob (CBOR, minted
	// by NewRecord, mutated by the protocol client).
	Identity codec.RawMessage

	// Keys maps category → key ID → opaque key material.
	Keys map[KeyCategory]map[string][]byte

	// OwnerID is the account that registered the tenant.
	OwnerID ref.OwnerID

	// HostID is the host that currently owns the tenant's live
	// connection, per the fleet store.
	HostID ref.HostID

	// UpdatedAt is the time of the last save.
	UpdatedAt time.Time
}

// SetKey adds or overwrites one key-store entry.
func (r *Record) SetKey(category KeyCategory, keyID string, data []byte) {
	if r.Keys == nil {
		r.Keys = make(map[KeyCategory]map[string][]byte)
	}
	byID := r.Keys[category]
	if byID == nil {
		byID = make(map[string][]byte)
		r.Keys[category] = byID
	}
	byID[keyID] = append([]byte(nil), data...)
}

// Key returns one key-store entry, or nil when absent.
func (r *Record) Key(category KeyCategory, keyID string) []byte {
	byID := r.Keys[category]
	if byID == nil {
		return nil
	}
	return byID[keyID]
}

// DeleteKey removes one key-store entry. Removing the last entry of a
// category removes the category.
func (r *Record) DeleteKey(category KeyCategory, keyID string) {
	byID := r.Keys[category]
	if byID == nil {
		return
	}
	delete(byID, keyID)
	if len(byID) == 0 {
		delete(r.Keys, category)
	}
}

// Clone returns a deep copy. Stores hand out clones so callers never
// alias store-internal state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{
		Identity:  append(codec.RawMessage(nil), r.Identity...),
		OwnerID:   r.OwnerID,
		HostID:    r.HostID,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Keys != nil {
		out.Keys = make(map[KeyCategory]map[string][]byte, len(r.Keys))
		for category, byID := range r.Keys {
			copied := make(map[string][]byte, len(byID))
			for id, data := range byID {
				copied[id] = append([]byte(nil), data...)
			}
			out.Keys[category] = copied
		}
	}
	return out
}

// Store is the contract shared by every credential tier.
type Store interface {
	// Load returns the record for tenant, or ErrNotFound.
	Load(ctx context.Context, tenant ref.TenantID) (*Record, error)

	// Save upserts the record for tenant.
	Save(ctx context.Context, tenant ref.TenantID, record *Record) error

	// Delete removes the record for tenant. Deleting an absent
	// record is not an error.
	Delete(ctx context.Context, tenant ref.TenantID) error

	// ListOwnedByHost returns the tenants whose record names host as
	// the owning host.
	ListOwnedByHost(ctx context.Context, host ref.HostID) ([]ref.TenantID, error)
}

// keyEntry is the durable envelope around one key-store value. The
// envelope names its own category and ID so a corrupt row is
// detectable and attributable on load.
type keyEntry struct {
	Category string `cbor:"c"`
	KeyID    string `cbor:"k"`
	Data     []byte `cbor:"d"`
}

// encodeKeys serializes the key-store map for durable storage: a CBOR
// map of category → key ID → enveloped entry.
func encodeKeys(keys map[KeyCategory]map[string][]byte) ([]byte, error) {
	wire := make(map[string]map[string]codec.RawMessage, len(keys))
	for category, byID := range keys {
		entries := make(map[string]codec.RawMessage, len(byID))
		for id, data := range byID {
			encoded, err := codec.Marshal(keyEntry{
				Category: string(category),
				KeyID:    id,
				Data:     data,
			})
			if err != nil {
				return nil, fmt.Errorf("credstore: encoding key %s/%s: %w", category, id, err)
			}
			entries[id] = encoded
		}
		wire[string(category)] = entries
	}
	return codec.Marshal(wire)
}

// decodeKeys deserializes a durable key-store blob. A key entry that
// fails to decode is logged and skipped; the rest of the record stays
// usable. Only a blob whose outer map is unreadable is an error.
func decodeKeys(data []byte, tenant ref.TenantID, logger *slog.Logger) (map[KeyCategory]map[string][]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var wire map[string]map[string]codec.RawMessage
	if err := codec.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("credstore: key store for %s unreadable: %w", tenant, err)
	}

	keys := make(map[KeyCategory]map[string][]byte, len(wire))
	for category, entries := range wire {
		for id, raw := range entries {
			var entry keyEntry
			if err := codec.Unmarshal(raw, &entry); err != nil {
				logger.Warn("skipping corrupt key entry",
					"tenant_id", tenant.String(),
					"category", category,
					"key_id", id,
					"error", err,
				)
				continue
			}
			byID := keys[KeyCategory(category)]
			if byID == nil {
				byID = make(map[string][]byte)
				keys[KeyCategory(category)] = byID
			}
			byID[id] = entry.Data
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return keys, nil
}
