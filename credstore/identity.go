// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/crypto/curve25519"

	"github.com/ojuolokun86/BMM2-sub000/lib/codec"
	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
)

// identityCredentials is the minted content of Record.Identity. After
// creation the protocol client owns the blob and mutates it through
// credential-mutation events; the orchestrator never decodes it again
// outside of tests.
type identityCredentials struct {
	NoisePrivate    []byte    `cbor:"noise_private"`
	NoisePublic     []byte    `cbor:"noise_public"`
	IdentityPrivate []byte    `cbor:"identity_private"`
	IdentityPublic  []byte    `cbor:"identity_public"`
	RegistrationID  uint32    `cbor:"registration_id"`
	CreatedAt       time.Time `cbor:"created_at"`
}

// maxRegistrationID bounds the registration ID to the protocol's
// 14-bit space.
const maxRegistrationID = 16380

// NewRecord mints a fresh credential record for a tenant that has
// never registered: a noise key pair, a long-term identity key pair,
// and a random registration ID, CBOR-encoded into the identity blob.
// Called exactly once per tenant; an existing record's identity is
// only ever mutated in place, never re-minted.
func NewRecord(owner ref.OwnerID, host ref.HostID, now time.Time) (*Record, error) {
	noisePrivate, noisePublic, err := newKeyPair()
	if err != nil {
		return nil, fmt.Errorf("credstore: minting noise key pair: %w", err)
	}
	identityPrivate, identityPublic, err := newKeyPair()
	if err != nil {
		return nil, fmt.Errorf("credstore: minting identity key pair: %w", err)
	}

	var seed [4]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("credstore: reading registration ID entropy: %w", err)
	}
	registrationID := binary.BigEndian.Uint32(seed[:])%maxRegistrationID + 1

	identity, err := codec.Marshal(identityCredentials{
		NoisePrivate:    noisePrivate,
		NoisePublic:     noisePublic,
		IdentityPrivate: identityPrivate,
		IdentityPublic:  identityPublic,
		RegistrationID:  registrationID,
		CreatedAt:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("credstore: encoding identity: %w", err)
	}

	return &Record{
		Identity:  identity,
		OwnerID:   owner,
		HostID:    host,
		UpdatedAt: now,
	}, nil
}

// newKeyPair generates one X25519 key pair.
func newKeyPair() (private, public []byte, err error) {
	private = make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(private); err != nil {
		return nil, nil, err
	}
	public, err = curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	return private, public, nil
}
