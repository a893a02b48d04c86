// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the orchestrator's standard CBOR encoding.
//
// Credential records and key-store entries are stored as CBOR in both
// durable tiers. Encoding is Core Deterministic (RFC 8949 §4.2):
// sorted map keys, smallest integer widths, no indefinite lengths.
// Deterministic bytes mean that saving the same logical record twice
// writes the same blob twice, which keeps the durable stores'
// idempotence observable at the byte level.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	encOptions := cbor.CoreDetEncOptions()
	// ref types carry unexported fields and serialize through
	// MarshalText. Without this option they would encode as empty
	// CBOR maps and lose their identity.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString

	var err error
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// All map keys in this codebase are strings. When decoding
		// into any, produce map[string]any rather than CBOR's
		// default map[any]any, which most Go code cannot consume.
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Unknown fields are ignored for
// forward compatibility.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a pre-encoded CBOR value, used to carry opaque
// protocol-client blobs through a record without decoding them.
type RawMessage = cbor.RawMessage
