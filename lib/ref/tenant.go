// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// TenantID identifies one registered bot identity: the phone number it
// is bound to, in normalized international form without a leading plus
// (e.g., "2348012345678"). TenantID is the primary key for credential
// records, session handles, queue lanes, and timers.
type TenantID struct{ number string }

// NewTenantID validates and normalizes a phone number into a TenantID.
// Accepted input is an international number with optional leading "+"
// and optional separator characters (spaces, dashes). The stored form
// is digits only.
func NewTenantID(number string) (TenantID, error) {
	normalized := normalizeNumber(number)
	if len(normalized) < 7 || len(normalized) > 15 {
		return TenantID{}, fmt.Errorf("ref: invalid tenant phone number %q", number)
	}
	return TenantID{number: normalized}, nil
}

// normalizeNumber strips a leading "+" and separator characters,
// returning the bare digit string. Any non-digit remainder makes the
// result invalid (length check in NewTenantID catches empty; a stray
// letter produces an empty result here).
func normalizeNumber(number string) string {
	number = strings.TrimPrefix(strings.TrimSpace(number), "+")
	var b strings.Builder
	for _, r := range number {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
			// separator, skip
		default:
			return ""
		}
	}
	return b.String()
}

// String returns the normalized digit string.
func (t TenantID) String() string { return t.number }

// IsZero reports whether the TenantID is the zero value.
func (t TenantID) IsZero() bool { return t.number == "" }

// MarshalText implements encoding.TextMarshaler.
func (t TenantID) MarshalText() ([]byte, error) {
	if t.IsZero() {
		return nil, fmt.Errorf("ref: marshal zero TenantID")
	}
	return []byte(t.number), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TenantID) UnmarshalText(data []byte) error {
	parsed, err := NewTenantID(string(data))
	if err != nil {
		return fmt.Errorf("unmarshal TenantID: %w", err)
	}
	*t = parsed
	return nil
}
