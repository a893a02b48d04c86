// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"

	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
)

func TestDeterministicEncoding(t *testing.T) {
	value := map[string]any{
		"zulu":  1,
		"alpha": "x",
		"mike":  []int{3, 1, 2},
	}
	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("same value produced different bytes")
	}
}

func TestRefTypesEncodeAsText(t *testing.T) {
	tenant, err := ref.NewTenantID("2348012345678")
	if err != nil {
		t.Fatalf("NewTenantID: %v", err)
	}
	type record struct {
		Tenant ref.TenantID `cbor:"tenant"`
	}
	data, err := Marshal(record{Tenant: tenant})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded record
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Tenant != tenant {
		t.Errorf("round trip = %v, want %v", decoded.Tenant, tenant)
	}

	// The encoding must contain the phone number as a text string,
	// not an empty map.
	if !bytes.Contains(data, []byte("2348012345678")) {
		t.Errorf("encoded bytes %x do not contain the tenant number", data)
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	type wide struct {
		A string `cbor:"a"`
		B int    `cbor:"b"`
	}
	type narrow struct {
		A string `cbor:"a"`
	}
	data, err := Marshal(wide{A: "keep", B: 7})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got narrow
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal with extra field: %v", err)
	}
	if got.A != "keep" {
		t.Errorf("A = %q, want %q", got.A, "keep")
	}
}
