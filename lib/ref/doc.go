// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated identifier types for the orchestrator.
//
// Identifiers travel through logs, durable stores, and queue keys, so
// each gets a distinct Go type: a TenantID can never be passed where a
// ConversationID is expected, and a zero value is always detectable
// with IsZero. All types implement encoding.TextMarshaler and
// encoding.TextUnmarshaler so they serialize as plain strings in CBOR,
// JSON, and SQL parameters.
package ref
