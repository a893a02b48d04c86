// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

// Package credstore keeps one tenant's cryptographic credentials
// consistent across three tiers: a process-local volatile cache, a
// host-local SQLite store, and the fleet-wide Postgres store of
// record.
//
// The fleet store is the durability boundary. Tiered.Save does not
// return success until the fleet write acknowledges; the host-local
// copy and the cache are best-effort accelerators that Load falls back
// through (cache, then local, then fleet with a local backfill).
//
// Exactly one fleet record exists per tenant, and the fleet record's
// host column says which host currently owns the tenant. A host-local
// copy whose fleet owner is some other host is an orphan; Reconciler
// purges those at startup and on a periodic ticker so stale
// credentials are never reused by a host that lost ownership.
package credstore
