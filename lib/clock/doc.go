// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the orchestrator's many timers.
//
// Pairing deadlines, reconnect backoff, destructive-operation
// confirmation windows, presence resets, and the credential reconcile
// ticker all run against an injected Clock instead of the time package
// directly. Production code uses Real(); tests use Fake(initial) and
// drive time with Advance, which makes every timeout path
// deterministic and instant.
package clock
