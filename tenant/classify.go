// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package tenant

import "github.com/ojuolokun86/BMM2-sub000/protocol"

// Classification is the lifecycle controller's verdict on a
// disconnect. Intentional disconnects are not classified here: they
// are detected from the session handle's intent flag before the cause
// is consulted.
type Classification int

const (
	// ClassTransient schedules a delayed reconnect with the same
	// credentials.
	ClassTransient Classification = iota
	// ClassConflict tears the local session down with no retry.
	// Another live connection owns the identity; retrying would
	// thrash against it.
	ClassConflict
	// ClassFatal tears down and deletes all tenant data. Re-pairing
	// is the only way back.
	ClassFatal
)

// String returns the classification name for logs.
func (c Classification) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassConflict:
		return "conflict"
	case ClassFatal:
		return "fatal"
	default:
		return "invalid"
	}
}

// disconnectClass maps each wire cause to its classification. New
// causes are added by extending the table; anything absent is treated
// as transient, the conservative choice for an unrecognized code.
var disconnectClass = map[protocol.DisconnectCause]Classification{
	protocol.CauseConnectionClosed:    ClassTransient,
	protocol.CauseConnectionLost:      ClassTransient,
	protocol.CauseTimedOut:            ClassTransient,
	protocol.CauseRestartRequired:     ClassTransient,
	protocol.CauseServiceUnavailable:  ClassTransient,
	protocol.CauseUnknown:             ClassTransient,
	protocol.CauseConflictReplaced:    ClassConflict,
	protocol.CauseBadSession:          ClassFatal,
	protocol.CauseMultideviceMismatch: ClassFatal,
	protocol.CauseLoggedOut:           ClassFatal,
}

// Classify returns the classification for a disconnect cause.
func Classify(cause protocol.DisconnectCause) Classification {
	if class, ok := disconnectClass[cause]; ok {
		return class
	}
	return ClassTransient
}
