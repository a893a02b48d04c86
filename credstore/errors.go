// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned by Load when no record exists for the
// tenant in the consulted tier(s).
var ErrNotFound = errors.New("credstore: record not found")

// IsTransient reports whether a fleet-store error is worth retrying:
// connection failures, timeouts, and Postgres classes 08 (connection
// exception), 57 (operator intervention, includes shutdown), and 40001
// (serialization failure). Constraint violations and syntax errors are
// permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		if len(code) >= 2 && (code[:2] == "08" || code[:2] == "57") {
			return true
		}
		return code == "40001"
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	return false
}
