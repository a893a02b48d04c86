// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
)

// fleetSchema is the fleet-wide credential table. One row per tenant,
// fleet-wide; host_id records which host currently owns the tenant's
// live connection.
const fleetSchema = `
CREATE TABLE IF NOT EXISTS credentials (
    tenant_id  TEXT PRIMARY KEY,
    identity   BYTEA NOT NULL,
    keys       BYTEA,
    owner_id   TEXT NOT NULL,
    host_id    TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS credentials_host_idx ON credentials (host_id);
`

// pgxConn is the slice of pgxpool.Pool the fleet store uses. Narrow
// on purpose: the orchestrator only ever issues single-row upserts,
// equality-filtered selects, and deletes against the fleet store.
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Fleet is the fleet-wide durable tier, backed by Postgres. It is the
// store of record: a save is not durable until Fleet acknowledges it.
type Fleet struct {
	db     pgxConn
	logger *slog.Logger
}

// NewFleet wraps an open pgx pool (or anything satisfying its query
// surface).
func NewFleet(db pgxConn, logger *slog.Logger) *Fleet {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Fleet{db: db, logger: logger}
}

// EnsureSchema creates the credential table if it does not exist.
// Idempotent; every host runs it at startup.
func (f *Fleet) EnsureSchema(ctx context.Context) error {
	if _, err := f.db.Exec(ctx, fleetSchema); err != nil {
		return fmt.Errorf("credstore: ensuring fleet schema: %w", err)
	}
	return nil
}

// Load implements Store.
func (f *Fleet) Load(ctx context.Context, tenant ref.TenantID) (*Record, error) {
	row := f.db.QueryRow(ctx,
		`SELECT identity, keys, owner_id, host_id, updated_at FROM credentials WHERE tenant_id = $1`,
		tenant.String())

	var record Record
	var identity, keysBlob []byte
	var ownerRaw, hostRaw string
	err := row.Scan(&identity, &keysBlob, &ownerRaw, &hostRaw, &record.UpdatedAt)
	record.Identity = identity
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credstore: fleet load %s: %w", tenant, err)
	}

	if record.OwnerID, err = ref.NewOwnerID(ownerRaw); err != nil {
		return nil, fmt.Errorf("credstore: fleet record for %s: %w", tenant, err)
	}
	if record.HostID, err = ref.NewHostID(hostRaw); err != nil {
		return nil, fmt.Errorf("credstore: fleet record for %s: %w", tenant, err)
	}
	if record.Keys, err = decodeKeys(keysBlob, tenant, f.logger); err != nil {
		return nil, err
	}
	record.UpdatedAt = record.UpdatedAt.UTC()
	return &record, nil
}

// Save implements Store.
func (f *Fleet) Save(ctx context.Context, tenant ref.TenantID, record *Record) error {
	keysBlob, err := encodeKeys(record.Keys)
	if err != nil {
		return err
	}
	_, err = f.db.Exec(ctx,
		`INSERT INTO credentials (tenant_id, identity, keys, owner_id, host_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (tenant_id) DO UPDATE SET
		     identity = excluded.identity,
		     keys = excluded.keys,
		     owner_id = excluded.owner_id,
		     host_id = excluded.host_id,
		     updated_at = excluded.updated_at`,
		tenant.String(),
		[]byte(record.Identity),
		keysBlob,
		record.OwnerID.String(),
		record.HostID.String(),
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("credstore: fleet save %s: %w", tenant, err)
	}
	return nil
}

// Delete implements Store.
func (f *Fleet) Delete(ctx context.Context, tenant ref.TenantID) error {
	if _, err := f.db.Exec(ctx, `DELETE FROM credentials WHERE tenant_id = $1`, tenant.String()); err != nil {
		return fmt.Errorf("credstore: fleet delete %s: %w", tenant, err)
	}
	return nil
}

// ListOwnedByHost implements Store.
func (f *Fleet) ListOwnedByHost(ctx context.Context, host ref.HostID) ([]ref.TenantID, error) {
	rows, err := f.db.Query(ctx, `SELECT tenant_id FROM credentials WHERE host_id = $1`, host.String())
	if err != nil {
		return nil, fmt.Errorf("credstore: fleet list for host %s: %w", host, err)
	}
	defer rows.Close()

	var tenants []ref.TenantID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("credstore: fleet list scan: %w", err)
		}
		tenant, err := ref.NewTenantID(raw)
		if err != nil {
			f.logger.Warn("skipping fleet row with invalid tenant ID", "raw", raw, "error", err)
			continue
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credstore: fleet list rows: %w", err)
	}
	return tenants, nil
}
