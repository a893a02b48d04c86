// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
	"github.com/ojuolokun86/BMM2-sub000/lib/sqlitepool"
)

// localSchema is the host-local credential table. The key store is a
// single CBOR blob of enveloped entries; a corrupt entry inside it is
// skipped on load without discarding the record.
const localSchema = `
CREATE TABLE IF NOT EXISTS credentials (
    tenant_id  TEXT PRIMARY KEY,
    identity   BLOB NOT NULL,
    keys       BLOB,
    owner_id   TEXT NOT NULL,
    host_id    TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// PrepareLocal creates the host-local schema. Pass it as the
// sqlitepool OnConnect hook when opening the pool for a Local store.
func PrepareLocal(conn *sqlite.Conn) error {
	return sqlitex.ExecuteScript(conn, localSchema, nil)
}

// Local is the host-local durable tier, backed by SQLite. It caches
// the fleet store's records for tenants this host owns; it is never
// the source of truth.
type Local struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// NewLocal wraps an open pool. The pool must have been opened with
// PrepareLocal as its OnConnect hook.
func NewLocal(pool *sqlitepool.Pool, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Local{pool: pool, logger: logger}
}

// Load implements Store.
func (l *Local) Load(ctx context.Context, tenant ref.TenantID) (*Record, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer l.pool.Put(conn)

	var record *Record
	err = sqlitex.Execute(conn,
		`SELECT identity, keys, owner_id, host_id, updated_at FROM credentials WHERE tenant_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{tenant.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				identity := make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, identity)
				keysBlob := make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, keysBlob)

				owner, err := ref.NewOwnerID(stmt.ColumnText(2))
				if err != nil {
					return fmt.Errorf("credstore: local record for %s: %w", tenant, err)
				}
				host, err := ref.NewHostID(stmt.ColumnText(3))
				if err != nil {
					return fmt.Errorf("credstore: local record for %s: %w", tenant, err)
				}
				keys, err := decodeKeys(keysBlob, tenant, l.logger)
				if err != nil {
					return err
				}
				record = &Record{
					Identity:  identity,
					Keys:      keys,
					OwnerID:   owner,
					HostID:    host,
					UpdatedAt: time.Unix(0, stmt.ColumnInt64(4)).UTC(),
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("credstore: local load %s: %w", tenant, err)
	}
	if record == nil {
		return nil, ErrNotFound
	}
	return record, nil
}

// Save implements Store.
func (l *Local) Save(ctx context.Context, tenant ref.TenantID, record *Record) error {
	keysBlob, err := encodeKeys(record.Keys)
	if err != nil {
		return err
	}

	conn, err := l.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer l.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO credentials (tenant_id, identity, keys, owner_id, host_id, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id) DO UPDATE SET
		     identity = excluded.identity,
		     keys = excluded.keys,
		     owner_id = excluded.owner_id,
		     host_id = excluded.host_id,
		     updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{
				tenant.String(),
				[]byte(record.Identity),
				keysBlob,
				record.OwnerID.String(),
				record.HostID.String(),
				record.UpdatedAt.UnixNano(),
			},
		})
	if err != nil {
		return fmt.Errorf("credstore: local save %s: %w", tenant, err)
	}
	return nil
}

// Delete implements Store.
func (l *Local) Delete(ctx context.Context, tenant ref.TenantID) error {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer l.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM credentials WHERE tenant_id = ?`,
		&sqlitex.ExecOptions{Args: []any{tenant.String()}})
	if err != nil {
		return fmt.Errorf("credstore: local delete %s: %w", tenant, err)
	}
	return nil
}

// ListOwnedByHost implements Store.
func (l *Local) ListOwnedByHost(ctx context.Context, host ref.HostID) ([]ref.TenantID, error) {
	return l.list(ctx, `SELECT tenant_id FROM credentials WHERE host_id = ?`, host.String())
}

// ListAll returns every tenant with a host-local record, regardless of
// the recorded host. The reconciler uses this to find orphans whose
// recorded host is stale.
func (l *Local) ListAll(ctx context.Context) ([]ref.TenantID, error) {
	return l.list(ctx, `SELECT tenant_id FROM credentials`)
}

func (l *Local) list(ctx context.Context, query string, args ...any) ([]ref.TenantID, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer l.pool.Put(conn)

	var tenants []ref.TenantID
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			tenant, err := ref.NewTenantID(stmt.ColumnText(0))
			if err != nil {
				l.logger.Warn("skipping row with invalid tenant ID",
					"raw", stmt.ColumnText(0), "error", err)
				return nil
			}
			tenants = append(tenants, tenant)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("credstore: local list: %w", err)
	}
	return tenants, nil
}
