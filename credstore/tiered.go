// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ojuolokun86/BMM2-sub000/lib/clock"
	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
)

// fleetSaveAttempts bounds the fleet write retry. Three attempts with
// exponential backoff (1s, 2s) ride out brief connection drops and
// Postgres failovers without stalling the caller for long.
const fleetSaveAttempts = 3

// Tiered composes the three credential tiers behind the Store
// contract. Reads fall through cache → local → fleet (backfilling the
// local tier on a fleet hit); writes go to the fleet first (the
// durability boundary), then local, then cache.
type Tiered struct {
	cache  *Cache
	local  *Local
	fleet  Store
	clock  clock.Clock
	logger *slog.Logger
}

// NewTiered builds the tiering layer. fleet is the store of record;
// local may be nil only in tests that exercise cache+fleet behavior.
func NewTiered(cache *Cache, local *Local, fleet Store, clk clock.Clock, logger *slog.Logger) *Tiered {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Tiered{cache: cache, local: local, fleet: fleet, clock: clk, logger: logger}
}

// Load implements Store. The cache is consulted first; on miss, the
// host-local store; if still absent, the fleet store, whose record is
// backfilled into the local store and the cache. When the fleet store
// is unreachable, a local or cached copy may be served stale; loads
// are allowed to be optimistic, saves are not.
func (t *Tiered) Load(ctx context.Context, tenant ref.TenantID) (*Record, error) {
	if record, ok := t.cache.Get(tenant); ok {
		return record, nil
	}

	if t.local != nil {
		record, err := t.local.Load(ctx, tenant)
		switch {
		case err == nil:
			t.cache.Put(tenant, record)
			return record, nil
		case !errors.Is(err, ErrNotFound):
			t.logger.Warn("local credential load failed, falling through to fleet",
				"tenant_id", tenant.String(), "error", err)
		}
	}

	record, err := t.fleet.Load(ctx, tenant)
	if err != nil {
		return nil, err
	}

	if t.local != nil {
		if err := t.local.Save(ctx, tenant, record); err != nil {
			t.logger.Warn("local credential backfill failed",
				"tenant_id", tenant.String(), "error", err)
		}
	}
	t.cache.Put(tenant, record)
	return record, nil
}

// Save implements Store. The fleet write is synchronous and retried on
// transient errors; until it acknowledges, the save has not happened.
// Local and cache updates follow, and a local failure is only a
// warning; the next Load repairs it from the fleet.
func (t *Tiered) Save(ctx context.Context, tenant ref.TenantID, record *Record) error {
	record = record.Clone()
	record.UpdatedAt = t.clock.Now().UTC()

	if err := t.saveFleet(ctx, tenant, record); err != nil {
		return fmt.Errorf("credstore: fleet save is the durability boundary, record for %s not persisted: %w", tenant, err)
	}

	if t.local != nil {
		if err := t.local.Save(ctx, tenant, record); err != nil {
			t.logger.Warn("local credential save failed after fleet ack",
				"tenant_id", tenant.String(), "error", err)
		}
	}
	t.cache.Put(tenant, record)
	return nil
}

// saveFleet writes to the fleet store with bounded retry on transient
// errors. Permanent errors return immediately.
func (t *Tiered) saveFleet(ctx context.Context, tenant ref.TenantID, record *Record) error {
	var lastError error
	for attempt := 0; attempt < fleetSaveAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.clock.After(backoff):
			}
		}

		err := t.fleet.Save(ctx, tenant, record)
		if err == nil {
			return nil
		}
		lastError = err

		if !IsTransient(err) {
			return err
		}
		t.logger.Warn("transient fleet save failure, retrying",
			"tenant_id", tenant.String(),
			"attempt", attempt+1,
			"error", err,
		)
	}
	return lastError
}

// Delete implements Store. Fleet first for the same durability reason
// as Save; local and cache follow.
func (t *Tiered) Delete(ctx context.Context, tenant ref.TenantID) error {
	if err := t.fleet.Delete(ctx, tenant); err != nil {
		return err
	}
	if t.local != nil {
		if err := t.local.Delete(ctx, tenant); err != nil {
			t.logger.Warn("local credential delete failed",
				"tenant_id", tenant.String(), "error", err)
		}
	}
	t.cache.Invalidate(tenant)
	return nil
}

// ListOwnedByHost implements Store, consulting the fleet store, since host
// ownership is fleet-wide state.
func (t *Tiered) ListOwnedByHost(ctx context.Context, host ref.HostID) ([]ref.TenantID, error) {
	return t.fleet.ListOwnedByHost(ctx, host)
}
