// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/ojuolokun86/BMM2-sub000/lib/clock"
	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
)

// Reconciler keeps the host-local tier honest against the fleet store:
// it purges orphaned local records (tenants the fleet says another
// host owns) and runs the idempotent sync passes between the tiers.
type Reconciler struct {
	local  *Local
	fleet  Store
	cache  *Cache
	host   ref.HostID
	clock  clock.Clock
	logger *slog.Logger
}

// NewReconciler builds a reconciler for the given host.
func NewReconciler(local *Local, fleet Store, cache *Cache, host ref.HostID, clk clock.Clock, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Reconciler{local: local, fleet: fleet, cache: cache, host: host, clock: clk, logger: logger}
}

// PurgeOrphans deletes every host-local record whose owning host, per
// the fleet store, is not this host. A fleet record that no longer
// exists also orphans the local copy. Fleet read failures skip the
// tenant; a stale local copy may still legitimately serve reads while
// the fleet store is unreachable, so deletion waits for an
// authoritative answer. Returns the number of purged records.
func (r *Reconciler) PurgeOrphans(ctx context.Context) (int, error) {
	tenants, err := r.local.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, tenant := range tenants {
		fleetRecord, err := r.fleet.Load(ctx, tenant)
		switch {
		case errors.Is(err, ErrNotFound):
			// No fleet record at all: the tenant was deleted
			// fleet-wide. The local copy is dead weight.
		case err != nil:
			r.logger.Warn("orphan check skipped, fleet store unreachable",
				"tenant_id", tenant.String(), "error", err)
			continue
		case fleetRecord.HostID == r.host:
			continue
		}

		if err := r.local.Delete(ctx, tenant); err != nil {
			r.logger.Warn("orphan purge failed",
				"tenant_id", tenant.String(), "error", err)
			continue
		}
		if r.cache != nil {
			r.cache.Invalidate(tenant)
		}
		purged++
		r.logger.Info("purged orphaned local credentials", "tenant_id", tenant.String())
	}
	return purged, nil
}

// SyncDown copies the fleet record of every tenant this host owns into
// the host-local store. Idempotent: records are upserted, and owner
// identity travels inside the record untouched.
func (r *Reconciler) SyncDown(ctx context.Context) (int, error) {
	tenants, err := r.fleet.ListOwnedByHost(ctx, r.host)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, tenant := range tenants {
		record, err := r.fleet.Load(ctx, tenant)
		if err != nil {
			r.logger.Warn("sync-down load failed", "tenant_id", tenant.String(), "error", err)
			continue
		}
		if err := r.local.Save(ctx, tenant, record); err != nil {
			r.logger.Warn("sync-down save failed", "tenant_id", tenant.String(), "error", err)
			continue
		}
		synced++
	}
	return synced, nil
}

// SyncUp pushes host-local records owned by this host back to the
// fleet store. Only records strictly newer than the fleet copy are
// pushed, which makes re-running the pass a no-op and prevents a stale
// local copy from clobbering a record another code path just saved.
// A record whose fleet copy carries an owner keeps that owner if the
// local copy somehow lost it.
func (r *Reconciler) SyncUp(ctx context.Context) (int, error) {
	tenants, err := r.local.ListOwnedByHost(ctx, r.host)
	if err != nil {
		return 0, err
	}

	pushed := 0
	for _, tenant := range tenants {
		localRecord, err := r.local.Load(ctx, tenant)
		if err != nil {
			r.logger.Warn("sync-up load failed", "tenant_id", tenant.String(), "error", err)
			continue
		}

		fleetRecord, err := r.fleet.Load(ctx, tenant)
		switch {
		case errors.Is(err, ErrNotFound):
			fleetRecord = nil
		case err != nil:
			r.logger.Warn("sync-up fleet read failed", "tenant_id", tenant.String(), "error", err)
			continue
		}

		if fleetRecord != nil {
			if !localRecord.UpdatedAt.After(fleetRecord.UpdatedAt) {
				continue
			}
			if localRecord.OwnerID.IsZero() {
				localRecord.OwnerID = fleetRecord.OwnerID
			}
		}

		if err := r.fleet.Save(ctx, tenant, localRecord); err != nil {
			r.logger.Warn("sync-up save failed", "tenant_id", tenant.String(), "error", err)
			continue
		}
		pushed++
	}
	return pushed, nil
}

// Run performs the startup sequence (sync down, then purge orphans)
// and then repeats the orphan purge on every tick of interval until
// ctx is cancelled. It blocks; run it in its own goroutine.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if synced, err := r.SyncDown(ctx); err != nil {
		r.logger.Warn("startup credential sync failed", "error", err)
	} else {
		r.logger.Info("startup credential sync complete", "records", synced)
	}
	if purged, err := r.PurgeOrphans(ctx); err != nil {
		r.logger.Warn("startup orphan purge failed", "error", err)
	} else if purged > 0 {
		r.logger.Info("startup orphan purge complete", "purged", purged)
	}

	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if purged, err := r.PurgeOrphans(ctx); err != nil {
				r.logger.Warn("periodic orphan purge failed", "error", err)
			} else if purged > 0 {
				r.logger.Info("periodic orphan purge complete", "purged", purged)
			}
		}
	}
}
