// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

// bmmd is the connection orchestrator daemon. It maintains one
// authenticated wire-protocol session per registered tenant,
// persists session credentials through a three-tier store (in-process
// cache, host-local SQLite, fleet-wide Postgres), and relays pairing
// artifacts and registration status to front ends over websockets.
//
// On startup:
//  1. Loads configuration (BMM_CONFIG or --config).
//  2. Opens the host-local credential database and, when configured,
//     the fleet store.
//  3. Runs a credential sync and orphan purge, then keeps
//     reconciling on an interval.
//  4. Resumes a session for every credential record this host owns.
//  5. Serves the delivery relay and waits for shutdown signals.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"

	"github.com/ojuolokun86/BMM2-sub000/credstore"
	"github.com/ojuolokun86/BMM2-sub000/delivery"
	"github.com/ojuolokun86/BMM2-sub000/lib/config"
	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
	"github.com/ojuolokun86/BMM2-sub000/lib/sqlitepool"
	"github.com/ojuolokun86/BMM2-sub000/protocol"
	"github.com/ojuolokun86/BMM2-sub000/session"
	"github.com/ojuolokun86/BMM2-sub000/taskqueue"
	"github.com/ojuolokun86/BMM2-sub000/tenant"
	"github.com/ojuolokun86/BMM2-sub000/workflow"
)

const statusInterval = time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string

	flagSet := pflag.NewFlagSet("bmmd", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to bmm.yaml (overrides BMM_CONFIG)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	durations, err := cfg.ParseTimers()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Environment)
	host, err := ref.NewHostID(cfg.Host.ID)
	if err != nil {
		return err
	}
	logger.Info("starting", "host_id", host, "environment", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Paths.State, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      cfg.LocalStorePath(),
		Logger:    logger,
		OnConnect: credstore.PrepareLocal,
	})
	if err != nil {
		return err
	}
	defer pool.Close()
	local := credstore.NewLocal(pool, logger)
	cache := credstore.NewCache()

	var fleet credstore.Store
	if cfg.Fleet.PostgresURL != "" {
		pgPool, err := pgxpool.New(ctx, cfg.Fleet.PostgresURL)
		if err != nil {
			return fmt.Errorf("opening fleet store: %w", err)
		}
		defer pgPool.Close()
		fleetStore := credstore.NewFleet(pgPool, logger)
		if err := fleetStore.EnsureSchema(ctx); err != nil {
			return err
		}
		fleet = fleetStore
	} else {
		logger.Warn("no fleet store configured; credentials will not survive host loss")
		fleet = credstore.NewMemory()
	}

	store := credstore.NewTiered(cache, local, fleet, nil, logger)
	reconciler := credstore.NewReconciler(local, fleet, cache, host, nil, logger)
	go reconciler.Run(ctx, durations.ReconcileInterval)

	dialer, err := buildDialer(cfg.Environment, logger)
	if err != nil {
		return err
	}

	registry := session.NewRegistry(nil)
	queues := taskqueue.New(ctx, nil, logger)
	relay := delivery.NewRelay(logger)
	coordinator := workflow.NewCoordinator(ctx, nil, logger, workflow.Timing{
		ConfirmDeadline: durations.ConfirmDeadline,
		ActDelay:        workflow.DefaultTiming().ActDelay,
		RetryDelay:      workflow.DefaultTiming().RetryDelay,
	})

	manager := tenant.NewManager(ctx, tenant.Options{
		Store:    store,
		Dialer:   dialer,
		Registry: registry,
		Queues:   queues,
		Delivery: relay,
		Host:     host,
		Logger:   logger,
		Timers: tenant.Timers{
			PairingDeadline:         durations.PairingDeadline,
			ReconnectDelay:          durations.ReconnectDelay,
			PostRegistrationRestart: durations.PostRegistrationRestart,
			PresenceReset:           durations.PresenceReset,
		},
		Inbound: func(ctx context.Context, _ ref.TenantID, event protocol.InboundEvent) error {
			// Confirmation and cancellation keywords for pending
			// destructive operations; all other payloads belong to
			// the command layer.
			word := strings.TrimSpace(string(event.Payload))
			coordinator.HandleCommand(ctx, event.Conversation, word)
			return nil
		},
	})

	server := &http.Server{Addr: cfg.Delivery.ListenAddr, Handler: relay}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("delivery relay listening", "addr", cfg.Delivery.ListenAddr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if err := resumeSessions(ctx, manager, store, host, logger); err != nil {
		logger.Warn("session resume incomplete", "error", err)
	}

	go logStatus(ctx, registry, logger)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("delivery relay: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	manager.Shutdown(shutdownCtx)
	if err := queues.Shutdown(shutdownCtx); err != nil {
		logger.Warn("queue lanes did not drain", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("relay shutdown", "error", err)
	}
	logger.Info("stopped")
	return nil
}

// newLogger builds the process logger: JSON in production, text
// elsewhere.
func newLogger(env config.Environment) *slog.Logger {
	var handler slog.Handler
	if env == config.Production {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(handler)
}

// resumeSessions restarts a session for every credential record this
// host owns. A tenant that fails to resume is logged and skipped;
// the rest still come up.
func resumeSessions(ctx context.Context, manager *tenant.Manager, store credstore.Store, host ref.HostID, logger *slog.Logger) error {
	tenants, err := store.ListOwnedByHost(ctx, host)
	if err != nil {
		return fmt.Errorf("listing owned tenants: %w", err)
	}
	for _, tenantID := range tenants {
		record, err := store.Load(ctx, tenantID)
		if err != nil {
			logger.Error("loading record for resume", "tenant_id", tenantID, "error", err)
			continue
		}
		if err := manager.StartSession(ctx, tenantID, record.OwnerID); err != nil {
			logger.Error("resuming session", "tenant_id", tenantID, "error", err)
			continue
		}
		logger.Info("session resumed", "tenant_id", tenantID, "owner_id", record.OwnerID)
	}
	logger.Info("resume pass complete", "owned", len(tenants))
	return nil
}

// logStatus periodically reports how many sessions are live.
func logStatus(ctx context.Context, registry *session.Registry, logger *slog.Logger) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var oldest time.Duration
			now := time.Now()
			for _, handle := range registry.Snapshot() {
				if uptime := handle.Uptime(now); uptime > oldest {
					oldest = uptime
				}
			}
			logger.Info("status", "live_sessions", registry.Len(), "oldest_uptime", oldest)
		}
	}
}
