// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"

	"github.com/ojuolokun86/BMM2-sub000/lib/config"
	"github.com/ojuolokun86/BMM2-sub000/protocol"
)

// buildDialer selects the wire-protocol client implementation for the
// environment. Development and staging run against the loopback
// dialer, which authenticates instantly without a remote service.
// Production requires a real protocol client linked in at build time;
// until one is, refusing to start beats silently running a fake.
func buildDialer(env config.Environment, logger *slog.Logger) (protocol.Dialer, error) {
	if env == config.Production {
		return nil, fmt.Errorf("no wire-protocol client is configured for production")
	}
	logger.Warn("using loopback protocol dialer; sessions are simulated", "environment", env)
	return protocol.NewLoopback(), nil
}
