// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ojuolokun86/BMM2-sub000/credstore"
	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
)

// Loopback is a Dialer for development: its clients authenticate
// instantly without any wire protocol, so the orchestration machinery
// and a front end can be exercised end to end on a laptop. Pairing
// codes are synthesized locally.
type Loopback struct{}

var _ Dialer = (*Loopback)(nil)

func NewLoopback() *Loopback { return &Loopback{} }

func (l *Loopback) Dial(ctx context.Context, tenant ref.TenantID, record *credstore.Record) (Client, error) {
	return &loopbackClient{}, nil
}

type loopbackClient struct {
	mu      sync.Mutex
	handler Handler
}

var _ Client = (*loopbackClient)(nil)

func (c *loopbackClient) SetHandler(handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

func (c *loopbackClient) emit(change StateChange) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler.HandleStateChange(change)
	}
}

// Connect reports an open connection asynchronously, the way a real
// client completes its handshake off the caller's goroutine.
func (c *loopbackClient) Connect(ctx context.Context) error {
	go func() {
		c.emit(StateChange{State: StateConnecting})
		c.emit(StateChange{State: StateOpen})
	}()
	return nil
}

func (c *loopbackClient) RequestPairingCode(ctx context.Context) error {
	code := uuid.NewString()[:8]
	go c.emit(StateChange{
		State:   StateConnecting,
		Pairing: &PairingArtifact{Code: fmt.Sprintf("%s-%s", code[:4], code[4:])},
	})
	return nil
}

func (c *loopbackClient) Close() error {
	c.emit(StateChange{State: StateClosed, Cause: CauseConnectionClosed})
	return nil
}

func (c *loopbackClient) Terminate() {}
