// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"context"
	"sync"

	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
)

// Memory is an in-memory Store. It backs single-host deployments that
// run without a Postgres fleet store, and it stands in for the fleet
// tier in tests. An injectable error lets tests simulate an
// unreachable store.
type Memory struct {
	mu      sync.Mutex
	records map[ref.TenantID]*Record

	// failWith, when non-nil, is returned by every operation.
	failWith error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[ref.TenantID]*Record)}
}

// FailWith makes every subsequent operation return err. Pass nil to
// restore normal operation.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Load implements Store.
func (m *Memory) Load(_ context.Context, tenant ref.TenantID) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	record, ok := m.records[tenant]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

// Save implements Store.
func (m *Memory) Save(_ context.Context, tenant ref.TenantID, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.records[tenant] = record.Clone()
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, tenant ref.TenantID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	delete(m.records, tenant)
	return nil
}

// ListOwnedByHost implements Store.
func (m *Memory) ListOwnedByHost(_ context.Context, host ref.HostID) ([]ref.TenantID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	var tenants []ref.TenantID
	for tenant, record := range m.records {
		if record.HostID == host {
			tenants = append(tenants, tenant)
		}
	}
	return tenants, nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
