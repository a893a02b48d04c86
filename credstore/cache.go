// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"sync"

	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
)

// Cache is the process-local volatile tier. Entries have no TTL; they
// are invalidated only by an explicit Put or Invalidate from the
// tiered store. All values are deep-copied on the way in and out so
// callers never share memory with the cache.
type Cache struct {
	mu      sync.Mutex
	records map[ref.TenantID]*Record
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{records: make(map[ref.TenantID]*Record)}
}

// Get returns a copy of the cached record and whether one exists.
func (c *Cache) Get(tenant ref.TenantID) (*Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.records[tenant]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// Put stores a copy of the record.
func (c *Cache) Put(tenant ref.TenantID, record *Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[tenant] = record.Clone()
}

// Invalidate drops the cached record, if any.
func (c *Cache) Invalidate(tenant ref.TenantID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, tenant)
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}
