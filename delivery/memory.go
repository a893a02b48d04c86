// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"sync"

	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
	"github.com/ojuolokun86/BMM2-sub000/protocol"
)

// PairingEvent is one recorded DeliverPairing call.
type PairingEvent struct {
	Owner    ref.OwnerID
	Tenant   ref.TenantID
	Artifact protocol.PairingArtifact
}

// StatusEvent is one recorded DeliverStatus call.
type StatusEvent struct {
	Owner  ref.OwnerID
	Status RegistrationStatus
}

// Memory is an in-process Channel that records every event and also
// publishes them on channels, so tests can either poll the recorded
// slices or block until an event arrives.
type Memory struct {
	mu       sync.Mutex
	pairings []PairingEvent
	statuses []StatusEvent

	// PairingCh and StatusCh receive every event. Both are buffered;
	// overflow is dropped so an unread channel never blocks delivery.
	PairingCh chan PairingEvent
	StatusCh  chan StatusEvent
}

var _ Channel = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		PairingCh: make(chan PairingEvent, 16),
		StatusCh:  make(chan StatusEvent, 16),
	}
}

func (m *Memory) DeliverPairing(owner ref.OwnerID, tenant ref.TenantID, artifact protocol.PairingArtifact) {
	event := PairingEvent{Owner: owner, Tenant: tenant, Artifact: artifact}
	m.mu.Lock()
	m.pairings = append(m.pairings, event)
	m.mu.Unlock()
	select {
	case m.PairingCh <- event:
	default:
	}
}

func (m *Memory) DeliverStatus(owner ref.OwnerID, status RegistrationStatus) {
	event := StatusEvent{Owner: owner, Status: status}
	m.mu.Lock()
	m.statuses = append(m.statuses, event)
	m.mu.Unlock()
	select {
	case m.StatusCh <- event:
	default:
	}
}

// Pairings returns the recorded pairing events in delivery order.
func (m *Memory) Pairings() []PairingEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PairingEvent(nil), m.pairings...)
}

// Statuses returns the recorded status events in delivery order.
func (m *Memory) Statuses() []StatusEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StatusEvent(nil), m.statuses...)
}
