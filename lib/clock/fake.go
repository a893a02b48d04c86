// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at initial. Time moves only through
// Advance. Safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{now: initial}
	c.registered = sync.NewCond(&c.mu)
	return c
}

// FakeClock is a deterministic Clock for tests. Timers, tickers, and
// sleeps park until Advance moves the clock past their deadline.
//
// AfterFunc callbacks run synchronously inside Advance, in deadline
// order. Calling Advance or Sleep from inside a callback deadlocks.
type FakeClock struct {
	mu         sync.Mutex
	now        time.Time
	pending    []*pendingTimer
	registered *sync.Cond
}

// pendingTimer is one parked waiter: a timer, ticker, or sleep.
type pendingTimer struct {
	deadline time.Time
	ch       chan time.Time // nil for AfterFunc waiters
	fn       func()         // nil for channel waiters
	interval time.Duration  // non-zero for tickers; rescheduled after firing
	stopped  bool
	fired    bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel receiving once the clock is advanced past d.
// Non-positive d delivers immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.pending = append(c.pending, &pendingTimer{deadline: c.now.Add(d), ch: ch})
	c.registered.Broadcast()
	return ch
}

// AfterFunc arms a callback timer. Non-positive d runs f synchronously
// before returning.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()

	if d <= 0 {
		c.mu.Unlock()
		f()
		return &Timer{
			stop:  func() bool { return false },
			reset: func(time.Duration) bool { return false },
		}
	}

	p := &pendingTimer{deadline: c.now.Add(d), fn: f}
	c.pending = append(c.pending, p)
	c.registered.Broadcast()
	c.mu.Unlock()

	return &Timer{
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if p.stopped || p.fired {
				return false
			}
			p.stopped = true
			return true
		},
		reset: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			active := !p.stopped && !p.fired
			p.stopped = false
			p.fired = false
			p.deadline = c.now.Add(d)
			if !active {
				// Fired waiters were dropped from the pending
				// list; re-add.
				c.pending = append(c.pending, p)
				c.registered.Broadcast()
			}
			return active
		},
	}
}

// NewTicker returns a ticker that fires once per interval crossed by
// Advance. Panics if d <= 0.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive NewTicker interval")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	p := &pendingTimer{deadline: c.now.Add(d), ch: ch, interval: d}
	c.pending = append(c.pending, p)
	c.registered.Broadcast()

	return &Ticker{
		C: ch,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			p.stopped = true
		},
		reset: func(d time.Duration) {
			c.mu.Lock()
			defer c.mu.Unlock()
			p.interval = d
			p.deadline = c.now.Add(d)
			p.stopped = false
		},
	}
}

// Sleep parks the calling goroutine until the clock advances past d.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the clock forward by d, firing every waiter whose
// deadline is reached, in deadline order. Ticker waiters fire once per
// interval crossed and are rescheduled; channel sends never block
// (full channels drop the tick, matching time.Ticker).
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.takeDue(target)
		if len(due) == 0 {
			return
		}
		sort.Slice(due, func(i, j int) bool {
			return due[i].deadline.Before(due[j].deadline)
		})
		for _, p := range due {
			if p.fn != nil {
				p.fn()
				continue
			}
			select {
			case p.ch <- target:
			default:
			}
		}
	}
}

// takeDue removes waiters with deadlines at or before target from the
// pending list, reschedules tickers, and returns the batch to fire.
func (c *FakeClock) takeDue(target time.Time) []*pendingTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, keep []*pendingTimer
	for _, p := range c.pending {
		switch {
		case p.stopped:
			// dropped
		case !p.deadline.After(target):
			due = append(due, p)
		default:
			keep = append(keep, p)
		}
	}
	for _, p := range due {
		if p.interval > 0 {
			p.deadline = p.deadline.Add(p.interval)
			keep = append(keep, p)
		} else {
			p.fired = true
		}
	}
	c.pending = keep
	return due
}

// WaitForTimers blocks until at least n waiters are registered and
// live. Tests use this to close the race between a goroutine arming a
// timer and the test advancing the clock:
//
//	go controller.Start(...)
//	fake.WaitForTimers(1)
//	fake.Advance(pairingDeadline)
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.liveCountLocked() < n {
		c.registered.Wait()
	}
}

// PendingCount returns the number of live waiters.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveCountLocked()
}

func (c *FakeClock) liveCountLocked() int {
	n := 0
	for _, p := range c.pending {
		if !p.stopped {
			n++
		}
	}
	return n
}
