// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source injected into every component that arms a
// timer or reads the current time. Code must not call time.Now,
// time.After, time.AfterFunc, time.NewTicker, or time.Sleep directly;
// it takes a Clock (usually as a struct field) instead.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once, after d elapses.
	// A non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc arms a one-shot timer that calls f after d. The
	// returned Timer's C field is nil, matching time.AfterFunc.
	// Stop cancels the pending call.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering on C every d. Panics if
	// d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Timer is a cancelable scheduled event. For AfterFunc timers C is
// nil; the event is the callback.
type Timer struct {
	// C delivers the fire time for channel-based timers. Nil for
	// AfterFunc timers.
	C <-chan time.Time

	stop  func() bool
	reset func(time.Duration) bool
}

// Stop cancels the timer. Returns false when the timer already fired
// or was already stopped.
func (t *Timer) Stop() bool { return t.stop() }

// Reset re-arms the timer to fire after d. Returns whether the timer
// was active before the call.
func (t *Timer) Reset(d time.Duration) bool { return t.reset(d) }

// Ticker delivers periodic ticks on C. C has capacity 1; ticks that
// arrive while the consumer is behind are dropped, matching
// time.Ticker.
type Ticker struct {
	// C delivers ticks.
	C <-chan time.Time

	stop  func()
	reset func(time.Duration)
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Reset changes the tick interval and restarts the cycle.
func (t *Ticker) Reset(d time.Duration) { t.reset(d) }
