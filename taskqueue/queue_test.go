// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ojuolokun86/BMM2-sub000/lib/testutil"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, nil, nil)
}

func TestFIFOOrderingPerKey(t *testing.T) {
	runner := newTestRunner(t)

	const n = 20
	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	for i := 0; i < n; i++ {
		i := i
		runner.Enqueue("tenant-a", func(context.Context) error {
			// Early tasks sleep longer than late ones: only
			// strict serialization keeps the order.
			time.Sleep(time.Duration(n-i) * time.Millisecond)
			mu.Lock()
			order = append(order, i)
			if len(order) == n {
				close(done)
			}
			mu.Unlock()
			return nil
		})
	}

	testutil.RequireClosed(t, done, 10*time.Second, "all tasks complete")
	for i, got := range order {
		if got != i {
			t.Fatalf("completion order %v, want 0..%d in order", order, n-1)
		}
	}
}

func TestAtMostOneInFlightPerKey(t *testing.T) {
	runner := newTestRunner(t)

	var mu sync.Mutex
	inFlight, peak := 0, 0
	done := make(chan struct{})

	for i := 0; i < 10; i++ {
		last := i == 9
		runner.Enqueue("tenant-a", func(context.Context) error {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			if last {
				close(done)
			}
			return nil
		})
	}

	testutil.RequireClosed(t, done, 10*time.Second, "all tasks complete")
	if peak != 1 {
		t.Errorf("peak in-flight = %d, want 1", peak)
	}
}

func TestKeysRunConcurrently(t *testing.T) {
	runner := newTestRunner(t)

	// Task on key A blocks until the task on key B has run. If keys
	// shared a lane this would deadlock; the timeout is the failure
	// signal.
	bRan := make(chan struct{})
	aDone := make(chan struct{})

	runner.Enqueue("tenant-a", func(context.Context) error {
		testutil.RequireClosed(t, bRan, 5*time.Second, "task on other key")
		close(aDone)
		return nil
	})
	runner.Enqueue("tenant-b", func(context.Context) error {
		close(bRan)
		return nil
	})

	testutil.RequireClosed(t, aDone, 10*time.Second, "cross-key task completion")
}

func TestErrorDoesNotStallLane(t *testing.T) {
	runner := newTestRunner(t)
	done := make(chan int, 3)

	runner.Enqueue("k", func(context.Context) error {
		done <- 1
		return errors.New("task one failed")
	})
	runner.Enqueue("k", func(context.Context) error {
		done <- 2
		panic("task two panicked")
	})
	runner.Enqueue("k", func(context.Context) error {
		done <- 3
		return nil
	})

	for want := 1; want <= 3; want++ {
		got := testutil.RequireReceive(t, done, 5*time.Second, "task %d", want)
		if got != want {
			t.Fatalf("task %d ran out of order (got %d)", want, got)
		}
	}
}

func TestLaneDeletedWhenDrained(t *testing.T) {
	runner := newTestRunner(t)

	release := make(chan struct{})
	runner.Enqueue("k", func(context.Context) error {
		<-release
		return nil
	})

	if runner.ActiveLanes() != 1 {
		t.Fatalf("ActiveLanes = %d while task in flight, want 1", runner.ActiveLanes())
	}
	close(release)

	if err := runner.Shutdown(contextWithTimeout(t, 5*time.Second)); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if runner.ActiveLanes() != 0 {
		t.Errorf("ActiveLanes = %d after drain, want 0", runner.ActiveLanes())
	}

	// A new enqueue after drain recreates the lane.
	ran := make(chan struct{})
	runner.Enqueue("k", func(context.Context) error {
		close(ran)
		return nil
	})
	testutil.RequireClosed(t, ran, 5*time.Second, "task on recreated lane")
}

func TestDropDiscardsQueuedTasks(t *testing.T) {
	runner := newTestRunner(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var droppedRan sync.Mutex
	ranAfterDrop := false

	runner.Enqueue("k", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	runner.Enqueue("k", func(context.Context) error {
		droppedRan.Lock()
		ranAfterDrop = true
		droppedRan.Unlock()
		return nil
	})

	testutil.RequireClosed(t, started, 5*time.Second, "head task started")
	runner.Drop("k")
	close(release)

	if err := runner.Shutdown(contextWithTimeout(t, 5*time.Second)); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	droppedRan.Lock()
	defer droppedRan.Unlock()
	if ranAfterDrop {
		t.Error("dropped task still ran")
	}
}

func TestDropPrefixSparesOtherLanes(t *testing.T) {
	runner := newTestRunner(t)

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	var mu sync.Mutex
	ran := map[string]bool{}

	blockingHead := func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}
	mark := func(name string) Task {
		return func(context.Context) error {
			mu.Lock()
			ran[name] = true
			mu.Unlock()
			return nil
		}
	}

	runner.Enqueue("in:a:1", blockingHead)
	runner.Enqueue("in:a:1", mark("a1-queued"))
	runner.Enqueue("in:b:1", blockingHead)
	runner.Enqueue("in:b:1", mark("b1-queued"))

	testutil.RequireReceive(t, started, 5*time.Second, "first head started")
	testutil.RequireReceive(t, started, 5*time.Second, "second head started")
	runner.DropPrefix("in:a:")
	close(release)

	if err := runner.Shutdown(contextWithTimeout(t, 5*time.Second)); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if ran["a1-queued"] {
		t.Error("task queued behind dropped prefix still ran")
	}
	if !ran["b1-queued"] {
		t.Error("task on unrelated lane was dropped")
	}
}

func contextWithTimeout(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}
