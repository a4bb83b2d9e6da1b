// Copyright 2025 MediaForge
// SPDX-License-Identifier: BUSL-1.1

package workflow

import (
	"testing"
	"time"
)

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	b := NewCircuitBreaker(3, 30*time.Second, clock)

	if !b.Allow() {
		t.Fatal("new breaker should allow calls")
	}

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != BreakerClosed {
		t.Errorf("expected closed below threshold, got %s", b.State())
	}

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Errorf("expected open at threshold, got %s", b.State())
	}
	if b.Allow() {
		t.Error("open breaker should reject calls")
	}
}

func TestCircuitBreakerHalfOpenSingleTrial(t *testing.T) {
	clock := newFakeClock()
	b := NewCircuitBreaker(1, 30*time.Second, clock)

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("breaker should be open before cool-down")
	}

	clock.Advance(30 * time.Second)

	if !b.Allow() {
		t.Fatal("breaker should admit one trial after cool-down")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("expected half_open, got %s", b.State())
	}
	if b.Allow() {
		t.Error("half-open breaker should admit exactly one trial")
	}
}

func TestCircuitBreakerTrialOutcomes(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		clock := newFakeClock()
		b := NewCircuitBreaker(1, time.Second, clock)
		b.RecordFailure()
		clock.Advance(time.Second)
		if !b.Allow() {
			t.Fatal("trial not admitted")
		}

		b.RecordSuccess()
		if b.State() != BreakerClosed {
			t.Errorf("expected closed after trial success, got %s", b.State())
		}
		if !b.Allow() {
			t.Error("closed breaker should allow calls")
		}
	})

	t.Run("failure reopens", func(t *testing.T) {
		clock := newFakeClock()
		b := NewCircuitBreaker(1, time.Second, clock)
		b.RecordFailure()
		clock.Advance(time.Second)
		if !b.Allow() {
			t.Fatal("trial not admitted")
		}

		b.RecordFailure()
		if b.State() != BreakerOpen {
			t.Errorf("expected open after trial failure, got %s", b.State())
		}
		if b.Allow() {
			t.Error("reopened breaker should reject calls before a fresh cool-down")
		}
	})

	t.Run("cancelled trial frees the slot without an outcome", func(t *testing.T) {
		clock := newFakeClock()
		b := NewCircuitBreaker(1, time.Second, clock)
		b.RecordFailure()
		clock.Advance(time.Second)
		if !b.Allow() {
			t.Fatal("trial not admitted")
		}

		failures := b.Snapshot().Failures
		b.CancelTrial()

		if got := b.Snapshot().Failures; got != failures {
			t.Errorf("cancelled trial changed failure count: %d -> %d", failures, got)
		}
		if !b.Allow() {
			t.Error("slot should be free for the next trial after cancellation")
		}
	})
}

func TestBreakerSet(t *testing.T) {
	clock := newFakeClock()
	set := NewBreakerSet(2, time.Minute, clock)

	a := set.Get("backend-a")
	if set.Get("backend-a") != a {
		t.Error("Get should return the same breaker for the same id")
	}
	if set.Get("backend-b") == a {
		t.Error("distinct backends must have distinct breakers")
	}

	a.RecordFailure()
	a.RecordFailure()
	snap := set.Snapshot()
	if snap["backend-a"].State != BreakerOpen {
		t.Errorf("expected backend-a open in snapshot, got %s", snap["backend-a"].State)
	}
	if snap["backend-b"].State != BreakerClosed {
		t.Errorf("expected backend-b closed in snapshot, got %s", snap["backend-b"].State)
	}

	set.Remove("backend-a")
	if set.Get("backend-a").State() != BreakerClosed {
		t.Error("breaker state should reset after Remove")
	}
}
