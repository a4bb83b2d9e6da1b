// Copyright 2025 MediaForge
// SPDX-License-Identifier: BUSL-1.1

package workflow

import (
	"sync"
	"time"
)

// BreakerState represents the state of a circuit breaker.
type BreakerState string

const (
	// BreakerClosed allows calls through.
	BreakerClosed BreakerState = "closed"

	// BreakerOpen blocks calls until the cool-down elapses.
	BreakerOpen BreakerState = "open"

	// BreakerHalfOpen allows exactly one trial call after the cool-down.
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreaker prevents repeated calls to a failing backend. One breaker
// exists per backend; each has its own lock so concurrent requests to
// different backends never contend.
//
// Lifecycle: CLOSED -> OPEN on threshold breach -> HALF_OPEN after the
// cool-down -> CLOSED on trial success, or back to OPEN on trial failure.
type CircuitBreaker struct {
	clock     Clock
	threshold int
	coolDown  time.Duration

	mu            sync.Mutex
	state         BreakerState
	failures      int
	lastFailure   time.Time
	trialInFlight bool
}

// BreakerSnapshot is a read-only view of a breaker for status reporting.
type BreakerSnapshot struct {
	State       BreakerState `json:"state"`
	Failures    int          `json:"failures"`
	Threshold   int          `json:"threshold"`
	CoolDownMs  int64        `json:"cool_down_ms"`
	LastFailure time.Time    `json:"last_failure,omitempty"`
}

// NewCircuitBreaker creates a breaker that opens after threshold consecutive
// failures and allows a trial call once coolDown has elapsed.
func NewCircuitBreaker(threshold int, coolDown time.Duration, clock Clock) *CircuitBreaker {
	if clock == nil {
		clock = NewClock()
	}
	return &CircuitBreaker{
		clock:     clock,
		threshold: threshold,
		coolDown:  coolDown,
		state:     BreakerClosed,
	}
}

// Allow reports whether a call may be attempted now. When the breaker is
// OPEN and the cool-down has elapsed it transitions to HALF_OPEN and admits
// exactly one trial call; further callers are rejected until the trial
// completes.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.clock.Since(b.lastFailure) >= b.coolDown {
			b.state = BreakerHalfOpen
			b.trialInFlight = true
			return true
		}
		return false
	case BreakerHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
	return false
}

// RecordSuccess records a successful call, closing the breaker and
// resetting the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.state = BreakerClosed
	b.trialInFlight = false
}

// RecordFailure records a failed call. Crossing the threshold transitions
// CLOSED -> OPEN exactly once and stamps the cool-down start; a failed
// HALF_OPEN trial reopens immediately.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.clock.Now()
	b.trialInFlight = false

	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
	}
}

// CancelTrial releases a HALF_OPEN trial slot without recording an outcome.
// Used when an attempt was cancelled by the request deadline: a cancelled
// attempt is neither a success nor a failure.
func (b *CircuitBreaker) CancelTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a read-only view of the breaker.
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:       b.state,
		Failures:    b.failures,
		Threshold:   b.threshold,
		CoolDownMs:  b.coolDown.Milliseconds(),
		LastFailure: b.lastFailure,
	}
}

// BreakerSet holds one breaker per backend, created on first use.
type BreakerSet struct {
	threshold int
	coolDown  time.Duration
	clock     Clock

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerSet creates a set of per-backend breakers sharing one policy.
func NewBreakerSet(threshold int, coolDown time.Duration, clock Clock) *BreakerSet {
	if clock == nil {
		clock = NewClock()
	}
	return &BreakerSet{
		threshold: threshold,
		coolDown:  coolDown,
		clock:     clock,
		breakers:  make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for a backend, creating it if needed.
func (s *BreakerSet) Get(backendID string) *CircuitBreaker {
	s.mu.RLock()
	b, ok := s.breakers[backendID]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[backendID]; ok {
		return b
	}
	b = NewCircuitBreaker(s.threshold, s.coolDown, s.clock)
	s.breakers[backendID] = b
	return b
}

// Remove drops the breaker for an unregistered backend.
func (s *BreakerSet) Remove(backendID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakers, backendID)
}

// Snapshot returns a read-only view of every tracked breaker.
func (s *BreakerSet) Snapshot() map[string]BreakerSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]BreakerSnapshot, len(s.breakers))
	for id, b := range s.breakers {
		out[id] = b.Snapshot()
	}
	return out
}
