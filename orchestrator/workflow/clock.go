// Copyright 2025 MediaForge
// SPDX-License-Identifier: BUSL-1.1

package workflow

import "time"

// Clock abstracts monotonic time so breaker cool-downs, probe intervals, and
// backoff delays are deterministically testable with a fake clock.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration

	// After returns a channel that fires once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// realClock is the production Clock backed by the time package.
type realClock struct{}

// NewClock returns the production clock.
func NewClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
