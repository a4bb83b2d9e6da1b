// Copyright 2025 MediaForge
// SPDX-License-Identifier: BUSL-1.1

package workflow

import (
	"context"
	"errors"
	"testing"
	"time"
)

// probeMonitor wires a monitor to a watched backend whose probes never fire
// on their own (the fake clock is never advanced), so tests drive the state
// machine by applying probe results directly.
func probeMonitor(t *testing.T, opts ...HealthMonitorOption) (*HealthMonitor, *backendHealth) {
	t.Helper()

	opts = append(opts, WithHealthClock(newFakeClock()), WithHealthLogger(quietLogger()))
	m := NewHealthMonitor(opts...)
	t.Cleanup(m.Stop)

	m.Watch("sdxl", func(context.Context) error { return nil })
	m.mu.RLock()
	entry := m.backends["sdxl"]
	m.mu.RUnlock()
	return m, entry
}

func TestHealthMonitorFailureLadder(t *testing.T) {
	m, entry := probeMonitor(t)
	fail := errors.New("connection refused")

	steps := []struct {
		failures int
		want     HealthState
	}{
		{1, HealthUnknown},
		{2, HealthDegraded},
		{3, HealthUnhealthy},
		{4, HealthUnhealthy},
		{5, HealthUnhealthy},
		{6, HealthOffline},
	}
	for _, step := range steps {
		m.applyProbeResult("sdxl", entry, fail)
		if got := m.State("sdxl"); got != step.want {
			t.Errorf("after %d consecutive failures: expected %s, got %s", step.failures, step.want, got)
		}
	}
}

func TestHealthMonitorRecoveryHysteresis(t *testing.T) {
	m, entry := probeMonitor(t)
	fail := errors.New("timeout")

	// Drive to unhealthy.
	for i := 0; i < 3; i++ {
		m.applyProbeResult("sdxl", entry, fail)
	}
	if m.State("sdxl") != HealthUnhealthy {
		t.Fatalf("setup failed: state %s", m.State("sdxl"))
	}

	// One success recovers only to degraded, the next to healthy.
	m.applyProbeResult("sdxl", entry, nil)
	if got := m.State("sdxl"); got != HealthDegraded {
		t.Errorf("first success after unhealthy should yield degraded, got %s", got)
	}
	m.applyProbeResult("sdxl", entry, nil)
	if got := m.State("sdxl"); got != HealthHealthy {
		t.Errorf("second success should yield healthy, got %s", got)
	}
}

func TestHealthMonitorUnknownToHealthy(t *testing.T) {
	m, entry := probeMonitor(t)

	m.applyProbeResult("sdxl", entry, nil)
	if got := m.State("sdxl"); got != HealthHealthy {
		t.Errorf("first successful probe should yield healthy, got %s", got)
	}
}

func TestHealthMonitorOfflineProbeBackoff(t *testing.T) {
	m, entry := probeMonitor(t, WithProbeInterval(5*time.Second), WithMaxProbeInterval(30*time.Second))
	fail := errors.New("down")

	for i := 0; i < 6; i++ {
		m.applyProbeResult("sdxl", entry, fail)
	}
	if m.State("sdxl") != HealthOffline {
		t.Fatalf("setup failed: state %s", m.State("sdxl"))
	}

	// Each further failure doubles the probe interval up to the cap.
	intervals := make([]time.Duration, 0, 4)
	for i := 0; i < 4; i++ {
		m.applyProbeResult("sdxl", entry, fail)
		entry.mu.Lock()
		intervals = append(intervals, entry.interval)
		entry.mu.Unlock()
	}
	want := []time.Duration{20 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second}
	for i := range want {
		if intervals[i] != want[i] {
			t.Errorf("backoff step %d: expected %v, got %v", i, want[i], intervals[i])
		}
	}

	// A success resets the interval and recovers to degraded.
	m.applyProbeResult("sdxl", entry, nil)
	entry.mu.Lock()
	interval := entry.interval
	entry.mu.Unlock()
	if interval != 5*time.Second {
		t.Errorf("probe interval should reset on success, got %v", interval)
	}
	if got := m.State("sdxl"); got != HealthDegraded {
		t.Errorf("recovery from offline should yield degraded, got %s", got)
	}
}

func TestHealthMonitorSubscribe(t *testing.T) {
	m, entry := probeMonitor(t)
	transitions := m.Subscribe()

	m.applyProbeResult("sdxl", entry, nil)

	select {
	case tr := <-transitions:
		if tr.BackendID != "sdxl" || tr.From != HealthUnknown || tr.To != HealthHealthy {
			t.Errorf("unexpected transition %+v", tr)
		}
	default:
		t.Fatal("expected a transition event")
	}

	// Repeating the same outcome emits nothing.
	m.applyProbeResult("sdxl", entry, nil)
	select {
	case tr := <-transitions:
		t.Fatalf("unexpected transition %+v", tr)
	default:
	}
}

func TestHealthMonitorUnwatch(t *testing.T) {
	m, _ := probeMonitor(t)

	m.Unwatch("sdxl")
	if got := m.State("sdxl"); got != HealthUnknown {
		t.Errorf("unwatched backend should report unknown, got %s", got)
	}

	m.Unwatch("sdxl") // idempotent
	if len(m.Snapshot()) != 0 {
		t.Error("snapshot should be empty after Unwatch")
	}
}
