// Copyright 2025 MediaForge
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// Default health monitor tuning.
const (
	defaultProbeInterval    = 5 * time.Second
	defaultMaxProbeInterval = 2 * time.Minute
	defaultProbeTimeout     = 3 * time.Second
	defaultDegradedAfter    = 2
	defaultUnhealthyAfter   = 3
	defaultOfflineAfter     = 6
)

// ProbeFunc performs one lightweight readiness check against a backend.
// A nil return means the backend is ready.
type ProbeFunc func(ctx context.Context) error

// HealthTransition is emitted to subscribers whenever a backend changes
// health state.
type HealthTransition struct {
	BackendID string      `json:"backend_id"`
	From      HealthState `json:"from"`
	To        HealthState `json:"to"`
	At        time.Time   `json:"at"`
}

// HealthStatus is a read-only view of one backend's health.
type HealthStatus struct {
	State               HealthState `json:"state"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastProbe           time.Time   `json:"last_probe,omitempty"`
	LastError           string      `json:"last_error,omitempty"`
}

// backendHealth holds the state machine for one watched backend. Each entry
// has its own lock; probes for different backends never contend.
type backendHealth struct {
	mu                  sync.Mutex
	state               HealthState
	consecutiveFailures int
	lastProbe           time.Time
	lastError           string
	interval            time.Duration // current probe interval (backs off while offline)
	cancel              context.CancelFunc
}

// HealthMonitor probes every watched backend periodically and maintains a
// per-backend health state machine:
//
//	UNKNOWN -> HEALTHY -> DEGRADED -> UNHEALTHY -> OFFLINE
//
// Consecutive probe failures step the state down; recovery is hysteretic (a
// single success from UNHEALTHY or OFFLINE moves to DEGRADED, not HEALTHY,
// to avoid flapping). While OFFLINE the probe interval backs off
// exponentially, capped, until a probe succeeds.
//
// Probe failures never surface to callers; they are recorded as state
// transitions only. State reads never block on a probe in flight.
type HealthMonitor struct {
	probeInterval    time.Duration
	maxProbeInterval time.Duration
	probeTimeout     time.Duration
	degradedAfter    int
	unhealthyAfter   int
	offlineAfter     int
	clock            Clock
	logger           *log.Logger

	mu       sync.RWMutex
	backends map[string]*backendHealth

	subsMu sync.Mutex
	subs   []chan HealthTransition

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

// HealthMonitorOption configures the monitor during creation.
type HealthMonitorOption func(*HealthMonitor)

// WithProbeInterval sets the normal probe interval.
func WithProbeInterval(d time.Duration) HealthMonitorOption {
	return func(m *HealthMonitor) {
		if d > 0 {
			m.probeInterval = d
		}
	}
}

// WithMaxProbeInterval caps the exponential probe backoff while offline.
func WithMaxProbeInterval(d time.Duration) HealthMonitorOption {
	return func(m *HealthMonitor) {
		if d > 0 {
			m.maxProbeInterval = d
		}
	}
}

// WithProbeTimeout bounds each individual probe call.
func WithProbeTimeout(d time.Duration) HealthMonitorOption {
	return func(m *HealthMonitor) {
		if d > 0 {
			m.probeTimeout = d
		}
	}
}

// WithFailureThresholds sets how many consecutive failures move a backend to
// degraded, unhealthy, and offline respectively.
func WithFailureThresholds(degraded, unhealthy, offline int) HealthMonitorOption {
	return func(m *HealthMonitor) {
		if degraded > 0 {
			m.degradedAfter = degraded
		}
		if unhealthy > degraded {
			m.unhealthyAfter = unhealthy
		}
		if offline > unhealthy {
			m.offlineAfter = offline
		}
	}
}

// WithHealthClock sets the clock used for probe scheduling.
func WithHealthClock(c Clock) HealthMonitorOption {
	return func(m *HealthMonitor) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithHealthLogger sets a custom logger for the monitor.
func WithHealthLogger(logger *log.Logger) HealthMonitorOption {
	return func(m *HealthMonitor) {
		m.logger = logger
	}
}

// NewHealthMonitor creates a health monitor. Backends are added with Watch.
func NewHealthMonitor(opts ...HealthMonitorOption) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &HealthMonitor{
		probeInterval:    defaultProbeInterval,
		maxProbeInterval: defaultMaxProbeInterval,
		probeTimeout:     defaultProbeTimeout,
		degradedAfter:    defaultDegradedAfter,
		unhealthyAfter:   defaultUnhealthyAfter,
		offlineAfter:     defaultOfflineAfter,
		clock:            NewClock(),
		logger:           log.New(os.Stdout, "[HEALTH_MONITOR] ", log.LstdFlags),
		backends:         make(map[string]*backendHealth),
		rootCtx:          ctx,
		rootCancel:       cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Watch starts periodic probing for a backend. Watching an already-watched
// id restarts its prober with the new probe function.
func (m *HealthMonitor) Watch(backendID string, probe ProbeFunc) {
	m.mu.Lock()
	if prev, ok := m.backends[backendID]; ok {
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(m.rootCtx)
	entry := &backendHealth{
		state:    HealthUnknown,
		interval: m.probeInterval,
		cancel:   cancel,
	}
	m.backends[backendID] = entry
	m.mu.Unlock()

	go m.probeLoop(ctx, backendID, entry, probe)
}

// Unwatch stops probing a backend and forgets its state. Idempotent.
func (m *HealthMonitor) Unwatch(backendID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.backends[backendID]; ok {
		entry.cancel()
		delete(m.backends, backendID)
	}
}

// State returns the current health state for a backend. Unwatched backends
// are reported as unknown. Never blocks on a probe in flight.
func (m *HealthMonitor) State(backendID string) HealthState {
	m.mu.RLock()
	entry, ok := m.backends[backendID]
	m.mu.RUnlock()
	if !ok {
		return HealthUnknown
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state
}

// Status returns a read-only view of one backend's health.
func (m *HealthMonitor) Status(backendID string) HealthStatus {
	m.mu.RLock()
	entry, ok := m.backends[backendID]
	m.mu.RUnlock()
	if !ok {
		return HealthStatus{State: HealthUnknown}
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return HealthStatus{
		State:               entry.state,
		ConsecutiveFailures: entry.consecutiveFailures,
		LastProbe:           entry.lastProbe,
		LastError:           entry.lastError,
	}
}

// Snapshot returns the health of every watched backend.
func (m *HealthMonitor) Snapshot() map[string]HealthStatus {
	m.mu.RLock()
	ids := make([]string, 0, len(m.backends))
	for id := range m.backends {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	out := make(map[string]HealthStatus, len(ids))
	for _, id := range ids {
		out[id] = m.Status(id)
	}
	return out
}

// Subscribe returns a channel receiving health transitions. Consumers that
// fall behind lose transitions rather than blocking the monitor.
func (m *HealthMonitor) Subscribe() <-chan HealthTransition {
	ch := make(chan HealthTransition, 16)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// Stop cancels all probers and closes subscriber channels.
func (m *HealthMonitor) Stop() {
	m.rootCancel()

	m.subsMu.Lock()
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
	m.subsMu.Unlock()
}

// probeLoop runs one backend's prober until its context is cancelled.
func (m *HealthMonitor) probeLoop(ctx context.Context, backendID string, entry *backendHealth, probe ProbeFunc) {
	for {
		entry.mu.Lock()
		wait := entry.interval
		entry.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(wait):
		}

		probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
		err := probe(probeCtx)
		cancel()

		if ctx.Err() != nil {
			return
		}
		m.applyProbeResult(backendID, entry, err)
	}
}

// applyProbeResult advances the state machine for one probe outcome.
func (m *HealthMonitor) applyProbeResult(backendID string, entry *backendHealth, probeErr error) {
	entry.mu.Lock()
	from := entry.state
	entry.lastProbe = m.clock.Now()

	if probeErr == nil {
		entry.consecutiveFailures = 0
		entry.lastError = ""
		entry.interval = m.probeInterval
		switch from {
		case HealthUnknown, HealthDegraded:
			entry.state = HealthHealthy
		case HealthUnhealthy, HealthOffline:
			// Hysteresis: one success is not enough to be healthy again.
			entry.state = HealthDegraded
		}
	} else {
		entry.consecutiveFailures++
		entry.lastError = probeErr.Error()
		switch {
		case from == HealthOffline:
			// Exponential probe backoff, capped.
			entry.interval *= 2
			if entry.interval > m.maxProbeInterval {
				entry.interval = m.maxProbeInterval
			}
		case from == HealthUnhealthy && entry.consecutiveFailures >= m.offlineAfter:
			entry.state = HealthOffline
			entry.interval = m.probeInterval * 2
		case entry.consecutiveFailures >= m.unhealthyAfter:
			entry.state = HealthUnhealthy
		case entry.consecutiveFailures >= m.degradedAfter:
			if from == HealthHealthy || from == HealthUnknown {
				entry.state = HealthDegraded
			}
		}
	}

	to := entry.state
	entry.mu.Unlock()

	if from != to {
		m.logger.Printf("Backend %s health: %s -> %s", backendID, from, to)
		m.publish(HealthTransition{BackendID: backendID, From: from, To: to, At: m.clock.Now()})
	}
}

func (m *HealthMonitor) publish(t HealthTransition) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	for _, ch := range m.subs {
		select {
		case ch <- t:
		default:
			// Slow subscriber: drop rather than block probing.
		}
	}
}
