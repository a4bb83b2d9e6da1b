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

	"github.com/google/uuid"
)

// Manager defaults.
const (
	defaultBreakerThreshold = 3
	defaultBreakerCoolDown  = 30 * time.Second
)

// Manager is the single entry point callers use to run generative media
// workflows. It wires the registry, health monitor, profiler, router,
// resilience executor and record store together; callers never touch the
// internal components directly.
type Manager struct {
	registry  *Registry
	health    *HealthMonitor
	channel   *Channel
	profiler  *Profiler
	router    *Router
	breakers  *BreakerSet
	admission *AdmissionController
	executor  *Executor
	records   RecordStore
	storage   Storage
	clock     Clock
	logger    *log.Logger

	closeOnce sync.Once
}

// ManagerOption configures the manager during creation.
type ManagerOption func(*managerConfig)

type managerConfig struct {
	storage          Storage
	records          RecordStore
	presets          map[QualityTarget]ScoringWeights
	retry            RetryConfig
	retrySet         bool
	allowMock        bool
	breakerThreshold int
	breakerCoolDown  time.Duration
	maxInFlight      int
	probeInterval    time.Duration
	clock            Clock
	logger           *log.Logger
}

// WithManagerStorage enables descriptor persistence.
func WithManagerStorage(s Storage) ManagerOption {
	return func(c *managerConfig) { c.storage = s }
}

// WithRecordStore sets the execution record store. The default is an
// in-memory bounded log.
func WithRecordStore(r RecordStore) ManagerOption {
	return func(c *managerConfig) { c.records = r }
}

// WithQualityPresets overrides the routing weight presets.
func WithQualityPresets(presets map[QualityTarget]ScoringWeights) ManagerOption {
	return func(c *managerConfig) { c.presets = presets }
}

// WithRetryPolicy overrides the per-backend retry policy.
func WithRetryPolicy(cfg RetryConfig) ManagerOption {
	return func(c *managerConfig) {
		c.retry = cfg
		c.retrySet = true
	}
}

// WithMockResponder sets whether the mock responder may serve requests
// after all real backends are exhausted.
func WithMockResponder(allow bool) ManagerOption {
	return func(c *managerConfig) { c.allowMock = allow }
}

// WithBreakerPolicy sets the circuit breaker failure threshold and
// cool-down applied to every backend.
func WithBreakerPolicy(threshold int, coolDown time.Duration) ManagerOption {
	return func(c *managerConfig) {
		if threshold > 0 {
			c.breakerThreshold = threshold
		}
		if coolDown > 0 {
			c.breakerCoolDown = coolDown
		}
	}
}

// WithMaxInFlight sets the per-backend admission limit.
func WithMaxInFlight(n int) ManagerOption {
	return func(c *managerConfig) { c.maxInFlight = n }
}

// WithHealthProbeInterval sets the base health probe interval.
func WithHealthProbeInterval(d time.Duration) ManagerOption {
	return func(c *managerConfig) { c.probeInterval = d }
}

// WithManagerClock sets the clock used across all components.
func WithManagerClock(clock Clock) ManagerOption {
	return func(c *managerConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithManagerLogger sets a custom logger for the manager.
func WithManagerLogger(logger *log.Logger) ManagerOption {
	return func(c *managerConfig) { c.logger = logger }
}

// NewManager creates a manager around the given communication channel.
// The channel carries all calls to the external generation service; every
// other component is built internally.
func NewManager(channel *Channel, opts ...ManagerOption) *Manager {
	cfg := &managerConfig{
		allowMock:        true,
		breakerThreshold: defaultBreakerThreshold,
		breakerCoolDown:  defaultBreakerCoolDown,
		clock:            NewClock(),
		logger:           log.New(os.Stdout, "[MANAGER] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	registryOpts := []RegistryOption{}
	if cfg.storage != nil {
		registryOpts = append(registryOpts, WithStorage(cfg.storage))
	}
	registry := NewRegistry(registryOpts...)

	healthOpts := []HealthMonitorOption{WithHealthClock(cfg.clock)}
	if cfg.probeInterval > 0 {
		healthOpts = append(healthOpts, WithProbeInterval(cfg.probeInterval))
	}
	health := NewHealthMonitor(healthOpts...)

	profiler := NewProfiler()

	routerOpts := []RouterOption{WithRouterClock(cfg.clock)}
	if cfg.presets != nil {
		routerOpts = append(routerOpts, WithScoringPresets(cfg.presets))
	}
	router := NewRouter(registry, profiler, health, routerOpts...)

	breakers := NewBreakerSet(cfg.breakerThreshold, cfg.breakerCoolDown, cfg.clock)
	admission := NewAdmissionController(cfg.maxInFlight)

	executorOpts := []ExecutorOption{
		WithMockFallback(cfg.allowMock),
		WithExecutorClock(cfg.clock),
	}
	if cfg.retrySet {
		executorOpts = append(executorOpts, WithRetryConfig(cfg.retry))
	}
	executor := NewExecutor(channel, breakers, health, admission, executorOpts...)

	records := cfg.records
	if records == nil {
		records = NewMemoryRecordStore(0)
	}

	return &Manager{
		registry:  registry,
		health:    health,
		channel:   channel,
		profiler:  profiler,
		router:    router,
		breakers:  breakers,
		admission: admission,
		executor:  executor,
		records:   records,
		storage:   cfg.storage,
		clock:     cfg.clock,
		logger:    cfg.logger,
	}
}

// RegisterBackend adds a backend and starts health probing it. The new
// backend participates in routing immediately; its health starts at
// unknown and its profile at the neutral prior.
func (m *Manager) RegisterBackend(ctx context.Context, descriptor *WorkflowDescriptor) error {
	if err := m.registry.Register(ctx, descriptor); err != nil {
		return err
	}
	m.health.Watch(descriptor.ID, m.channel.Probe(descriptor.ID))
	m.logger.Printf("Registered backend %s (%s) with %d capabilities",
		descriptor.ID, descriptor.Type, len(descriptor.Capabilities))
	return nil
}

// UnregisterBackend removes a backend and all per-backend state: health
// probing, breaker, admission gate and profile. Unregistering an unknown
// ID is a no-op. In-flight requests on the backend run to completion.
func (m *Manager) UnregisterBackend(ctx context.Context, id string) error {
	if err := m.registry.Unregister(ctx, id); err != nil {
		return err
	}
	m.health.Unwatch(id)
	m.breakers.Remove(id)
	m.admission.Remove(id)
	m.profiler.Forget(id)
	m.logger.Printf("Unregistered backend %s", id)
	return nil
}

// Execute runs one workflow request end to end: candidate selection,
// the ordered fallback chain with retries and circuit breaking, and
// bookkeeping of every attempt. It returns exactly one result or one
// typed error.
//
// The optional progress callback receives coarse milestones ("selecting",
// "attempting:<backend>", "degraded-fallback", "complete") plus any
// fine-grained progress the streaming tier relays. Callbacks must not
// block; slow consumers should buffer on their side.
func (m *Manager) Execute(ctx context.Context, req *WorkflowRequest, progress ProgressFunc) (*WorkflowResult, error) {
	if req == nil || len(req.RequiredCapabilities) == 0 {
		return nil, NewInvalidRequestError("at least one required capability must be set")
	}
	if req.QualityTarget != "" && !IsValidQualityTarget(string(req.QualityTarget)) {
		return nil, NewInvalidRequestError("unknown quality target: " + string(req.QualityTarget))
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	if progress != nil {
		progress("selecting", 0.05)
	}

	if len(m.registry.FindByCapabilities(req.RequiredCapabilities)) == 0 {
		return nil, NewNoCapableBackendError(req.RequiredCapabilities)
	}

	candidates := m.router.Route(req)

	result, outcomes, err := m.executor.Execute(ctx, req, candidates, progress)
	m.bookkeep(req, outcomes)

	if err != nil {
		m.logger.Printf("Request %s failed after %d attempts: %v", req.RequestID, len(outcomes), err)
		return nil, err
	}

	m.router.MarkUsed(result.BackendID)
	if progress != nil {
		progress("complete", 1.0)
	}
	return result, nil
}

// bookkeep feeds attempt outcomes into the profiler, the execution record
// log and usage storage. Cancelled and skipped attempts never reach the
// profiler.
func (m *Manager) bookkeep(req *WorkflowRequest, outcomes []AttemptOutcome) {
	now := m.clock.Now()
	for _, o := range outcomes {
		if o.BackendID != "mock" && (o.Outcome == OutcomeSuccess || o.Outcome == OutcomeFailure) {
			sample := ExecutionOutcome{
				Success:      o.Outcome == OutcomeSuccess,
				Latency:      o.Latency,
				MemoryMb:     o.MemoryMb,
				QualityScore: o.Quality,
			}
			for _, capability := range req.RequiredCapabilities {
				m.profiler.Record(o.BackendID, capability, sample)
			}
		}

		record := ExecutionRecord{
			ID:        uuid.New().String(),
			RequestID: req.RequestID,
			BackendID: o.BackendID,
			Attempt:   o.Attempt,
			Outcome:   o.Outcome,
			Tier:      o.Tier,
			Error:     o.Err,
			Timestamp: now,
		}
		if err := m.records.Append(context.Background(), record); err != nil {
			m.logger.Printf("Failed to append execution record: %v", err)
		}
		if m.storage != nil {
			if err := m.storage.RecordUsage(context.Background(), o.BackendID, o.Outcome, o.Latency.Milliseconds()); err != nil {
				m.logger.Printf("Failed to record usage: %v", err)
			}
		}
	}
}

// BackendStatus is the operator-facing view of one backend.
type BackendStatus struct {
	Descriptor *WorkflowDescriptor            `json:"descriptor"`
	Health     HealthState                    `json:"health"`
	Breaker    BreakerSnapshot                `json:"breaker"`
	Profile    map[Capability]ProfileSnapshot `json:"profile,omitempty"`
}

// Status returns a point-in-time view of every registered backend.
func (m *Manager) Status() map[string]BackendStatus {
	out := make(map[string]BackendStatus)
	breakers := m.breakers.Snapshot()
	for _, id := range m.registry.List() {
		d, ok := m.registry.Get(id)
		if !ok {
			continue
		}
		out[id] = BackendStatus{
			Descriptor: d,
			Health:     m.health.State(id),
			Breaker:    breakers[id],
			Profile:    m.profiler.Snapshot(id),
		}
	}
	return out
}

// Recent returns up to limit execution records, newest first.
func (m *Manager) Recent(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	return m.records.Recent(ctx, limit)
}

// Registry exposes the backend registry for the service surface.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Health exposes the health monitor for the service surface.
func (m *Manager) Health() *HealthMonitor {
	return m.health
}

// Close stops background probing. In-flight executions are not
// interrupted; callers cancel those through their contexts.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.health.Stop()
		m.logger.Println("Orchestration manager closed")
	})
}
