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
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"
)

// RetryConfig configures per-backend retry behavior inside one execution.
type RetryConfig struct {
	// MaxAttemptsPerBackend is how many times one candidate is tried
	// before moving to the next. Backoff applies only between retries of
	// the same backend; distinct backends are tried without delay.
	MaxAttemptsPerBackend int

	// InitialBackoff is the wait before the first same-backend retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier for exponential backoff.
	BackoffFactor float64

	// Jitter adds randomness to avoid thundering herd (0.0-1.0).
	Jitter float64
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttemptsPerBackend: 2,
		InitialBackoff:        100 * time.Millisecond,
		MaxBackoff:            5 * time.Second,
		BackoffFactor:         2.0,
		Jitter:                0.1,
	}
}

// AttemptOutcome is the record of one backend attempt inside an execution,
// fed back into the profiler and the execution record log.
type AttemptOutcome struct {
	BackendID string
	Attempt   int
	Tier      TransportTier
	Outcome   string // success, failure, skipped, cancelled
	Latency   time.Duration
	MemoryMb  float64
	Quality   float64
	Err       string
}

// Executor wraps one logical execution of a WorkflowRequest across an
// ordered candidate list: per-backend circuit breakers, admission gating,
// bounded jittered backoff, the ordered fallback chain, and the mock
// responder as a policy-gated last resort.
//
// Candidates are attempted strictly sequentially, never in parallel, so a
// request causes at most one in-flight generation at a time.
type Executor struct {
	channel   *Channel
	breakers  *BreakerSet
	health    *HealthMonitor
	admission *AdmissionController
	retry     RetryConfig
	allowMock bool
	clock     Clock
	logger    *log.Logger
}

// ExecutorOption configures the executor during creation.
type ExecutorOption func(*Executor)

// WithRetryConfig sets the retry/backoff policy.
func WithRetryConfig(cfg RetryConfig) ExecutorOption {
	return func(e *Executor) {
		if cfg.MaxAttemptsPerBackend > 0 {
			e.retry = cfg
		}
	}
}

// WithMockFallback sets whether the mock responder may serve a request
// after every real candidate is exhausted.
func WithMockFallback(allow bool) ExecutorOption {
	return func(e *Executor) {
		e.allowMock = allow
	}
}

// WithExecutorClock sets the clock used for backoff timing.
func WithExecutorClock(c Clock) ExecutorOption {
	return func(e *Executor) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithExecutorLogger sets a custom logger for the executor.
func WithExecutorLogger(logger *log.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates a resilience executor over the given components.
func NewExecutor(channel *Channel, breakers *BreakerSet, health *HealthMonitor, admission *AdmissionController, opts ...ExecutorOption) *Executor {
	e := &Executor{
		channel:   channel,
		breakers:  breakers,
		health:    health,
		admission: admission,
		retry:     DefaultRetryConfig(),
		allowMock: true,
		clock:     NewClock(),
		logger:    log.New(os.Stdout, "[RESILIENCE] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute attempts the candidates in order and returns exactly one terminal
// result or typed error, plus the attempt outcomes for bookkeeping.
//
// A request deadline bounds the total time across all attempts; once it
// elapses the in-flight attempt is cancelled and a deadline error returned.
// Cancelled attempts touch neither breaker counters nor profiler windows.
func (e *Executor) Execute(ctx context.Context, req *WorkflowRequest, candidates []RouteCandidate, progress ProgressFunc) (*WorkflowResult, []AttemptOutcome, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var outcomes []AttemptOutcome
	var failures []AttemptFailure

	for _, candidate := range candidates {
		id := candidate.BackendID

		if e.health.State(id) == HealthOffline {
			outcomes = append(outcomes, AttemptOutcome{BackendID: id, Outcome: OutcomeSkipped, Err: "backend offline"})
			failures = append(failures, AttemptFailure{BackendID: id, Skipped: true, Reason: "backend offline"})
			continue
		}

		breaker := e.breakers.Get(id)

		for attempt := 1; attempt <= e.retry.MaxAttemptsPerBackend; attempt++ {
			if ctx.Err() != nil {
				return nil, outcomes, NewDeadlineExceededError(failures, ctx.Err())
			}

			if !breaker.Allow() {
				outcomes = append(outcomes, AttemptOutcome{BackendID: id, Attempt: attempt, Outcome: OutcomeSkipped, Err: "circuit breaker open"})
				failures = append(failures, AttemptFailure{BackendID: id, Attempt: attempt, Skipped: true, Reason: "circuit breaker open"})
				break // no point retrying a tripped breaker within this request
			}

			release, err := e.admission.Acquire(ctx, id)
			if err != nil {
				breaker.CancelTrial()
				outcomes = append(outcomes, AttemptOutcome{BackendID: id, Attempt: attempt, Outcome: OutcomeCancelled, Err: "admission timed out"})
				return nil, outcomes, NewAdmissionTimeoutError(id, err)
			}

			if progress != nil {
				progress("attempting:"+id, 0.2)
			}

			start := e.clock.Now()
			result, err := e.channel.Call(ctx, id, req.Payload, progress)
			latency := e.clock.Since(start)
			release()

			if err == nil {
				breaker.RecordSuccess()
				outcome := AttemptOutcome{
					BackendID: id,
					Attempt:   attempt,
					Tier:      result.Tier,
					Outcome:   OutcomeSuccess,
					Latency:   latency,
					MemoryMb:  result.MemoryUsedMb,
					Quality:   meanQuality(result.QualityMetrics),
				}
				outcomes = append(outcomes, outcome)
				return buildResult(id, result, latency, false), outcomes, nil
			}

			if ctx.Err() != nil {
				// The deadline cancelled this attempt: neither a breaker
				// failure nor a profiler sample.
				breaker.CancelTrial()
				outcomes = append(outcomes, AttemptOutcome{BackendID: id, Attempt: attempt, Outcome: OutcomeCancelled, Err: ctx.Err().Error()})
				return nil, outcomes, NewDeadlineExceededError(failures, ctx.Err())
			}

			breaker.RecordFailure()
			e.logger.Printf("Backend %s attempt %d failed: %v", id, attempt, err)
			outcomes = append(outcomes, AttemptOutcome{
				BackendID: id,
				Attempt:   attempt,
				Outcome:   OutcomeFailure,
				Latency:   latency,
				Err:       err.Error(),
			})
			failures = append(failures, AttemptFailure{BackendID: id, Attempt: attempt, Reason: err.Error()})

			if attempt < e.retry.MaxAttemptsPerBackend {
				if err := e.backoff(ctx, attempt); err != nil {
					return nil, outcomes, NewDeadlineExceededError(failures, err)
				}
			}
		}
	}

	// Candidate list exhausted: graceful degradation.
	if e.allowMock {
		if progress != nil {
			progress("degraded-fallback", 0.9)
		}
		result, err := e.channel.MockFallback(ctx, "mock", req.Payload, progress)
		if err == nil {
			outcomes = append(outcomes, AttemptOutcome{BackendID: "mock", Attempt: 1, Tier: TierMock, Outcome: OutcomeSuccess})
			return buildResult("mock", result, 0, true), outcomes, nil
		}
		if ctx.Err() != nil {
			return nil, outcomes, NewDeadlineExceededError(failures, ctx.Err())
		}
	}

	return nil, outcomes, NewAllBackendsExhaustedError(failures)
}

// backoff sleeps the capped, jittered exponential delay before the next
// same-backend retry, honoring cancellation.
func (e *Executor) backoff(ctx context.Context, attempt int) error {
	delay := e.retry.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * e.retry.BackoffFactor)
	}
	if delay > e.retry.MaxBackoff {
		delay = e.retry.MaxBackoff
	}
	if e.retry.Jitter > 0 {
		jitterDelta := float64(delay) * e.retry.Jitter
		delay = time.Duration(float64(delay) + (rand.Float64()*2*jitterDelta - jitterDelta))
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.clock.After(delay):
		return nil
	}
}

func buildResult(backendID string, res *ChannelResult, latency time.Duration, degraded bool) *WorkflowResult {
	return &WorkflowResult{
		Success:         true,
		BackendID:       backendID,
		TransportTier:   res.Tier,
		Degraded:        degraded,
		ExecutionTimeMs: latency.Milliseconds(),
		MemoryUsedMb:    res.MemoryUsedMb,
		QualityMetrics:  res.QualityMetrics,
		Output:          res.Output,
	}
}

func meanQuality(metrics map[string]float64) float64 {
	if len(metrics) == 0 {
		return 0
	}
	var sum float64
	for _, v := range metrics {
		sum += v
	}
	return clamp01(sum / float64(len(metrics)))
}

// MockPolicy reports whether the executor permits mock fallback; exposed
// for the status surface.
func (e *Executor) MockPolicy() bool {
	return e.allowMock
}

// String describes the executor's policy for logs.
func (e *Executor) String() string {
	return fmt.Sprintf("executor(retries=%d, mock=%t)", e.retry.MaxAttemptsPerBackend, e.allowMock)
}
