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
	"log"
	"os"
	"sort"
	"sync"
	"time"
)

// ScoringWeights are the (alpha, beta, gamma) coefficients applied to
// capability-match completeness, profiler fitness, and declared cost when
// scoring a candidate. They are tunable configuration, not constants.
type ScoringWeights struct {
	// Alpha weighs capability-match completeness.
	Alpha float64 `json:"alpha" yaml:"alpha"`

	// Beta weighs profiler-derived historical fitness.
	Beta float64 `json:"beta" yaml:"beta"`

	// Gamma weighs (1 - declared cost).
	Gamma float64 `json:"gamma" yaml:"gamma"`
}

// DefaultScoringPresets returns the per-quality-target weight presets.
func DefaultScoringPresets() map[QualityTarget]ScoringWeights {
	return map[QualityTarget]ScoringWeights{
		QualityTargetSpeedFirst:        {Alpha: 0.2, Beta: 0.3, Gamma: 0.5},
		QualityTargetBalanced:          {Alpha: 0.34, Beta: 0.33, Gamma: 0.33},
		QualityTargetBestQuality:       {Alpha: 0.4, Beta: 0.5, Gamma: 0.1},
		QualityTargetMemoryConstrained: {Alpha: 0.2, Beta: 0.3, Gamma: 0.5},
	}
}

// RouteCandidate is one scored backend in router output order.
type RouteCandidate struct {
	BackendID string  `json:"backend_id"`
	Score     float64 `json:"score"`

	// MatchCompleteness is how tightly the backend's declared capability
	// set fits the request: required/declared. Backends declaring exactly
	// the required capabilities score 1.
	MatchCompleteness float64 `json:"match_completeness"`
}

// Router produces an ordered candidate list for a request by combining the
// registry's capability matches, the health monitor's state, and the
// profiler's historical fitness. Offline backends are never returned.
//
// An empty candidate list is a normal outcome, not an error; the resilience
// layer decides how to surface it.
type Router struct {
	registry *Registry
	profiler *Profiler
	health   *HealthMonitor
	logger   *log.Logger

	mu      sync.Mutex
	presets map[QualityTarget]ScoringWeights

	// lastUsed breaks ties for the round-robin strategy.
	lastUsed map[string]time.Time
	clock    Clock
}

// RouterOption configures the router during creation.
type RouterOption func(*Router)

// WithScoringPresets overrides the per-target scoring weights.
func WithScoringPresets(presets map[QualityTarget]ScoringWeights) RouterOption {
	return func(r *Router) {
		for target, w := range presets {
			r.presets[target] = w
		}
	}
}

// WithRouterLogger sets a custom logger for the router.
func WithRouterLogger(logger *log.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithRouterClock sets the clock used for round-robin bookkeeping.
func WithRouterClock(c Clock) RouterOption {
	return func(r *Router) {
		if c != nil {
			r.clock = c
		}
	}
}

// NewRouter creates a capability-based router over the given components.
func NewRouter(registry *Registry, profiler *Profiler, health *HealthMonitor, opts ...RouterOption) *Router {
	r := &Router{
		registry: registry,
		profiler: profiler,
		health:   health,
		logger:   log.New(os.Stdout, "[WORKFLOW_ROUTER] ", log.LstdFlags),
		presets:  DefaultScoringPresets(),
		lastUsed: make(map[string]time.Time),
		clock:    NewClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route returns the ordered candidate list for a request. Candidates whose
// health state is offline are dropped. Ties break deterministically by
// backend id ascending for reproducibility.
func (r *Router) Route(req *WorkflowRequest) []RouteCandidate {
	matches := r.registry.FindByCapabilities(req.RequiredCapabilities)
	if len(matches) == 0 {
		return nil
	}

	eligible := make([]*WorkflowDescriptor, 0, len(matches))
	for _, d := range matches {
		if r.health.State(d.ID) == HealthOffline {
			continue
		}
		eligible = append(eligible, d)
	}
	if len(eligible) == 0 {
		return nil
	}

	target := req.QualityTarget
	if target == "" {
		target = QualityTargetBalanced
	}

	if target == QualityTargetRoundRobin {
		return r.routeRoundRobin(eligible)
	}
	return r.routeScored(req, eligible, target)
}

// routeScored ranks candidates by the weighted scoring formula.
func (r *Router) routeScored(req *WorkflowRequest, eligible []*WorkflowDescriptor, target QualityTarget) []RouteCandidate {
	weights := r.weightsFor(target)

	candidates := make([]RouteCandidate, 0, len(eligible))
	for _, d := range eligible {
		completeness := matchCompleteness(req.RequiredCapabilities, d.Capabilities)
		fitness := r.fitnessFor(d.ID, req.RequiredCapabilities, target)
		cost := d.Cost.Weighted(target)

		candidates = append(candidates, RouteCandidate{
			BackendID:         d.ID,
			Score:             weights.Alpha*completeness + weights.Beta*fitness + weights.Gamma*(1-cost),
			MatchCompleteness: completeness,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].BackendID < candidates[j].BackendID
	})
	return candidates
}

// routeRoundRobin ignores scoring and rotates through eligible backends in
// registration order, least-recently-used first.
func (r *Router) routeRoundRobin(eligible []*WorkflowDescriptor) []RouteCandidate {
	r.mu.Lock()
	defer r.mu.Unlock()

	sort.Slice(eligible, func(i, j int) bool {
		ti, tj := r.lastUsed[eligible[i].ID], r.lastUsed[eligible[j].ID]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return r.registry.RegistrationOrder(eligible[i].ID) < r.registry.RegistrationOrder(eligible[j].ID)
	})

	candidates := make([]RouteCandidate, len(eligible))
	for i, d := range eligible {
		candidates[i] = RouteCandidate{BackendID: d.ID, MatchCompleteness: 1}
	}
	return candidates
}

// MarkUsed stamps a backend as just used for round-robin rotation.
func (r *Router) MarkUsed(backendID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastUsed[backendID] = r.clock.Now()
}

// weightsFor returns the scoring weights for a target, normalized to sum
// to 1 so operator-tuned presets keep scores in [0,1].
func (r *Router) weightsFor(target QualityTarget) ScoringWeights {
	r.mu.Lock()
	w, ok := r.presets[target]
	r.mu.Unlock()
	if !ok {
		w = ScoringWeights{Alpha: 0.34, Beta: 0.33, Gamma: 0.33}
	}

	total := w.Alpha + w.Beta + w.Gamma
	if total <= 0 {
		return ScoringWeights{Alpha: 0.34, Beta: 0.33, Gamma: 0.33}
	}
	return ScoringWeights{Alpha: w.Alpha / total, Beta: w.Beta / total, Gamma: w.Gamma / total}
}

// fitnessFor averages the profiler's fitness across the request's required
// capabilities.
func (r *Router) fitnessFor(backendID string, required []Capability, target QualityTarget) float64 {
	if len(required) == 0 {
		return neutralFitness
	}
	var sum float64
	for _, c := range required {
		sum += r.profiler.Fitness(backendID, c, target)
	}
	return sum / float64(len(required))
}

// matchCompleteness is |required| / |declared| for a backend already known
// to cover every required capability: an exact-fit backend scores 1, a
// jack-of-all-trades that happens to cover the request scores lower.
func matchCompleteness(required, declared []Capability) float64 {
	if len(declared) == 0 {
		return 0
	}
	if len(required) == 0 {
		return 1
	}
	v := float64(len(required)) / float64(len(declared))
	return clamp01(v)
}
