// Copyright 2025 MediaForge
// SPDX-License-Identifier: BUSL-1.1

package workflow

import (
	"sort"
	"sync"
	"time"
)

// defaultWindowSize is the number of executions each (backend, capability)
// window retains. Oldest entries are evicted first.
const defaultWindowSize = 64

// neutralFitness is the prior returned for backends with no recorded
// history, keeping new backends eligible for selection.
const neutralFitness = 0.5

// referenceLatency normalizes observed latency into [0,1): a backend whose
// mean latency equals the reference scores 0.5 on the latency component.
const referenceLatency = 10 * time.Second

// referenceMemoryMb is the analogous normalization point for memory.
const referenceMemoryMb = 4096.0

// ExecutionOutcome is one finished execution fed into the profiler.
type ExecutionOutcome struct {
	Success  bool
	Latency  time.Duration
	MemoryMb float64

	// QualityScore is the mean of the backend-reported quality metrics,
	// in [0,1]. Zero when the backend reported none.
	QualityScore float64
}

// ProfileSnapshot is the rolling statistics for one (backend, capability)
// pair, computed over the bounded sliding window.
type ProfileSnapshot struct {
	Count           int     `json:"count"`
	MeanLatencyMs   float64 `json:"mean_latency_ms"`
	LatencyVariance float64 `json:"latency_variance_ms2"`
	MeanMemoryMb    float64 `json:"mean_memory_mb"`
	SuccessRate     float64 `json:"success_rate"`
	MeanQuality     float64 `json:"mean_quality"`
}

type profileKey struct {
	backendID  string
	capability Capability
}

// profileWindow is a fixed-size ring of outcomes. Each window carries its
// own lock so concurrent requests recording against different backends
// never contend.
type profileWindow struct {
	mu    sync.Mutex
	ring  []ExecutionOutcome
	next  int
	count int
}

func (w *profileWindow) record(o ExecutionOutcome) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.ring[w.next] = o
	w.next = (w.next + 1) % len(w.ring)
	if w.count < len(w.ring) {
		w.count++
	}
}

func (w *profileWindow) snapshot() ProfileSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count == 0 {
		return ProfileSnapshot{}
	}

	var latencySum, latencySqSum, memorySum, qualitySum float64
	successes := 0
	for i := 0; i < w.count; i++ {
		o := w.ring[i]
		ms := float64(o.Latency.Milliseconds())
		latencySum += ms
		latencySqSum += ms * ms
		memorySum += o.MemoryMb
		qualitySum += o.QualityScore
		if o.Success {
			successes++
		}
	}

	n := float64(w.count)
	mean := latencySum / n
	return ProfileSnapshot{
		Count:           w.count,
		MeanLatencyMs:   mean,
		LatencyVariance: latencySqSum/n - mean*mean,
		MeanMemoryMb:    memorySum / n,
		SuccessRate:     float64(successes) / n,
		MeanQuality:     qualitySum / n,
	}
}

// Profiler maintains a rolling performance profile per (backend, capability)
// pair: latency, memory, success rate, and reported quality over a bounded
// sliding window. Recording is O(1); there is no unbounded growth.
type Profiler struct {
	windowSize int

	mu      sync.RWMutex
	windows map[profileKey]*profileWindow
}

// ProfilerOption configures the profiler during creation.
type ProfilerOption func(*Profiler)

// WithWindowSize overrides the per-key sliding window size.
func WithWindowSize(n int) ProfilerOption {
	return func(p *Profiler) {
		if n > 0 {
			p.windowSize = n
		}
	}
}

// NewProfiler creates a performance profiler.
func NewProfiler(opts ...ProfilerOption) *Profiler {
	p := &Profiler{
		windowSize: defaultWindowSize,
		windows:    make(map[profileKey]*profileWindow),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Record adds one finished execution to the rolling window for the
// (backend, capability) pair.
func (p *Profiler) Record(backendID string, capability Capability, outcome ExecutionOutcome) {
	p.window(profileKey{backendID, capability}).record(outcome)
}

func (p *Profiler) window(key profileKey) *profileWindow {
	p.mu.RLock()
	w, ok := p.windows[key]
	p.mu.RUnlock()
	if ok {
		return w
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.windows[key]; ok {
		return w
	}
	w = &profileWindow{ring: make([]ExecutionOutcome, p.windowSize)}
	p.windows[key] = w
	return w
}

// Fitness estimates how well a backend historically satisfies a capability
// under a quality target, in [0,1]. Backends with zero recorded history get
// the neutral prior 0.5 so new backends stay eligible for selection.
func (p *Profiler) Fitness(backendID string, capability Capability, target QualityTarget) float64 {
	p.mu.RLock()
	w, ok := p.windows[profileKey{backendID, capability}]
	p.mu.RUnlock()
	if !ok {
		return neutralFitness
	}

	s := w.snapshot()
	if s.Count == 0 {
		return neutralFitness
	}

	// Each component maps into [0,1], 1 being best.
	latencyScore := 1 / (1 + s.MeanLatencyMs/float64(referenceLatency.Milliseconds()))
	memoryScore := 1 / (1 + s.MeanMemoryMb/referenceMemoryMb)
	qualityScore := s.MeanQuality
	if qualityScore == 0 {
		// Backends that report no quality metrics fall back to reliability.
		qualityScore = s.SuccessRate
	}

	wLatency, wMemory, wSuccess, wQuality := fitnessWeights(target)
	return clamp01(wLatency*latencyScore + wMemory*memoryScore + wSuccess*s.SuccessRate + wQuality*qualityScore)
}

// fitnessWeights returns the (latency, memory, success, quality) component
// weights for a quality target. Weights sum to 1.
func fitnessWeights(target QualityTarget) (float64, float64, float64, float64) {
	switch target {
	case QualityTargetSpeedFirst:
		return 0.6, 0.1, 0.2, 0.1
	case QualityTargetBestQuality:
		return 0.1, 0.1, 0.2, 0.6
	case QualityTargetMemoryConstrained:
		return 0.1, 0.6, 0.2, 0.1
	default:
		return 0.25, 0.25, 0.25, 0.25
	}
}

// Snapshot returns the rolling statistics for every capability of one
// backend. Used by the status surface.
func (p *Profiler) Snapshot(backendID string) map[Capability]ProfileSnapshot {
	p.mu.RLock()
	keys := make([]profileKey, 0)
	for key := range p.windows {
		if key.backendID == backendID {
			keys = append(keys, key)
		}
	}
	p.mu.RUnlock()

	out := make(map[Capability]ProfileSnapshot, len(keys))
	for _, key := range keys {
		out[key.capability] = p.window(key).snapshot()
	}
	return out
}

// Backends returns every backend id with recorded history, sorted.
func (p *Profiler) Backends() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	seen := make(map[string]bool)
	for key := range p.windows {
		seen[key.backendID] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Forget drops all windows for an unregistered backend.
func (p *Profiler) Forget(backendID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key := range p.windows {
		if key.backendID == backendID {
			delete(p.windows, key)
		}
	}
}
