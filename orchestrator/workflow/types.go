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

// Package workflow provides the resilient orchestration core that sits between
// clients requesting generative-media operations and the pluggable generation
// backends that perform them. It defines the common abstractions used across
// all backend integrations in MediaForge.
package workflow

import (
	"time"
)

// BackendType identifies the media domain of a backend implementation.
type BackendType string

// Standard backend types supported out of the box.
const (
	// BackendTypeVideo represents video generation backends.
	BackendTypeVideo BackendType = "video"

	// BackendTypeImage represents still-image generation backends.
	BackendTypeImage BackendType = "image"

	// BackendTypeAudio represents audio synthesis backends.
	BackendTypeAudio BackendType = "audio"

	// BackendTypeComposite represents backends spanning several media domains.
	BackendTypeComposite BackendType = "composite"
)

// Capability represents a specific generation operation a backend can perform.
type Capability string

// Standard capabilities that backends may declare.
const (
	// CapabilityTextToImage indicates support for text-to-image generation.
	CapabilityTextToImage Capability = "text_to_image"

	// CapabilityTextToVideo indicates support for text-to-video generation.
	CapabilityTextToVideo Capability = "text_to_video"

	// CapabilityImageToVideo indicates support for animating keyframes into video.
	CapabilityImageToVideo Capability = "image_to_video"

	// CapabilityInpainting indicates support for masked region regeneration.
	CapabilityInpainting Capability = "inpainting"

	// CapabilitySuperResolution indicates support for upscaling.
	CapabilitySuperResolution Capability = "super_resolution"

	// CapabilityRelighting indicates support for scene relighting.
	CapabilityRelighting Capability = "relighting"

	// CapabilityLayeredGeneration indicates support for layer-separated output.
	CapabilityLayeredGeneration Capability = "layered_generation"

	// CapabilityAudioSynthesis indicates support for soundtrack/audio synthesis.
	CapabilityAudioSynthesis Capability = "audio_synthesis"
)

// DeclaredCost carries the relative cost weights a backend declares at
// registration time. Each weight is in [0,1]; higher means more expensive
// on that axis. The router folds these into its scoring formula according
// to the request's quality target.
type DeclaredCost struct {
	// Speed is the relative wall-clock cost (1.0 = slowest known backend).
	Speed float64 `json:"speed"`

	// Memory is the relative memory cost (1.0 = heaviest known backend).
	Memory float64 `json:"memory"`

	// Quality is the inverse quality weight (0.0 = best known output quality).
	Quality float64 `json:"quality"`
}

// Weighted collapses the declared cost into a single [0,1] scalar for the
// given quality target. Lower is cheaper for what the request cares about.
func (c DeclaredCost) Weighted(target QualityTarget) float64 {
	var cost float64
	switch target {
	case QualityTargetSpeedFirst:
		cost = 0.6*c.Speed + 0.2*c.Memory + 0.2*c.Quality
	case QualityTargetBestQuality:
		cost = 0.6*c.Quality + 0.2*c.Speed + 0.2*c.Memory
	case QualityTargetMemoryConstrained:
		cost = 0.6*c.Memory + 0.2*c.Speed + 0.2*c.Quality
	default:
		cost = (c.Speed + c.Memory + c.Quality) / 3
	}
	return clamp01(cost)
}

// WorkflowDescriptor identifies one backend workflow implementation and the
// capabilities it declares. Descriptors are immutable after registration and
// owned exclusively by the Registry, which stores and returns copies.
type WorkflowDescriptor struct {
	// ID is the unique identifier for this backend (e.g. "diffusion-xl-video").
	ID string `json:"id"`

	// Type is the media domain of the backend.
	Type BackendType `json:"type"`

	// Capabilities lists the operations this backend can perform.
	// A descriptor must declare at least one capability.
	Capabilities []Capability `json:"capabilities"`

	// Cost carries the declared relative speed/memory/quality weights.
	Cost DeclaredCost `json:"cost"`
}

// HasCapability returns true if the descriptor declares the capability.
func (d *WorkflowDescriptor) HasCapability(c Capability) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Covers returns true if the descriptor declares every required capability.
func (d *WorkflowDescriptor) Covers(required []Capability) bool {
	for _, c := range required {
		if !d.HasCapability(c) {
			return false
		}
	}
	return true
}

// QualityTarget expresses the caller's trade-off preference for a request.
// It selects the router's scoring preset and the profiler's fitness weights.
type QualityTarget string

const (
	// QualityTargetSpeedFirst optimizes for latency.
	QualityTargetSpeedFirst QualityTarget = "speed_first"

	// QualityTargetBalanced weighs all objectives equally (default).
	QualityTargetBalanced QualityTarget = "balanced"

	// QualityTargetBestQuality optimizes for output quality and reliability.
	QualityTargetBestQuality QualityTarget = "best_quality"

	// QualityTargetMemoryConstrained optimizes for low memory use.
	QualityTargetMemoryConstrained QualityTarget = "memory_constrained"

	// QualityTargetRoundRobin bypasses scoring and rotates through eligible
	// backends in registration order.
	QualityTargetRoundRobin QualityTarget = "round_robin"
)

// ValidQualityTargets contains all valid quality target values.
var ValidQualityTargets = []QualityTarget{
	QualityTargetSpeedFirst,
	QualityTargetBalanced,
	QualityTargetBestQuality,
	QualityTargetMemoryConstrained,
	QualityTargetRoundRobin,
}

// IsValidQualityTarget checks if a string is a valid quality target.
func IsValidQualityTarget(s string) bool {
	for _, valid := range ValidQualityTargets {
		if QualityTarget(s) == valid {
			return true
		}
	}
	return false
}

// WorkflowRequest encapsulates one generative-media request. It is immutable
// once submitted; the orchestrator never modifies the payload.
type WorkflowRequest struct {
	// RequestID uniquely identifies the request. Assigned by the manager
	// when empty.
	RequestID string `json:"request_id,omitempty"`

	// RequiredCapabilities lists the operations the backend must support.
	RequiredCapabilities []Capability `json:"required_capabilities"`

	// Payload is the opaque generation payload, passed through unmodified.
	Payload map[string]any `json:"payload,omitempty"`

	// Priority orders requests competing for admission (higher first is
	// advisory; admission itself is FIFO).
	Priority int `json:"priority,omitempty"`

	// QualityTarget selects the routing trade-off. Defaults to balanced.
	QualityTarget QualityTarget `json:"quality_target,omitempty"`

	// Timeout bounds the total time across all attempts (0 = no deadline).
	Timeout time.Duration `json:"timeout,omitempty"`
}

// TransportTier identifies which communication tier served a request.
type TransportTier string

const (
	// TierStreaming is the preferred bidirectional streaming transport.
	TierStreaming TransportTier = "streaming"

	// TierPolling is the request/response polling fallback transport.
	TierPolling TransportTier = "polling"

	// TierMock is the local mock responder of last resort.
	TierMock TransportTier = "mock"
)

// WorkflowResult is the single terminal result for a submitted request.
// A request may internally try several backends, but exactly one result
// is returned to the caller.
type WorkflowResult struct {
	// Success indicates the request produced usable output.
	Success bool `json:"success"`

	// BackendID is the backend that produced the result ("mock" when the
	// mock responder served it).
	BackendID string `json:"backend_id"`

	// TransportTier is the communication tier that served the result.
	TransportTier TransportTier `json:"transport_tier"`

	// Degraded is set when the result came from the mock responder rather
	// than a real backend. Polling results are not degraded.
	Degraded bool `json:"degraded,omitempty"`

	// ExecutionTimeMs is the wall-clock time of the successful attempt.
	ExecutionTimeMs int64 `json:"execution_time_ms"`

	// MemoryUsedMb is the backend-reported peak memory, if known.
	MemoryUsedMb float64 `json:"memory_used_mb,omitempty"`

	// QualityMetrics carries backend-reported quality scores by name.
	QualityMetrics map[string]float64 `json:"quality_metrics,omitempty"`

	// Output is the opaque generation output returned by the backend.
	Output map[string]any `json:"output,omitempty"`

	// Error describes the failure when Success is false.
	Error string `json:"error,omitempty"`
}

// HealthState is the liveness state of a backend as tracked by the
// health monitor. Transitions are owned by the monitor alone.
type HealthState string

const (
	// HealthUnknown means the backend has not been probed yet.
	HealthUnknown HealthState = "unknown"

	// HealthHealthy means probes are succeeding.
	HealthHealthy HealthState = "healthy"

	// HealthDegraded means probes recently failed or the backend is
	// recovering (hysteresis state between unhealthy and healthy).
	HealthDegraded HealthState = "degraded"

	// HealthUnhealthy means consecutive probes have failed.
	HealthUnhealthy HealthState = "unhealthy"

	// HealthOffline means the backend has been unhealthy long enough that
	// probing has backed off; the router excludes offline backends.
	HealthOffline HealthState = "offline"
)

// ProgressFunc receives coarse-grained execution milestones. The fraction is
// in [0,1] and monotonically non-decreasing for a single request.
// Milestones: "selecting", "attempting:<backendId>", "degraded-fallback",
// "complete", plus transport progress events forwarded from the backend.
type ProgressFunc func(milestone string, fraction float64)

// ExecutionRecord is one append-only audit entry for a backend attempt.
type ExecutionRecord struct {
	// ID uniquely identifies the record.
	ID string `json:"id"`

	// RequestID is the request this attempt belonged to.
	RequestID string `json:"request_id"`

	// BackendID is the backend attempted ("mock" for the mock responder).
	BackendID string `json:"backend_id"`

	// Attempt is the 1-based attempt number within the request.
	Attempt int `json:"attempt"`

	// Outcome is "success", "failure", "skipped", or "cancelled".
	Outcome string `json:"outcome"`

	// Tier is the transport tier used, when a call was made.
	Tier TransportTier `json:"tier,omitempty"`

	// Error is the failure reason, when the outcome is not success.
	Error string `json:"error,omitempty"`

	// Timestamp is when the attempt finished.
	Timestamp time.Time `json:"timestamp"`
}

// Execution record outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeSkipped   = "skipped"
	OutcomeCancelled = "cancelled"
)

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
