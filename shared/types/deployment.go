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

// Package types provides shared type definitions used across MediaForge
// components. This file defines deployment mode configuration for managed
// cloud vs self-hosted studio deployments.
package types

import "os"

// DeploymentMode represents the deployment type
type DeploymentMode string

const (
	// DeploymentModeCloud is for managed multi-replica cloud deployments
	DeploymentModeCloud DeploymentMode = "cloud"
	// DeploymentModeStudio is for single-host self-hosted deployments
	DeploymentModeStudio DeploymentMode = "studio"
)

// String returns the string representation of the DeploymentMode
func (m DeploymentMode) String() string {
	return string(m)
}

// IsValid returns true if the DeploymentMode is a valid known value
func (m DeploymentMode) IsValid() bool {
	switch m {
	case DeploymentModeCloud, DeploymentModeStudio:
		return true
	default:
		return false
	}
}

// ModeFromEnv reads DEPLOYMENT_MODE. Unset or unrecognized values fall
// back to studio, the mode that needs no external services.
func ModeFromEnv() DeploymentMode {
	mode := DeploymentMode(os.Getenv("DEPLOYMENT_MODE"))
	if !mode.IsValid() {
		return DeploymentModeStudio
	}
	return mode
}

// DeploymentConfig contains deployment-specific defaults that control how
// the orchestrator degrades and where it keeps its state.
//
// Cloud deployments run multiple replicas, so execution records and
// descriptors must live in shared stores. Studio deployments run on a
// single host and can keep everything in-memory.
type DeploymentConfig struct {
	// Mode is the deployment type (cloud or studio)
	Mode DeploymentMode `json:"mode"`

	// RequireSharedStores means Postgres and Redis must be configured;
	// in-memory fallbacks would silo each replica
	RequireSharedStores bool `json:"require_shared_stores"`

	// AllowMockFallback permits degraded mock results when every real
	// backend is exhausted
	AllowMockFallback bool `json:"allow_mock_fallback"`

	// ShowBackendMetrics enables per-backend profiling detail on the
	// status endpoints
	ShowBackendMetrics bool `json:"show_backend_metrics"`
}

// DefaultCloudConfig returns the default configuration for cloud
// deployments. Cloud mode demands shared stores and never fabricates
// output for paying traffic.
func DefaultCloudConfig() DeploymentConfig {
	return DeploymentConfig{
		Mode:                DeploymentModeCloud,
		RequireSharedStores: true,
		AllowMockFallback:   false,
		ShowBackendMetrics:  true,
	}
}

// DefaultStudioConfig returns the default configuration for studio
// deployments. Studio mode keeps state in-memory and degrades to mock
// output so pipelines keep moving while backends are down.
func DefaultStudioConfig() DeploymentConfig {
	return DeploymentConfig{
		Mode:                DeploymentModeStudio,
		RequireSharedStores: false,
		AllowMockFallback:   true,
		ShowBackendMetrics:  true,
	}
}

// ConfigForMode returns the default configuration for the given mode.
func ConfigForMode(mode DeploymentMode) DeploymentConfig {
	if mode == DeploymentModeCloud {
		return DefaultCloudConfig()
	}
	return DefaultStudioConfig()
}

// IsCloud returns true if this is a cloud deployment
func (c DeploymentConfig) IsCloud() bool {
	return c.Mode == DeploymentModeCloud
}

// IsStudio returns true if this is a studio deployment
func (c DeploymentConfig) IsStudio() bool {
	return c.Mode == DeploymentModeStudio
}
