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

/*
Package types provides shared type definitions used across MediaForge
components.

# Overview

This package contains common types shared between the orchestrator and
other MediaForge services. It provides a single source of truth for
deployment-level configuration.

# Deployment Modes

MediaForge supports two deployment modes, configured via DeploymentConfig:

Cloud Mode (managed, multi-replica):
  - Shared Postgres/Redis stores required so replicas see the same state
  - Mock fallback disabled; exhausted requests fail loudly

Studio Mode (self-hosted, single host):
  - In-memory state is fine
  - Mock fallback enabled so pipelines keep moving while backends are down

# Usage

Determine deployment mode and configure behavior:

	config := types.ConfigForMode(types.ModeFromEnv())

	if config.RequireSharedStores {
	    // Refuse to start without DATABASE_URL and REDIS_URL
	}

	if config.AllowMockFallback {
	    // Degrade to mock output instead of failing the request
	}

# Thread Safety

All types in this package are value types and are safe for concurrent use.
*/
package types
