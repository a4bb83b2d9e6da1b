// Copyright 2025 MediaForge
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package logger provides structured JSON logging for MediaForge services.

# Overview

The logger outputs single-line JSON to stdout, making logs easily
consumable by CloudWatch, Loki, ELK or any other log aggregation system.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (orchestrator, generation-worker, etc.)
  - Instance ID and container name (for distributed tracing)
  - Request ID (for request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("orchestrator")

Log messages with request context:

	log.Info("req-456", "Routing generation request", map[string]interface{}{
	    "backend":        "sdxl-cluster",
	    "quality_target": "best_quality",
	})

Log errors with status codes:

	log.ErrorWithCode("req-456", "Generation request failed", 502, err, map[string]interface{}{
	    "backend": "sdxl-cluster",
	})

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("req-456", "Generation request completed",
	    float64(time.Since(start).Milliseconds()), nil)

# Output Format

Log entries are output as single-line JSON:

	{"timestamp":"2025-06-01T10:30:00.123456789Z","level":"INFO",
	 "component":"orchestrator","instance_id":"i-abc123",
	 "container":"orchestrator-xyz","request_id":"req-456",
	 "message":"Routing generation request","fields":{"backend":"sdxl-cluster"}}

# Environment Variables

The logger reads these environment variables:

  - INSTANCE_ID: Deployment instance identifier
  - LOG_LEVEL: Minimum level to emit (default INFO)
  - HOSTNAME: Container hostname (auto-detected)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
