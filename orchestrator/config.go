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

package orchestrator

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"mediaforge/platform/orchestrator/workflow"
)

// ConfigFile is the on-disk orchestrator configuration, following the
// Kubernetes-style apiVersion/kind pattern.
type ConfigFile struct {
	APIVersion string     `yaml:"apiVersion"`
	Kind       string     `yaml:"kind"`
	Metadata   ConfigMeta `yaml:"metadata"`
	Spec       ConfigSpec `yaml:"spec"`
}

// ConfigMeta identifies the configuration.
type ConfigMeta struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// ConfigSpec is the orchestrator configuration body.
type ConfigSpec struct {
	// Port is the HTTP listen port.
	Port string `yaml:"port"`

	// GenerationServiceURL is the base URL of the external generation
	// service every transport tier talks to.
	GenerationServiceURL string `yaml:"generation_service_url"`

	// DatabaseURL is the PostgreSQL connection string for descriptor
	// persistence. Empty runs the registry in-memory only.
	DatabaseURL string `yaml:"database_url,omitempty"`

	// RedisURL is the Redis address for the shared execution record log.
	// Empty keeps records in-memory.
	RedisURL string `yaml:"redis_url,omitempty"`

	// JWTSecret signs operator tokens for the registration endpoints.
	JWTSecret string `yaml:"jwt_secret,omitempty"`

	// AllowMockFallback permits the mock responder after every real
	// backend is exhausted.
	AllowMockFallback *bool `yaml:"allow_mock_fallback,omitempty"`

	// MaxInFlightPerBackend bounds concurrent calls per backend.
	MaxInFlightPerBackend int `yaml:"max_in_flight_per_backend,omitempty"`

	// Resilience tunes circuit breaking and retries.
	Resilience ResilienceConfig `yaml:"resilience"`

	// HealthProbeIntervalSeconds is the base probe cadence.
	HealthProbeIntervalSeconds int `yaml:"health_probe_interval_seconds,omitempty"`

	// RoutingWeights overrides the per-quality-target scoring presets.
	RoutingWeights map[string]workflow.ScoringWeights `yaml:"routing_weights,omitempty"`
}

// ResilienceConfig tunes the circuit breakers and retry policy.
type ResilienceConfig struct {
	BreakerThreshold       int `yaml:"breaker_threshold,omitempty"`
	BreakerCoolDownSeconds int `yaml:"breaker_cool_down_seconds,omitempty"`
	MaxAttemptsPerBackend  int `yaml:"max_attempts_per_backend,omitempty"`
	InitialBackoffMs       int `yaml:"initial_backoff_ms,omitempty"`
	MaxBackoffMs           int `yaml:"max_backoff_ms,omitempty"`
}

// Configuration constants.
const (
	// ConfigKind is the expected kind field of a config file.
	ConfigKind = "OrchestratorConfig"

	// ConfigAPIVersion is the expected apiVersion of a config file.
	ConfigAPIVersion = "mediaforge.io/v1"

	// DefaultPort is the HTTP listen port when none is configured.
	DefaultPort = "8084"
)

// LoadConfig reads the orchestrator configuration. The file is optional;
// environment variables override file values either way.
//
// Environment variables:
//   - PORT
//   - GENERATION_SERVICE_URL
//   - DATABASE_URL
//   - REDIS_URL
//   - JWT_SECRET
//   - ALLOW_MOCK_FALLBACK ("true"/"false")
//   - MAX_IN_FLIGHT_PER_BACKEND
func LoadConfig(path string) (*ConfigSpec, error) {
	spec := &ConfigSpec{Port: DefaultPort}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		var file ConfigFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		if file.Kind != "" && file.Kind != ConfigKind {
			return nil, fmt.Errorf("unexpected config kind %q (want %s)", file.Kind, ConfigKind)
		}
		if file.APIVersion != "" && file.APIVersion != ConfigAPIVersion {
			return nil, fmt.Errorf("unsupported config apiVersion %q (want %s)", file.APIVersion, ConfigAPIVersion)
		}

		merged := file.Spec
		if merged.Port == "" {
			merged.Port = spec.Port
		}
		spec = &merged
	}

	applyEnvOverrides(spec)

	for target := range spec.RoutingWeights {
		if !workflow.IsValidQualityTarget(target) {
			return nil, fmt.Errorf("routing_weights references unknown quality target %q", target)
		}
	}
	return spec, nil
}

func applyEnvOverrides(spec *ConfigSpec) {
	spec.Port = getEnv("PORT", spec.Port)
	spec.GenerationServiceURL = getEnv("GENERATION_SERVICE_URL", spec.GenerationServiceURL)
	spec.DatabaseURL = getEnv("DATABASE_URL", spec.DatabaseURL)
	spec.RedisURL = getEnv("REDIS_URL", spec.RedisURL)
	spec.JWTSecret = getEnv("JWT_SECRET", spec.JWTSecret)
	if v := os.Getenv("ALLOW_MOCK_FALLBACK"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			spec.AllowMockFallback = &parsed
		}
	}
	if v := os.Getenv("MAX_IN_FLIGHT_PER_BACKEND"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			spec.MaxInFlightPerBackend = parsed
		}
	}
}

// ManagerOptions translates the configuration into workflow manager options.
func (c *ConfigSpec) ManagerOptions() []workflow.ManagerOption {
	var opts []workflow.ManagerOption

	if c.AllowMockFallback != nil {
		opts = append(opts, workflow.WithMockResponder(*c.AllowMockFallback))
	}
	if c.MaxInFlightPerBackend > 0 {
		opts = append(opts, workflow.WithMaxInFlight(c.MaxInFlightPerBackend))
	}
	if c.HealthProbeIntervalSeconds > 0 {
		opts = append(opts, workflow.WithHealthProbeInterval(time.Duration(c.HealthProbeIntervalSeconds)*time.Second))
	}
	if c.Resilience.BreakerThreshold > 0 || c.Resilience.BreakerCoolDownSeconds > 0 {
		opts = append(opts, workflow.WithBreakerPolicy(
			c.Resilience.BreakerThreshold,
			time.Duration(c.Resilience.BreakerCoolDownSeconds)*time.Second))
	}
	if c.Resilience.MaxAttemptsPerBackend > 0 {
		retry := workflow.DefaultRetryConfig()
		retry.MaxAttemptsPerBackend = c.Resilience.MaxAttemptsPerBackend
		if c.Resilience.InitialBackoffMs > 0 {
			retry.InitialBackoff = time.Duration(c.Resilience.InitialBackoffMs) * time.Millisecond
		}
		if c.Resilience.MaxBackoffMs > 0 {
			retry.MaxBackoff = time.Duration(c.Resilience.MaxBackoffMs) * time.Millisecond
		}
		opts = append(opts, workflow.WithRetryPolicy(retry))
	}
	if len(c.RoutingWeights) > 0 {
		presets := make(map[workflow.QualityTarget]workflow.ScoringWeights, len(c.RoutingWeights))
		for target, w := range c.RoutingWeights {
			presets[workflow.QualityTarget(target)] = w
		}
		opts = append(opts, workflow.WithQualityPresets(presets))
	}
	return opts
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
