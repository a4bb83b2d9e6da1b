// Copyright 2025 MediaForge
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaforge_orchestrator_requests_total",
			Help: "Total number of generation requests processed by the orchestrator",
		},
		[]string{"status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediaforge_orchestrator_request_duration_milliseconds",
			Help:    "End-to-end request duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000, 180000},
		},
		[]string{"quality_target"},
	)
	promBackendResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaforge_orchestrator_backend_results_total",
			Help: "Final request results by serving backend and outcome",
		},
		[]string{"backend", "outcome"},
	)
	promDegradedResults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mediaforge_orchestrator_degraded_results_total",
			Help: "Total number of requests answered by the mock responder",
		},
	)
	promRegisteredBackends = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediaforge_orchestrator_registered_backends",
			Help: "Number of backends currently registered",
		},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promBackendResults)
	prometheus.MustRegister(promDegradedResults)
	prometheus.MustRegister(promRegisteredBackends)
}
