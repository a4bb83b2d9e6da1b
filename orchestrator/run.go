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

// Package orchestrator is the MediaForge generation orchestrator service.
//
// It exposes an HTTP control plane over the workflow engine: backend
// registration, request execution with capability-based routing, health and
// profiling status, and the shared execution record log.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"mediaforge/platform/orchestrator/workflow"
	"mediaforge/platform/shared/logger"
	"mediaforge/platform/shared/types"
)

// Server holds the orchestrator's wired components.
type Server struct {
	config      *ConfigSpec
	deployment  types.DeploymentConfig
	manager     *workflow.Manager
	logger      *logger.Logger
	jwtSecret   []byte
	db          *sql.DB
	redisClient *redis.Client
	startedAt   time.Time
}

// NewServer wires the workflow engine from a loaded configuration.
// Database and Redis connections are optional; when absent the orchestrator
// runs fully in-memory.
func NewServer(cfg *ConfigSpec) (*Server, error) {
	deployment := types.ConfigForMode(types.ModeFromEnv())

	s := &Server{
		config:     cfg,
		deployment: deployment,
		logger:     logger.New("orchestrator"),
		jwtSecret:  []byte(cfg.JWTSecret),
		startedAt:  time.Now(),
	}

	opts := cfg.ManagerOptions()

	// The deployment mode decides whether mock fallback is on when the
	// config file does not say either way.
	if cfg.AllowMockFallback == nil {
		opts = append(opts, workflow.WithMockResponder(deployment.AllowMockFallback))
	}
	if deployment.RequireSharedStores && (cfg.DatabaseURL == "" || cfg.RedisURL == "") {
		s.logger.Warn("", "Cloud deployment without shared stores; replicas will not share state", map[string]interface{}{
			"database_configured": cfg.DatabaseURL != "",
			"redis_configured":    cfg.RedisURL != "",
		})
	}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		storage := workflow.NewPostgresStorage(db)
		if err := storage.EnsureSchema(context.Background()); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to prepare database schema: %w", err)
		}
		s.db = db
		opts = append(opts, workflow.WithManagerStorage(storage))
		s.logger.Info("", "Descriptor persistence enabled", nil)
	}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			// Plain host:port is also accepted.
			redisOpts = &redis.Options{Addr: cfg.RedisURL}
		}
		s.redisClient = redis.NewClient(redisOpts)
		opts = append(opts, workflow.WithRecordStore(
			workflow.NewRedisRecordStore(s.redisClient, "", 0)))
		s.logger.Info("", "Shared execution record log enabled", nil)
	}

	httpClient := &http.Client{Timeout: 5 * time.Minute}
	channel := workflow.NewChannel(cfg.GenerationServiceURL, httpClient, workflow.NewClock())

	s.manager = workflow.NewManager(channel, opts...)
	return s, nil
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", s.healthHandler).Methods("GET")

	// Metrics endpoints
	r.HandleFunc("/metrics", s.simpleMetricsHandler).Methods("GET") // JSON metrics (legacy)
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")      // Prometheus native format

	// Generation endpoint
	r.HandleFunc("/api/v1/execute", s.handleExecute).Methods("POST")

	// Backend management
	r.HandleFunc("/api/v1/backends", s.handleListBackends).Methods("GET")
	r.HandleFunc("/api/v1/backends", s.requireOperator(s.handleRegisterBackend)).Methods("POST")
	r.HandleFunc("/api/v1/backends/{id}", s.handleGetBackend).Methods("GET")
	r.HandleFunc("/api/v1/backends/{id}", s.requireOperator(s.handleUnregisterBackend)).Methods("DELETE")

	// Monitoring
	r.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/api/v1/executions", s.handleExecutions).Methods("GET")

	return r
}

// simpleMetricsHandler returns simplified metrics for easy consumption.
func (s *Server) simpleMetricsHandler(w http.ResponseWriter, r *http.Request) {
	backends := s.manager.Status()
	perState := make(map[workflow.HealthState]int)
	for _, b := range backends {
		perState[b.Health]++
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"registered_backends": len(backends),
		"backends_by_health":  perState,
		"uptime_seconds":      int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) databaseState() string {
	if s.db == nil {
		return "disabled"
	}
	if err := s.db.Ping(); err != nil {
		return "unreachable"
	}
	return "connected"
}

func (s *Server) recordStoreState() string {
	if s.redisClient == nil {
		return "in-memory"
	}
	if err := s.redisClient.Ping(context.Background()).Err(); err != nil {
		return "unreachable"
	}
	return "connected"
}

// Close releases the server's connections and stops background probing.
func (s *Server) Close() {
	s.manager.Close()
	if s.db != nil {
		s.db.Close()
	}
	if s.redisClient != nil {
		s.redisClient.Close()
	}
}

// Run is the exported entry point for the orchestrator service.
//
// It loads configuration, wires the workflow engine, sets up HTTP routes
// and starts the server. The function blocks until the server is shut down.
//
// Environment variables used:
//   - PORT: HTTP server port (default: 8084)
//   - CONFIG_PATH: optional YAML configuration file
//   - GENERATION_SERVICE_URL: base URL of the generation service
//   - DATABASE_URL: PostgreSQL connection string (optional)
//   - REDIS_URL: Redis address for the execution record log (optional)
//   - JWT_SECRET: operator token secret; empty disables auth
func Run() {
	log.Println("Starting MediaForge Orchestrator...")

	cfg, err := LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	server, err := NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize orchestrator: %v", err)
	}
	defer server.Close()

	// CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	handler := c.Handler(server.Router())
	log.Printf("MediaForge Orchestrator listening on port %s", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, handler))
}
