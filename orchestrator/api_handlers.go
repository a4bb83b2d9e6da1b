// Copyright 2025 MediaForge
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"mediaforge/platform/orchestrator/workflow"
)

// ExecuteRequest is the wire form of a generation request.
type ExecuteRequest struct {
	RequiredCapabilities []string       `json:"required_capabilities"`
	Payload              map[string]any `json:"payload,omitempty"`
	Priority             int            `json:"priority,omitempty"`
	QualityTarget        string         `json:"quality_target,omitempty"`
	TimeoutSeconds       int            `json:"timeout_seconds,omitempty"`
}

// ExecuteResponse wraps the workflow result with its request id and the
// milestones reached during execution.
type ExecuteResponse struct {
	RequestID  string                   `json:"request_id"`
	Result     *workflow.WorkflowResult `json:"result"`
	Milestones []Milestone              `json:"milestones,omitempty"`
}

// Milestone is one progress checkpoint observed during execution.
type Milestone struct {
	Name     string  `json:"name"`
	Fraction float64 `json:"fraction"`
}

type apiError struct {
	Error apiErrorDetail `json:"error"`
}

type apiErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// handleExecute handles POST /api/v1/execute.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		promRequestsTotal.WithLabelValues("invalid").Inc()
		writeAPIError(w, http.StatusBadRequest, workflow.ErrCodeInvalidRequest, "malformed request body")
		return
	}

	capabilities := make([]workflow.Capability, 0, len(req.RequiredCapabilities))
	for _, c := range req.RequiredCapabilities {
		capabilities = append(capabilities, workflow.Capability(c))
	}

	wfReq := &workflow.WorkflowRequest{
		RequiredCapabilities: capabilities,
		Payload:              req.Payload,
		Priority:             req.Priority,
		QualityTarget:        workflow.QualityTarget(req.QualityTarget),
	}
	if req.TimeoutSeconds > 0 {
		wfReq.Timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	var milestones []Milestone
	progress := func(milestone string, fraction float64) {
		milestones = append(milestones, Milestone{Name: milestone, Fraction: fraction})
		s.logger.Debug(wfReq.RequestID, "Progress milestone", map[string]interface{}{
			"milestone": milestone,
			"fraction":  fraction,
		})
	}

	result, err := s.manager.Execute(r.Context(), wfReq, progress)
	durationMS := float64(time.Since(start).Milliseconds())

	if err != nil {
		code := workflow.ErrorCode(err)
		promRequestsTotal.WithLabelValues("error").Inc()
		s.logger.ErrorWithCode(wfReq.RequestID, "Generation request failed", statusForExecutionCode(code), err, map[string]interface{}{
			"capabilities":   req.RequiredCapabilities,
			"quality_target": req.QualityTarget,
		})
		writeAPIError(w, statusForExecutionCode(code), code, err.Error())
		return
	}

	status := "success"
	if result.Degraded {
		status = "degraded"
		promDegradedResults.Inc()
	}
	promRequestsTotal.WithLabelValues(status).Inc()
	promBackendResults.WithLabelValues(result.BackendID, status).Inc()
	target := req.QualityTarget
	if target == "" {
		target = string(workflow.QualityTargetBalanced)
	}
	promRequestDuration.WithLabelValues(target).Observe(durationMS)

	s.logger.InfoWithDuration(wfReq.RequestID, "Generation request completed", durationMS, map[string]interface{}{
		"backend":  result.BackendID,
		"tier":     result.TransportTier,
		"degraded": result.Degraded,
	})

	writeJSON(w, http.StatusOK, ExecuteResponse{
		RequestID:  wfReq.RequestID,
		Result:     result,
		Milestones: milestones,
	})
}

// handleStatus handles GET /api/v1/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"backends":  s.manager.Status(),
		"timestamp": time.Now().UTC(),
	})
}

// handleListBackends handles GET /api/v1/backends.
func (s *Server) handleListBackends(w http.ResponseWriter, r *http.Request) {
	registry := s.manager.Registry()
	descriptors := make([]*workflow.WorkflowDescriptor, 0, registry.Count())
	for _, id := range registry.List() {
		if descriptor, ok := registry.Get(id); ok {
			descriptors = append(descriptors, descriptor)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"backends": descriptors,
		"total":    len(descriptors),
	})
}

// handleRegisterBackend handles POST /api/v1/backends.
func (s *Server) handleRegisterBackend(w http.ResponseWriter, r *http.Request) {
	var descriptor workflow.WorkflowDescriptor
	if err := json.NewDecoder(r.Body).Decode(&descriptor); err != nil {
		writeAPIError(w, http.StatusBadRequest, workflow.ErrRegistryInvalidDescriptor, "malformed descriptor")
		return
	}

	if err := s.manager.RegisterBackend(r.Context(), &descriptor); err != nil {
		if workflow.IsDuplicateBackend(err) {
			writeAPIError(w, http.StatusConflict, workflow.ErrRegistryDuplicate, err.Error())
			return
		}
		writeAPIError(w, http.StatusBadRequest, workflow.ErrRegistryInvalidDescriptor, err.Error())
		return
	}

	promRegisteredBackends.Set(float64(s.manager.Registry().Count()))
	s.logger.Info("", "Registered backend", map[string]interface{}{
		"backend":      descriptor.ID,
		"type":         descriptor.Type,
		"capabilities": descriptor.Capabilities,
	})
	writeJSON(w, http.StatusCreated, descriptor)
}

// handleGetBackend handles GET /api/v1/backends/{id}.
func (s *Server) handleGetBackend(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	descriptor, ok := s.manager.Registry().Get(id)
	if !ok {
		writeAPIError(w, http.StatusNotFound, workflow.ErrRegistryNotFound, "backend not found: "+id)
		return
	}

	status := s.manager.Status()[id]
	response := map[string]interface{}{
		"descriptor": descriptor,
		"health":     status.Health,
		"breaker":    status.Breaker,
	}
	if s.deployment.ShowBackendMetrics {
		response["profile"] = status.Profile
	}
	writeJSON(w, http.StatusOK, response)
}

// handleUnregisterBackend handles DELETE /api/v1/backends/{id}. Removal is
// idempotent: deleting an unknown backend succeeds.
func (s *Server) handleUnregisterBackend(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.manager.UnregisterBackend(r.Context(), id); err != nil {
		writeAPIError(w, http.StatusInternalServerError, workflow.ErrRegistryStorageError, err.Error())
		return
	}

	promRegisteredBackends.Set(float64(s.manager.Registry().Count()))
	s.logger.Info("", "Unregistered backend", map[string]interface{}{"backend": id})
	w.WriteHeader(http.StatusNoContent)
}

// handleExecutions handles GET /api/v1/executions?limit=N.
func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeAPIError(w, http.StatusBadRequest, workflow.ErrCodeInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := s.manager.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("", "Failed to read execution records", map[string]interface{}{"error": err.Error()})
		writeAPIError(w, http.StatusInternalServerError, "record_store_error", "failed to read execution records")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"executions": records,
		"total":      len(records),
	})
}

// healthHandler reports liveness plus per-component state.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	backends := s.manager.Status()
	healthy := 0
	for _, b := range backends {
		if b.Health == workflow.HealthHealthy || b.Health == workflow.HealthDegraded {
			healthy++
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"service":         "mediaforge-orchestrator",
		"deployment_mode": s.deployment.Mode,
		"timestamp":       time.Now().UTC(),
		"uptime":          time.Since(s.startedAt).String(),
		"components": map[string]interface{}{
			"registered_backends": len(backends),
			"serving_backends":    healthy,
			"database":            s.databaseState(),
			"record_store":        s.recordStoreState(),
		},
	})
}

func statusForExecutionCode(code string) int {
	switch code {
	case workflow.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case workflow.ErrCodeNoCapableBackend:
		return http.StatusServiceUnavailable
	case workflow.ErrCodeAllBackendsExhausted:
		return http.StatusBadGateway
	case workflow.ErrCodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	case workflow.ErrCodeAdmissionTimeout:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Error: apiErrorDetail{Code: code, Message: message}})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeAPIError(w, status, "", message)
}
