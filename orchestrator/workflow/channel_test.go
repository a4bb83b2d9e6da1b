// Copyright 2025 MediaForge
// SPDX-License-Identifier: BUSL-1.1

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestChannelStreamingTier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/jobs/stream" {
			http.NotFound(w, r)
			return
		}
		var job generationJob
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: progress\n")
		fmt.Fprint(w, `data: {"stage":"rendering","fraction":0.5}`+"\n\n")
		fmt.Fprint(w, "event: result\n")
		fmt.Fprintf(w, `data: {"result":{"output":{"backend":"%s"},"memory_used_mb":768,"quality_metrics":{"aesthetic":0.9}}}`+"\n\n", job.BackendID)
	}))
	defer server.Close()

	channel := NewChannel(server.URL, server.Client(), NewClock(), WithChannelLogger(quietLogger()))

	var mu sync.Mutex
	var stages []string
	progress := func(stage string, _ float64) {
		mu.Lock()
		stages = append(stages, stage)
		mu.Unlock()
	}

	result, err := channel.Call(context.Background(), "sdxl", map[string]any{"prompt": "a fox"}, progress)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result.Tier != TierStreaming {
		t.Errorf("expected streaming tier, got %s", result.Tier)
	}
	if result.Output["backend"] != "sdxl" {
		t.Errorf("unexpected output %v", result.Output)
	}
	if result.MemoryUsedMb != 768 {
		t.Errorf("expected memory 768, got %v", result.MemoryUsedMb)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(stages) != 1 || stages[0] != "rendering" {
		t.Errorf("expected relayed progress [rendering], got %v", stages)
	}
}

func TestChannelDegradesToPolling(t *testing.T) {
	var polls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/jobs/stream":
			http.Error(w, "streaming disabled", http.StatusServiceUnavailable)
		case r.URL.Path == "/v1/jobs" && r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(jobStatus{JobID: "job-1", Status: "pending"})
		case r.URL.Path == "/v1/jobs/job-1":
			polls++
			if polls < 2 {
				json.NewEncoder(w).Encode(jobStatus{JobID: "job-1", Status: "running", Fraction: 0.4})
				return
			}
			json.NewEncoder(w).Encode(jobStatus{
				JobID:  "job-1",
				Status: "succeeded",
				Result: &TransportResult{Output: map[string]any{"ok": true}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	channel := NewChannel(server.URL, server.Client(), NewClock(),
		WithChannelLogger(quietLogger()),
		WithTransports(
			newStreamingTransport(server.URL, server.Client()),
			newPollingTransport(server.URL, server.Client(), NewClock(), time.Millisecond),
		))

	result, err := channel.Call(context.Background(), "sdxl", nil, nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result.Tier != TierPolling {
		t.Errorf("expected polling tier after streaming failure, got %s", result.Tier)
	}
	if result.Output["ok"] != true {
		t.Errorf("unexpected output %v", result.Output)
	}
}

func TestChannelAllRealTiersFail(t *testing.T) {
	channel := NewChannel("", nil, nil,
		WithChannelLogger(quietLogger()),
		WithTransports(
			failingTransport(TierStreaming, "stream down"),
			failingTransport(TierPolling, "poll down"),
		))

	_, err := channel.Call(context.Background(), "sdxl", nil, nil)
	if err == nil {
		t.Fatal("expected a communication error")
	}

	var ce *CommunicationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CommunicationError, got %T: %v", err, err)
	}
	if ce.BackendID != "sdxl" {
		t.Errorf("expected backend id on error, got %q", ce.BackendID)
	}
	if ce.TierErrors[TierStreaming] != "stream down" || ce.TierErrors[TierPolling] != "poll down" {
		t.Errorf("expected per-tier reasons, got %v", ce.TierErrors)
	}
}

func TestChannelCallNeverUsesMock(t *testing.T) {
	mock := succeedingTransport(TierMock)
	channel := NewChannel("", nil, nil,
		WithChannelLogger(quietLogger()),
		WithTransports(failingTransport(TierStreaming, "down")),
		WithMockTransport(mock))

	if _, err := channel.Call(context.Background(), "sdxl", nil, nil); err == nil {
		t.Fatal("Call must not silently fall through to the mock tier")
	}
	if mock.callCount() != 0 {
		t.Errorf("mock transport was invoked %d times by Call", mock.callCount())
	}
}

func TestChannelMockFallback(t *testing.T) {
	channel := NewChannel("", nil, nil, WithChannelLogger(quietLogger()))

	result, err := channel.MockFallback(context.Background(), "mock", map[string]any{"prompt": "x"}, nil)
	if err != nil {
		t.Fatalf("MockFallback failed: %v", err)
	}
	if result.Tier != TierMock {
		t.Errorf("expected mock tier, got %s", result.Tier)
	}
	if result.Output["mock"] != true {
		t.Errorf("mock output must be explicitly marked, got %v", result.Output)
	}
}

func TestChannelCancellationIsNotCommunicationError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	channel := NewChannel("", nil, nil,
		WithChannelLogger(quietLogger()),
		WithTransports(&fakeTransport{
			tier: TierStreaming,
			fn: func(ctx context.Context, _ string, _ map[string]any, _ ProgressFunc) (*TransportResult, error) {
				cancel()
				return nil, ctx.Err()
			},
		}))

	_, err := channel.Call(ctx, "sdxl", nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var ce *CommunicationError
	if errors.As(err, &ce) {
		t.Error("cancellation must not be wrapped as a CommunicationError")
	}
}

func TestChannelProbe(t *testing.T) {
	var ready bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ready" || r.URL.Query().Get("backend") != "sdxl" {
			http.NotFound(w, r)
			return
		}
		if !ready {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel := NewChannel(server.URL, server.Client(), NewClock(), WithChannelLogger(quietLogger()))
	probe := channel.Probe("sdxl")

	if err := probe(context.Background()); err == nil {
		t.Error("expected probe failure while not ready")
	}
	ready = true
	if err := probe(context.Background()); err != nil {
		t.Errorf("expected probe success, got %v", err)
	}
}
