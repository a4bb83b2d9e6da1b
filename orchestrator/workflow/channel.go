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

package workflow

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// TransportResult is the raw result returned by one transport call.
type TransportResult struct {
	// Output is the opaque generation output.
	Output map[string]any `json:"output,omitempty"`

	// MemoryUsedMb is the backend-reported peak memory, if known.
	MemoryUsedMb float64 `json:"memory_used_mb,omitempty"`

	// QualityMetrics carries backend-reported quality scores by name.
	QualityMetrics map[string]float64 `json:"quality_metrics,omitempty"`
}

// ChannelResult is a transport result annotated with the tier that
// actually served it.
type ChannelResult struct {
	TransportResult

	// Tier records which communication tier produced the result.
	Tier TransportTier `json:"transport_tier"`
}

// Transport is one tier of communication with the external generation
// service. Implementations must be safe for concurrent use.
type Transport interface {
	// Tier identifies the transport tier.
	Tier() TransportTier

	// Execute runs one generation call. Progress may be nil.
	Execute(ctx context.Context, backendID string, payload map[string]any, progress ProgressFunc) (*TransportResult, error)
}

// Channel talks to the external generation service through a preferred
// streaming transport with automatic degradation to a polling transport.
// A local mock responder is available as the explicit tier of last resort.
//
// Tier transitions are transparent: Call either returns a result (with the
// tier recorded) or a CommunicationError. It never fails merely because a
// degraded tier was used. Context cancellation is surfaced as the context's
// own error so callers can tell a deadline from unreachability.
type Channel struct {
	transports []Transport // streaming, then polling
	mock       Transport
	logger     *log.Logger
}

// ChannelOption configures the channel during creation.
type ChannelOption func(*Channel)

// WithTransports replaces the real transport tiers (streaming, polling).
// Used by deployments with custom wire protocols, and by tests.
func WithTransports(transports ...Transport) ChannelOption {
	return func(c *Channel) {
		c.transports = transports
	}
}

// WithMockTransport replaces the mock responder.
func WithMockTransport(mock Transport) ChannelOption {
	return func(c *Channel) {
		c.mock = mock
	}
}

// WithChannelLogger sets a custom logger for the channel.
func WithChannelLogger(logger *log.Logger) ChannelOption {
	return func(c *Channel) {
		c.logger = logger
	}
}

// NewChannel creates a communication channel with the default HTTP
// streaming and polling transports against baseURL.
func NewChannel(baseURL string, client *http.Client, clock Clock, opts ...ChannelOption) *Channel {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	if clock == nil {
		clock = NewClock()
	}

	c := &Channel{
		transports: []Transport{
			newStreamingTransport(baseURL, client),
			newPollingTransport(baseURL, client, clock, 0),
		},
		mock:   NewMockTransport(),
		logger: log.New(os.Stdout, "[COMM_CHANNEL] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call executes a generation request against the real transport tiers in
// preference order. The mock responder is never used here; callers invoke
// MockFallback explicitly when policy permits it.
func (c *Channel) Call(ctx context.Context, backendID string, payload map[string]any, progress ProgressFunc) (*ChannelResult, error) {
	return c.callTiers(ctx, c.transports, backendID, payload, progress)
}

// MockFallback serves a request from the local mock responder. The result
// is structurally valid and explicitly marked as mock output.
func (c *Channel) MockFallback(ctx context.Context, backendID string, payload map[string]any, progress ProgressFunc) (*ChannelResult, error) {
	return c.callTiers(ctx, []Transport{c.mock}, backendID, payload, progress)
}

// callTiers is the single degradation path shared by every call.
func (c *Channel) callTiers(ctx context.Context, tiers []Transport, backendID string, payload map[string]any, progress ProgressFunc) (*ChannelResult, error) {
	tierErrors := make(map[TransportTier]string, len(tiers))
	var lastErr error

	for _, t := range tiers {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		result, err := t.Execute(ctx, backendID, payload, progress)
		if err == nil {
			if t.Tier() != TierStreaming {
				c.logger.Printf("Backend %s served via degraded tier: %s", backendID, t.Tier())
			}
			return &ChannelResult{TransportResult: *result, Tier: t.Tier()}, nil
		}

		// Cancellation is the caller's deadline, not unreachability.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		tierErrors[t.Tier()] = err.Error()
		lastErr = err
	}

	return nil, &CommunicationError{
		BackendID:  backendID,
		TierErrors: tierErrors,
		Cause:      lastErr,
	}
}

// Probe returns a readiness probe for one backend, suitable for the
// health monitor.
func (c *Channel) Probe(backendID string) ProbeFunc {
	for _, t := range c.transports {
		if p, ok := t.(prober); ok {
			return func(ctx context.Context) error {
				return p.probe(ctx, backendID)
			}
		}
	}
	// Channels built purely from custom transports probe the mock tier,
	// which always succeeds.
	return func(ctx context.Context) error { return nil }
}

// prober is implemented by transports that expose a readiness check.
type prober interface {
	probe(ctx context.Context, backendID string) error
}

// generationJob is the wire format for submitting a generation call.
type generationJob struct {
	BackendID string         `json:"backend_id"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// streamEvent is one SSE data frame from the streaming endpoint.
type streamEvent struct {
	Stage    string           `json:"stage,omitempty"`
	Fraction float64          `json:"fraction,omitempty"`
	Result   *TransportResult `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// streamingTransport is the preferred tier: server-sent events over HTTP,
// carrying progress frames and the final result.
type streamingTransport struct {
	base   string
	client *http.Client
}

func newStreamingTransport(base string, client *http.Client) *streamingTransport {
	return &streamingTransport{base: strings.TrimRight(base, "/"), client: client}
}

func (t *streamingTransport) Tier() TransportTier { return TierStreaming }

func (t *streamingTransport) Execute(ctx context.Context, backendID string, payload map[string]any, progress ProgressFunc) (*TransportResult, error) {
	body, err := json.Marshal(generationJob{BackendID: backendID, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+"/v1/jobs/stream", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("streaming connect failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		drained, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("streaming endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(drained)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var ev streamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				return nil, fmt.Errorf("malformed stream event: %w", err)
			}
			switch event {
			case "progress":
				if progress != nil {
					progress(ev.Stage, ev.Fraction)
				}
			case "result":
				if ev.Result == nil {
					return nil, fmt.Errorf("stream result event carried no result")
				}
				return ev.Result, nil
			case "error":
				return nil, fmt.Errorf("backend reported error: %s", ev.Error)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream read failed: %w", err)
	}
	return nil, fmt.Errorf("stream ended without a result")
}

func (t *streamingTransport) probe(ctx context.Context, backendID string) error {
	u := fmt.Sprintf("%s/v1/ready?backend=%s", t.base, url.QueryEscape(backendID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 512))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("readiness probe returned status %d", resp.StatusCode)
	}
	return nil
}

// jobStatus is the polling endpoint's view of a submitted job.
type jobStatus struct {
	JobID    string           `json:"job_id"`
	Status   string           `json:"status"` // pending, running, succeeded, failed
	Fraction float64          `json:"fraction,omitempty"`
	Result   *TransportResult `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// pollingTransport is the stateless request/response fallback tier against
// the same logical endpoint: submit a job, then poll until terminal.
type pollingTransport struct {
	base         string
	client       *http.Client
	clock        Clock
	pollInterval time.Duration
}

func newPollingTransport(base string, client *http.Client, clock Clock, pollInterval time.Duration) *pollingTransport {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &pollingTransport{
		base:         strings.TrimRight(base, "/"),
		client:       client,
		clock:        clock,
		pollInterval: pollInterval,
	}
}

func (t *pollingTransport) Tier() TransportTier { return TierPolling }

func (t *pollingTransport) Execute(ctx context.Context, backendID string, payload map[string]any, progress ProgressFunc) (*TransportResult, error) {
	body, err := json.Marshal(generationJob{BackendID: backendID, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+"/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("job submit failed: %w", err)
	}
	var submitted jobStatus
	err = decodeJSON(resp, &submitted)
	if err != nil {
		return nil, err
	}
	if submitted.JobID == "" {
		return nil, fmt.Errorf("job submit returned no job id")
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.clock.After(t.pollInterval):
		}

		pollReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.base+"/v1/jobs/"+url.PathEscape(submitted.JobID), nil)
		if err != nil {
			return nil, err
		}
		pollResp, err := t.client.Do(pollReq)
		if err != nil {
			return nil, fmt.Errorf("job poll failed: %w", err)
		}
		var status jobStatus
		if err := decodeJSON(pollResp, &status); err != nil {
			return nil, err
		}

		switch status.Status {
		case "succeeded":
			if status.Result == nil {
				return nil, fmt.Errorf("job succeeded without a result")
			}
			return status.Result, nil
		case "failed":
			return nil, fmt.Errorf("backend reported error: %s", status.Error)
		default:
			if progress != nil {
				progress(status.Status, status.Fraction)
			}
		}
	}
}

func (t *pollingTransport) probe(ctx context.Context, backendID string) error {
	st := streamingTransport{base: t.base, client: t.client}
	return st.probe(ctx, backendID)
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		drained, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(drained)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	return nil
}

// mockTransport synthesizes structurally valid results locally. It is the
// tier of last resort when the generation service is entirely unreachable.
type mockTransport struct{}

// NewMockTransport returns the local mock responder.
func NewMockTransport() Transport {
	return mockTransport{}
}

func (mockTransport) Tier() TransportTier { return TierMock }

func (mockTransport) Execute(ctx context.Context, backendID string, payload map[string]any, progress ProgressFunc) (*TransportResult, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if progress != nil {
		progress("mock", 1)
	}
	return &TransportResult{
		Output: map[string]any{
			"mock":       true,
			"backend_id": backendID,
			"note":       "synthesized placeholder output; generation service unavailable",
		},
		QualityMetrics: map[string]float64{"mock": 1},
	}, nil
}
