// Package engine is the HTTP client for the node-graph inference engine.
//
// The engine accepts a job graph, returns an opaque prompt id, and later exposes a
// history record whose outputs describe the files it wrote. Every call passes through
// a per-endpoint circuit breaker so a dead engine fails fast instead of stacking
// timeouts under client polling.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"giftforge/internal/apperrors"
	"giftforge/internal/workflow"
	"giftforge/pkg/circuitbreaker"

	"github.com/google/uuid"
)

// Handle is the engine-assigned identifier of a submitted job.
type Handle string

// SlotID names an output node in the engine's history record.
type SlotID string

// Manifest maps output slot to the engine's description of what that slot produced.
// Its shape is engine-defined and is scanned structurally, not decoded into a schema.
type Manifest map[SlotID]any

// Endpoint keys for circuit breakers.
const (
	opSubmit  = "engine.submit"
	opHistory = "engine.history"
	opFree    = "engine.free"
	opReady   = "engine.ready"
)

// maxResponseSize bounds engine response bodies.
const maxResponseSize = 16 << 20

var errCircuitOpen = errors.New("circuit open")

// Client talks to the inference engine.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
	pollClient *http.Client
	breakers   *circuitbreaker.Registry
}

// NewClient creates an engine client.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		clientID:   clientID,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		pollClient: &http.Client{Timeout: cfg.PollTimeout},
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: 5,
			Cooldown:  10 * time.Second,
			OnStateChange: func(endpoint string, from, to circuitbreaker.State) {
				slog.Warn("Engine circuit changed state", "component", "engine", "endpoint", endpoint, "from", from.String(), "to", to.String())
			},
		}),
	}
}

type submitRequest struct {
	Prompt   *workflow.Graph `json:"prompt"`
	ClientID string          `json:"client_id,omitempty"`
}

type submitResponse struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors"`
}

// Submit queues a job graph. A returned error means no job was created.
func (c *Client) Submit(ctx context.Context, graph *workflow.Graph) (Handle, error) {
	body, err := json.Marshal(submitRequest{Prompt: graph, ClientID: c.clientID})
	if err != nil {
		return "", apperrors.Internal(opSubmit, err)
	}

	data, err := c.do(ctx, c.httpClient, opSubmit, http.MethodPost, "/prompt", body)
	if err != nil {
		return "", err
	}

	var resp submitResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", apperrors.EngineUnreachable(opSubmit, fmt.Errorf("malformed response: %w", err))
	}
	if resp.PromptID == "" {
		return "", apperrors.EngineUnreachable(opSubmit, fmt.Errorf("response carried no prompt_id"))
	}

	slog.Debug("Job submitted", "jobId", resp.PromptID, "queuePosition", resp.Number)
	return Handle(resp.PromptID), nil
}

type historyEntry struct {
	Outputs map[string]any `json:"outputs"`
}

// History returns the output manifest for h. found is false while the engine has no
// record of h, which covers both queued and running jobs.
func (c *Client) History(ctx context.Context, h Handle) (manifest Manifest, found bool, err error) {
	data, err := c.do(ctx, c.pollClient, opHistory, http.MethodGet, "/history/"+string(h), nil)
	if err != nil {
		return nil, false, err
	}

	var history map[string]historyEntry
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, false, apperrors.EngineUnreachable(opHistory, fmt.Errorf("malformed response: %w", err))
	}

	entry, ok := history[string(h)]
	if !ok {
		return nil, false, nil
	}

	manifest = make(Manifest, len(entry.Outputs))
	for slot, out := range entry.Outputs {
		manifest[SlotID(slot)] = out
	}
	return manifest, true, nil
}

// Free asks the engine to unload models and release device memory.
func (c *Client) Free(ctx context.Context) error {
	body := []byte(`{"unload_models":true,"free_memory":true}`)
	_, err := c.do(ctx, c.httpClient, opFree, http.MethodPost, "/free", body)
	return err
}

// Ready checks that the engine answers its stats endpoint.
func (c *Client) Ready(ctx context.Context) error {
	_, err := c.do(ctx, c.pollClient, opReady, http.MethodGet, "/system_stats", nil)
	return err
}

// do performs one request guarded by the endpoint's breaker and returns the body of a
// 2xx response. Any other outcome is an ErrEngineUnreachable.
func (c *Client) do(ctx context.Context, client *http.Client, op, method, path string, body []byte) ([]byte, error) {
	breaker := c.breakers.Get(op)
	if !breaker.Allow() {
		return nil, apperrors.EngineUnreachable(op, errCircuitOpen)
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, apperrors.EngineUnreachable(op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		breaker.RecordFailure()
		return nil, apperrors.EngineUnreachable(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		breaker.RecordFailure()
		return nil, apperrors.EngineUnreachable(op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode >= 500 {
		breaker.RecordFailure()
		return nil, apperrors.EngineUnreachable(op, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(data)))
	}
	// The engine answered; a 4xx is a rejected request, not an outage.
	breaker.RecordSuccess()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.EngineUnreachable(op, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(data)))
	}
	return data, nil
}

func truncate(data []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(data))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
