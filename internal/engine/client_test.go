package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"giftforge/internal/apperrors"
	"giftforge/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGraph(t *testing.T) *workflow.Graph {
	t.Helper()
	tmpl, err := workflow.ParseTemplate("test", []byte(`{
		"3": {"class_type": "KSampler", "inputs": {"seed": 1, "steps": 20}},
		"9": {"class_type": "SaveImage", "inputs": {"images": ["3", 0]}}
	}`))
	require.NoError(t, err)
	return tmpl.Bind(workflow.Bindings{}.Set("3", workflow.FieldSeed, uint64(42)))
}

func newTestClient(url string) *Client {
	return NewClient(Config{BaseURL: url, Timeout: 2 * time.Second, PollTimeout: time.Second, ClientID: "test-client"})
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	var got map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/prompt", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"prompt_id": "abc-123", "number": 4, "node_errors": {}}`))
	}))
	defer srv.Close()

	h, err := newTestClient(srv.URL).Submit(context.Background(), testGraph(t))
	require.NoError(t, err)
	assert.Equal(t, Handle("abc-123"), h)

	assert.JSONEq(t, `"test-client"`, string(got["client_id"]))
	var prompt map[string]workflow.Node
	require.NoError(t, json.Unmarshal(got["prompt"], &prompt))
	assert.Equal(t, float64(42), prompt["3"].Inputs["seed"])
}

func TestSubmit_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"server error", http.StatusInternalServerError, `boom`, "status 500"},
		{"invalid graph", http.StatusBadRequest, `{"error": {"type": "prompt_outputs_failed_validation"}}`, "status 400"},
		{"malformed body", http.StatusOK, `not json`, "malformed response"},
		{"missing id", http.StatusOK, `{"number": 1}`, "no prompt_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			h, err := newTestClient(srv.URL).Submit(context.Background(), testGraph(t))
			assert.Empty(t, h)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrEngineUnreachable))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestSubmit_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).Submit(context.Background(), testGraph(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrEngineUnreachable)

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "engine.submit", appErr.Op)
}

func TestHistory(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/history/done":
			w.Write([]byte(`{"done": {
				"outputs": {"9": {"images": [{"filename": "gift_00001_.png", "subfolder": "", "type": "output"}]}},
				"status": {"status_str": "success", "completed": true}
			}}`))
		case "/history/pending":
			w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := newTestClient(srv.URL)

	t.Run("completed", func(t *testing.T) {
		m, found, err := c.History(context.Background(), "done")
		require.NoError(t, err)
		assert.True(t, found)
		require.Contains(t, m, SlotID("9"))
		slot := m["9"].(map[string]any)
		images := slot["images"].([]any)
		assert.Equal(t, "gift_00001_.png", images[0].(map[string]any)["filename"])
	})

	t.Run("no record yet", func(t *testing.T) {
		m, found, err := c.History(context.Background(), "pending")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, m)
	})
}

func TestHistory_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{BaseURL: srv.URL, PollTimeout: 50 * time.Millisecond})
	start := time.Now()
	_, found, err := c.History(context.Background(), "slow")
	assert.False(t, found)
	assert.ErrorIs(t, err, apperrors.ErrEngineUnreachable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFree(t *testing.T) {
	t.Parallel()

	var body map[string]bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/free", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(srv.URL).Free(context.Background()))
	assert.Equal(t, map[string]bool{"unload_models": true, "free_memory": true}, body)
}

func TestReady(t *testing.T) {
	t.Parallel()

	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/system_stats", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"system": {}, "devices": []}`))
	}))
	defer srv.Close()
	c := newTestClient(srv.URL)

	assert.NoError(t, c.Ready(context.Background()))
	healthy.Store(false)
	assert.ErrorIs(t, c.Ready(context.Background()), apperrors.ErrEngineUnreachable)
}

func TestClient_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	c := newTestClient(srv.URL)

	for range 5 {
		assert.Error(t, c.Free(context.Background()))
	}
	require.EqualValues(t, 5, calls.Load())

	err := c.Free(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrEngineUnreachable)
	assert.Contains(t, err.Error(), "circuit open")
	assert.EqualValues(t, 5, calls.Load(), "open circuit should not reach the server")

	// Breakers are per endpoint.
	assert.Error(t, c.Ready(context.Background()))
	assert.EqualValues(t, 6, calls.Load())
}

func TestClient_RejectionDoesNotTripBreaker(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()
	c := newTestClient(srv.URL)

	for range 10 {
		_, err := c.Submit(context.Background(), testGraph(t))
		assert.ErrorIs(t, err, apperrors.ErrEngineUnreachable)
	}
	assert.EqualValues(t, 10, calls.Load())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("COMFY_URL", "http://gpu-box:8188")
	t.Setenv("ENGINE_POLL_TIMEOUT", "500ms")

	cfg := LoadConfigFromEnv()
	assert.Equal(t, "http://gpu-box:8188", cfg.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.PollTimeout)
}
