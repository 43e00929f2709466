package dispatcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"giftforge/internal/testutil"
	"giftforge/pkg/cloudevent"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

// webhook is a receiver whose answer is decided per request by respond.
type webhook struct {
	*httptest.Server
	hits atomic.Int32

	mu   sync.Mutex
	last *http.Request
}

func newWebhook(t *testing.T, respond func(n int32, r *http.Request) int) *webhook {
	t.Helper()
	wh := &webhook{}
	wh.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := wh.hits.Add(1)
		wh.mu.Lock()
		wh.last = r.Clone(context.Background())
		wh.mu.Unlock()
		w.WriteHeader(respond(n, r))
	}))
	t.Cleanup(wh.Close)
	return wh
}

func answer(code int) func(int32, *http.Request) int {
	return func(int32, *http.Request) int { return code }
}

func (wh *webhook) lastHeader(name string) string {
	wh.mu.Lock()
	defer wh.mu.Unlock()
	if wh.last == nil {
		return ""
	}
	return wh.last.Header.Get(name)
}

func jobEvent(jobID, url string) *Event {
	return &Event{
		Payload:     cloudevent.New("giftforge.job.submitted", "giftforge/pipeline", jobID, "", map[string]any{"stage": "image"}),
		Destination: url,
	}
}

func start(t *testing.T, cfg MemoryConfig, metrics MetricsRecorder) *MemoryDispatcher {
	t.Helper()
	d := NewMemory(cfg, metrics)
	t.Cleanup(func() { closeDispatcher(t, d) })
	return d
}

func closeDispatcher(t *testing.T, d *MemoryDispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func settle(t *testing.T, d *MemoryDispatcher, done func(Stats) bool) Stats {
	t.Helper()
	testutil.MustWaitFor(t, func() bool { return done(d.Stats()) }, testutil.WithTimeout(5*time.Second))
	return d.Stats()
}

func TestMemoryDispatcher_Deliveries(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		respond    func(int32, *http.Request) int
		wantHits   int32
		want       Stats
	}{
		{
			name:       "first attempt",
			maxRetries: 3,
			respond:    answer(http.StatusOK),
			wantHits:   1,
			want:       Stats{Queued: 1, Delivered: 1},
		},
		{
			name:       "succeeds on third attempt",
			maxRetries: 3,
			respond: func(n int32, _ *http.Request) int {
				if n < 3 {
					return http.StatusServiceUnavailable
				}
				return http.StatusAccepted
			},
			wantHits: 3,
			want:     Stats{Queued: 1, Delivered: 1, RetriesTotal: 2},
		},
		{
			name:       "client error is final",
			maxRetries: 3,
			respond:    answer(http.StatusBadRequest),
			wantHits:   1,
			want:       Stats{Queued: 1, Failed: 1},
		},
		{
			name:       "rate limited is retried",
			maxRetries: 1,
			respond:    answer(http.StatusTooManyRequests),
			wantHits:   2,
			want:       Stats{Queued: 1, Failed: 1, RetriesTotal: 1},
		},
		{
			name:       "retries exhausted",
			maxRetries: 1,
			respond:    answer(http.StatusBadGateway),
			wantHits:   2,
			want:       Stats{Queued: 1, Failed: 1, RetriesTotal: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wh := newWebhook(t, tt.respond)
			d := start(t, MemoryConfig{BufferSize: 10, Workers: 1, HTTPTimeout: time.Second, MaxRetries: tt.maxRetries}, nil)

			require.NoError(t, d.Dispatch(jobEvent("job-1", wh.URL)))
			got := settle(t, d, func(s Stats) bool { return s.Delivered+s.Failed == 1 })

			assert.Equal(t, tt.wantHits, wh.hits.Load())
			got.BreakersTotal, got.BreakersOpen = 0, 0
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMemoryDispatcher_BufferFull(t *testing.T) {
	release := make(chan struct{})
	wh := newWebhook(t, func(int32, *http.Request) int {
		<-release
		return http.StatusOK
	})
	d := NewMemory(MemoryConfig{BufferSize: 2, Workers: 1, HTTPTimeout: 5 * time.Second}, nil)

	var full int
	for i := range 5 {
		if err := d.Dispatch(jobEvent(fmt.Sprintf("job-%d", i), wh.URL)); err != nil {
			assert.ErrorIs(t, err, ErrBufferFull)
			full++
		}
	}
	close(release)

	assert.Positive(t, full)
	assert.Equal(t, int64(full), d.Stats().Dropped)
	closeDispatcher(t, d)
}

func TestMemoryDispatcher_DispatchAfterClose(t *testing.T) {
	d := NewMemory(MemoryConfig{BufferSize: 1, Workers: 1}, nil)
	closeDispatcher(t, d)

	assert.ErrorIs(t, d.Dispatch(jobEvent("job-1", "http://127.0.0.1:1")), ErrClosed)
	assert.NoError(t, d.Close(context.Background()), "second close is a no-op")
}

func TestMemoryDispatcher_CircuitBreaker(t *testing.T) {
	wh := newWebhook(t, answer(http.StatusServiceUnavailable))
	d := start(t, MemoryConfig{BufferSize: 100, Workers: 1, HTTPTimeout: time.Second, BreakerCooldown: time.Minute}, nil)

	// Five failures open the circuit; the remaining events are held back.
	for i := range 10 {
		require.NoError(t, d.Dispatch(jobEvent(fmt.Sprintf("job-%d", i), wh.URL)))
	}
	stats := settle(t, d, func(s Stats) bool { return s.Failed+s.Requeued == 10 })

	assert.Equal(t, int64(5), stats.Failed)
	assert.Equal(t, int64(5), stats.Requeued)
	assert.Equal(t, 1, stats.BreakersOpen)
	assert.Equal(t, int32(5), wh.hits.Load())
}

func TestMemoryDispatcher_MaxRequeues(t *testing.T) {
	wh := newWebhook(t, answer(http.StatusServiceUnavailable))
	d := start(t, MemoryConfig{
		BufferSize:      10,
		Workers:         1,
		HTTPTimeout:     time.Second,
		BreakerCooldown: time.Minute,
		MaxRequeues:     1,
	}, nil)

	for i := range 5 {
		require.NoError(t, d.Dispatch(jobEvent(fmt.Sprintf("warmup-%d", i), wh.URL)))
	}
	settle(t, d, func(s Stats) bool { return s.BreakersOpen == 1 })

	held := jobEvent("held", wh.URL)
	held.Requeues = 1
	require.NoError(t, d.Dispatch(held))

	stats := settle(t, d, func(s Stats) bool { return s.Dropped == 1 })
	assert.Zero(t, stats.Requeued)
}

func TestMemoryDispatcher_Signing(t *testing.T) {
	wh := newWebhook(t, answer(http.StatusOK))
	d := start(t, MemoryConfig{BufferSize: 10, Workers: 1, HTTPTimeout: 5 * time.Second}, nil)

	payload := cloudevent.New("giftforge.slice.completed", "giftforge/pipeline", "", "evt-456", nil)
	require.NoError(t, d.Dispatch(&Event{Payload: payload, Destination: wh.URL, SigningKey: "secret-key"}))
	settle(t, d, func(s Stats) bool { return s.Delivered == 1 })

	assert.Equal(t, "application/cloudevents+json", wh.lastHeader("Content-Type"))
	assert.Equal(t, "giftforge.slice.completed", wh.lastHeader("Ce-Type"))
	assert.Equal(t, "evt-456", wh.lastHeader("Ce-Id"))
	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, wh.lastHeader(cloudevent.SignatureHeader))
}

func TestMemoryDispatcher_CloseDrainsQueue(t *testing.T) {
	wh := newWebhook(t, answer(http.StatusOK))
	d := NewMemory(MemoryConfig{BufferSize: 100, Workers: 2, HTTPTimeout: 5 * time.Second}, nil)

	for i := range 10 {
		require.NoError(t, d.Dispatch(jobEvent(fmt.Sprintf("job-%d", i), wh.URL)))
	}
	closeDispatcher(t, d)

	assert.Equal(t, int32(10), wh.hits.Load())
	assert.Equal(t, int64(10), d.Stats().Delivered)
}

type recordingMetrics struct {
	delivered, failed, dropped, requeued atomic.Int64
}

func (m *recordingMetrics) RecordDispatcherDelivered(context.Context, float64) { m.delivered.Add(1) }
func (m *recordingMetrics) RecordDispatcherFailed(context.Context)             { m.failed.Add(1) }
func (m *recordingMetrics) RecordDispatcherDropped(context.Context)            { m.dropped.Add(1) }
func (m *recordingMetrics) RecordDispatcherRequeued(context.Context)           { m.requeued.Add(1) }
func (m *recordingMetrics) RecordDispatcherQueueSize(context.Context, int64)   {}

func TestMemoryDispatcher_Metrics(t *testing.T) {
	wh := newWebhook(t, func(_ int32, r *http.Request) int {
		if r.Header.Get("Ce-Subject") == "bad" {
			return http.StatusNotFound
		}
		return http.StatusNoContent
	})
	metrics := &recordingMetrics{}
	d := start(t, MemoryConfig{BufferSize: 10, Workers: 1, HTTPTimeout: time.Second}, metrics)

	require.NoError(t, d.Dispatch(jobEvent("good", wh.URL)))
	require.NoError(t, d.Dispatch(jobEvent("bad", wh.URL)))

	testutil.MustWaitFor(t, func() bool {
		return metrics.delivered.Load() == 1 && metrics.failed.Load() == 1
	}, testutil.WithTimeout(5*time.Second))
	assert.Zero(t, metrics.dropped.Load())
}

func TestMemoryDispatcher_CircuitRecovers(t *testing.T) {
	if testing.Short() {
		t.Skip("slow: waits out breaker cooldowns")
	}

	const events = 200
	recoverAt := time.Now().Add(time.Second)
	wh := newWebhook(t, func(int32, *http.Request) int {
		if time.Now().Before(recoverAt) {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	})
	d := start(t, MemoryConfig{
		BufferSize:      events,
		Workers:         8,
		HTTPTimeout:     time.Second,
		MaxRetries:      1,
		BreakerCooldown: 500 * time.Millisecond,
		MaxRequeues:     20,
	}, nil)

	for i := range events {
		require.NoError(t, d.Dispatch(jobEvent(fmt.Sprintf("job-%d", i), wh.URL)))
	}

	ok := testutil.WaitFor(t, func() bool {
		s := d.Stats()
		return s.Delivered+s.Failed+s.Dropped == events
	}, testutil.WithTimeout(20*time.Second))
	require.True(t, ok, "events did not settle: %+v", d.Stats())

	stats := d.Stats()
	t.Logf("hits=%d stats=%+v", wh.hits.Load(), stats)
	assert.Positive(t, stats.Requeued, "open circuit should hold events back")
	assert.Positive(t, stats.Delivered, "circuit should recover")
}
