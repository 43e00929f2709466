package observability

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	httpBuckets       = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	slicerBuckets     = []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600}
	dispatcherBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
)

// Metrics records the service's request, pipeline, slicer and webhook signals.
// The zero value is not usable; build one with NewMetrics.
type Metrics struct {
	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter
	httpErrors   metric.Int64Counter

	jobsSubmitted metric.Int64Counter
	submitErrors  metric.Int64Counter
	resolves      metric.Int64Counter
	published     metric.Int64Counter

	sliceDuration metric.Float64Histogram
	sliceErrors   metric.Int64Counter
	slicesActive  metric.Int64UpDownCounter

	deliveryDuration metric.Float64Histogram
	delivered        metric.Int64Counter
	deliveryFailed   metric.Int64Counter
	dropped          metric.Int64Counter
	requeued         metric.Int64Counter
	queueSize        metric.Int64Gauge
}

// NewMetrics installs a Prometheus-backed meter provider and returns the
// instruments together with the scrape handler.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := newMetrics(provider.Meter("giftforge"))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

// instruments creates instruments on one meter, keeping the first error of each.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return c
}

func (b *instruments) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	b.errs = append(b.errs, err)
	return h
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	b := &instruments{meter: meter}

	m := &Metrics{
		httpDuration: b.seconds("http_request_duration_seconds", "HTTP request latency", httpBuckets),
		httpRequests: b.counter("http_requests_total", "HTTP requests served"),
		httpErrors:   b.counter("http_errors_total", "HTTP responses with status 4xx or 5xx"),

		jobsSubmitted: b.counter("pipeline_jobs_submitted_total", "Jobs accepted by the inference engine"),
		submitErrors:  b.counter("pipeline_submit_errors_total", "Job submissions the engine did not accept"),
		resolves:      b.counter("pipeline_resolve_total", "Status resolutions by outcome"),
		published:     b.counter("pipeline_artifacts_published_total", "Artifact publish attempts"),

		sliceDuration: b.seconds("slicer_duration_seconds", "Slicing run duration", slicerBuckets),
		sliceErrors:   b.counter("slicer_errors_total", "Failed slicing runs by kind"),

		deliveryDuration: b.seconds("dispatcher_duration_seconds", "Webhook delivery latency", dispatcherBuckets),
		delivered:        b.counter("dispatcher_delivered_total", "Webhook events delivered"),
		deliveryFailed:   b.counter("dispatcher_failed_total", "Webhook events that failed after retries"),
		dropped:          b.counter("dispatcher_dropped_total", "Webhook events dropped"),
		requeued:         b.counter("dispatcher_requeued_total", "Webhook events requeued behind an open circuit"),
	}

	var err error
	m.slicesActive, err = meter.Int64UpDownCounter("slicer_active", metric.WithDescription("Slicing runs in progress"))
	b.errs = append(b.errs, err)
	m.queueSize, err = meter.Int64Gauge("dispatcher_queue_size", metric.WithDescription("Webhook events waiting in the queue"))
	b.errs = append(b.errs, err)

	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(methodAttr(method), pathAttr(path), statusAttr(statusCode))
	m.httpDuration.Record(ctx, durationSeconds, attrs)
	m.httpRequests.Add(ctx, 1, attrs)
	if statusCode >= 400 {
		m.httpErrors.Add(ctx, 1, attrs)
	}
}

// RecordJobSubmitted records an engine submission for a stage.
func (m *Metrics) RecordJobSubmitted(ctx context.Context, stage string, success bool) {
	if success {
		m.jobsSubmitted.Add(ctx, 1, metric.WithAttributes(stageAttr(stage)))
		return
	}
	m.submitErrors.Add(ctx, 1, metric.WithAttributes(stageAttr(stage)))
}

// RecordResolve records the outcome of one status resolution.
func (m *Metrics) RecordResolve(ctx context.Context, outcome string) {
	m.resolves.Add(ctx, 1, metric.WithAttributes(outcomeAttr(outcome)))
}

// RecordArtifactPublished records one publish attempt.
func (m *Metrics) RecordArtifactPublished(ctx context.Context, kind string, success bool) {
	m.published.Add(ctx, 1, metric.WithAttributes(kindAttr(kind), successAttr(success)))
}

// RecordSliceStarted marks a slicing run as in progress.
func (m *Metrics) RecordSliceStarted(ctx context.Context) {
	m.slicesActive.Add(ctx, 1)
}

// RecordSliceCompleted records a finished slicing run. errKind is empty on success.
func (m *Metrics) RecordSliceCompleted(ctx context.Context, errKind string, durationSeconds float64) {
	m.slicesActive.Add(ctx, -1)
	m.sliceDuration.Record(ctx, durationSeconds, metric.WithAttributes(successAttr(errKind == "")))
	if errKind != "" {
		m.sliceErrors.Add(ctx, 1, metric.WithAttributes(kindAttr(errKind)))
	}
}

func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, durationSeconds float64) {
	m.delivered.Add(ctx, 1)
	m.deliveryDuration.Record(ctx, durationSeconds)
}

func (m *Metrics) RecordDispatcherFailed(ctx context.Context) { m.deliveryFailed.Add(ctx, 1) }
func (m *Metrics) RecordDispatcherDropped(ctx context.Context) { m.dropped.Add(ctx, 1) }
func (m *Metrics) RecordDispatcherRequeued(ctx context.Context) { m.requeued.Add(ctx, 1) }

func (m *Metrics) RecordDispatcherQueueSize(ctx context.Context, size int64) {
	m.queueSize.Record(ctx, size)
}
