package dispatcher

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"giftforge/pkg/backoff"
	"giftforge/pkg/circuitbreaker"
	"giftforge/pkg/cloudevent"
)

// MetricsRecorder receives delivery outcomes. It may be nil.
type MetricsRecorder interface {
	RecordDispatcherDelivered(ctx context.Context, durationSeconds float64)
	RecordDispatcherFailed(ctx context.Context)
	RecordDispatcherDropped(ctx context.Context)
	RecordDispatcherRequeued(ctx context.Context)
	RecordDispatcherQueueSize(ctx context.Context, size int64)
}

// retryBackoff spreads retries from many workers hitting one failing host.
var retryBackoff = &backoff.Config{Jitter: 0.2}

// queueReportInterval is how often the queue depth gauge is refreshed.
const queueReportInterval = 5 * time.Second

// MemoryDispatcher delivers events from a bounded in-process queue with a fixed
// worker pool. Nothing is persisted: events still queued when Close times out are lost.
type MemoryDispatcher struct {
	cfg      MemoryConfig
	queue    chan *Event
	sender   *cloudevent.Sender
	breakers *circuitbreaker.Registry
	metrics  MetricsRecorder
	log      *slog.Logger

	n counters

	workers sync.WaitGroup
	stop    chan struct{}
	closed  atomic.Bool
}

type counters struct {
	queued, delivered, failed, dropped, requeued, retries atomic.Int64
}

// NewMemory starts a dispatcher with cfg.Workers workers.
func NewMemory(cfg MemoryConfig, metrics MetricsRecorder) *MemoryDispatcher {
	cfg = cfg.withDefaults()
	log := slog.With("component", "dispatcher")

	d := &MemoryDispatcher{
		cfg:    cfg,
		queue:  make(chan *Event, cfg.BufferSize),
		sender: cloudevent.NewSender(cfg.HTTPTimeout),
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: defaultBreakerThreshold,
			Cooldown:  cfg.BreakerCooldown,
			OnStateChange: func(host string, from, to circuitbreaker.State) {
				log.Info("Webhook circuit changed state", "destination", host, "from", from.String(), "to", to.String())
			},
		}),
		metrics: metrics,
		log:     log,
		stop:    make(chan struct{}),
	}

	d.workers.Add(cfg.Workers)
	for range cfg.Workers {
		go d.run()
	}
	if metrics != nil {
		go d.reportQueueDepth()
	}

	log.Info("Webhook dispatcher started", "workers", cfg.Workers, "buffer", cfg.BufferSize, "maxRetries", cfg.MaxRetries)
	return d
}

// Dispatch enqueues event without blocking.
func (d *MemoryDispatcher) Dispatch(event *Event) error {
	if d.closed.Load() {
		return ErrClosed
	}
	select {
	case d.queue <- event:
		d.n.queued.Add(1)
		return nil
	default:
		d.drop(event, "buffer full")
		return ErrBufferFull
	}
}

// Stats returns a snapshot of the counters.
func (d *MemoryDispatcher) Stats() Stats {
	b := d.breakers.Stats()
	return Stats{
		QueueDepth:    len(d.queue),
		Queued:        d.n.queued.Load(),
		Delivered:     d.n.delivered.Load(),
		Failed:        d.n.failed.Load(),
		Dropped:       d.n.dropped.Load(),
		Requeued:      d.n.requeued.Load(),
		RetriesTotal:  d.n.retries.Load(),
		BreakersTotal: b.Total,
		BreakersOpen:  b.Open,
	}
}

// Close stops accepting events and waits for the workers to drain the queue.
func (d *MemoryDispatcher) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}
	d.log.Info("Dispatcher shutting down", "queued", len(d.queue))
	close(d.stop)

	done := make(chan struct{})
	go func() {
		d.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		s := d.Stats()
		d.log.Info("Dispatcher shutdown complete", "delivered", s.Delivered, "failed", s.Failed, "dropped", s.Dropped)
		return nil
	case <-ctx.Done():
		d.log.Warn("Dispatcher shutdown timed out", "remaining", len(d.queue))
		return ctx.Err()
	}
}

func (d *MemoryDispatcher) run() {
	defer d.workers.Done()
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *MemoryDispatcher) reportQueueDepth() {
	ticker := time.NewTicker(queueReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.metrics.RecordDispatcherQueueSize(context.Background(), int64(len(d.queue)))
		}
	}
}

// deliver sends one event through its host's breaker. Events meeting an open
// circuit are put back after the cooldown instead of being attempted.
func (d *MemoryDispatcher) deliver(event *Event) {
	host := extractHost(event.Destination)
	breaker := d.breakers.Get(host)
	if !breaker.Allow() {
		d.retryLater(event, host)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.deliveryBudget())
	defer cancel()

	start := time.Now()
	if err := d.send(ctx, event); err != nil {
		breaker.RecordFailure()
		d.n.failed.Add(1)
		if d.metrics != nil {
			d.metrics.RecordDispatcherFailed(ctx)
		}
		d.log.Warn("Delivery failed", "destination", host, "type", event.Payload.Type, "subject", event.Payload.Subject, "error", err)
		return
	}

	breaker.RecordSuccess()
	d.n.delivered.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDelivered(ctx, time.Since(start).Seconds())
	}
}

// send posts event, retrying transport errors and retryable statuses.
func (d *MemoryDispatcher) send(ctx context.Context, event *Event) error {
	opts := cloudevent.SendOptions{SigningKey: event.SigningKey, Signature: event.Signature}

	var err error
	for attempt := range d.cfg.MaxRetries + 1 {
		if attempt > 0 {
			d.n.retries.Add(1)
			if werr := backoff.Wait(ctx, attempt, retryBackoff); werr != nil {
				return werr
			}
		}
		if err = d.sender.Send(ctx, event.Destination, event.Payload, opts); err == nil || cloudevent.IsClientError(err) {
			return err
		}
	}
	return err
}

// retryLater re-enqueues event once the breaker cooldown has passed.
func (d *MemoryDispatcher) retryLater(event *Event, host string) {
	if event.Requeues >= d.cfg.MaxRequeues {
		d.drop(event, "max requeues reached")
		return
	}
	if d.closed.Load() {
		d.drop(event, "circuit open during shutdown")
		return
	}

	event.Requeues++
	d.n.requeued.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherRequeued(context.Background())
	}

	time.AfterFunc(d.cfg.BreakerCooldown, func() {
		if d.closed.Load() {
			d.drop(event, "dispatcher closed before requeue")
			return
		}
		select {
		case d.queue <- event:
			d.log.Debug("Event requeued", "destination", host, "type", event.Payload.Type, "requeues", event.Requeues)
		default:
			d.drop(event, "buffer full on requeue")
		}
	})
}

func (d *MemoryDispatcher) drop(event *Event, reason string) {
	d.n.dropped.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDropped(context.Background())
	}
	d.log.Warn("Event dropped", "reason", reason, "destination", extractHost(event.Destination), "type", event.Payload.Type, "requeues", event.Requeues)
}

// deliveryBudget bounds one delivery including retries.
func (d *MemoryDispatcher) deliveryBudget() time.Duration {
	retries := time.Duration(d.cfg.MaxRetries)
	return (retries+1)*d.cfg.HTTPTimeout + retries*backoff.Ceiling(retryBackoff)
}

// extractHost keys breakers by webhook host, falling back to the raw string.
func extractHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

var _ Dispatcher = (*MemoryDispatcher)(nil)
