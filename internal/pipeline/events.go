package pipeline

import (
	"log/slog"
	"slices"

	"giftforge/internal/dispatcher"
	"giftforge/pkg/cloudevent"
)

// Event types for pipeline lifecycle webhooks.
const (
	EventJobSubmitted   = "giftforge.job.submitted"
	EventJobCompleted   = "giftforge.job.completed"
	EventSliceCompleted = "giftforge.slice.completed"
	EventSliceFailed    = "giftforge.slice.failed"
)

const eventSource = "giftforge/pipeline"

// Notifier turns pipeline milestones into CloudEvents and queues them on a dispatcher.
// A nil *Notifier discards everything.
type Notifier struct {
	sink       dispatcher.Dispatcher
	url        string
	signingKey string
	filter     []string
}

// NewNotifier returns nil when url is empty, which disables notifications.
func NewNotifier(sink dispatcher.Dispatcher, url, signingKey string, filter []string) *Notifier {
	if sink == nil || url == "" {
		return nil
	}
	return &Notifier{sink: sink, url: url, signingKey: signingKey, filter: filter}
}

// Allowed reports whether eventType passes the filter. An empty filter allows all.
func (n *Notifier) Allowed(eventType string) bool {
	if len(n.filter) == 0 {
		return true
	}
	return slices.Contains(n.filter, eventType)
}

func (n *Notifier) emit(eventType, subject string, data map[string]any) {
	if n == nil || !n.Allowed(eventType) {
		return
	}
	event := &dispatcher.Event{
		Payload:     cloudevent.New(eventType, eventSource, subject, "", data),
		Destination: n.url,
		SigningKey:  n.signingKey,
	}
	if err := n.sink.Dispatch(event); err != nil {
		slog.Warn("Pipeline event not queued", "type", eventType, "subject", subject, "error", err)
	}
}

func (n *Notifier) jobSubmitted(stage string, jobID string) {
	n.emit(EventJobSubmitted, jobID, map[string]any{
		"jobId": jobID,
		"stage": stage,
	})
}

func (n *Notifier) jobCompleted(stage string, jobID string, urls []string) {
	n.emit(EventJobCompleted, jobID, map[string]any{
		"jobId": jobID,
		"stage": stage,
		"urls":  urls,
	})
}

func (n *Notifier) sliceCompleted(resp *SliceResponse) {
	n.emit(EventSliceCompleted, resp.GcodeURL, map[string]any{
		"gcodeUrl":  resp.GcodeURL,
		"weight":    resp.Weight,
		"printTime": resp.PrintTime,
		"price":     resp.Price,
		"material":  resp.Material,
	})
}

func (n *Notifier) sliceFailed(err error) {
	n.emit(EventSliceFailed, "", map[string]any{
		"error": err.Error(),
	})
}
