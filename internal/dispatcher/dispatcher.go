// Package dispatcher delivers pipeline lifecycle events to webhooks asynchronously,
// with buffering, retry and per-host circuit breaking.
package dispatcher

import (
	"context"
	"errors"

	"giftforge/pkg/cloudevent"
)

var (
	// ErrBufferFull is returned when the queue is full and the event is dropped.
	ErrBufferFull = errors.New("dispatcher buffer full, event dropped")

	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("dispatcher is closed")
)

// Dispatcher handles async delivery of events.
type Dispatcher interface {
	// Dispatch queues an event for async delivery. Non-blocking.
	Dispatch(event *Event) error

	// Stats returns current dispatcher statistics.
	Stats() Stats

	// Close stops accepting events and drains the queue until ctx expires.
	Close(ctx context.Context) error
}

// Event is a CloudEvent bound for one webhook.
type Event struct {
	Payload     *cloudevent.CloudEvent
	Destination string // webhook URL
	SigningKey  string // HMAC key, empty disables signing
	Signature   string // precomputed signature, takes precedence over SigningKey
	Requeues    int    // times requeued while the circuit was open
}

// Stats holds dispatcher statistics.
type Stats struct {
	QueueDepth    int
	Queued        int64
	Delivered     int64
	Failed        int64 // failed after retries
	Dropped       int64 // full buffer or max requeues
	Requeued      int64 // requeued due to open circuit
	RetriesTotal  int64
	BreakersTotal int
	BreakersOpen  int
}
