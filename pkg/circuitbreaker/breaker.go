// Package circuitbreaker stops calls to a dependency after repeated failures and
// lets a single probe through once a cooldown has passed.
//
// States:
//   - Closed: calls allowed, consecutive failures counted
//   - Open: calls rejected until the cooldown elapses
//   - HalfOpen: one probe in flight; its outcome closes or reopens the breaker
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Do when the breaker rejects the call.
var ErrOpen = errors.New("circuit breaker open")

// State represents the state of a circuit breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds configuration for a circuit breaker.
type Config struct {
	Threshold int           // consecutive failures before opening (default: 5)
	Cooldown  time.Duration // open time before a probe is allowed (default: 30s)
	// OnStateChange is called after every transition, outside the breaker's lock.
	OnStateChange func(name string, from, to State)
}

// Breaker guards one named resource.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	onChange  func(name string, from, to State)
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probeAt  time.Time // zero when no probe is in flight
}

// New creates a closed breaker.
func New(name string, cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:      name,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		onChange:  cfg.OnStateChange,
		now:       time.Now,
	}
}

// Name returns the guarded resource's name.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a call may proceed. In half-open state only the first
// caller gets through; a probe that never reports back is replaced after another
// cooldown.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	from := b.state
	allowed := true
	now := b.now()

	switch b.state {
	case Open:
		if now.Sub(b.openedAt) < b.cooldown {
			allowed = false
			break
		}
		b.state = HalfOpen
		b.probeAt = now
	case HalfOpen:
		if !b.probeAt.IsZero() && now.Sub(b.probeAt) < b.cooldown {
			allowed = false
			break
		}
		b.probeAt = now
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return allowed
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from := b.state
	b.failures = 0
	b.state = Closed
	b.probeAt = time.Time{}
	b.mu.Unlock()

	b.notify(from, Closed)
}

// RecordFailure counts a failure. A failed probe reopens the breaker immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	from := b.state
	b.failures++
	if b.state == HalfOpen || b.failures >= b.threshold {
		b.state = Open
		b.openedAt = b.now()
		b.probeAt = time.Time{}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

// Do runs fn if the breaker allows it and records the outcome. isFailure decides
// which errors count against the resource; nil counts every error.
func (b *Breaker) Do(fn func() error, isFailure func(error) bool) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn()
	if err != nil && (isFailure == nil || isFailure(err)) {
		b.RecordFailure()
	} else {
		b.RecordSuccess()
	}
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}
