// Package testutil holds helpers shared by the package and end-to-end tests.
package testutil

import (
	"testing"
	"time"
)

type waitOptions struct {
	timeout  time.Duration
	interval time.Duration
}

// WaitOption tunes WaitFor.
type WaitOption func(*waitOptions)

// WithTimeout bounds the wait (default 10s).
func WithTimeout(d time.Duration) WaitOption {
	return func(o *waitOptions) { o.timeout = d }
}

// WithInterval sets the poll interval (default 25ms).
func WithInterval(d time.Duration) WaitOption {
	return func(o *waitOptions) { o.interval = d }
}

// WaitFor polls cond until it holds or the timeout passes, reporting which.
// cond is always evaluated at least once, and once more at the deadline.
func WaitFor(tb testing.TB, cond func() bool, opts ...WaitOption) bool {
	tb.Helper()

	o := waitOptions{timeout: 10 * time.Second, interval: 25 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}

	deadline := time.NewTimer(o.timeout)
	defer deadline.Stop()
	tick := time.NewTicker(o.interval)
	defer tick.Stop()

	for {
		if cond() {
			return true
		}
		select {
		case <-deadline.C:
			return cond()
		case <-tick.C:
		}
	}
}

// MustWaitFor is WaitFor that fails the test on timeout.
func MustWaitFor(tb testing.TB, cond func() bool, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, cond, opts...) {
		tb.Fatal("condition not met before timeout")
	}
}
