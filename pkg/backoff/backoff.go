// Package backoff computes retry delays and waits them out under a context.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

const (
	defaultInitial = 100 * time.Millisecond
	defaultMax     = 5 * time.Second
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
	// Jitter spreads each delay uniformly over [d*(1-Jitter), d]. 0 disables it.
	Jitter float64
}

func (c *Config) bounds() (initial, ceiling time.Duration) {
	initial, ceiling = defaultInitial, defaultMax
	if c != nil {
		if c.Initial > 0 {
			initial = c.Initial
		}
		if c.Max > 0 {
			ceiling = c.Max
		}
	}
	return initial, ceiling
}

// Ceiling returns the largest delay Exponential can return for cfg.
func Ceiling(cfg *Config) time.Duration {
	_, ceiling := cfg.bounds()
	return ceiling
}

// Exponential returns the delay before retry number attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, etc.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial, ceiling := cfg.bounds()
	if attempt < 1 {
		attempt = 1
	}
	d := min(float64(initial)*math.Pow(2.0, float64(attempt-1)), float64(ceiling))
	if cfg != nil && cfg.Jitter > 0 {
		j := min(cfg.Jitter, 1)
		d -= d * j * rand.Float64()
	}
	return time.Duration(d)
}

// Wait sleeps for the delay of attempt, returning early with ctx.Err() when ctx ends.
func Wait(ctx context.Context, attempt int, cfg *Config) error {
	t := time.NewTimer(Exponential(attempt, cfg))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
