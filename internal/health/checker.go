// Package health answers liveness and readiness probes from the reachability
// of the engine, the artifact bucket and, when containerised, the slicer.
package health

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ReadinessChecker reports whether a dependency can take work.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// CheckFunc adapts a function to ReadinessChecker.
type CheckFunc func(ctx context.Context) error

// Ready calls f.
func (f CheckFunc) Ready(ctx context.Context) error { return f(ctx) }

// Status is the probe verdict for the service or one dependency.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult is one dependency's verdict.
type CheckResult struct {
	Status    Status `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Response is the body of a probe.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// IsHealthy reports that every dependency passed.
func (r *Response) IsHealthy() bool { return r.Status == StatusHealthy }

// IsReady reports that no required dependency failed.
func (r *Response) IsReady() bool {
	return r.Status == StatusHealthy || r.Status == StatusDegraded
}

// Dependency is one named check. Optional ones degrade readiness when they
// fail instead of failing it.
type Dependency struct {
	Name     string
	Checker  ReadinessChecker
	Optional bool
}

type snapshot struct {
	resp *Response
	at   time.Time
}

// Checker runs readiness checks, caching the verdict for a short ttl and
// coalescing concurrent probes into one round of checks.
type Checker struct {
	deps    []Dependency
	timeout time.Duration
	ttl     time.Duration

	group    singleflight.Group
	last     atomic.Pointer[snapshot]
	stopping atomic.Bool
}

// NewChecker returns a Checker over deps.
func NewChecker(deps ...Dependency) *Checker {
	return &Checker{deps: deps, timeout: 5 * time.Second, ttl: time.Second}
}

// Liveness reports that the process is serving. Dependencies are not consulted.
func (c *Checker) Liveness(context.Context) *Response {
	return &Response{Status: StatusHealthy}
}

// SetShuttingDown fails readiness from now on so load balancers drain the instance.
func (c *Checker) SetShuttingDown() {
	c.stopping.Store(true)
	c.last.Store(nil)
}

// Readiness checks all dependencies concurrently.
func (c *Checker) Readiness(ctx context.Context) *Response {
	if c.stopping.Load() {
		return single("shutdown", "service is shutting down")
	}
	if len(c.deps) == 0 {
		return single("dependencies", "no dependencies configured")
	}
	if s := c.last.Load(); s != nil && time.Since(s.at) < c.ttl {
		return s.resp
	}

	v, _, _ := c.group.Do("readiness", func() (any, error) {
		resp := c.runChecks(ctx)
		c.last.Store(&snapshot{resp: resp, at: time.Now()})
		return resp, nil
	})
	return v.(*Response)
}

func (c *Checker) runChecks(ctx context.Context) *Response {
	results := make([]CheckResult, len(c.deps))
	var g errgroup.Group
	for i, dep := range c.deps {
		g.Go(func() error {
			results[i] = c.check(ctx, dep)
			return nil
		})
	}
	_ = g.Wait()

	resp := &Response{Status: StatusHealthy, Checks: make(map[string]CheckResult, len(c.deps))}
	for i, dep := range c.deps {
		resp.Checks[dep.Name] = results[i]
		if results[i].Status == StatusHealthy {
			continue
		}
		if !dep.Optional {
			resp.Status = StatusUnhealthy
		} else if resp.Status == StatusHealthy {
			resp.Status = StatusDegraded
		}
	}
	return resp
}

func (c *Checker) check(ctx context.Context, dep Dependency) CheckResult {
	if dep.Checker == nil {
		return CheckResult{Status: StatusUnhealthy, Message: dep.Name + " not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := dep.Checker.Ready(ctx)
	res := CheckResult{Status: StatusHealthy, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status, res.Message = StatusUnhealthy, err.Error()
	}
	return res
}

func single(name, msg string) *Response {
	return &Response{
		Status: StatusUnhealthy,
		Checks: map[string]CheckResult{name: {Status: StatusUnhealthy, Message: msg}},
	}
}
