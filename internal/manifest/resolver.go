// Package manifest turns engine history records into resolved artifacts.
//
// Resolution is a single bounded probe: it asks the engine once, scans the requested
// output slots for file descriptors, and keeps only files that exist on disk right now.
// The engine cannot report a failed job, so "still running" and "finished with nothing"
// both come back as StatusProcessing.
package manifest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"giftforge/internal/artifact"
	"giftforge/internal/config"
	"giftforge/internal/engine"
)

// Status is the externally observable state of an engine job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusUnknown    Status = "unknown"
)

// Outcome labels a resolution for metrics.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomePending     Outcome = "pending"     // engine has no record yet
	OutcomeEmpty       Outcome = "empty"       // record present, no file resolved
	OutcomeUnreachable Outcome = "unreachable" // transport or protocol failure
)

// HistoryClient reads job history from the engine.
type HistoryClient interface {
	History(ctx context.Context, h engine.Handle) (engine.Manifest, bool, error)
}

// Result is the outcome of one resolution.
type Result struct {
	Status    Status
	Artifacts []artifact.Artifact
	Outcome   Outcome
	// Reason is set when the status was forced to processing by an engine failure.
	Reason error
}

// Config locates the engine's output directory.
type Config struct {
	OutputDir       string
	FallbackSubdirs []string
}

// LoadConfigFromEnv loads resolver configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		OutputDir:       config.GetEnv("COMFY_OUTPUT_DIR", "./comfy/output"),
		FallbackSubdirs: config.GetListEnv("OUTPUT_FALLBACK_SUBDIRS", []string{"mesh"}),
	}
}

// Resolver resolves engine manifests against the output directory.
type Resolver struct {
	history   HistoryClient
	root      string
	fallbacks []string
	observe   func(ctx context.Context, r Result)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithObserver registers a callback run after every resolution.
func WithObserver(fn func(ctx context.Context, r Result)) Option {
	return func(r *Resolver) { r.observe = fn }
}

// NewResolver creates a resolver.
func NewResolver(history HistoryClient, cfg Config, opts ...Option) *Resolver {
	r := &Resolver{
		history:   history,
		root:      cfg.OutputDir,
		fallbacks: cfg.FallbackSubdirs,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve probes the engine once for h and resolves files under the given slots.
// It never returns an error: engine failures are reported as StatusProcessing with
// Reason set, so callers poll again.
func (r *Resolver) Resolve(ctx context.Context, h engine.Handle, slots []engine.SlotID) Result {
	res := r.resolve(ctx, h, slots)
	if r.observe != nil {
		r.observe(ctx, res)
	}
	return res
}

func (r *Resolver) resolve(ctx context.Context, h engine.Handle, slots []engine.SlotID) Result {
	log := slog.With("jobId", string(h))

	m, found, err := r.history.History(ctx, h)
	if err != nil {
		log.Warn("Engine history unavailable, reporting processing", "error", err)
		return Result{Status: StatusProcessing, Outcome: OutcomeUnreachable, Reason: err}
	}
	if !found {
		return Result{Status: StatusProcessing, Outcome: OutcomePending}
	}

	seen := make(map[string]bool)
	var artifacts []artifact.Artifact
	for _, slot := range slots {
		record, ok := m[slot]
		if !ok {
			continue
		}
		for _, ref := range Scan(record) {
			path, ok := r.locate(ref)
			if !ok {
				log.Warn("Dropping unresolved output", "slot", string(slot), "file", ref.Filename, "subfolder", ref.Subfolder)
				continue
			}
			if seen[path] {
				continue
			}
			seen[path] = true
			artifacts = append(artifacts, artifact.New(path))
		}
	}

	if len(artifacts) == 0 {
		return Result{Status: StatusProcessing, Outcome: OutcomeEmpty}
	}
	log.Debug("Resolved outputs", "count", len(artifacts))
	return Result{Status: StatusCompleted, Outcome: OutcomeCompleted, Artifacts: artifacts}
}

// Candidates returns the paths tried for ref, in order.
func (r *Resolver) Candidates(ref FileRef) []string {
	if artifact.ValidatePath("filename", ref.Filename) != nil {
		return nil
	}
	candidates := []string{filepath.Join(r.root, ref.Filename)}
	if ref.Subfolder != "" && artifact.ValidatePath("subfolder", ref.Subfolder) == nil {
		candidates = append(candidates, filepath.Join(r.root, ref.Subfolder, ref.Filename))
	}
	base := filepath.Base(ref.Filename)
	for _, dir := range r.fallbacks {
		if artifact.ValidatePath("fallback", dir) != nil {
			continue
		}
		candidates = append(candidates, filepath.Join(r.root, dir, base))
	}
	return candidates
}

// locate returns the first candidate that exists as a regular file. Absence is treated
// as transient: the file may not be flushed yet and will be found on a later poll.
func (r *Resolver) locate(ref FileRef) (string, bool) {
	for _, path := range r.Candidates(ref) {
		info, err := os.Stat(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				slog.Debug("Stat failed", "path", path, "error", err)
			}
			continue
		}
		if info.Mode().IsRegular() {
			return path, true
		}
	}
	return "", false
}
