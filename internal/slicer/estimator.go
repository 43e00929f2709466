// Package slicer runs the external slicing engine on a mesh and turns its textual
// report into a weight and price quote.
//
// Slicing is the one blocking operation in the pipeline. Each invocation works on
// uniquely named files in the work directory, so concurrent requests never collide,
// and both files are removed on every exit path.
package slicer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"giftforge/internal/apperrors"

	"github.com/google/uuid"
)

// SliceConfig selects per-request slicing options.
type SliceConfig struct {
	Material string
}

// Report is the quote for one slicing run.
type Report struct {
	VolumeCM3   float64
	PrintTime   string
	WeightGrams float64
	Price       float64
	Material    string
	GcodeURL    string
	Duration    time.Duration
}

// GcodePublisher uploads finished G-code.
type GcodePublisher interface {
	Publish(ctx context.Context, localPath, name string) (string, error)
}

// Observer is notified after every estimate with its duration and error.
type Observer func(ctx context.Context, d time.Duration, err error)

// Estimator slices meshes and quotes them.
type Estimator struct {
	runner    Runner
	path      string
	profile   string
	workDir   string
	timeout   time.Duration
	bedCenter string
	materials *Materials
	publisher GcodePublisher
	observe   Observer
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithPublisher uploads G-code after a successful slice.
func WithPublisher(p GcodePublisher) Option {
	return func(e *Estimator) { e.publisher = p }
}

// WithMaterials replaces the single cost model with named material profiles.
func WithMaterials(m *Materials) Option {
	return func(e *Estimator) { e.materials = m }
}

// WithObserver registers a callback run after every estimate.
func WithObserver(fn Observer) Option {
	return func(e *Estimator) { e.observe = fn }
}

// NewEstimator creates an estimator and its work directory.
func NewEstimator(runner Runner, cfg Config, opts ...Option) (*Estimator, error) {
	if runner == nil {
		return nil, fmt.Errorf("slicer: runner is required")
	}
	workDir, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("slicer: work dir: %w", err)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("slicer: failed to create work dir: %w", err)
	}

	profile := cfg.Profile
	if profile != "" {
		if profile, err = filepath.Abs(profile); err != nil {
			return nil, fmt.Errorf("slicer: profile: %w", err)
		}
	}

	materials, err := NewMaterials(cfg.Cost, nil, "")
	if err != nil {
		return nil, err
	}

	e := &Estimator{
		runner:    runner,
		path:      cfg.Path,
		profile:   profile,
		workDir:   workDir,
		timeout:   cfg.Timeout,
		bedCenter: cfg.BedCenter,
		materials: materials,
	}
	if e.timeout <= 0 {
		e.timeout = 5 * time.Minute
	}
	if e.bedCenter == "" {
		e.bedCenter = "125,105"
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// WorkDir returns the absolute work directory.
func (e *Estimator) WorkDir() string { return e.workDir }

// Materials returns the configured material profiles.
func (e *Estimator) Materials() *Materials { return e.materials }

// Stage writes an uploaded mesh into the work directory under a unique name and
// returns its path. The caller hands the path to Estimate, which removes it.
func (e *Estimator) Stage(r io.Reader, prefix string) (string, error) {
	if prefix == "" {
		prefix = "upload"
	}
	path := filepath.Join(e.workDir, fmt.Sprintf("%s_%s.stl", prefix, uuid.NewString()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", apperrors.Internal("slicer.stage", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", apperrors.Internal("slicer.stage", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", apperrors.Internal("slicer.stage", err)
	}
	return path, nil
}

// Estimate slices meshPath and quotes the result. It owns meshPath: the mesh and the
// generated G-code are removed before it returns, whatever the outcome.
func (e *Estimator) Estimate(ctx context.Context, meshPath string, sc SliceConfig) (report *Report, err error) {
	start := time.Now()
	gcodePath := strings.TrimSuffix(meshPath, filepath.Ext(meshPath)) + ".gcode"
	log := slog.With("component", "slicer", "file", filepath.Base(meshPath))

	defer func() {
		removeQuietly(meshPath)
		removeQuietly(gcodePath)
		if e.observe != nil {
			e.observe(ctx, time.Since(start), err)
		}
	}()

	model, ok := e.materials.Lookup(sc.Material)
	if !ok {
		return nil, apperrors.Validation("material", fmt.Sprintf("unknown material %q", sc.Material))
	}
	if _, statErr := os.Stat(meshPath); statErr != nil {
		return nil, apperrors.SourceMissing("slicer.estimate", filepath.Base(meshPath))
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, runErr := e.runner.Run(runCtx, Command{
		Path:    e.path,
		Args:    e.args(meshPath, gcodePath),
		Dir:     e.workDir,
		Profile: e.profile,
	})
	captured := out.String()

	if !fileExists(gcodePath) {
		err := classify(runErr, captured)
		log.Error("Slicing produced no output", "error", err, "output", captured)
		return nil, err
	}
	if runErr != nil {
		log.Warn("Slicer reported an error but produced output", "error", runErr)
	}

	stats := e.readStats(gcodePath).merge(ParseStats(strings.NewReader(captured)))
	weight := model.Weight(stats.VolumeCM3)
	report = &Report{
		VolumeCM3:   stats.VolumeCM3,
		PrintTime:   stats.PrintTime,
		WeightGrams: weight,
		Price:       model.Price(weight),
		Material:    sc.Material,
	}

	if e.publisher != nil {
		url, pubErr := e.publisher.Publish(ctx, gcodePath, filepath.Base(gcodePath))
		if pubErr != nil {
			log.Warn("Failed to publish G-code", "error", pubErr)
		} else {
			report.GcodeURL = url
		}
	}

	report.Duration = time.Since(start)
	log.Info("Sliced mesh", "volumeCm3", report.VolumeCM3, "weight", report.WeightGrams,
		"price", report.Price, "printTime", report.PrintTime, "duration", report.Duration)
	return report, nil
}

// args centers the part, drops it onto the bed and exports G-code.
func (e *Estimator) args(in, out string) []string {
	return []string{
		"--export-gcode",
		"--center", e.bedCenter,
		"--ensure-on-bed",
		"--load", e.profile,
		"--output", out,
		in,
	}
}

func (e *Estimator) readStats(gcodePath string) Stats {
	f, err := os.Open(gcodePath)
	if err != nil {
		return Stats{PrintTime: UnknownPrintTime}
	}
	defer f.Close()
	return ParseStats(f)
}

// geometryDiagnosis matches slicer messages that blame the model itself.
var geometryDiagnosis = regexp.MustCompile(`(?i)manifold|empty layers?|no extrusions|nothing to print|outside of the print|could not slice|object.*(too (big|large)|does not fit)`)

// classify decides why no G-code was written. A clean exit, or a failed exit whose
// output blames the model, is a geometry rejection. Anything else is a process failure
// carrying the captured output.
func classify(runErr error, captured string) error {
	if runErr == nil {
		return apperrors.SlicerRejectedGeometry(captured)
	}
	var exitErr *ExitError
	if errors.As(runErr, &exitErr) && geometryDiagnosis.MatchString(captured) {
		return apperrors.SlicerRejectedGeometry(captured)
	}
	return apperrors.SlicerProcessFailed(captured, runErr)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to remove slicer file", "path", path, "error", err)
	}
}
