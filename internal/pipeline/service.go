// Package pipeline wires the generation stages into the operations the API exposes:
// submit a text-to-image job, bridge a chosen image into an image-to-mesh job, poll
// either for published artifacts, and slice an uploaded mesh into a quote.
//
// The service is stateless. A job exists only as an engine handle; every status
// call resolves and publishes from scratch.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"
	"text/template"
	"time"

	"giftforge/internal/apperrors"
	"giftforge/internal/artifact"
	"giftforge/internal/engine"
	"giftforge/internal/manifest"
	"giftforge/internal/observability"
	"giftforge/internal/slicer"
	"giftforge/internal/workflow"
)

// Validation limits
const (
	maxJobIDLength  = 128
	maxPromptLength = 4000
	maxGuidance     = 30
	maxSteps        = 150
	minDimension    = 64
	maxDimension    = 2048
)

// jobIDPattern matches engine prompt ids (UUIDs) and other opaque handles.
var jobIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// Engine submits graphs and reclaims device memory.
type Engine interface {
	Submit(ctx context.Context, graph *workflow.Graph) (engine.Handle, error)
	Free(ctx context.Context) error
}

// Resolver resolves a handle's output slots to local files.
type Resolver interface {
	Resolve(ctx context.Context, h engine.Handle, slots []engine.SlotID) manifest.Result
}

// Publisher publishes resolved artifacts, dropping failures.
type Publisher interface {
	PublishAll(ctx context.Context, artifacts []artifact.Artifact) []artifact.Artifact
}

// Bridger moves a stage-1 output into the engine's input directory.
type Bridger interface {
	Bridge(filename string) error
}

// Estimator stages uploaded meshes and slices them.
type Estimator interface {
	Stage(r io.Reader, prefix string) (string, error)
	Estimate(ctx context.Context, meshPath string, sc slicer.SliceConfig) (*slicer.Report, error)
}

// Deps are the components a Service drives.
type Deps struct {
	Engine    Engine
	Resolver  Resolver
	Publisher Publisher
	Bridge    Bridger
	Estimator Estimator
	Stages    map[string]Stage
}

// Service runs pipeline operations.
type Service struct {
	engine    Engine
	resolver  Resolver
	publisher Publisher
	bridge    Bridger
	estimator Estimator
	stages    map[string]Stage
	order     []string

	notifier *Notifier
	metrics  *observability.Metrics
	prompt   *template.Template
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier emits lifecycle CloudEvents.
func WithNotifier(n *Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics records submissions and slicing runs.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithPromptTemplate wraps the visual prompt before binding. The template is
// executed with the request as data, e.g. "{{.VisualPrompt}}, studio lighting".
func WithPromptTemplate(t *template.Template) Option {
	return func(s *Service) { s.prompt = t }
}

// NewService creates a pipeline service. Both stages must be present.
func NewService(deps Deps, opts ...Option) (*Service, error) {
	for _, name := range []string{StageImage, StageMesh} {
		if _, ok := deps.Stages[name]; !ok {
			return nil, fmt.Errorf("pipeline: stage %q is not configured", name)
		}
	}
	s := &Service{
		engine:    deps.Engine,
		resolver:  deps.Resolver,
		publisher: deps.Publisher,
		bridge:    deps.Bridge,
		estimator: deps.Estimator,
		stages:    deps.Stages,
		order:     []string{StageImage, StageMesh},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GenerateImages binds and submits a text-to-image job.
func (s *Service) GenerateImages(ctx context.Context, req *ImageRequest) (*JobResponse, error) {
	if err := validateImageRequest(req); err != nil {
		return nil, err
	}

	prompt, err := s.renderPrompt(req)
	if err != nil {
		return nil, err
	}

	stage := s.stages[StageImage]
	graph := stage.Template.Bind(stage.Profile.Bindings(workflow.Params{
		Prompt:   prompt,
		Guidance: req.Guidance,
		Steps:    req.Steps,
		Width:    req.Width,
		Height:   req.Height,
	}))
	return s.submit(ctx, StageImage, graph)
}

// GenerateMesh bridges the selected image into the engine input and submits the
// image-to-mesh job. Freeing engine memory first is best effort.
func (s *Service) GenerateMesh(ctx context.Context, req *MeshRequest) (*JobResponse, error) {
	filename, err := imageName(req.ImageURL)
	if err != nil {
		return nil, err
	}
	logger := slog.With("stage", StageMesh, "file", filename)

	if err := s.engine.Free(ctx); err != nil {
		logger.Warn("Engine free failed, submitting anyway", "error", err)
	}

	if err := s.bridge.Bridge(filename); err != nil {
		logger.Error("Bridge failed", "error", err)
		return nil, err
	}

	stage := s.stages[StageMesh]
	graph := stage.Template.Bind(stage.Profile.Bindings(workflow.Params{Image: filename}))
	return s.submit(ctx, StageMesh, graph)
}

func (s *Service) submit(ctx context.Context, stage string, graph *workflow.Graph) (*JobResponse, error) {
	h, err := s.engine.Submit(ctx, graph)
	if s.metrics != nil {
		s.metrics.RecordJobSubmitted(ctx, stage, err == nil)
	}
	if err != nil {
		slog.Error("Job submission failed", "stage", stage, "error", err)
		return nil, err
	}

	slog.Info("Job submitted", "stage", stage, "jobId", h)
	s.notifier.jobSubmitted(stage, string(h))
	return &JobResponse{Status: manifest.StatusQueued, JobID: string(h)}, nil
}

// Status resolves and publishes the outputs of a job. An empty stage checks the
// output slots of every stage. Completed is reported only once at least one
// artifact was published; everything short of that is processing.
func (s *Service) Status(ctx context.Context, jobID, stage string) (*StatusResponse, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, err
	}
	slots, err := s.slots(stage)
	if err != nil {
		return nil, err
	}
	logger := slog.With("jobId", jobID, "stage", stage)

	res := s.resolver.Resolve(ctx, engine.Handle(jobID), slots)
	if res.Reason != nil {
		logger.Warn("Engine unavailable, reporting processing", "error", res.Reason)
	}
	if res.Status != manifest.StatusCompleted {
		return &StatusResponse{Status: manifest.StatusProcessing}, nil
	}

	published := s.publisher.PublishAll(ctx, res.Artifacts)
	if len(published) == 0 {
		logger.Warn("No artifact could be published", "resolved", len(res.Artifacts))
		return &StatusResponse{Status: manifest.StatusProcessing}, nil
	}

	urls := make([]string, len(published))
	for i, a := range published {
		urls[i] = a.URL
	}
	logger.Info("Job completed", "artifacts", len(urls))
	s.notifier.jobCompleted(stage, jobID, urls)
	return &StatusResponse{Status: manifest.StatusCompleted, Images: urls}, nil
}

// slots returns the output slots for stage, or the ordered union of every stage's
// slots when stage is empty.
func (s *Service) slots(stage string) ([]engine.SlotID, error) {
	if stage != "" {
		st, ok := s.stages[stage]
		if !ok {
			return nil, apperrors.Validation("stage", fmt.Sprintf("unknown stage %q, want %q or %q", stage, StageImage, StageMesh))
		}
		return st.Slots(), nil
	}

	var out []engine.SlotID
	seen := make(map[engine.SlotID]bool)
	for _, name := range s.order {
		for _, slot := range s.stages[name].Slots() {
			if !seen[slot] {
				seen[slot] = true
				out = append(out, slot)
			}
		}
	}
	return out, nil
}

// Slice stages an uploaded mesh and quotes it. Geometry rejections and slicer
// failures are answered with an error-status response rather than an error, so
// callers can show the message. Other failures are returned as errors.
func (s *Service) Slice(ctx context.Context, mesh io.Reader, sc slicer.SliceConfig) (*SliceResponse, error) {
	meshPath, err := s.estimator.Stage(mesh, "gift")
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordSliceStarted(ctx)
	}
	start := time.Now()
	report, err := s.estimator.Estimate(ctx, meshPath, sc)
	if s.metrics != nil {
		s.metrics.RecordSliceCompleted(ctx, apperrors.Kind(err), time.Since(start).Seconds())
	}
	if err != nil {
		s.notifier.sliceFailed(err)
		if errors.Is(err, apperrors.ErrSlicerRejectedGeometry) || errors.Is(err, apperrors.ErrSlicerProcessFailed) {
			return &SliceResponse{Status: SliceError, Message: err.Error()}, nil
		}
		return nil, err
	}

	resp := &SliceResponse{
		Status:    SliceSuccess,
		GcodeURL:  report.GcodeURL,
		Volume:    report.VolumeCM3,
		Weight:    report.WeightGrams,
		PrintTime: report.PrintTime,
		Price:     report.Price,
		Material:  report.Material,
	}
	s.notifier.sliceCompleted(resp)
	return resp, nil
}

func (s *Service) renderPrompt(req *ImageRequest) (string, error) {
	if s.prompt == nil {
		return req.VisualPrompt, nil
	}
	var buf bytes.Buffer
	if err := s.prompt.Execute(&buf, req); err != nil {
		return "", apperrors.Internal("pipeline.prompt", err)
	}
	return buf.String(), nil
}

func validateImageRequest(req *ImageRequest) error {
	req.VisualPrompt = strings.TrimSpace(req.VisualPrompt)
	if req.VisualPrompt == "" {
		return apperrors.Validation("visual_prompt", "visual_prompt is required")
	}
	if len(req.VisualPrompt) > maxPromptLength {
		return apperrors.Validation("visual_prompt", fmt.Sprintf("visual_prompt exceeds maximum length of %d", maxPromptLength))
	}
	if req.Guidance < 0 || req.Guidance > maxGuidance {
		return apperrors.Validation("guidance", fmt.Sprintf("guidance must be between 0 and %d", maxGuidance))
	}
	if req.Steps < 0 || req.Steps > maxSteps {
		return apperrors.Validation("steps", fmt.Sprintf("steps must be between 0 and %d", maxSteps))
	}
	if err := validateDimension("width", req.Width); err != nil {
		return err
	}
	return validateDimension("height", req.Height)
}

func validateDimension(field string, v int) error {
	if v == 0 {
		return nil
	}
	if v < minDimension || v > maxDimension || v%8 != 0 {
		return apperrors.Validation(field, fmt.Sprintf("%s must be a multiple of 8 between %d and %d", field, minDimension, maxDimension))
	}
	return nil
}

func validateJobID(id string) error {
	if id == "" {
		return apperrors.Validation("jobId", "job ID is required")
	}
	if len(id) > maxJobIDLength {
		return apperrors.Validation("jobId", fmt.Sprintf("job ID exceeds maximum length of %d", maxJobIDLength))
	}
	if !jobIDPattern.MatchString(id) {
		return apperrors.Validation("jobId", "job ID must be alphanumeric (hyphens and underscores allowed)")
	}
	return nil
}

// imageName extracts the file name from a published image URL or a bare file name.
func imageName(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperrors.Validation("image_url", "image_url is required")
	}
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" {
		p = u.Path
	}
	name := path.Base(p)
	if err := artifact.ValidateName("image_url", name); err != nil {
		return "", err
	}
	return name, nil
}
