// giftforge is the HTTP API server for the gift generation pipeline.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/template"
	"time"

	"giftforge/internal/api"
	"giftforge/internal/artifact"
	"giftforge/internal/bridge"
	"giftforge/internal/config"
	"giftforge/internal/dispatcher"
	"giftforge/internal/engine"
	"giftforge/internal/health"
	"giftforge/internal/manifest"
	"giftforge/internal/observability"
	"giftforge/internal/pipeline"
	"giftforge/internal/slicer"
	"giftforge/internal/slicer/dockerrun"
	"giftforge/internal/storage/httpstore"
	"giftforge/internal/storage/s3store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

// objectStore is a publish target that can report its own health.
type objectStore interface {
	artifact.ObjectStore
	Ping(ctx context.Context) error
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	svcCfg := config.LoadServiceConfig()
	engineCfg := engine.LoadConfigFromEnv()
	slicerCfg := slicer.LoadConfigFromEnv()
	dispatcherCfg := dispatcher.LoadConfigFromEnv()

	pipelineFile, err := config.LoadPipelineFile(svcCfg.PipelineConfigPath)
	if err != nil {
		return err
	}

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	store, err := newObjectStore(svcCfg.StorageBackend)
	if err != nil {
		return err
	}
	publisher := artifact.NewPublisher(store, artifact.WithObserver(func(ctx context.Context, a artifact.Artifact, err error) {
		metrics.RecordArtifactPublished(ctx, string(a.Kind), err == nil)
	}))

	engineClient := engine.NewClient(engineCfg)
	resolver := manifest.NewResolver(engineClient, manifest.LoadConfigFromEnv(), manifest.WithObserver(func(ctx context.Context, r manifest.Result) {
		metrics.RecordResolve(ctx, string(r.Outcome))
	}))

	deps := []health.Dependency{
		{Name: "engine", Checker: health.CheckFunc(engineClient.Ready), Optional: true},
		{Name: "storage", Checker: health.CheckFunc(store.Ping)},
	}

	runner, err := newSlicerRunner(slicerCfg)
	if err != nil {
		return err
	}
	if dr, ok := runner.(*dockerrun.Runner); ok {
		deps = append(deps, health.Dependency{Name: "slicer", Checker: health.CheckFunc(dr.Ready)})
	}

	materials, err := slicer.NewMaterials(slicerCfg.Cost, pipelineFile.Materials, pipelineFile.DefaultMaterial)
	if err != nil {
		return err
	}
	estimator, err := slicer.NewEstimator(runner, slicerCfg,
		slicer.WithPublisher(publisher),
		slicer.WithMaterials(materials),
		slicer.WithObserver(func(ctx context.Context, d time.Duration, err error) {
			slog.Debug("Slice finished", "duration", d, "error", err)
		}),
	)
	if err != nil {
		return err
	}

	stages, err := pipeline.LoadStages(svcCfg.WorkflowsDir, pipelineFile)
	if err != nil {
		return err
	}

	// Create event dispatcher
	eventDispatcher := dispatcher.NewMemory(dispatcherCfg, metrics)

	opts := []pipeline.Option{pipeline.WithMetrics(metrics)}
	if n := pipeline.NewNotifier(eventDispatcher, svcCfg.EventsWebhookURL, svcCfg.EventsSigningKey, svcCfg.EventsFilter); n != nil {
		opts = append(opts, pipeline.WithNotifier(n))
		slog.Info("Event notifications enabled", "types", svcCfg.EventsFilter)
	}
	if svcCfg.PromptTemplateFile != "" {
		tmpl, err := template.ParseFiles(svcCfg.PromptTemplateFile)
		if err != nil {
			return fmt.Errorf("failed to load prompt template: %w", err)
		}
		opts = append(opts, pipeline.WithPromptTemplate(tmpl))
	}

	svc, err := pipeline.NewService(pipeline.Deps{
		Engine:    engineClient,
		Resolver:  resolver,
		Publisher: publisher,
		Bridge:    bridge.New(bridge.LoadConfigFromEnv()),
		Estimator: estimator,
		Stages:    stages,
	}, opts...)
	if err != nil {
		return err
	}

	// Create health checker
	healthChecker := health.NewChecker(deps...)

	// Create API router
	router := api.NewRouter(ctx, api.RouterConfig{
		Pipeline:       svc,
		Metrics:        metrics,
		HealthChecker:  healthChecker,
		APIKey:         svcCfg.APIKey,
		RateLimitRPS:   svcCfg.RateLimitRPS,
		RateLimitBurst: svcCfg.RateLimitBurst,
		MaxUploadSize:  svcCfg.MaxUploadSize,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	// Slicing is synchronous, so the write timeout covers a full slicer run.
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: slicerCfg.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 2)

	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port, "storage", svcCfg.StorageBackend, "slicerRuntime", slicerCfg.Runtime)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Finish in-flight requests, including running slices
	slog.Info("Starting graceful shutdown")
	shutdown(slicerCfg.Timeout + 10*time.Second)

	// Phase 3: Drain event dispatcher
	slog.Info("Draining event dispatcher")
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dispatcherCancel()
	if err := eventDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}

	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	// Engine jobs keep running; their outputs are resolved on the next status call.
	slog.Info("Shutdown complete")
	return nil
}

func newObjectStore(backend string) (objectStore, error) {
	switch backend {
	case "s3", "":
		return s3store.New(s3store.LoadConfigFromEnv())
	case "http":
		return httpstore.New(httpstore.LoadConfigFromEnv())
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q, want s3 or http", backend)
	}
}

func newSlicerRunner(cfg slicer.Config) (slicer.Runner, error) {
	switch cfg.Runtime {
	case slicer.RuntimeExec, "":
		return slicer.ExecRunner{}, nil
	case slicer.RuntimeDocker:
		dcfg := dockerrun.LoadConfigFromEnv()
		dcfg.Image = cfg.Image
		return dockerrun.New(dcfg)
	default:
		return nil, fmt.Errorf("unknown SLICER_RUNTIME %q, want exec or docker", cfg.Runtime)
	}
}
