package api

import (
	"context"
	"net/http"

	"giftforge/internal/health"
	"giftforge/internal/observability"
)

const slicePath = "/api/slice"

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Pipeline       Pipeline
	Metrics        *observability.Metrics
	HealthChecker  *health.Checker
	APIKey         string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxUploadSize  int64
}

// NewRouter creates a new HTTP router with all routes configured.
// ctx bounds background work owned by the middleware.
func NewRouter(ctx context.Context, cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Pipeline, cfg.HealthChecker, cfg.MaxUploadSize)

	mux := http.NewServeMux()

	// Probes - no auth, no rate limit
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/generate-images", handler.GenerateImages)
	api.HandleFunc("POST /api/generate-3d", handler.GenerateMesh)
	api.HandleFunc("GET /api/check-status/{jobId}", handler.CheckStatus)
	api.HandleFunc("POST "+slicePath, handler.Slice)

	mux.Handle("/api/", chain(api,
		RateLimitMiddleware(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst),
		AuthMiddleware(cfg.APIKey),
	))

	return chain(mux,
		RecoveryMiddleware(),
		RequestIDMiddleware(),
		AccessMiddleware(cfg.Metrics),
		CORSMiddleware(),
		ContentTypeMiddleware(slicePath),
	)
}
