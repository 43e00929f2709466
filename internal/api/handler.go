// Package api provides the HTTP handlers and routing for the gift pipeline.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"giftforge/internal/apperrors"
	"giftforge/internal/health"
	"giftforge/internal/pipeline"
	"giftforge/internal/slicer"
)

// maxRequestBodySize limits JSON bodies to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20

// defaultMaxUploadSize bounds mesh uploads.
const defaultMaxUploadSize = 64 << 20

// multipartMemory is how much of an upload is buffered in memory before spilling to disk.
const multipartMemory = 8 << 20

// Pipeline is the set of operations the API exposes.
type Pipeline interface {
	GenerateImages(ctx context.Context, req *pipeline.ImageRequest) (*pipeline.JobResponse, error)
	GenerateMesh(ctx context.Context, req *pipeline.MeshRequest) (*pipeline.JobResponse, error)
	Status(ctx context.Context, jobID, stage string) (*pipeline.StatusResponse, error)
	Slice(ctx context.Context, mesh io.Reader, sc slicer.SliceConfig) (*pipeline.SliceResponse, error)
}

// Handler contains HTTP handlers for the pipeline API
type Handler struct {
	svc           Pipeline
	health        *health.Checker
	maxUploadSize int64
}

// NewHandler creates a new API handler
func NewHandler(svc Pipeline, healthChecker *health.Checker, maxUploadSize int64) *Handler {
	if maxUploadSize <= 0 {
		maxUploadSize = defaultMaxUploadSize
	}
	return &Handler{
		svc:           svc,
		health:        healthChecker,
		maxUploadSize: maxUploadSize,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// GenerateImages handles POST /api/generate-images
func (h *Handler) GenerateImages(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ImageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.svc.GenerateImages(r.Context(), &req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GenerateMesh handles POST /api/generate-3d
func (h *Handler) GenerateMesh(w http.ResponseWriter, r *http.Request) {
	var req pipeline.MeshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.svc.GenerateMesh(r.Context(), &req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CheckStatus handles GET /api/check-status/{jobId}?stage=image|mesh
func (h *Handler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Status(r.Context(), r.PathValue("jobId"), r.URL.Query().Get("stage"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Slice handles POST /api/slice with a multipart "file" and optional "material".
// Slicer failures are reported in the body with status 200.
func (h *Handler) Slice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "upload exceeds maximum size"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid multipart body: " + err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "file is required", Field: "file"})
		return
	}
	defer file.Close()

	resp, err := h.svc.Slice(r.Context(), file, slicer.SliceConfig{Material: r.FormValue("material")})
	if err != nil {
		if apperrors.HTTPStatus(err) >= 500 {
			slog.ErrorContext(r.Context(), "Slice failed", "error", err)
			writeJSON(w, http.StatusOK, pipeline.SliceResponse{Status: pipeline.SliceError, Message: err.Error()})
			return
		}
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Livez handles GET /livez - liveness probe.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 while a required dependency is down or the service is draining.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsReady() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// handleError maps service errors to HTTP status codes.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.ErrorContext(r.Context(), "Request failed", "error", err, "path", r.URL.Path)
	} else {
		slog.WarnContext(r.Context(), "Client error", "error", err, "path", r.URL.Path, "status", status)
	}

	resp := errorResponse{Error: err.Error()}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		resp.Field = appErr.Field
	}
	writeJSON(w, status, resp)
}
