// Package httpstore publishes objects with plain HTTP PUT requests, for object stores
// fronted by presigning proxies or simple upload gateways.
package httpstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"giftforge/internal/config"
	"giftforge/pkg/backoff"
)

// Config holds upload settings.
type Config struct {
	UploadURL  string // objects are PUT to {UploadURL}/{name}
	PublicURL  string // objects are served from {PublicURL}/{name}
	Token      string // optional bearer token
	MaxRetries int
	Timeout    time.Duration
	Backoff    *backoff.Config
}

// LoadConfigFromEnv loads HTTP store configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		UploadURL:  config.GetEnv("STORAGE_UPLOAD_URL", ""),
		PublicURL:  config.GetEnv("R2_PUBLIC_URL", ""),
		Token:      config.GetSecretFile(config.GetEnv("STORAGE_UPLOAD_TOKEN_FILE", "")),
		MaxRetries: config.GetIntEnv("STORAGE_UPLOAD_RETRIES", 3),
		Timeout:    config.GetDurationEnv("STORAGE_UPLOAD_TIMEOUT", 60*time.Second),
	}
}

// Store uploads objects over HTTP.
type Store struct {
	uploadURL  string
	publicURL  string
	token      string
	maxRetries int
	backoff    *backoff.Config
	httpClient *http.Client
}

// New creates an HTTP store.
func New(cfg Config) (*Store, error) {
	if cfg.UploadURL == "" {
		return nil, fmt.Errorf("httpstore: upload URL is required")
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = cfg.UploadURL
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Store{
		uploadURL:  strings.TrimRight(cfg.UploadURL, "/"),
		publicURL:  strings.TrimRight(cfg.PublicURL, "/"),
		token:      cfg.Token,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// URL returns the public URL of an object.
func (s *Store) URL(name string) string {
	return s.publicURL + "/" + url.PathEscape(name)
}

// Put uploads r with retry. Client errors are not retried.
func (s *Store) Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error {
	body, err := rewindable(r)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if attempt > 0 {
			slog.Debug("Retrying upload", "attempt", attempt, "name", name)
			if err := backoff.Wait(ctx, attempt, s.backoff); err != nil {
				return err
			}
			if _, err := body.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("failed to rewind body: %w", err)
			}
		}

		lastErr = s.doPut(ctx, name, body, size, contentType)
		if lastErr == nil {
			if attempt > 0 {
				slog.Info("Upload succeeded after retry", "attempt", attempt, "name", name)
			}
			return nil
		}

		if isClientError(lastErr) {
			return lastErr
		}

		slog.Warn("Upload failed", "attempt", attempt, "error", lastErr, "name", name)
	}

	return fmt.Errorf("upload failed after %d retries: %w", s.maxRetries, lastErr)
}

func (s *Store) doPut(ctx context.Context, name string, body io.Reader, size int64, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.uploadURL+"/"+url.PathEscape(name), io.NopCloser(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		slog.Debug("Uploaded object", "name", name, "bytes", size)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &uploadError{statusCode: resp.StatusCode, message: string(respBody)}
}

// Ping checks that the upload endpoint answers. Any HTTP response counts.
func (s *Store) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.uploadURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func rewindable(r io.Reader) (io.ReadSeeker, error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to buffer body: %w", err)
	}
	return bytes.NewReader(data), nil
}

type uploadError struct {
	statusCode int
	message    string
}

func (e *uploadError) Error() string {
	return fmt.Sprintf("upload failed with status %d: %s", e.statusCode, e.message)
}

func isClientError(err error) bool {
	var ue *uploadError
	if errors.As(err, &ue) {
		return ue.statusCode >= 400 && ue.statusCode < 500
	}
	return false
}
