package cloudevent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// userAgent identifies webhook deliveries to receivers.
const userAgent = "giftforge-webhooks/1"

// maxErrorBody caps how much of a failed response is kept for logs.
const maxErrorBody = 256

// Sender posts CloudEvents to webhooks.
type Sender struct {
	client *http.Client
}

// NewSender returns a Sender whose requests time out after timeout.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     60 * time.Second,
			},
		},
	}
}

// SendOptions controls signing.
type SendOptions struct {
	SigningKey string // HMAC key, empty sends unsigned
	Signature  string // precomputed, wins over SigningKey
}

// Send posts event in structured mode, mirroring its attributes into Ce-* headers.
// Any non-2xx answer is returned as *HTTPError.
func (s *Sender) Send(ctx context.Context, url string, event *CloudEvent, opts SendOptions) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	setHeaders(req.Header, event)
	switch {
	case opts.Signature != "":
		req.Header.Set(SignatureHeader, opts.Signature)
	case opts.SigningKey != "":
		req.Header.Set(SignatureHeader, generateSignature(body, opts.SigningKey))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", event.Type, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
}

func setHeaders(h http.Header, event *CloudEvent) {
	h.Set("Content-Type", "application/cloudevents+json")
	h.Set("User-Agent", userAgent)
	h.Set("Ce-Specversion", event.SpecVersion)
	h.Set("Ce-Id", event.ID)
	h.Set("Ce-Type", event.Type)
	h.Set("Ce-Source", event.Source)
	h.Set("Ce-Time", event.Time.Format(time.RFC3339))
	if event.Subject != "" {
		h.Set("Ce-Subject", event.Subject)
	}
}

// HTTPError is a webhook answer outside 2xx.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// IsClientError reports a 4xx response that will not succeed on retry.
// 408 and 429 are treated as transient.
func IsClientError(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) {
		return false
	}
	switch he.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return he.StatusCode >= 400 && he.StatusCode < 500
}
