// Package config provides configuration loading from environment variables.
package config

import (
	"time"
)

// ServiceConfig holds configuration for the pipeline service.
type ServiceConfig struct {
	Port               string
	MetricsPort        string
	APIKey             string
	ShutdownDrainWait  time.Duration // Time to wait for load balancer to drain (0 to skip)
	WorkflowsDir       string        // Directory holding stage1_image.json and stage2_3d.json
	PipelineConfigPath string        // Optional YAML overriding stage profiles and materials
	RateLimitRPS       float64
	RateLimitBurst     int
	EventsWebhookURL   string // Empty disables notifications
	EventsSigningKey   string
	EventsFilter       []string // Event types to send; empty sends all
	PromptTemplateFile string   // Optional text/template wrapping the visual prompt
	MaxUploadSize      int64
	StorageBackend     string // "s3" or "http"
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:               GetEnv("PORT", "8000"),
		MetricsPort:        GetEnv("METRICS_PORT", "9090"),
		APIKey:             GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait:  GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		WorkflowsDir:       GetEnv("WORKFLOWS_DIR", "workflows"),
		PipelineConfigPath: GetEnv("PIPELINE_CONFIG", ""),
		RateLimitRPS:       GetFloatEnv("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     GetIntEnv("RATE_LIMIT_BURST", 20),
		EventsWebhookURL:   GetEnv("EVENTS_WEBHOOK_URL", ""),
		EventsSigningKey:   GetSecretFile(GetEnv("EVENTS_SIGNING_KEY_FILE", "")),
		EventsFilter:       GetListEnv("EVENTS_TYPES", nil),
		PromptTemplateFile: GetEnv("PROMPT_TEMPLATE_FILE", ""),
		MaxUploadSize:      int64(GetIntEnv("MAX_UPLOAD_MB", 64)) << 20,
		StorageBackend:     GetEnv("STORAGE_BACKEND", "s3"),
	}
}
