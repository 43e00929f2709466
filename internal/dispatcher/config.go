package dispatcher

import (
	"time"

	"giftforge/internal/config"
)

const (
	defaultBufferSize       = 1000
	defaultWorkers          = 4
	defaultHTTPTimeout      = 10 * time.Second
	defaultMaxRetries       = 3
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultMaxRequeues      = 10
)

// MemoryConfig holds configuration for the in-memory webhook dispatcher.
type MemoryConfig struct {
	BufferSize      int           // pending events (default: 1000)
	Workers         int           // concurrent deliveries (default: 4)
	HTTPTimeout     time.Duration // per-request timeout (default: 10s)
	MaxRetries      int           // retries after the first attempt (default: 3)
	BreakerCooldown time.Duration // open-circuit cooldown and requeue delay (default: 30s)
	MaxRequeues     int           // requeues before an event is dropped (default: 10)
}

// LoadConfigFromEnv loads dispatcher configuration from environment variables.
func LoadConfigFromEnv() MemoryConfig {
	cfg := MemoryConfig{
		BufferSize:      config.GetIntEnv("WEBHOOK_BUFFER_SIZE", defaultBufferSize),
		Workers:         config.GetIntEnv("WEBHOOK_WORKERS", defaultWorkers),
		HTTPTimeout:     config.GetDurationEnv("WEBHOOK_HTTP_TIMEOUT", defaultHTTPTimeout),
		MaxRetries:      config.GetIntEnv("WEBHOOK_MAX_RETRIES", defaultMaxRetries),
		BreakerCooldown: config.GetDurationEnv("WEBHOOK_BREAKER_COOLDOWN", defaultBreakerCooldown),
		MaxRequeues:     config.GetIntEnv("WEBHOOK_MAX_REQUEUES", defaultMaxRequeues),
	}
	return cfg.withDefaults()
}

func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = defaultBreakerCooldown
	}
	if c.MaxRequeues <= 0 {
		c.MaxRequeues = defaultMaxRequeues
	}
	return c
}
