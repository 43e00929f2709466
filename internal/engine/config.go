package engine

import (
	"giftforge/internal/config"
	"time"
)

// Config holds connection settings for the inference engine.
type Config struct {
	BaseURL     string
	Timeout     time.Duration // submit and free calls
	PollTimeout time.Duration // history probes; keep short so each poll returns quickly
	ClientID    string        // sent with submissions; random when empty
}

// LoadConfigFromEnv loads engine configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		BaseURL:     config.GetEnv("COMFY_URL", "http://127.0.0.1:8188"),
		Timeout:     config.GetDurationEnv("ENGINE_TIMEOUT", 30*time.Second),
		PollTimeout: config.GetDurationEnv("ENGINE_POLL_TIMEOUT", 2*time.Second),
		ClientID:    config.GetEnv("ENGINE_CLIENT_ID", ""),
	}
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 2 * time.Second
	}
	return c
}
