// Package config loads WinM configuration from the environment.
// Every component receives its settings explicitly at construction; nothing
// reads the environment after startup.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds settings shared by the API tier, the projector and the
// task worker. Unused sections are simply ignored by each binary.
type Config struct {
	// NATS connection and stream settings.
	NATSURL       string        `env:"WINM_NATS_URL" envDefault:"nats://localhost:4222"`
	ReconnectWait time.Duration `env:"WINM_RECONNECT_WAIT" envDefault:"5s"`

	// Graph store bucket.
	GraphBucket string `env:"WINM_GRAPH_BUCKET" envDefault:"WORLD_GRAPH"`

	// HTTP API tier.
	HTTPAddr string `env:"WINM_HTTP_ADDR" envDefault:":8000"`

	// LLM backend (any OpenAI-compatible chat completion endpoint).
	LLMBaseURL string `env:"WINM_LLM_BASE_URL" envDefault:""`
	LLMModel   string `env:"WINM_LLM_MODEL" envDefault:"gpt-4o-mini"`
	LLMAPIKey  string `env:"WINM_LLM_API_KEY" envDefault:""`

	// Result store retention.
	ResultTTL time.Duration `env:"WINM_RESULT_TTL" envDefault:"1h"`

	// Optional JSONL export of applied events. Disabled when empty.
	ExportDir string `env:"WINM_EXPORT_DIR" envDefault:""`

	// Durable consumer names. Each logical consumer role gets its own
	// durable so redeploys resume where they left off.
	ProjectorDurable string `env:"WINM_PROJECTOR_DURABLE" envDefault:"winm-projector"`
	WorkerDurable    string `env:"WINM_WORKER_DURABLE" envDefault:"winm-worker"`
	ResultSubDurable string `env:"WINM_RESULT_SUB_DURABLE" envDefault:"winm-results"`

	// Search endpoint rate limit.
	SearchRatePerSec float64 `env:"WINM_SEARCH_RATE" envDefault:"10"`
	SearchRateBurst  int     `env:"WINM_SEARCH_BURST" envDefault:"20"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail obscurely at runtime.
func (c *Config) Validate() error {
	if c.NATSURL == "" {
		return fmt.Errorf("WINM_NATS_URL cannot be empty")
	}
	if c.GraphBucket == "" {
		return fmt.Errorf("WINM_GRAPH_BUCKET cannot be empty")
	}
	if c.ResultTTL <= 0 {
		return fmt.Errorf("WINM_RESULT_TTL must be positive, got %s", c.ResultTTL)
	}
	if c.ReconnectWait <= 0 {
		return fmt.Errorf("WINM_RECONNECT_WAIT must be positive, got %s", c.ReconnectWait)
	}
	return nil
}
