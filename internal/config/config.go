// Package config loads runtime settings from the environment and the
// classification rules file.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	apperrors "github.com/finboard/finboard/internal/errors"
)

// Config holds runtime settings. Every field has an environment override;
// defaults produce a working local setup.
type Config struct {
	ListenAddr string `env:"FINBOARD_LISTEN_ADDR" envDefault:":8090"`
	DataDir    string `env:"FINBOARD_DATA_DIR" envDefault:"./data"`
	APIBaseURL string `env:"FINBOARD_API_BASE_URL" envDefault:"http://localhost:3000"`
	HealthURL  string `env:"FINBOARD_HEALTH_URL" envDefault:""`
	RulesPath  string `env:"FINBOARD_RULES_PATH" envDefault:""`
	LogLevel   string `env:"FINBOARD_LOG_LEVEL" envDefault:"info"`

	QueueMaxSize int `env:"FINBOARD_QUEUE_MAX_SIZE" envDefault:"100"`
	MaxRetries   int `env:"FINBOARD_MAX_RETRIES" envDefault:"5"`

	InitialDelay   time.Duration `env:"FINBOARD_INITIAL_DELAY" envDefault:"1s"`
	RequestTimeout time.Duration `env:"FINBOARD_REQUEST_TIMEOUT" envDefault:"30s"`
	ProbeInterval  time.Duration `env:"FINBOARD_PROBE_INTERVAL" envDefault:"30s"`
	SyncInterval   time.Duration `env:"FINBOARD_SYNC_INTERVAL" envDefault:"5m"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidConfig, "failed to parse environment", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if c.QueueMaxSize <= 0 {
		return apperrors.Newf(apperrors.ErrInvalidConfig,
			"queue max size must be positive, got %d", c.QueueMaxSize)
	}
	if c.MaxRetries <= 0 {
		return apperrors.Newf(apperrors.ErrInvalidConfig,
			"max retries must be positive, got %d", c.MaxRetries)
	}
	if c.InitialDelay <= 0 {
		return apperrors.Newf(apperrors.ErrInvalidConfig,
			"initial delay must be positive, got %s", c.InitialDelay)
	}
	if c.APIBaseURL == "" {
		return apperrors.New(apperrors.ErrInvalidConfig, "API base URL must be set")
	}
	return nil
}

// ProbeURL returns the connectivity health URL, defaulting to the API
// health endpoint.
func (c *Config) ProbeURL() string {
	if c.HealthURL != "" {
		return c.HealthURL
	}
	return fmt.Sprintf("%s/health", c.APIBaseURL)
}
