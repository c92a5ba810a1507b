package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// AIConfig holds the default AI provider connection used when an agent does
// not override provider/model, plus the client-wide rate and timeout caps.
type AIConfig struct {
	Provider       string        `yaml:"provider"`
	APIKey         string        `yaml:"-"`
	BaseURL        string        `yaml:"base_url"`
	DefaultModel   string        `yaml:"default_model"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
}

// LoadAIConfigFromEnv reads MONGOCLAW_AI_* variables with production defaults.
func LoadAIConfigFromEnv() (AIConfig, error) {
	timeout, err := parseDuration(getEnvOrDefault("MONGOCLAW_AI_REQUEST_TIMEOUT", "30s"))
	if err != nil {
		return AIConfig{}, fmt.Errorf("invalid MONGOCLAW_AI_REQUEST_TIMEOUT: %w", err)
	}
	maxRetries, err := strconv.Atoi(getEnvOrDefault("MONGOCLAW_AI_MAX_RETRIES", "3"))
	if err != nil {
		return AIConfig{}, fmt.Errorf("invalid MONGOCLAW_AI_MAX_RETRIES: %w", err)
	}

	cfg := AIConfig{
		Provider:       getEnvOrDefault("MONGOCLAW_AI_PROVIDER", "stub"),
		APIKey:         os.Getenv("MONGOCLAW_AI_API_KEY"),
		BaseURL:        os.Getenv("MONGOCLAW_AI_BASE_URL"),
		DefaultModel:   getEnvOrDefault("MONGOCLAW_AI_DEFAULT_MODEL", "gpt-4o-mini"),
		RequestTimeout: timeout,
		MaxRetries:     maxRetries,
	}
	if err := cfg.Validate(); err != nil {
		return AIConfig{}, err
	}
	return cfg, nil
}

// Validate checks the structural requirements of an AI config.
func (c AIConfig) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("MONGOCLAW_AI_PROVIDER is required")
	}
	if c.Provider != "stub" && c.APIKey == "" {
		return fmt.Errorf("MONGOCLAW_AI_API_KEY is required for provider %q", c.Provider)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MONGOCLAW_AI_MAX_RETRIES cannot be negative")
	}
	return nil
}
