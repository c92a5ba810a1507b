package config

import (
	"fmt"
	"strconv"
	"time"
)

// WatcherConfig controls the change-stream supervisor's reconciliation
// cadence and per-cursor reconnect backoff, grounded on
// original_source/src/mongoclaw/watcher/change_stream.py's _refresh_loop
// (hardcoded 5s) and _watch_loop (retry_count/max_retries/base_delay/60s
// ceiling, all hardcoded in the original).
type WatcherConfig struct {
	RefreshInterval time.Duration
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
}

// DefaultWatcherConfig mirrors change_stream.py's hardcoded constants.
func DefaultWatcherConfig() *WatcherConfig {
	return &WatcherConfig{
		RefreshInterval: 5 * time.Second,
		MaxRetries:      5,
		BaseDelay:       1 * time.Second,
		MaxDelay:        60 * time.Second,
	}
}

// LoadWatcherConfigFromEnv reads MONGOCLAW_WATCHER_* variables, falling back
// to DefaultWatcherConfig for any unset value.
func LoadWatcherConfigFromEnv() (WatcherConfig, error) {
	defaults := DefaultWatcherConfig()

	refresh, err := parseDuration(getEnvOrDefault("MONGOCLAW_WATCHER_REFRESH_INTERVAL", defaults.RefreshInterval.String()))
	if err != nil {
		return WatcherConfig{}, fmt.Errorf("invalid MONGOCLAW_WATCHER_REFRESH_INTERVAL: %w", err)
	}

	maxRetries, err := strconv.Atoi(getEnvOrDefault("MONGOCLAW_WATCHER_MAX_RETRIES", strconv.Itoa(defaults.MaxRetries)))
	if err != nil {
		return WatcherConfig{}, fmt.Errorf("invalid MONGOCLAW_WATCHER_MAX_RETRIES: %w", err)
	}

	baseDelay, err := parseDuration(getEnvOrDefault("MONGOCLAW_WATCHER_BASE_DELAY", defaults.BaseDelay.String()))
	if err != nil {
		return WatcherConfig{}, fmt.Errorf("invalid MONGOCLAW_WATCHER_BASE_DELAY: %w", err)
	}

	maxDelay, err := parseDuration(getEnvOrDefault("MONGOCLAW_WATCHER_MAX_DELAY", defaults.MaxDelay.String()))
	if err != nil {
		return WatcherConfig{}, fmt.Errorf("invalid MONGOCLAW_WATCHER_MAX_DELAY: %w", err)
	}

	cfg := WatcherConfig{
		RefreshInterval: refresh,
		MaxRetries:      maxRetries,
		BaseDelay:       baseDelay,
		MaxDelay:        maxDelay,
	}
	if err := cfg.Validate(); err != nil {
		return WatcherConfig{}, err
	}
	return cfg, nil
}

// Validate checks the structural requirements of a watcher config.
func (c WatcherConfig) Validate() error {
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("MONGOCLAW_WATCHER_REFRESH_INTERVAL must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MONGOCLAW_WATCHER_MAX_RETRIES must be non-negative")
	}
	if c.BaseDelay <= 0 || c.MaxDelay <= 0 || c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("MONGOCLAW_WATCHER_MAX_DELAY must be >= MONGOCLAW_WATCHER_BASE_DELAY, both positive")
	}
	return nil
}
