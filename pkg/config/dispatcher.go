package config

import (
	"fmt"
	"strconv"

	"github.com/codeready-toolchain/mongoclaw/pkg/model"
)

// DispatcherConfig controls routing strategy and backpressure admission,
// grounded on original_source/src/mongoclaw/core/config.py's worker_settings
// fields consumed by dispatcher/agent_dispatcher.py
// (dispatch_backpressure_enabled, dispatch_backpressure_threshold,
// dispatch_min_priority_when_backpressured, dispatch_overflow_policy,
// dispatch_defer_max_attempts, dispatch_defer_seconds,
// dispatch_pressure_cache_ttl_seconds, routing_partition_count).
type DispatcherConfig struct {
	RoutingStrategy               model.RoutingStrategy
	NumPartitions                 int
	BackpressureEnabled           bool
	BackpressureThreshold         float64
	MinPriorityWhenBackpressured  int
	OverflowPolicy                model.OverflowPolicy
	DeferMaxAttempts              int
	DeferSeconds                  float64
	PressureCacheTTLSeconds       float64
}

// DefaultDispatcherConfig returns the dispatcher defaults matching the
// original settings module's field defaults.
func DefaultDispatcherConfig() *DispatcherConfig {
	return &DispatcherConfig{
		RoutingStrategy:              model.RouteByAgent,
		NumPartitions:                8,
		BackpressureEnabled:          true,
		BackpressureThreshold:        0.8,
		MinPriorityWhenBackpressured: 8,
		OverflowPolicy:               model.OverflowDefer,
		DeferMaxAttempts:             3,
		DeferSeconds:                 0.5,
		PressureCacheTTLSeconds:      2.0,
	}
}

// LoadDispatcherConfigFromEnv reads MONGOCLAW_DISPATCH_* variables, falling
// back to DefaultDispatcherConfig for any unset value.
func LoadDispatcherConfigFromEnv() (DispatcherConfig, error) {
	defaults := DefaultDispatcherConfig()

	strategy := model.RoutingStrategy(getEnvOrDefault("MONGOCLAW_DISPATCH_ROUTING_STRATEGY", string(defaults.RoutingStrategy)))

	numPartitions, err := strconv.Atoi(getEnvOrDefault("MONGOCLAW_DISPATCH_NUM_PARTITIONS", strconv.Itoa(defaults.NumPartitions)))
	if err != nil {
		return DispatcherConfig{}, fmt.Errorf("invalid MONGOCLAW_DISPATCH_NUM_PARTITIONS: %w", err)
	}

	backpressureEnabled, err := strconv.ParseBool(getEnvOrDefault("MONGOCLAW_DISPATCH_BACKPRESSURE_ENABLED", strconv.FormatBool(defaults.BackpressureEnabled)))
	if err != nil {
		return DispatcherConfig{}, fmt.Errorf("invalid MONGOCLAW_DISPATCH_BACKPRESSURE_ENABLED: %w", err)
	}

	threshold, err := strconv.ParseFloat(getEnvOrDefault("MONGOCLAW_DISPATCH_BACKPRESSURE_THRESHOLD", strconv.FormatFloat(defaults.BackpressureThreshold, 'f', -1, 64)), 64)
	if err != nil {
		return DispatcherConfig{}, fmt.Errorf("invalid MONGOCLAW_DISPATCH_BACKPRESSURE_THRESHOLD: %w", err)
	}

	minPriority, err := strconv.Atoi(getEnvOrDefault("MONGOCLAW_DISPATCH_MIN_PRIORITY_WHEN_BACKPRESSURED", strconv.Itoa(defaults.MinPriorityWhenBackpressured)))
	if err != nil {
		return DispatcherConfig{}, fmt.Errorf("invalid MONGOCLAW_DISPATCH_MIN_PRIORITY_WHEN_BACKPRESSURED: %w", err)
	}

	overflowPolicy := model.OverflowPolicy(getEnvOrDefault("MONGOCLAW_DISPATCH_OVERFLOW_POLICY", string(defaults.OverflowPolicy)))

	deferMaxAttempts, err := strconv.Atoi(getEnvOrDefault("MONGOCLAW_DISPATCH_DEFER_MAX_ATTEMPTS", strconv.Itoa(defaults.DeferMaxAttempts)))
	if err != nil {
		return DispatcherConfig{}, fmt.Errorf("invalid MONGOCLAW_DISPATCH_DEFER_MAX_ATTEMPTS: %w", err)
	}

	deferSeconds, err := strconv.ParseFloat(getEnvOrDefault("MONGOCLAW_DISPATCH_DEFER_SECONDS", strconv.FormatFloat(defaults.DeferSeconds, 'f', -1, 64)), 64)
	if err != nil {
		return DispatcherConfig{}, fmt.Errorf("invalid MONGOCLAW_DISPATCH_DEFER_SECONDS: %w", err)
	}

	cacheTTL, err := strconv.ParseFloat(getEnvOrDefault("MONGOCLAW_DISPATCH_PRESSURE_CACHE_TTL_SECONDS", strconv.FormatFloat(defaults.PressureCacheTTLSeconds, 'f', -1, 64)), 64)
	if err != nil {
		return DispatcherConfig{}, fmt.Errorf("invalid MONGOCLAW_DISPATCH_PRESSURE_CACHE_TTL_SECONDS: %w", err)
	}

	cfg := DispatcherConfig{
		RoutingStrategy:              strategy,
		NumPartitions:                numPartitions,
		BackpressureEnabled:          backpressureEnabled,
		BackpressureThreshold:        threshold,
		MinPriorityWhenBackpressured: minPriority,
		OverflowPolicy:               overflowPolicy,
		DeferMaxAttempts:             deferMaxAttempts,
		DeferSeconds:                 deferSeconds,
		PressureCacheTTLSeconds:      cacheTTL,
	}
	if err := cfg.Validate(); err != nil {
		return DispatcherConfig{}, err
	}
	return cfg, nil
}

// Validate checks the structural requirements of a dispatcher config.
func (c DispatcherConfig) Validate() error {
	if c.NumPartitions < 1 {
		return fmt.Errorf("MONGOCLAW_DISPATCH_NUM_PARTITIONS must be at least 1")
	}
	if c.BackpressureThreshold <= 0 || c.BackpressureThreshold > 1 {
		return fmt.Errorf("MONGOCLAW_DISPATCH_BACKPRESSURE_THRESHOLD must be in (0, 1]")
	}
	switch c.OverflowPolicy {
	case model.OverflowDrop, model.OverflowDLQ, model.OverflowDefer:
	default:
		return fmt.Errorf("unknown MONGOCLAW_DISPATCH_OVERFLOW_POLICY %q", c.OverflowPolicy)
	}
	switch c.RoutingStrategy {
	case model.RouteByAgent, model.RouteByCollection, model.RouteSingle, model.RoutePartitioned, model.RouteByPriority:
	default:
		return fmt.Errorf("unknown MONGOCLAW_DISPATCH_ROUTING_STRATEGY %q", c.RoutingStrategy)
	}
	return nil
}
