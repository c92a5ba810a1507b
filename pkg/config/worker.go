package config

import (
	"fmt"
	"strconv"
	"time"
)

// WorkerConfig controls the worker pool and executor, the mongoclaw
// equivalent of the teacher's QueueConfig (pkg/config/queue.go).
type WorkerConfig struct {
	WorkerCount             int           `yaml:"worker_count"`
	StreamPollInterval      time.Duration `yaml:"stream_poll_interval"`
	StreamDiscoveryInterval time.Duration `yaml:"stream_discovery_interval"`
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
	OrphanScanInterval      time.Duration `yaml:"orphan_scan_interval"`
	MaxInFlightPerStream    int           `yaml:"max_in_flight_per_stream"`
	QuarantineFailureThreshold int        `yaml:"quarantine_failure_threshold"`
	QuarantineWindow        time.Duration `yaml:"quarantine_window"`
	QuarantineCooldown      time.Duration `yaml:"quarantine_cooldown"`
	PendingSampleInterval   time.Duration `yaml:"pending_sample_interval"`
	StarvationLogEveryN     int           `yaml:"starvation_log_every_n"`
}

// DefaultWorkerConfig returns the built-in worker pool defaults, mirroring
// DefaultQueueConfig's role in the teacher repo.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		WorkerCount:                5,
		StreamPollInterval:         1 * time.Second,
		StreamDiscoveryInterval:    30 * time.Second,
		GracefulShutdownTimeout:    30 * time.Second,
		OrphanScanInterval:         1 * time.Minute,
		MaxInFlightPerStream:       10,
		QuarantineFailureThreshold: 5,
		QuarantineWindow:           5 * time.Minute,
		QuarantineCooldown:         2 * time.Minute,
		PendingSampleInterval:      10 * time.Second,
		StarvationLogEveryN:        20,
	}
}

// LoadWorkerConfigFromEnv reads MONGOCLAW_WORKER_* variables, falling back to
// DefaultWorkerConfig for any unset value.
func LoadWorkerConfigFromEnv() (WorkerConfig, error) {
	defaults := DefaultWorkerConfig()

	workerCount, err := strconv.Atoi(getEnvOrDefault("MONGOCLAW_WORKER_COUNT", strconv.Itoa(defaults.WorkerCount)))
	if err != nil {
		return WorkerConfig{}, fmt.Errorf("invalid MONGOCLAW_WORKER_COUNT: %w", err)
	}
	pollInterval, err := parseDuration(getEnvOrDefault("MONGOCLAW_WORKER_STREAM_POLL_INTERVAL", defaults.StreamPollInterval.String()))
	if err != nil {
		return WorkerConfig{}, fmt.Errorf("invalid MONGOCLAW_WORKER_STREAM_POLL_INTERVAL: %w", err)
	}
	shutdownTimeout, err := parseDuration(getEnvOrDefault("MONGOCLAW_WORKER_GRACEFUL_SHUTDOWN_TIMEOUT", defaults.GracefulShutdownTimeout.String()))
	if err != nil {
		return WorkerConfig{}, fmt.Errorf("invalid MONGOCLAW_WORKER_GRACEFUL_SHUTDOWN_TIMEOUT: %w", err)
	}
	orphanScan, err := parseDuration(getEnvOrDefault("MONGOCLAW_WORKER_ORPHAN_SCAN_INTERVAL", defaults.OrphanScanInterval.String()))
	if err != nil {
		return WorkerConfig{}, fmt.Errorf("invalid MONGOCLAW_WORKER_ORPHAN_SCAN_INTERVAL: %w", err)
	}
	maxInFlight, err := strconv.Atoi(getEnvOrDefault("MONGOCLAW_WORKER_MAX_IN_FLIGHT_PER_STREAM", strconv.Itoa(defaults.MaxInFlightPerStream)))
	if err != nil {
		return WorkerConfig{}, fmt.Errorf("invalid MONGOCLAW_WORKER_MAX_IN_FLIGHT_PER_STREAM: %w", err)
	}
	quarantineThreshold, err := strconv.Atoi(getEnvOrDefault("MONGOCLAW_WORKER_QUARANTINE_FAILURE_THRESHOLD", strconv.Itoa(defaults.QuarantineFailureThreshold)))
	if err != nil {
		return WorkerConfig{}, fmt.Errorf("invalid MONGOCLAW_WORKER_QUARANTINE_FAILURE_THRESHOLD: %w", err)
	}
	quarantineWindow, err := parseDuration(getEnvOrDefault("MONGOCLAW_WORKER_QUARANTINE_WINDOW", defaults.QuarantineWindow.String()))
	if err != nil {
		return WorkerConfig{}, fmt.Errorf("invalid MONGOCLAW_WORKER_QUARANTINE_WINDOW: %w", err)
	}
	quarantineCooldown, err := parseDuration(getEnvOrDefault("MONGOCLAW_WORKER_QUARANTINE_COOLDOWN", defaults.QuarantineCooldown.String()))
	if err != nil {
		return WorkerConfig{}, fmt.Errorf("invalid MONGOCLAW_WORKER_QUARANTINE_COOLDOWN: %w", err)
	}
	discoveryInterval, err := parseDuration(getEnvOrDefault("MONGOCLAW_WORKER_STREAM_DISCOVERY_INTERVAL", defaults.StreamDiscoveryInterval.String()))
	if err != nil {
		return WorkerConfig{}, fmt.Errorf("invalid MONGOCLAW_WORKER_STREAM_DISCOVERY_INTERVAL: %w", err)
	}
	pendingSampleInterval, err := parseDuration(getEnvOrDefault("MONGOCLAW_WORKER_PENDING_SAMPLE_INTERVAL", defaults.PendingSampleInterval.String()))
	if err != nil {
		return WorkerConfig{}, fmt.Errorf("invalid MONGOCLAW_WORKER_PENDING_SAMPLE_INTERVAL: %w", err)
	}
	starvationLogEveryN, err := strconv.Atoi(getEnvOrDefault("MONGOCLAW_WORKER_STARVATION_LOG_EVERY_N", strconv.Itoa(defaults.StarvationLogEveryN)))
	if err != nil {
		return WorkerConfig{}, fmt.Errorf("invalid MONGOCLAW_WORKER_STARVATION_LOG_EVERY_N: %w", err)
	}

	cfg := WorkerConfig{
		WorkerCount:                workerCount,
		StreamPollInterval:         pollInterval,
		StreamDiscoveryInterval:    discoveryInterval,
		GracefulShutdownTimeout:    shutdownTimeout,
		OrphanScanInterval:         orphanScan,
		MaxInFlightPerStream:       maxInFlight,
		QuarantineFailureThreshold: quarantineThreshold,
		PendingSampleInterval:      pendingSampleInterval,
		StarvationLogEveryN:        starvationLogEveryN,
		QuarantineWindow:           quarantineWindow,
		QuarantineCooldown:         quarantineCooldown,
	}
	if err := cfg.Validate(); err != nil {
		return WorkerConfig{}, err
	}
	return cfg, nil
}

// Validate checks the structural requirements of a worker config.
func (c WorkerConfig) Validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("MONGOCLAW_WORKER_COUNT must be at least 1")
	}
	if c.MaxInFlightPerStream < 1 {
		return fmt.Errorf("MONGOCLAW_WORKER_MAX_IN_FLIGHT_PER_STREAM must be at least 1")
	}
	if c.QuarantineFailureThreshold < 1 {
		return fmt.Errorf("MONGOCLAW_WORKER_QUARANTINE_FAILURE_THRESHOLD must be at least 1")
	}
	return nil
}
