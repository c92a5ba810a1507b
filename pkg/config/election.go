package config

import (
	"fmt"
	"time"
)

// ElectionConfig controls the leader lease's lifetime and renewal cadence,
// grounded directly on watcher/leader_election.py's lease parameters.
type ElectionConfig struct {
	LeaseID        string        `yaml:"lease_id"`
	HolderID       string        `yaml:"holder_id"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewInterval  time.Duration `yaml:"renew_interval"`
}

// LoadElectionConfigFromEnv reads MONGOCLAW_ELECTION_* variables with
// production defaults.
func LoadElectionConfigFromEnv() (ElectionConfig, error) {
	leaseDuration, err := parseDuration(getEnvOrDefault("MONGOCLAW_ELECTION_LEASE_DURATION", "15s"))
	if err != nil {
		return ElectionConfig{}, fmt.Errorf("invalid MONGOCLAW_ELECTION_LEASE_DURATION: %w", err)
	}
	renewInterval, err := parseDuration(getEnvOrDefault("MONGOCLAW_ELECTION_RENEW_INTERVAL", "5s"))
	if err != nil {
		return ElectionConfig{}, fmt.Errorf("invalid MONGOCLAW_ELECTION_RENEW_INTERVAL: %w", err)
	}

	cfg := ElectionConfig{
		LeaseID:       getEnvOrDefault("MONGOCLAW_ELECTION_LEASE_ID", "mongoclaw-watcher"),
		HolderID:      getEnvOrDefault("MONGOCLAW_ELECTION_HOLDER_ID", defaultConsumerName()),
		LeaseDuration: leaseDuration,
		RenewInterval: renewInterval,
	}
	if err := cfg.Validate(); err != nil {
		return ElectionConfig{}, err
	}
	return cfg, nil
}

// Validate checks the structural requirements of an election config.
func (c ElectionConfig) Validate() error {
	if c.RenewInterval >= c.LeaseDuration {
		return fmt.Errorf("MONGOCLAW_ELECTION_RENEW_INTERVAL (%s) must be less than MONGOCLAW_ELECTION_LEASE_DURATION (%s)",
			c.RenewInterval, c.LeaseDuration)
	}
	return nil
}
