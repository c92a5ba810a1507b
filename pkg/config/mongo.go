package config

import (
	"fmt"
	"os"
	"time"
)

// MongoConfig holds connection and pool settings for the watched cluster and
// the runtime's own bookkeeping collections (agents, resume tokens, leases).
// Grounded on database.LoadConfigFromEnv in the teacher repo.
type MongoConfig struct {
	URI             string        `yaml:"uri"`
	Database        string        `yaml:"database"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ServerSelectionTimeout time.Duration `yaml:"server_selection_timeout"`
	MaxPoolSize     uint64        `yaml:"max_pool_size"`
	MinPoolSize     uint64        `yaml:"min_pool_size"`
}

// LoadMongoConfigFromEnv reads MONGOCLAW_MONGO_* variables with production
// defaults.
func LoadMongoConfigFromEnv() (MongoConfig, error) {
	connectTimeout, err := parseDuration(getEnvOrDefault("MONGOCLAW_MONGO_CONNECT_TIMEOUT", "10s"))
	if err != nil {
		return MongoConfig{}, fmt.Errorf("invalid MONGOCLAW_MONGO_CONNECT_TIMEOUT: %w", err)
	}
	selectionTimeout, err := parseDuration(getEnvOrDefault("MONGOCLAW_MONGO_SERVER_SELECTION_TIMEOUT", "5s"))
	if err != nil {
		return MongoConfig{}, fmt.Errorf("invalid MONGOCLAW_MONGO_SERVER_SELECTION_TIMEOUT: %w", err)
	}
	maxPool, err := parseUint(getEnvOrDefault("MONGOCLAW_MONGO_MAX_POOL_SIZE", "100"))
	if err != nil {
		return MongoConfig{}, fmt.Errorf("invalid MONGOCLAW_MONGO_MAX_POOL_SIZE: %w", err)
	}
	minPool, err := parseUint(getEnvOrDefault("MONGOCLAW_MONGO_MIN_POOL_SIZE", "0"))
	if err != nil {
		return MongoConfig{}, fmt.Errorf("invalid MONGOCLAW_MONGO_MIN_POOL_SIZE: %w", err)
	}

	cfg := MongoConfig{
		URI:                    os.Getenv("MONGOCLAW_MONGO_URI"),
		Database:               getEnvOrDefault("MONGOCLAW_MONGO_DATABASE", "mongoclaw"),
		ConnectTimeout:         connectTimeout,
		ServerSelectionTimeout: selectionTimeout,
		MaxPoolSize:            maxPool,
		MinPoolSize:            minPool,
	}
	if err := cfg.Validate(); err != nil {
		return MongoConfig{}, err
	}
	return cfg, nil
}

// Validate checks the structural requirements of a Mongo config.
func (c MongoConfig) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("MONGOCLAW_MONGO_URI is required")
	}
	if c.MinPoolSize > c.MaxPoolSize {
		return fmt.Errorf("MONGOCLAW_MONGO_MIN_POOL_SIZE (%d) cannot exceed MONGOCLAW_MONGO_MAX_POOL_SIZE (%d)",
			c.MinPoolSize, c.MaxPoolSize)
	}
	return nil
}
