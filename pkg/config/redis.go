package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// RedisConfig holds connection settings for the durable work queue, grounded
// on the same getEnvOrDefault idiom as MongoConfig/database.Config.
type RedisConfig struct {
	Addr            string        `yaml:"addr"`
	Password        string        `yaml:"-"`
	DB              int           `yaml:"db"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	PoolSize        int           `yaml:"pool_size"`
	ConsumerGroup   string        `yaml:"consumer_group"`
	ConsumerName    string        `yaml:"consumer_name"`
	ClaimMinIdle    time.Duration `yaml:"claim_min_idle"`
	MaxStreamLength int64         `yaml:"max_stream_length"`
}

// LoadRedisConfigFromEnv reads MONGOCLAW_REDIS_* variables with production defaults.
func LoadRedisConfigFromEnv() (RedisConfig, error) {
	db, err := strconv.Atoi(getEnvOrDefault("MONGOCLAW_REDIS_DB", "0"))
	if err != nil {
		return RedisConfig{}, fmt.Errorf("invalid MONGOCLAW_REDIS_DB: %w", err)
	}
	dialTimeout, err := parseDuration(getEnvOrDefault("MONGOCLAW_REDIS_DIAL_TIMEOUT", "5s"))
	if err != nil {
		return RedisConfig{}, fmt.Errorf("invalid MONGOCLAW_REDIS_DIAL_TIMEOUT: %w", err)
	}
	readTimeout, err := parseDuration(getEnvOrDefault("MONGOCLAW_REDIS_READ_TIMEOUT", "3s"))
	if err != nil {
		return RedisConfig{}, fmt.Errorf("invalid MONGOCLAW_REDIS_READ_TIMEOUT: %w", err)
	}
	writeTimeout, err := parseDuration(getEnvOrDefault("MONGOCLAW_REDIS_WRITE_TIMEOUT", "3s"))
	if err != nil {
		return RedisConfig{}, fmt.Errorf("invalid MONGOCLAW_REDIS_WRITE_TIMEOUT: %w", err)
	}
	poolSize, err := strconv.Atoi(getEnvOrDefault("MONGOCLAW_REDIS_POOL_SIZE", "20"))
	if err != nil {
		return RedisConfig{}, fmt.Errorf("invalid MONGOCLAW_REDIS_POOL_SIZE: %w", err)
	}
	claimMinIdle, err := parseDuration(getEnvOrDefault("MONGOCLAW_REDIS_CLAIM_MIN_IDLE", "30s"))
	if err != nil {
		return RedisConfig{}, fmt.Errorf("invalid MONGOCLAW_REDIS_CLAIM_MIN_IDLE: %w", err)
	}
	maxStreamLen, err := strconv.ParseInt(getEnvOrDefault("MONGOCLAW_REDIS_MAX_STREAM_LENGTH", "1000000"), 10, 64)
	if err != nil {
		return RedisConfig{}, fmt.Errorf("invalid MONGOCLAW_REDIS_MAX_STREAM_LENGTH: %w", err)
	}

	cfg := RedisConfig{
		Addr:            getEnvOrDefault("MONGOCLAW_REDIS_ADDR", "localhost:6379"),
		Password:        os.Getenv("MONGOCLAW_REDIS_PASSWORD"),
		DB:              db,
		DialTimeout:     dialTimeout,
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		PoolSize:        poolSize,
		ConsumerGroup:   getEnvOrDefault("MONGOCLAW_REDIS_CONSUMER_GROUP", "mongoclaw-workers"),
		ConsumerName:    getEnvOrDefault("MONGOCLAW_REDIS_CONSUMER_NAME", defaultConsumerName()),
		ClaimMinIdle:    claimMinIdle,
		MaxStreamLength: maxStreamLen,
	}
	if err := cfg.Validate(); err != nil {
		return RedisConfig{}, err
	}
	return cfg, nil
}

// Validate checks the structural requirements of a Redis config.
func (c RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("MONGOCLAW_REDIS_ADDR is required")
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("MONGOCLAW_REDIS_POOL_SIZE must be at least 1")
	}
	return nil
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "mongoclaw-worker"
	}
	return host
}
