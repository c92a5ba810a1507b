package config

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
)

// Config aggregates every subsystem's settings, the mongoclaw counterpart of
// the per-concern config structs wired up in the teacher's cmd/tarsy/main.go.
type Config struct {
	Mongo       MongoConfig
	Redis       RedisConfig
	AI          AIConfig
	Worker      WorkerConfig
	Watcher     WatcherConfig
	Election    ElectionConfig
	Dispatcher  DispatcherConfig
	MetricsAddr string
}

// Load reads a .env file at envPath (if present) and then assembles Config
// from the environment, matching the teacher's godotenv.Load + LoadConfigFromEnv
// sequence in cmd/tarsy/main.go.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			slog.Warn("could not load env file, continuing with existing environment", "path", envPath, "error", err)
		} else {
			slog.Info("loaded environment file", "path", envPath)
		}
	}

	mongoCfg, err := LoadMongoConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("loading mongo config: %w", err)
	}
	redisCfg, err := LoadRedisConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("loading redis config: %w", err)
	}
	aiCfg, err := LoadAIConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("loading ai config: %w", err)
	}
	workerCfg, err := LoadWorkerConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("loading worker config: %w", err)
	}
	watcherCfg, err := LoadWatcherConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("loading watcher config: %w", err)
	}
	electionCfg, err := LoadElectionConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("loading election config: %w", err)
	}
	dispatcherCfg, err := LoadDispatcherConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("loading dispatcher config: %w", err)
	}

	return &Config{
		Mongo:       mongoCfg,
		Redis:       redisCfg,
		AI:          aiCfg,
		Worker:      workerCfg,
		Watcher:     watcherCfg,
		Election:    electionCfg,
		Dispatcher:  dispatcherCfg,
		MetricsAddr: getEnvOrDefault("MONGOCLAW_METRICS_ADDR", ":9090"),
	}, nil
}
