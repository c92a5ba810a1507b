package config

import "testing"

func withEnv(t *testing.T, kv map[string]string, fn func()) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
	fn()
}

func TestLoadMongoConfigFromEnvDefaults(t *testing.T) {
	withEnv(t, map[string]string{"MONGOCLAW_MONGO_URI": "mongodb://localhost:27017"}, func() {
		cfg, err := LoadMongoConfigFromEnv()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Database != "mongoclaw" {
			t.Fatalf("expected default database name, got %q", cfg.Database)
		}
		if cfg.MaxPoolSize != 100 {
			t.Fatalf("expected default max pool size 100, got %d", cfg.MaxPoolSize)
		}
	})
}

func TestLoadMongoConfigFromEnvRequiresURI(t *testing.T) {
	t.Setenv("MONGOCLAW_MONGO_URI", "")
	if _, err := LoadMongoConfigFromEnv(); err == nil {
		t.Fatalf("expected error when MONGOCLAW_MONGO_URI is unset")
	}
}

func TestLoadMongoConfigFromEnvPoolSizeOrdering(t *testing.T) {
	withEnv(t, map[string]string{
		"MONGOCLAW_MONGO_URI":           "mongodb://localhost:27017",
		"MONGOCLAW_MONGO_MIN_POOL_SIZE": "50",
		"MONGOCLAW_MONGO_MAX_POOL_SIZE": "10",
	}, func() {
		if _, err := LoadMongoConfigFromEnv(); err == nil {
			t.Fatalf("expected error when min pool size exceeds max pool size")
		}
	})
}

func TestLoadRedisConfigFromEnvDefaults(t *testing.T) {
	cfg, err := LoadRedisConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != "localhost:6379" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.ConsumerGroup != "mongoclaw-workers" {
		t.Fatalf("expected default consumer group, got %q", cfg.ConsumerGroup)
	}
}

func TestLoadAIConfigFromEnvStubNeedsNoKey(t *testing.T) {
	cfg, err := LoadAIConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error for stub provider without api key: %v", err)
	}
	if cfg.Provider != "stub" {
		t.Fatalf("expected default stub provider, got %q", cfg.Provider)
	}
}

func TestLoadAIConfigFromEnvNonStubRequiresKey(t *testing.T) {
	t.Setenv("MONGOCLAW_AI_PROVIDER", "openai")
	t.Setenv("MONGOCLAW_AI_API_KEY", "")
	if _, err := LoadAIConfigFromEnv(); err == nil {
		t.Fatalf("expected error when non-stub provider has no api key")
	}
}

func TestLoadWorkerConfigFromEnvDefaults(t *testing.T) {
	cfg, err := LoadWorkerConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WorkerCount != 5 {
		t.Fatalf("expected default worker count 5, got %d", cfg.WorkerCount)
	}
}

func TestLoadElectionConfigFromEnvRenewMustBeShorterThanLease(t *testing.T) {
	withEnv(t, map[string]string{
		"MONGOCLAW_ELECTION_LEASE_DURATION": "5s",
		"MONGOCLAW_ELECTION_RENEW_INTERVAL": "10s",
	}, func() {
		if _, err := LoadElectionConfigFromEnv(); err == nil {
			t.Fatalf("expected error when renew interval exceeds lease duration")
		}
	})
}

func TestLoadAggregatesAllSubsystems(t *testing.T) {
	t.Setenv("MONGOCLAW_MONGO_URI", "mongodb://localhost:27017")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mongo.URI == "" || cfg.Redis.Addr == "" || cfg.AI.Provider == "" {
		t.Fatalf("expected all subsystem configs to be populated, got %+v", cfg)
	}
}
