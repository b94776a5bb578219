package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type APIConfig struct {
	Addr            string
	Storage         string
	DatabaseURL     string
	SupabaseURL     string
	SupabaseAnonKey string
	AdminRole       string
	DevTokens       string
	TuningFile      string
	MetricsEnabled  bool
	Seed            int64
}

type WorkerConfig struct {
	DatabaseURL string
	TuningFile  string
	TickEvery   time.Duration
	RunOnce     bool
}

type MigrateConfig struct {
	DatabaseURL string
}

type CLIConfig struct {
	APIBaseURL string
	QueueFile  string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("BRICKS_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:            addr,
		Storage:         strings.ToLower(envDefault("BRICKS_STORAGE", StoragePostgres)),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SupabaseURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey: strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		AdminRole:       envDefault("BRICKS_ADMIN_ROLE", "admin"),
		DevTokens:       strings.TrimSpace(os.Getenv("BRICKS_DEV_TOKENS")),
		TuningFile:      strings.TrimSpace(os.Getenv("BRICKS_TUNING_FILE")),
		MetricsEnabled:  envBoolDefault("BRICKS_METRICS_ENABLED", true),
		Seed:            envInt64Default("BRICKS_RAND_SEED", 0),
	}
	switch cfg.Storage {
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required")
		}
	case StorageMemory:
	default:
		return cfg, fmt.Errorf("BRICKS_STORAGE must be %q or %q, got %q", StoragePostgres, StorageMemory, cfg.Storage)
	}
	if cfg.DevTokens == "" {
		if cfg.SupabaseURL == "" {
			return cfg, fmt.Errorf("SUPABASE_URL is required")
		}
		if cfg.SupabaseAnonKey == "" {
			return cfg, fmt.Errorf("SUPABASE_ANON_KEY is required")
		}
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		TuningFile:  strings.TrimSpace(os.Getenv("BRICKS_TUNING_FILE")),
		TickEvery:   envDurationDefault("BRICKS_MARKET_TICK_EVERY", time.Minute),
		RunOnce:     envBoolDefault("BRICKS_WORKER_RUN_ONCE", false),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.TickEvery <= 0 {
		return cfg, fmt.Errorf("BRICKS_MARKET_TICK_EVERY must be positive")
	}
	return cfg, nil
}

func LoadMigrateFromEnv() (MigrateConfig, error) {
	cfg := MigrateConfig{DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL"))}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("BRK_API_BASE_URL", "http://localhost:8080"), "/"),
		QueueFile:  strings.TrimSpace(os.Getenv("BRK_QUEUE_FILE")),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envInt64Default(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
