package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"bricks/internal/game"
	"bricks/internal/odds"
)

// Tuning is the optional YAML file with draw rates and market knobs.
type Tuning struct {
	Odds    odds.Config   `yaml:"odds"`
	Market  MarketTuning  `yaml:"market"`
	Starter StarterTuning `yaml:"starter"`
}

type MarketTuning struct {
	BucketSize    time.Duration `yaml:"bucket_size"`
	MinListPrice  int64         `yaml:"min_list_price"`
	AdminBatchCap int           `yaml:"admin_batch_cap"`
	HistoryLimit  int           `yaml:"history_limit"`
}

type StarterTuning struct {
	Coins  int64 `yaml:"coins"`
	Tokens int64 `yaml:"tokens"`
}

func DefaultTuning() Tuning {
	return Tuning{
		Odds: odds.DefaultConfig(),
		Market: MarketTuning{
			BucketSize:    10 * time.Minute,
			MinListPrice:  40,
			AdminBatchCap: 100,
			HistoryLimit:  50,
		},
		Starter: StarterTuning{Coins: 2000, Tokens: 10},
	}
}

// LoadTuning reads path on top of the defaults. An empty path yields the
// defaults. ${VAR} references are expanded before parsing.
func LoadTuning(path string) (Tuning, error) {
	cfg := DefaultTuning()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, fmt.Errorf("parse tuning yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate tuning: %w", err)
	}
	return cfg, nil
}

func (t *Tuning) applyDefaults() {
	d := DefaultTuning()
	if t.Market.BucketSize <= 0 {
		t.Market.BucketSize = d.Market.BucketSize
	}
	if t.Market.MinListPrice <= 0 {
		t.Market.MinListPrice = d.Market.MinListPrice
	}
	if t.Market.AdminBatchCap <= 0 {
		t.Market.AdminBatchCap = d.Market.AdminBatchCap
	}
	if t.Market.HistoryLimit <= 0 {
		t.Market.HistoryLimit = d.Market.HistoryLimit
	}
}

func (t Tuning) Validate() error {
	if err := t.Odds.Validate(); err != nil {
		return fmt.Errorf("odds: %w", err)
	}
	if t.Market.BucketSize < time.Second {
		return fmt.Errorf("market.bucket_size must be at least 1s")
	}
	if t.Starter.Coins < 0 || t.Starter.Tokens < 0 {
		return fmt.Errorf("starter amounts must be >= 0")
	}
	return nil
}

// GameSettings maps the market and starter knobs onto the service settings.
func (t Tuning) GameSettings() game.Settings {
	return game.Settings{
		AdminBatchCap: t.Market.AdminBatchCap,
		MinListPrice:  t.Market.MinListPrice,
		BucketSize:    t.Market.BucketSize,
		StarterCoins:  t.Starter.Coins,
		StarterTokens: t.Starter.Tokens,
		HistoryLimit:  t.Market.HistoryLimit,
	}
}
