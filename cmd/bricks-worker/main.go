package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bricks/internal/config"
	"bricks/internal/db"
	"bricks/internal/game"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	tuning, err := config.LoadTuning(cfg.TuningFile)
	if err != nil {
		slog.Error("load tuning", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.DefaultPoolOptions())
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	svc := game.NewService(db.NewPostgresStore(pool), game.DefaultCatalog(), tuning.Odds, logger,
		game.WithSettings(tuning.GameSettings()))

	if cfg.RunOnce {
		if err := tick(ctx, svc, logger); err != nil {
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.TickEvery)
	defer ticker.Stop()

	logger.Info("worker started", "tick_every", cfg.TickEvery.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			_ = tick(ctx, svc, logger)
		}
	}
}

func tick(ctx context.Context, svc *game.Service, logger *slog.Logger) error {
	out, err := svc.Tick(ctx)
	if err != nil {
		logger.Error("market tick failed", "err", err)
		return err
	}
	logger.Info("market tick complete",
		"base_price", out.BasePrice,
		"sentiment", out.Sentiment,
		"filled", out.Sweep.Filled,
		"skipped", out.Sweep.Skipped,
	)
	return nil
}
