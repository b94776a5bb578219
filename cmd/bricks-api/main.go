package main

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bricks/internal/api"
	"bricks/internal/auth"
	"bricks/internal/config"
	"bricks/internal/db"
	"bricks/internal/game"
	"bricks/internal/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
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

	var store game.Store
	switch cfg.Storage {
	case config.StorageMemory:
		logger.Warn("using in-memory storage, state is lost on restart")
		store = db.NewMemoryStore()
	default:
		pool, err := db.Connect(ctx, cfg.DatabaseURL, db.DefaultPoolOptions())
		if err != nil {
			logger.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		store = db.NewPostgresStore(pool)
	}

	opts := []game.Option{game.WithSettings(tuning.GameSettings())}
	if cfg.Seed != 0 {
		opts = append(opts, game.WithRand(rand.New(rand.NewSource(cfg.Seed))))
	}
	var serverOpts []api.Option
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, game.WithMetrics(metrics.New(reg)))
		serverOpts = append(serverOpts, api.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
	gameSvc := game.NewService(store, game.DefaultCatalog(), tuning.Odds, logger, opts...)

	var verifier api.TokenVerifier
	if cfg.DevTokens != "" {
		tokens, err := auth.ParseStaticTokens(cfg.DevTokens)
		if err != nil {
			logger.Error("parse dev tokens", "err", err)
			os.Exit(1)
		}
		logger.Warn("static dev tokens enabled", "count", len(tokens))
		verifier = tokens
	} else {
		supabase := auth.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.AdminRole)
		verifier = supabase
		serverOpts = append(serverOpts, api.WithSessions(supabase))
	}

	server := api.New(logger, verifier, gameSvc, serverOpts...)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("bricks api listening", "addr", cfg.Addr, "storage", cfg.Storage, "metrics", cfg.MetricsEnabled)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
