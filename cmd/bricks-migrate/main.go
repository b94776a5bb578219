package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq"

	"bricks/internal/config"
	"bricks/internal/db"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadMigrateFromEnv()
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	conn, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("open db", "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	applied, err := db.ApplySchema(ctx, conn)
	if err != nil {
		logger.Error("apply schema", "err", err, "version", db.SchemaVersion())
		os.Exit(1)
	}
	if !applied {
		logger.Info("schema already current", "version", db.SchemaVersion())
		return
	}
	logger.Info("schema applied", "version", db.SchemaVersion())
}
