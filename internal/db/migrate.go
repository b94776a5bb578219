package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// SchemaVersion identifies the embedded schema by content hash.
func SchemaVersion() string {
	sum := sha256.Sum256([]byte(schemaSQL))
	return hex.EncodeToString(sum[:8])
}

// ApplySchema runs the embedded DDL and records its version. The DDL is
// idempotent, so re-applying an already recorded version is skipped.
func ApplySchema(ctx context.Context, conn *sql.DB) (applied bool, err error) {
	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return false, fmt.Errorf("ensure migration table: %w", err)
	}

	version := SchemaVersion()
	var exists bool
	if err := conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM public.schema_migrations WHERE version = $1)`, version,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check schema version: %w", err)
	}
	if exists {
		return false, nil
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin schema tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		tx.Rollback()
		return false, fmt.Errorf("exec schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO public.schema_migrations (version) VALUES ($1)`, version,
	); err != nil {
		tx.Rollback()
		return false, fmt.Errorf("record schema %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit schema %s: %w", version, err)
	}
	return true, nil
}
