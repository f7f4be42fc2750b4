// Package db opens the record store database and runs its maintenance jobs.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// schema is applied in order inside one transaction. Every statement is
// idempotent so ApplySchema can run on each start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
    login TEXT PRIMARY KEY,
    registered_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS credentials (
    id TEXT PRIMARY KEY,
    owner TEXT NOT NULL REFERENCES users(login) ON DELETE CASCADE,
    site TEXT NOT NULL,
    account_label TEXT NOT NULL,
    cipher_secret TEXT NOT NULL,
    cipher_data_key TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    last_modified BIGINT NOT NULL,
    deleted BOOLEAN NOT NULL DEFAULT FALSE,
    deleted_at TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS credentials_owner_idx ON credentials (owner) WHERE deleted = false`,
	`CREATE INDEX IF NOT EXISTS credentials_purge_idx ON credentials (deleted_at) WHERE deleted = true`,
}

// connectTimeout bounds the initial ping and schema setup.
const connectTimeout = 10 * time.Second

// InitPostgres connects to dsn and applies the schema.
func InitPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ApplySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ApplySchema creates the tables and indexes of the record store.
func ApplySchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("create schema (statement %d): %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
