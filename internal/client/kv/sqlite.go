package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	verrors "github.com/atinyakov/gophvault/internal/errors"
)

// SQLite is a Store backed by a local SQLite database in WAL mode.
// The writer connection is limited to one so writes never contend.
type SQLite struct {
	writer *sql.DB
	reader *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)",
		path,
	)

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w: %w", verrors.ErrStorageUnavailable, err)
	}
	writer.SetMaxOpenConns(1)
	if err := writer.PingContext(ctx); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("ping writer: %w: %w", verrors.ErrStorageUnavailable, err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open reader: %w: %w", verrors.ErrStorageUnavailable, err)
	}
	reader.SetMaxOpenConns(4)
	if err := reader.PingContext(ctx); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		return nil, fmt.Errorf("ping reader: %w: %w", verrors.ErrStorageUnavailable, err)
	}

	if err := runMigrations(writer); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		return nil, fmt.Errorf("%w: %w", verrors.ErrStorageUnavailable, err)
	}

	return &SQLite{writer: writer, reader: reader}, nil
}

// Get returns the value stored under key.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	const query = `SELECT value FROM kv WHERE key = ?`
	var value []byte
	err := s.reader.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, verrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w: %w", key, verrors.ErrStorageUnavailable, err)
	}
	return value, nil
}

// Put stores value under key, replacing any previous value.
func (s *SQLite) Put(ctx context.Context, key string, value []byte) error {
	const query = `INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)`
	if _, err := s.writer.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("put %q: %w: %w", key, verrors.ErrStorageWriteFailed, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM kv WHERE key = ?`
	if _, err := s.writer.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("delete %q: %w: %w", key, verrors.ErrStorageWriteFailed, err)
	}
	return nil
}

// Close closes both connections and returns the first error.
func (s *SQLite) Close() error {
	var firstErr error
	if err := s.reader.Close(); err != nil {
		firstErr = fmt.Errorf("close reader: %w", err)
	}
	if err := s.writer.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close writer: %w", err)
	}
	return firstErr
}
