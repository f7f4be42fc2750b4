// Package repository implements the record store persistence on PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrLoginTaken is returned when a login is registered twice, including by
// two concurrent registrations that both passed the existence check.
var ErrLoginTaken = errors.New("login already registered")

// PostgresAuthRepository stores registered identities.
type PostgresAuthRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresAuthRepository creates a PostgresAuthRepository using the provided *sql.DB.
func NewPostgresAuthRepository(db *sql.DB) *PostgresAuthRepository {
	return &PostgresAuthRepository{DB: db}
}

// UserExists reports whether login is registered.
func (s *PostgresAuthRepository) UserExists(ctx context.Context, login string) (bool, error) {
	var exists bool
	if err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE login = $1)`,
		login,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("UserExists: %w", err)
	}
	return exists, nil
}

// RegisterUser inserts login, or returns ErrLoginTaken if it is already
// present.
func (s *PostgresAuthRepository) RegisterUser(ctx context.Context, login string) error {
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO users (login) VALUES ($1) ON CONFLICT (login) DO NOTHING`,
		login,
	)
	if err != nil {
		return fmt.Errorf("RegisterUser: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("RegisterUser: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", login, ErrLoginTaken)
	}
	return nil
}
