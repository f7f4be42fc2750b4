package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/atinyakov/gophvault/internal/models"
)

// ErrUnknownOwner is returned when a document is created for a login that
// was never registered.
var ErrUnknownOwner = errors.New("owner is not registered")

// pqForeignKeyViolation is the SQLSTATE for a failed REFERENCES check.
const pqForeignKeyViolation = "23503"

// PostgresCredentialRepository stores credential documents. Deletes are soft;
// db.StartSoftDeleteCleaner purges them later.
type PostgresCredentialRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresCredentialRepository creates a PostgresCredentialRepository using the provided *sql.DB.
func NewPostgresCredentialRepository(db *sql.DB) *PostgresCredentialRepository {
	return &PostgresCredentialRepository{DB: db}
}

// ListByOwner returns every live document of owner, newest first.
func (s *PostgresCredentialRepository) ListByOwner(ctx context.Context, owner string) ([]models.Document, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, owner, site, account_label, cipher_secret, cipher_data_key, category, last_modified
		  FROM credentials
		 WHERE owner = $1 AND deleted = false
		 ORDER BY last_modified DESC, id
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("ListByOwner: %w", err)
	}
	defer rows.Close()

	docs := make([]models.Document, 0)
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.Owner, &d.Site, &d.AccountLabel,
			&d.CipherSecret, &d.CipherDataKey, &d.Category, &d.LastModified); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByOwner: %w", err)
	}
	return docs, nil
}

// Create stores doc under owner with a fresh id and returns the stored
// document.
func (s *PostgresCredentialRepository) Create(ctx context.Context, owner string, doc models.Document) (models.Document, error) {
	doc.ID = uuid.NewString()
	doc.Owner = owner
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO credentials (id, owner, site, account_label, cipher_secret, cipher_data_key, category, last_modified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, doc.ID, owner, doc.Site, doc.AccountLabel, doc.CipherSecret, doc.CipherDataKey, doc.Category, doc.LastModified)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
			return models.Document{}, fmt.Errorf("create %s: %w", owner, ErrUnknownOwner)
		}
		return models.Document{}, fmt.Errorf("create: %w", err)
	}
	return doc, nil
}

// SoftDelete marks the document id of owner as deleted. It reports false
// when no live document matched.
func (s *PostgresCredentialRepository) SoftDelete(ctx context.Context, owner, id string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE credentials SET deleted = true, deleted_at = now()
		 WHERE owner = $1 AND id = $2 AND deleted = false
	`, owner, id)
	if err != nil {
		return false, fmt.Errorf("SoftDelete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("SoftDelete: %w", err)
	}
	return n > 0, nil
}
