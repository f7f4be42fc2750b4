package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	verrors "github.com/atinyakov/gophvault/internal/errors"
	"github.com/atinyakov/gophvault/internal/models"
)

// ErrInvalidDocument is returned when an uploaded document is incomplete.
var ErrInvalidDocument = errors.New("invalid credential document")

// CredentialRepository defines the persistence operations needed by the
// CredentialService.
type CredentialRepository interface {
	// ListByOwner returns every live document of owner.
	ListByOwner(ctx context.Context, owner string) ([]models.Document, error)
	// Create stores doc under owner and returns it with its assigned id.
	Create(ctx context.Context, owner string, doc models.Document) (models.Document, error)
	// SoftDelete marks the document deleted, reporting whether it existed.
	SoftDelete(ctx context.Context, owner, id string) (bool, error)
}

// CredentialService scopes every document operation to the authenticated
// owner. The server never sees plaintext: documents are stored as sent.
type CredentialService struct {
	repo CredentialRepository
}

// NewCredentialService constructs a CredentialService.
func NewCredentialService(repo CredentialRepository) *CredentialService {
	return &CredentialService{repo: repo}
}

// List returns the full collection of owner.
func (s *CredentialService) List(ctx context.Context, owner string) ([]models.Document, error) {
	docs, err := s.repo.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []models.Document{}
	}
	return docs, nil
}

// Create validates doc and stores it for owner. Any id or owner in doc is
// ignored.
func (s *CredentialService) Create(ctx context.Context, owner string, doc models.Document) (models.Document, error) {
	if err := validateDocument(doc); err != nil {
		return models.Document{}, err
	}
	doc.ID = ""
	return s.repo.Create(ctx, owner, doc)
}

// Delete removes the document id of owner, or returns ErrNotFound.
func (s *CredentialService) Delete(ctx context.Context, owner, id string) error {
	found, err := s.repo.SoftDelete(ctx, owner, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("credential %s: %w", id, verrors.ErrNotFound)
	}
	return nil
}

func validateDocument(d models.Document) error {
	switch {
	case strings.TrimSpace(d.Site) == "":
		return fmt.Errorf("site is empty: %w", ErrInvalidDocument)
	case !isEnvelope(d.CipherSecret):
		return fmt.Errorf("cipher_secret is not an envelope: %w", ErrInvalidDocument)
	case !isEnvelope(d.CipherDataKey):
		return fmt.Errorf("cipher_data_key is not an envelope: %w", ErrInvalidDocument)
	case d.LastModified < 0:
		return fmt.Errorf("last_modified is negative: %w", ErrInvalidDocument)
	}
	return nil
}

// isEnvelope checks the iv:ciphertext shape without decoding either part.
func isEnvelope(s string) bool {
	iv, ct, ok := strings.Cut(s, ":")
	return ok && iv != "" && ct != ""
}
