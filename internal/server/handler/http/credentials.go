package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	verrors "github.com/atinyakov/gophvault/internal/errors"
	"github.com/atinyakov/gophvault/internal/middleware"
	"github.com/atinyakov/gophvault/internal/models"
	"github.com/atinyakov/gophvault/internal/repository"
	"github.com/atinyakov/gophvault/internal/service"
)

// maxDocumentBytes bounds a single uploaded document.
const maxDocumentBytes = 1 << 20

// CredentialService defines the owner-scoped document operations required
// by the CredentialHandler.
type CredentialService interface {
	List(ctx context.Context, owner string) ([]models.Document, error)
	Create(ctx context.Context, owner string, doc models.Document) (models.Document, error)
	Delete(ctx context.Context, owner, id string) error
}

// CredentialHandler serves the credential collection of the authenticated
// owner.
type CredentialHandler struct {
	CredentialService CredentialService
	Log               *zap.Logger
}

// List handles GET /api/credentials and returns a JSON array.
func (h *CredentialHandler) List(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetUserIDFromContext(r.Context())

	docs, err := h.CredentialService.List(r.Context(), owner)
	if err != nil {
		h.logger().Error("list credentials failed", zap.String("owner", owner), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// Create handles POST /api/credentials. It responds 201 with the stored
// document, carrying the id the server assigned.
func (h *CredentialHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetUserIDFromContext(r.Context())

	var doc models.Document
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDocumentBytes)).Decode(&doc); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	created, err := h.CredentialService.Create(r.Context(), owner, doc)
	switch {
	case errors.Is(err, service.ErrInvalidDocument):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case errors.Is(err, repository.ErrUnknownOwner):
		http.Error(w, "user not found", http.StatusForbidden)
		return
	case err != nil:
		h.logger().Error("create credential failed", zap.String("owner", owner), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Delete handles DELETE /api/credentials/{id}.
func (h *CredentialHandler) Delete(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetUserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	err := h.CredentialService.Delete(r.Context(), owner, id)
	switch {
	case errors.Is(err, verrors.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
		return
	case err != nil:
		h.logger().Error("delete credential failed", zap.String("owner", owner), zap.String("id", id), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CredentialHandler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

// Health handles GET /api/health.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
