package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	verrors "github.com/atinyakov/gophvault/internal/errors"
	"github.com/atinyakov/gophvault/internal/middleware"
	"github.com/atinyakov/gophvault/internal/models"
	"github.com/atinyakov/gophvault/internal/repository"
	"github.com/atinyakov/gophvault/internal/service"
)

// fakeCredentialService implements CredentialService for testing.
type fakeCredentialService struct {
	docs      []models.Document
	listErr   error
	createErr error
	deleteErr error

	owner   string
	created models.Document
	deleted string
}

func (f *fakeCredentialService) List(ctx context.Context, owner string) ([]models.Document, error) {
	f.owner = owner
	return f.docs, f.listErr
}

func (f *fakeCredentialService) Create(ctx context.Context, owner string, doc models.Document) (models.Document, error) {
	f.owner = owner
	if f.createErr != nil {
		return models.Document{}, f.createErr
	}
	doc.ID = "srv-1"
	doc.Owner = owner
	f.created = doc
	return doc, nil
}

func (f *fakeCredentialService) Delete(ctx context.Context, owner, id string) error {
	f.owner = owner
	f.deleted = id
	return f.deleteErr
}

func asOwner(r *http.Request) *http.Request {
	return r.WithContext(middleware.WithUserID(r.Context(), "alice@example.com"))
}

func TestCredentialHandler_List(t *testing.T) {
	svc := &fakeCredentialService{docs: []models.Document{{ID: "a", Site: "a.com"}, {ID: "b", Site: "b.com"}}}
	h := &CredentialHandler{CredentialService: svc}

	rec := httptest.NewRecorder()
	h.List(rec, asOwner(httptest.NewRequest("GET", "/api/credentials", nil)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var docs []models.Document
	if err := json.NewDecoder(rec.Body).Decode(&docs); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if len(docs) != 2 || docs[1].ID != "b" {
		t.Errorf("docs = %+v", docs)
	}
	if svc.owner != "alice@example.com" {
		t.Errorf("owner = %q", svc.owner)
	}
}

func TestCredentialHandler_ListError(t *testing.T) {
	h := &CredentialHandler{CredentialService: &fakeCredentialService{listErr: errors.New("db down")}}

	rec := httptest.NewRecorder()
	h.List(rec, asOwner(httptest.NewRequest("GET", "/api/credentials", nil)))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("db down")) {
		t.Error("internal error detail leaked to the client")
	}
}

func TestCredentialHandler_Create(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		createErr    error
		expectedCode int
	}{
		{"created", `{"site":"a.com","cipher_secret":"00:AA==","cipher_data_key":"00:AA==","last_modified":1}`, nil, http.StatusCreated},
		{"invalid JSON", `{"site":`, nil, http.StatusBadRequest},
		{"invalid document", `{"site":""}`, fmt.Errorf("site is empty: %w", service.ErrInvalidDocument), http.StatusUnprocessableEntity},
		{"unknown owner", `{"site":"a.com"}`, fmt.Errorf("create: %w", repository.ErrUnknownOwner), http.StatusForbidden},
		{"storage failure", `{"site":"a.com"}`, errors.New("insert failed"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeCredentialService{createErr: tt.createErr}
			h := &CredentialHandler{CredentialService: svc}

			rec := httptest.NewRecorder()
			h.Create(rec, asOwner(httptest.NewRequest("POST", "/api/credentials", bytes.NewBufferString(tt.body))))

			if rec.Code != tt.expectedCode {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedCode, rec.Code, rec.Body.String())
			}
			if tt.expectedCode != http.StatusCreated {
				return
			}
			var doc models.Document
			if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
				t.Fatalf("failed to decode JSON: %v", err)
			}
			if doc.ID != "srv-1" || doc.Owner != "alice@example.com" || doc.Site != "a.com" {
				t.Errorf("created = %+v", doc)
			}
		})
	}
}

func TestCredentialHandler_Delete(t *testing.T) {
	tests := []struct {
		name         string
		deleteErr    error
		expectedCode int
	}{
		{"deleted", nil, http.StatusNoContent},
		{"not found", fmt.Errorf("credential srv-9: %w", verrors.ErrNotFound), http.StatusNotFound},
		{"storage failure", errors.New("update failed"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeCredentialService{deleteErr: tt.deleteErr}
			h := &CredentialHandler{CredentialService: svc}

			r := chi.NewRouter()
			r.Delete("/api/credentials/{id}", h.Delete)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, asOwner(httptest.NewRequest("DELETE", "/api/credentials/srv-9", nil)))

			if rec.Code != tt.expectedCode {
				t.Fatalf("expected status %d, got %d", tt.expectedCode, rec.Code)
			}
			if svc.deleted != "srv-9" {
				t.Errorf("deleted id = %q", svc.deleted)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(rec, httptest.NewRequest("GET", "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if payload["status"] != "ok" {
		t.Errorf("status = %q", payload["status"])
	}
}
