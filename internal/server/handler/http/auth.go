// Package http provides the HTTP handlers of the gophvault record store:
// registration, certificate login, and the per-owner credential collection.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/atinyakov/gophvault/internal/certgen"
	"github.com/atinyakov/gophvault/internal/repository"
	"github.com/atinyakov/gophvault/internal/service"
)

// AuthService defines the interface for authentication operations
// required by the HTTP handlers.
type AuthService interface {
	// UserExists checks whether a user with the given login exists.
	// Returns true if the user exists, false otherwise.
	UserExists(context.Context, string) (bool, error)
	// RegisterUser registers a new user with the given login.
	RegisterUser(context.Context, string) error
}

// AuthHandler handles HTTP requests for user registration and login.
type AuthHandler struct {
	// AuthService performs the underlying authentication operations.
	AuthService AuthService
	// CertDir holds ca.crt and ca.key used to sign client certificates.
	CertDir string
	// Log receives handler failures. May be nil.
	Log *zap.Logger
}

// RegisterRequest represents the JSON payload for user registration.
type RegisterRequest struct {
	// Login is the email address to register.
	Login string `json:"login"`
}

// Register handles user registration requests.
// It expects a JSON body whose "login" is an email address.
// If the user does not already exist, it generates a client certificate
// signed by the CA, stores the user, and returns the PEM-encoded
// certificate and private key.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	login, err := service.NormalizeLogin(req.Login)
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	exists, err := h.AuthService.UserExists(r.Context(), login)
	if err != nil {
		h.logger().Error("user lookup failed", zap.String("login", login), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if exists {
		http.Error(w, "user already exists", http.StatusConflict)
		return
	}

	caCert, caKey, err := certgen.LoadCACredentials(
		filepath.Join(h.CertDir, certgen.CACertFile),
		filepath.Join(h.CertDir, certgen.CAKeyFile),
	)
	if err != nil {
		h.logger().Error("failed to load CA", zap.Error(err))
		http.Error(w, "failed to load CA", http.StatusInternalServerError)
		return
	}

	certPEM, keyPEM, err := certgen.GenerateUserCertificate(login, caCert, caKey)
	if err != nil {
		h.logger().Error("failed to generate certificate", zap.Error(err))
		http.Error(w, "failed to generate certificate", http.StatusInternalServerError)
		return
	}

	if err := h.AuthService.RegisterUser(r.Context(), login); err != nil {
		if errors.Is(err, repository.ErrLoginTaken) {
			http.Error(w, "user already exists", http.StatusConflict)
			return
		}
		h.logger().Error("failed to save user", zap.String("login", login), zap.Error(err))
		http.Error(w, "failed to save user", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"cert": string(certPEM),
		"key":  string(keyPEM),
	})
}

// Login handles certificate-based login requests.
// The CommonName of the client certificate is the login.
// If the user exists, it returns a JSON status "ok" and the login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		http.Error(w, "client certificate required", http.StatusUnauthorized)
		return
	}

	login := strings.ToLower(strings.TrimSpace(r.TLS.PeerCertificates[0].Subject.CommonName))

	exists, err := h.AuthService.UserExists(r.Context(), login)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !exists {
		http.Error(w, "user not found", http.StatusForbidden)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"user":   login,
	})
}

func (h *AuthHandler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
