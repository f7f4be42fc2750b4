// Package middleware provides HTTP middlewares for authentication, logging
// and metrics.
package middleware

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey string

const userKey ctxKey = "user"

// publicPaths are served without a client certificate: registration issues
// the certificate, the others are for probes and scrapers.
var publicPaths = map[string]bool{
	"/api/register": true,
	"/api/health":   true,
	"/metrics":      true,
}

// CertAuth enforces mutual TLS on every path except publicPaths.
//
// The Common Name of the verified client certificate, lowercased, becomes
// the owner of every document the request touches.
func CertAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
			http.Error(w, "no client certificate provided", http.StatusUnauthorized)
			return
		}
		cn := strings.ToLower(strings.TrimSpace(r.TLS.PeerCertificates[0].Subject.CommonName))
		if cn == "" {
			http.Error(w, "client certificate has no common name", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), userKey, cn)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserIDFromContext extracts the user ID (Common Name from client certificate)
// from the request context. Returns an empty string if not found.
func GetUserIDFromContext(ctx context.Context) string {
	val := ctx.Value(userKey)
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}

// WithUserID returns a copy of ctx carrying login as the authenticated user.
func WithUserID(ctx context.Context, login string) context.Context {
	return context.WithValue(ctx, userKey, login)
}
