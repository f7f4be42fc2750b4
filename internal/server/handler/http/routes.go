package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atinyakov/gophvault/internal/metrics"
	"github.com/atinyakov/gophvault/internal/middleware"
)

// NewRouter constructs the HTTP handler of the record store.
//
// Routes:
//
//	POST   /api/register          → authHandler.Register (public)
//	POST   /api/login             → authHandler.Login
//	GET    /api/health            → Health (public)
//	GET    /api/credentials       → credHandler.List
//	POST   /api/credentials       → credHandler.Create
//	DELETE /api/credentials/{id}  → credHandler.Delete
//	GET    /metrics               → Prometheus exposition (public)
//
// Middleware chain (applied in order):
//  1. AllowContentType("application/json") for requests with a body
//  2. WithRequestLogging(logger)
//  3. WithMetrics(m)
//  4. CertAuth, which enforces TLS client certificate auth
func NewRouter(
	authHandler *AuthHandler,
	credHandler *CredentialHandler,
	m *metrics.Metrics,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.AllowContentType("application/json"))
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(middleware.WithMetrics(m))
	r.Use(middleware.CertAuth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Get("/health", Health)

		r.Route("/credentials", func(r chi.Router) {
			r.Get("/", credHandler.List)
			r.Post("/", credHandler.Create)
			r.Delete("/{id}", credHandler.Delete)
		})
	})

	r.Method(http.MethodGet, "/metrics", m.Handler())

	return r
}
