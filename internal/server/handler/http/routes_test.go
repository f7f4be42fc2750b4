package http

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/atinyakov/gophvault/internal/metrics"
	"github.com/atinyakov/gophvault/internal/models"
)

func newTestRouter(t *testing.T, svc *fakeCredentialService) http.Handler {
	t.Helper()
	return NewRouter(
		&AuthHandler{AuthService: &fakeAuthService{existsReturn: true}, CertDir: t.TempDir()},
		&CredentialHandler{CredentialService: svc},
		metrics.New(),
		zap.NewNop(),
	)
}

func withClientCert(r *http.Request, cn string) *http.Request {
	r.TLS = &tls.ConnectionState{PeerCertificates: []*x509.Certificate{{Subject: pkix.Name{CommonName: cn}}}}
	return r
}

func TestRouter_HealthIsPublic(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(t, &fakeCredentialService{}).ServeHTTP(rec, httptest.NewRequest("GET", "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestRouter_CredentialsRequireCertificate(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(t, &fakeCredentialService{}).ServeHTTP(rec, httptest.NewRequest("GET", "/api/credentials", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestRouter_CredentialsScopedToCertificate(t *testing.T) {
	svc := &fakeCredentialService{docs: []models.Document{}}
	router := newTestRouter(t, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withClientCert(httptest.NewRequest("GET", "/api/credentials", nil), "Bob@Example.com"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %q; want empty array", rec.Body.String())
	}
	if svc.owner != "bob@example.com" {
		t.Errorf("owner = %q", svc.owner)
	}
}

func TestRouter_CreateAndDelete(t *testing.T) {
	svc := &fakeCredentialService{}
	router := newTestRouter(t, svc)

	body := `{"site":"a.com","cipher_secret":"00:AA==","cipher_data_key":"00:AA==","last_modified":1}`
	req := withClientCert(httptest.NewRequest("POST", "/api/credentials", bytes.NewBufferString(body)), "alice@example.com")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected status 201, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, withClientCert(httptest.NewRequest("DELETE", "/api/credentials/srv-1", nil), "alice@example.com"))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected status 204, got %d", rec.Code)
	}
	if svc.deleted != "srv-1" {
		t.Errorf("deleted id = %q", svc.deleted)
	}
}

func TestRouter_RejectsNonJSONBody(t *testing.T) {
	req := withClientCert(httptest.NewRequest("POST", "/api/credentials", bytes.NewBufferString("site=a.com")), "alice@example.com")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	newTestRouter(t, &fakeCredentialService{}).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status 415, got %d", rec.Code)
	}
}

func TestRouter_MetricsIsPublic(t *testing.T) {
	router := newTestRouter(t, &fakeCredentialService{})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/health", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "gophvault_http_requests_total") {
		t.Errorf("metrics output missing request counter:\n%s", rec.Body.String())
	}
}
