// Package remote talks to the record store server over HTTPS with a client
// certificate. It classifies every failure into the sentinel errors the
// reconcile engine understands.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	verrors "github.com/atinyakov/gophvault/internal/errors"
	"github.com/atinyakov/gophvault/internal/models"
)

// API paths served by the record store.
const (
	PathHealth      = "/api/health"
	PathCredentials = "/api/credentials"
	PathRegister    = "/api/register"
)

// Client is the record store client.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
	now     func() time.Time
}

// New returns a Client for baseURL. hc is usually built by
// LoadClientCertificate.
func New(baseURL string, hc *http.Client, log *zap.Logger) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{baseURL: baseURL, http: hc, log: log, now: time.Now}
}

// Ping checks that the record store is reachable.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, PathHealth, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// FetchAll returns every document of the caller's namespace.
func (c *Client) FetchAll(ctx context.Context) ([]models.Document, error) {
	resp, err := c.do(ctx, http.MethodGet, PathCredentials, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var docs []models.Document
	if err := json.NewDecoder(resp.Body).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decode credentials: %w: %w", verrors.ErrMalformedResponse, err)
	}
	for _, d := range docs {
		if d.ID == "" {
			return nil, fmt.Errorf("document without id: %w", verrors.ErrMalformedResponse)
		}
	}
	return docs, nil
}

// Create uploads doc and returns the id the record store assigned.
func (c *Client) Create(ctx context.Context, doc models.Document) (string, error) {
	doc.ID = ""
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, PathCredentials, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var created models.Document
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode created document: %w: %w", verrors.ErrMalformedResponse, err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("created document without id: %w", verrors.ErrMalformedResponse)
	}
	return created.ID, nil
}

// Delete removes the document with id. A document that is already gone
// counts as deleted.
func (c *Client) Delete(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, PathCredentials+"/"+url.PathEscape(id), nil)
	if err != nil {
		var se *verrors.ServerError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			c.log.Debug("remote document already deleted", zap.String("id", id))
			return nil
		}
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// do sends the request and returns the response only for 2xx statuses.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(ctx, method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s %s: %w", method, path, verrors.FromResponse(resp, c.now()))
	}
	return resp, nil
}

// classify maps a transport failure to ErrTimeout or ErrOffline.
func classify(ctx context.Context, method, path string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w: %w", method, path, verrors.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%s %s: %w: %w", method, path, verrors.ErrTimeout, err)
	}
	return fmt.Errorf("%s %s: %w: %w", method, path, verrors.ErrOffline, err)
}
