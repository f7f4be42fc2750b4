// Package breach checks account identities against a breach-reputation
// service. Calls are paced, results are cached per session, and a pass runs
// at most once per TTL unless forced.
package breach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gregjones/httpcache"

	verrors "github.com/atinyakov/gophvault/internal/errors"
)

// metricsKey is the response field present only for exposed identities.
const metricsKey = "BreachMetrics"

// Checker reports whether one identity appears in known breaches.
type Checker interface {
	Check(ctx context.Context, identity string) (bool, error)
}

// Client queries the breach-analytics endpoint with GET {endpoint}?email=.
type Client struct {
	endpoint string
	http     *http.Client
	now      func() time.Time
}

var _ Checker = (*Client)(nil)

// NewClient returns a Client whose transport honours HTTP caching headers
// so repeated lookups can be served by conditional requests.
func NewClient(endpoint string, timeout time.Duration) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	return NewClientWithHTTPClient(&http.Client{Transport: cacheTransport, Timeout: timeout}, endpoint)
}

// NewClientWithHTTPClient returns a Client using hc, for tests.
func NewClientWithHTTPClient(hc *http.Client, endpoint string) *Client {
	return &Client{endpoint: endpoint, http: hc, now: time.Now}
}

// Check performs one lookup. A 404 means the service knows nothing about
// the identity and counts as clean. A 429 returns *errors.RateLimitError.
func (c *Client) Check(ctx context.Context, identity string) (bool, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return false, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("email", identity)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, classify(ctx, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return false, verrors.FromResponse(resp, c.now())
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decode response: %w: %w", verrors.ErrMalformedResponse, err)
	}
	_, breached := body[metricsKey]
	return breached, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", verrors.ErrTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %w", verrors.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", verrors.ErrOffline, err)
}
