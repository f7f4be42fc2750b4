package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Cryptographic errors.
var (
	// ErrMalformedEnvelope indicates the envelope has no IV delimiter or one of its parts does not decode.
	ErrMalformedEnvelope = errors.New("malformed cipher envelope")

	// ErrPaddingInvalid indicates PKCS#7 unpadding failed, usually a wrong key or corrupted data.
	ErrPaddingInvalid = errors.New("invalid padding")

	// ErrInvalidKeyLength indicates the key is not a valid AES key size.
	ErrInvalidKeyLength = errors.New("invalid key length")
)

// Local storage errors.
var (
	// ErrStorageUnavailable indicates the local store could not be read.
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// ErrStorageCorrupt indicates persisted data failed to parse or validate.
	ErrStorageCorrupt = errors.New("local storage corrupt")

	// ErrStorageWriteFailed indicates the local store rejected a write.
	ErrStorageWriteFailed = errors.New("local storage write failed")

	// ErrNotFound indicates a key or record does not exist.
	ErrNotFound = errors.New("not found")
)

// Network errors.
var (
	// ErrOffline indicates the remote endpoint could not be reached.
	ErrOffline = errors.New("remote unreachable")

	// ErrTimeout indicates the remote call exceeded its deadline.
	ErrTimeout = errors.New("remote call timed out")

	// ErrServer is matched by every *ServerError.
	ErrServer = errors.New("remote server error")

	// ErrMalformedResponse indicates a 2xx response whose body could not be decoded.
	ErrMalformedResponse = errors.New("malformed remote response")

	// ErrRateLimited is matched by every *RateLimitError.
	ErrRateLimited = errors.New("rate limited")
)

// Session errors.
var (
	// ErrNoSession indicates an operation was attempted without a signed-in identity.
	ErrNoSession = errors.New("no active session")

	// ErrSessionClosed indicates the session ended while an operation was in flight.
	ErrSessionClosed = errors.New("session closed")

	// ErrInvalidIdentity indicates the identity cannot be used to derive session keys.
	ErrInvalidIdentity = errors.New("invalid identity")
)

// ServerError is a non-2xx response from a remote service.
type ServerError struct {
	Code int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %d %s", e.Code, http.StatusText(e.Code))
}

// Is reports ErrServer as a match.
func (e *ServerError) Is(target error) bool {
	return target == ErrServer
}

// RateLimitError is a 429 response. RetryAfter is zero when the server sent no hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
	}
	return "rate limited: try again later"
}

// Is reports ErrRateLimited as a match.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// FromStatus maps a non-2xx status code to a typed error.
func FromStatus(code int, retryAfter time.Duration) error {
	if code == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: retryAfter}
	}
	return &ServerError{Code: code}
}

// ParseRetryAfter reads a Retry-After header given either as delay seconds or
// as an HTTP date. It returns zero when the header is absent or unusable.
func ParseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// FromResponse maps a non-2xx response to a typed error.
func FromResponse(resp *http.Response, now time.Time) error {
	return FromStatus(resp.StatusCode, ParseRetryAfter(resp.Header.Get("Retry-After"), now))
}
