package breach

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	verrors "github.com/atinyakov/gophvault/internal/errors"
	"github.com/atinyakov/gophvault/internal/metrics"
	"github.com/atinyakov/gophvault/internal/models"
)

// DefaultTTL is how long a completed scan stays fresh.
const DefaultTTL = 24 * time.Hour

// DefaultMinInterval is the minimum spacing between two lookups.
const DefaultMinInterval = time.Second

// ShouldScan reports whether a new pass is due. A zero lastCheckedAt is
// always due.
func ShouldScan(now, lastCheckedAt time.Time, ttl time.Duration) bool {
	if lastCheckedAt.IsZero() {
		return true
	}
	return now.Sub(lastCheckedAt) >= ttl
}

// Scanner runs paced lookups over a list of identities.
type Scanner struct {
	checker Checker
	pacer   *pacer
	log     *zap.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithScannerLogger sets the logger.
func WithScannerLogger(log *zap.Logger) ScannerOption {
	return func(s *Scanner) {
		if log != nil {
			s.log = log
		}
	}
}

// WithScannerMetrics counts lookups by status.
func WithScannerMetrics(m *metrics.Metrics) ScannerOption {
	return func(s *Scanner) { s.metrics = m }
}

// WithScannerClock overrides time.Now for result timestamps.
func WithScannerClock(clock func() time.Time) ScannerOption {
	return func(s *Scanner) { s.clock = clock }
}

// NewScanner returns a Scanner spacing lookups by at least minInterval.
func NewScanner(checker Checker, minInterval time.Duration, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		checker: checker,
		pacer:   newPacer(minInterval),
		log:     zap.NewNop(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScanAll checks each distinct identity once, in order. A failed lookup is
// recorded with StatusFailed and not retried. A 429 records
// StatusRateLimited for that identity and ends the pass early with the
// *errors.RateLimitError; results gathered so far are returned. A done ctx
// also ends the pass early with ctx.Err().
func (s *Scanner) ScanAll(ctx context.Context, identities []string) ([]models.BreachResult, error) {
	results := make([]models.BreachResult, 0, len(identities))
	for _, id := range distinct(identities) {
		if err := s.pacer.Wait(ctx); err != nil {
			return results, err
		}

		breached, err := s.checker.Check(ctx, id)
		s.pacer.Done()
		res := models.BreachResult{SubjectIdentity: id, CheckedAt: s.clock()}
		switch {
		case err == nil && breached:
			res.IsBreached = true
			res.Status = models.StatusBreached
		case err == nil:
			res.Status = models.StatusClean
		case errors.Is(err, verrors.ErrRateLimited):
			res.Status = models.StatusRateLimited
			s.metrics.BreachCheck(string(res.Status))
			results = append(results, res)
			s.log.Warn("breach service rate limited, ending scan", zap.String("identity", id), zap.Error(err))
			return results, err
		case ctx.Err() != nil:
			return results, ctx.Err()
		default:
			res.Status = models.StatusFailed
			s.log.Warn("breach check failed", zap.String("identity", id), zap.Error(err))
		}
		s.metrics.BreachCheck(string(res.Status))
		results = append(results, res)
	}
	return results, nil
}

func distinct(identities []string) []string {
	seen := make(map[string]bool, len(identities))
	out := make([]string, 0, len(identities))
	for _, id := range identities {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
