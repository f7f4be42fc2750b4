package breach

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/atinyakov/gophvault/internal/client/kv"
	"github.com/atinyakov/gophvault/internal/client/storage"
	verrors "github.com/atinyakov/gophvault/internal/errors"
	"github.com/atinyakov/gophvault/internal/models"
	"github.com/atinyakov/gophvault/internal/session"
)

const (
	roleResults   = storage.RoleBreachResults
	roleLastCheck = storage.RoleLastBreachCheck
)

// Accounts lists the credentials whose AccountLabel is scanned.
type Accounts interface {
	LoadAll(ctx context.Context) ([]models.Credential, error)
}

// Report is the outcome of Check.
type Report struct {
	// Results holds one entry per identity, sorted by identity.
	Results []models.BreachResult
	// FromCache is true when the TTL had not expired and nothing was scanned.
	FromCache bool
	// Scanned counts lookups made by this call.
	Scanned int
	// Failed counts lookups that did not complete.
	Failed int
	// NewBreaches lists identities breached now that were not breached before.
	NewBreaches []string
	// RateLimited is true when the service answered 429 and the pass ended early.
	RateLimited bool
	// RetryAfter is the server's hint, zero if none was sent.
	RetryAfter time.Duration
	// LastCheckedAt is when the last complete pass finished.
	LastCheckedAt time.Time
}

// Service caches scan results per session and gates passes by TTL.
type Service struct {
	kv       kv.Store
	sess     *session.Session
	accounts Accounts
	scanner  *Scanner
	ttl      time.Duration
	clock    func() time.Time
	log      *zap.Logger

	group singleflight.Group
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithTTL sets how long a completed pass stays fresh.
func WithTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.ttl = ttl }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService returns a Service for sess.
func NewService(kvs kv.Store, sess *session.Session, accounts Accounts, scanner *Scanner, opts ...ServiceOption) *Service {
	s := &Service{
		kv:       kvs,
		sess:     sess,
		accounts: accounts,
		scanner:  scanner,
		ttl:      DefaultTTL,
		clock:    time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Results returns the cached results without scanning.
func (s *Service) Results(ctx context.Context) ([]models.BreachResult, error) {
	if err := s.sess.Err(); err != nil {
		return nil, err
	}
	res, err := s.loadResults(ctx)
	if err != nil {
		return nil, err
	}
	sortResults(res)
	return res, nil
}

// Check scans every distinct account identity if the TTL has expired or
// force is set, and returns cached results otherwise. Concurrent callers
// share the call already in flight, whatever its force flag. The last-check
// time only advances after a pass that visited every identity.
func (s *Service) Check(ctx context.Context, force bool) (Report, error) {
	v, err, _ := s.group.Do("check", func() (any, error) {
		return s.check(ctx, force)
	})
	rep, _ := v.(Report)
	return rep, err
}

func (s *Service) check(ctx context.Context, force bool) (Report, error) {
	if err := s.sess.Err(); err != nil {
		return Report{}, err
	}

	last, err := s.loadLastCheck(ctx)
	if err != nil {
		return Report{}, err
	}
	prev, err := s.loadResults(ctx)
	if err != nil {
		return Report{}, err
	}

	if !force && !ShouldScan(s.clock(), last, s.ttl) {
		sortResults(prev)
		return Report{Results: prev, FromCache: true, LastCheckedAt: last}, nil
	}

	creds, err := s.accounts.LoadAll(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load accounts: %w", err)
	}
	identities := make([]string, 0, len(creds))
	for _, c := range creds {
		identities = append(identities, c.AccountLabel)
	}

	scanned, scanErr := s.scanner.ScanAll(ctx, identities)
	rep := Report{Scanned: len(scanned), LastCheckedAt: last}

	var rl *verrors.RateLimitError
	switch {
	case scanErr == nil:
	case errors.As(scanErr, &rl):
		rep.RateLimited = true
		rep.RetryAfter = rl.RetryAfter
	default:
		if len(scanned) == 0 {
			return Report{}, scanErr
		}
	}

	complete := scanErr == nil
	merged, newBreaches := mergeResults(prev, scanned, complete)
	for _, r := range scanned {
		if r.Status == models.StatusFailed {
			rep.Failed++
		}
	}
	rep.Results = merged
	rep.NewBreaches = newBreaches

	if err := s.sess.Err(); err != nil {
		s.log.Info("session closed during breach scan, discarding results")
		return Report{}, err
	}
	if err := s.saveResults(ctx, merged); err != nil {
		return Report{}, err
	}
	if complete {
		now := s.clock()
		if err := s.saveLastCheck(ctx, now); err != nil {
			return Report{}, err
		}
		rep.LastCheckedAt = now
	}

	if len(newBreaches) > 0 {
		s.log.Warn("new breaches found", zap.Strings("identities", newBreaches))
	}
	s.log.Info("breach scan finished",
		zap.Int("scanned", rep.Scanned),
		zap.Int("failed", rep.Failed),
		zap.Bool("rate_limited", rep.RateLimited),
	)

	if scanErr != nil && !rep.RateLimited {
		return rep, scanErr
	}
	return rep, nil
}

// mergeResults overlays scanned onto prev, one result per identity. A
// complete pass drops identities it did not visit. A result that did not
// complete never replaces a confirmed one.
func mergeResults(prev, scanned []models.BreachResult, complete bool) ([]models.BreachResult, []string) {
	before := make(map[string]models.BreachResult, len(prev))
	for _, r := range prev {
		before[r.SubjectIdentity] = r
	}

	next := make(map[string]models.BreachResult, len(prev)+len(scanned))
	if !complete {
		for id, r := range before {
			next[id] = r
		}
	}

	var newBreaches []string
	for _, r := range scanned {
		old, had := before[r.SubjectIdentity]
		if !r.Confirmed() && had && old.Confirmed() {
			next[r.SubjectIdentity] = old
			continue
		}
		next[r.SubjectIdentity] = r
		if r.IsBreached && !(had && old.IsBreached) {
			newBreaches = append(newBreaches, r.SubjectIdentity)
		}
	}

	out := make([]models.BreachResult, 0, len(next))
	for _, r := range next {
		out = append(out, r)
	}
	sortResults(out)
	sort.Strings(newBreaches)
	return out, newBreaches
}

func sortResults(results []models.BreachResult) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].SubjectIdentity < results[j].SubjectIdentity
	})
}
