package reconcile

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	verrors "github.com/atinyakov/gophvault/internal/errors"
)

// Reconciler runs one pass.
type Reconciler interface {
	Reconcile(ctx context.Context) (Outcome, error)
}

// Scheduler runs passes on a fixed interval.
type Scheduler struct {
	engine   Reconciler
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
}

// NewScheduler returns a Scheduler. timeout bounds each pass; zero means
// no bound.
func NewScheduler(engine Reconciler, interval, timeout time.Duration, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{engine: engine, interval: interval, timeout: timeout, log: log}
}

// Run performs an immediate pass, then one per interval. It blocks until ctx
// is cancelled or the session behind the engine is closed.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.tick(ctx) {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("reconcile scheduler stopped")
			return
		case <-ticker.C:
			if !s.tick(ctx) {
				return
			}
		}
	}
}

// tick runs one pass and reports whether the loop should continue.
func (s *Scheduler) tick(ctx context.Context) bool {
	passCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		passCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	_, err := s.engine.Reconcile(passCtx)
	switch {
	case err == nil:
	case errors.Is(err, verrors.ErrSessionClosed):
		s.log.Info("session closed, stopping reconcile scheduler")
		return false
	case errors.Is(err, verrors.ErrOffline), errors.Is(err, verrors.ErrTimeout):
		s.log.Info("reconcile skipped, remote unreachable", zap.Error(err))
	case ctx.Err() != nil:
		return false
	default:
		s.log.Error("reconcile failed", zap.Error(err))
	}
	return true
}
