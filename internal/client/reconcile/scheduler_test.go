package reconcile

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	verrors "github.com/atinyakov/gophvault/internal/errors"
)

type countingReconciler struct {
	calls atomic.Int32
	errAt int32
	err   error
}

func (c *countingReconciler) Reconcile(ctx context.Context) (Outcome, error) {
	n := c.calls.Add(1)
	if c.err != nil && n >= c.errAt {
		return Outcome{}, c.err
	}
	return Outcome{}, nil
}

func TestScheduler_RunsUntilCancelled(t *testing.T) {
	rec := &countingReconciler{}
	s := NewScheduler(rec, 5*time.Millisecond, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(40 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	if got := rec.calls.Load(); got < 2 {
		t.Errorf("expected several passes, got %d", got)
	}
}

func TestScheduler_StopsWhenSessionCloses(t *testing.T) {
	rec := &countingReconciler{errAt: 2, err: verrors.ErrSessionClosed}
	s := NewScheduler(rec, time.Millisecond, 0, nil)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler kept running after session closed")
	}
	if got := rec.calls.Load(); got != 2 {
		t.Errorf("calls = %d; want 2", got)
	}
}

func TestScheduler_LogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	rec := &countingReconciler{errAt: 1, err: verrors.ErrStorageCorrupt}
	s := NewScheduler(rec, time.Hour, 0, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if s.tick(ctx) {
		t.Error("tick must stop the loop once the context is cancelled")
	}

	if !s.tick(context.Background()) {
		t.Error("a failed pass must not stop the loop")
	}
	if logs.FilterMessage("reconcile failed").Len() == 0 {
		t.Error("expected reconcile failure to be logged")
	}

	rec.err = verrors.ErrOffline
	s.tick(context.Background())
	if logs.FilterMessage("reconcile skipped, remote unreachable").Len() != 1 {
		t.Error("expected offline pass to be logged at info")
	}
}
