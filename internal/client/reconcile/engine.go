// Package reconcile merges the on-device credential collection with the
// remote record store. A pass uploads pending records, propagates local
// deletions, and merges the remote collection using last-writer-wins on
// LastModified.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/atinyakov/gophvault/internal/client/storage"
	verrors "github.com/atinyakov/gophvault/internal/errors"
	"github.com/atinyakov/gophvault/internal/metrics"
	"github.com/atinyakov/gophvault/internal/models"
	"github.com/atinyakov/gophvault/internal/session"
)

// Remote is the record store contract.
type Remote interface {
	Ping(ctx context.Context) error
	FetchAll(ctx context.Context) ([]models.Document, error)
	Create(ctx context.Context, doc models.Document) (string, error)
	Delete(ctx context.Context, id string) error
}

// Local is the part of the credential store a pass needs.
type Local interface {
	LoadAll(ctx context.Context) ([]models.Credential, error)
	Commit(ctx context.Context, base, next []models.Credential, renamed map[string]string) error
	Tombstones(ctx context.Context) ([]string, error)
	ClearTombstones(ctx context.Context, ids ...string) error
	SyncSettings(ctx context.Context) (storage.SyncSettings, error)
	MarkSynced(ctx context.Context, at time.Time) error
}

// State is the phase of the engine.
type State int32

const (
	Idle State = iota
	Fetching
	Merging
	Uploading
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Merging:
		return "merging"
	case Uploading:
		return "uploading"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Outcome summarizes one pass.
type Outcome struct {
	// Skipped is true when sync is disabled; nothing was read remotely.
	Skipped bool
	// Uploaded counts pending records confirmed by the remote store.
	Uploaded int
	// UploadFailed counts pending records that stay pending.
	UploadFailed int
	// Deleted counts tombstoned records deleted remotely.
	Deleted int
	// DeleteFailed counts tombstones kept for the next pass.
	DeleteFailed int
	// Total is the size of the committed collection.
	Total int
	// Errors holds one entry per failed item.
	Errors []error
	// FinishedAt is when the result was committed.
	FinishedAt time.Time
}

// Engine runs reconcile passes for one session. At most one pass runs at a
// time; concurrent callers share the in-flight pass.
type Engine struct {
	local   Local
	remote  Remote
	sess    *session.Session
	log     *zap.Logger
	metrics *metrics.Metrics
	clock   func() time.Time

	group singleflight.Group
	state atomic.Int32

	mu     sync.Mutex
	flight *flight
}

const (
	passKey         = "reconcile"
	withdrawTimeout = 10 * time.Second
)

// flight is the shared context of the in-flight pass and the number of
// callers still waiting on it.
type flight struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	waiters int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithMetrics records pass results.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// New returns an Engine.
func New(local Local, remote Remote, sess *session.Session, opts ...Option) *Engine {
	e := &Engine{
		local:  local,
		remote: remote,
		sess:   sess,
		log:    zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current phase. Failed is reported until the next pass
// starts.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// Reconcile runs a pass, or joins the one already running.
//
// The pass keeps the values of the caller that started it but not its
// cancellation: it is cancelled only once every waiting caller's ctx is
// done, or when the session ends. A caller whose ctx is done while others
// still wait returns ctx.Err() and leaves the pass running.
//
// A disabled sync returns a skipped Outcome and no error. An unreachable
// remote returns ErrOffline or ErrTimeout and leaves the local collection
// untouched. If the session ends before results are committed they are
// discarded and ErrSessionClosed is returned.
func (e *Engine) Reconcile(ctx context.Context) (Outcome, error) {
	e.mu.Lock()
	f := e.flight
	if f == nil {
		passCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
		f = &flight{ctx: passCtx, cancel: cancel}
		e.flight = f
	}
	f.waiters++
	ch := e.group.DoChan(passKey, func() (any, error) {
		defer e.land(f)
		return e.run(f.ctx)
	})
	e.mu.Unlock()

	select {
	case r := <-ch:
		out, _ := r.Val.(Outcome)
		return out, r.Err
	case <-ctx.Done():
	}
	if !e.leave(f, context.Cause(ctx)) {
		return Outcome{}, ctx.Err()
	}
	r := <-ch
	out, _ := r.Val.(Outcome)
	return out, r.Err
}

// land retires f so the next caller starts a fresh pass.
func (e *Engine) land(f *flight) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.group.Forget(passKey)
	if e.flight == f {
		e.flight = nil
	}
	f.cancel(nil)
}

// leave drops one waiter from f and cancels the pass with cause when none
// are left. It reports whether the pass was cancelled.
func (e *Engine) leave(f *flight, cause error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return false
	}
	f.cancel(cause)
	return true
}

func (e *Engine) run(ctx context.Context) (out Outcome, err error) {
	ctx, cancel := e.bindSession(ctx)
	defer cancel()

	defer func() {
		switch {
		case err != nil:
			e.setState(Failed)
			e.metrics.ReconcilePass(resultLabel(err), out.Uploaded, 0)
		case out.Skipped:
			e.setState(Idle)
			e.metrics.ReconcilePass("skipped", 0, 0)
		default:
			e.setState(Idle)
			e.metrics.ReconcilePass("ok", out.Uploaded, out.Total)
		}
	}()

	if err := e.sess.Err(); err != nil {
		return Outcome{}, err
	}

	settings, err := e.local.SyncSettings(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("read sync settings: %w", err)
	}
	if !settings.Enabled {
		e.log.Debug("sync disabled, skipping reconcile")
		return Outcome{Skipped: true}, nil
	}

	base, err := e.local.LoadAll(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("load local collection: %w", err)
	}

	e.setState(Fetching)
	if err := e.remote.Ping(ctx); err != nil {
		return Outcome{}, e.abort(ctx, "ping", err)
	}
	remoteDocs, err := e.remote.FetchAll(ctx)
	if err != nil {
		return Outcome{}, e.abort(ctx, "fetch", err)
	}

	tombs, err := e.local.Tombstones(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("load tombstones: %w", err)
	}
	deleted := e.deleteTombstoned(ctx, tombs, &out)
	remoteDocs = withoutIDs(remoteDocs, tombs)

	e.setState(Merging)
	var pending, confirmed []models.Credential
	for _, c := range base {
		if c.PendingSync {
			pending = append(pending, c)
		} else {
			confirmed = append(confirmed, c)
		}
	}
	merged := Merge(confirmed, remoteDocs)

	e.setState(Uploading)
	renamed := make(map[string]string)
	uploaded := e.upload(ctx, pending, renamed, &out)

	final := append(merged, uploaded...)
	sortNewestFirst(final)

	if err := e.sess.Err(); err != nil {
		e.log.Info("session closed during reconcile, discarding results")
		e.withdraw(ctx, renamed)
		return out, err
	}
	if err := e.local.Commit(ctx, base, final, renamed); err != nil {
		e.withdraw(ctx, renamed)
		return out, fmt.Errorf("commit reconciled collection: %w", err)
	}
	if err := e.local.ClearTombstones(ctx, deleted...); err != nil {
		e.log.Warn("failed to clear tombstones", zap.Error(err))
	}

	out.FinishedAt = e.clock()
	out.Total = len(final)
	if err := e.local.MarkSynced(ctx, out.FinishedAt); err != nil {
		e.log.Warn("failed to record last sync time", zap.Error(err))
	}

	e.log.Info("reconcile finished",
		zap.Int("uploaded", out.Uploaded),
		zap.Int("upload_failed", out.UploadFailed),
		zap.Int("deleted", out.Deleted),
		zap.Int("delete_failed", out.DeleteFailed),
		zap.Int("total", out.Total),
	)
	return out, nil
}

// bindSession cancels ctx when the session ends.
func (e *Engine) bindSession(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.sess.Context(), cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// withdraw deletes remote copies created by a pass whose results were not
// committed. Those records stay pending locally and are uploaded again by
// the next pass.
func (e *Engine) withdraw(ctx context.Context, renamed map[string]string) {
	if len(renamed) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), withdrawTimeout)
	defer cancel()
	for clientID, id := range renamed {
		if err := e.remote.Delete(ctx, id); err != nil {
			e.log.Warn("failed to withdraw uncommitted upload, remote copy will be duplicated",
				zap.String("id", clientID), zap.String("remote_id", id), zap.Error(err))
		}
	}
}

func (e *Engine) abort(ctx context.Context, step string, err error) error {
	if sessErr := e.sess.Err(); sessErr != nil {
		return sessErr
	}
	if ctx.Err() != nil && !errors.Is(err, verrors.ErrTimeout) {
		return fmt.Errorf("%s: %w", step, context.Cause(ctx))
	}
	e.log.Warn("remote unavailable, keeping local collection", zap.String("step", step), zap.Error(err))
	return fmt.Errorf("%s: %w", step, err)
}

func (e *Engine) deleteTombstoned(ctx context.Context, ids []string, out *Outcome) []string {
	var deleted []string
	for _, id := range ids {
		if ctx.Err() != nil {
			out.DeleteFailed++
			out.Errors = append(out.Errors, fmt.Errorf("delete %s: %w", id, context.Cause(ctx)))
			continue
		}
		if err := e.remote.Delete(ctx, id); err != nil {
			out.DeleteFailed++
			out.Errors = append(out.Errors, fmt.Errorf("delete %s: %w", id, err))
			e.log.Warn("remote delete failed", zap.String("id", id), zap.Error(err))
			continue
		}
		out.Deleted++
		deleted = append(deleted, id)
	}
	return deleted
}

// upload creates every pending record remotely. Successful uploads come back
// confirmed with the remote id; failures come back unchanged.
func (e *Engine) upload(ctx context.Context, pending []models.Credential, renamed map[string]string, out *Outcome) []models.Credential {
	result := make([]models.Credential, 0, len(pending))
	for _, c := range pending {
		if ctx.Err() != nil {
			out.UploadFailed++
			out.Errors = append(out.Errors, fmt.Errorf("upload %s: %w", c.ID, context.Cause(ctx)))
			result = append(result, c)
			continue
		}

		now := models.NowMillis(e.clock())
		doc := c.ToDocument()
		doc.LastModified = now
		id, err := e.remote.Create(ctx, doc)
		if err != nil {
			out.UploadFailed++
			out.Errors = append(out.Errors, fmt.Errorf("upload %s: %w", c.ID, err))
			e.log.Warn("upload failed, record stays pending", zap.String("id", c.ID), zap.Error(err))
			result = append(result, c)
			continue
		}

		renamed[c.ID] = id
		c.ID = id
		c.PendingSync = false
		c.LastModified = now
		out.Uploaded++
		result = append(result, c)
	}
	return result
}

func withoutIDs(docs []models.Document, ids []string) []models.Document {
	if len(ids) == 0 {
		return docs
	}
	skip := make(map[string]bool, len(ids))
	for _, id := range ids {
		skip[id] = true
	}
	out := docs[:0:0]
	for _, d := range docs {
		if !skip[d.ID] {
			out = append(out, d)
		}
	}
	return out
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, verrors.ErrOffline), errors.Is(err, verrors.ErrTimeout):
		return "offline"
	case errors.Is(err, verrors.ErrSessionClosed):
		return "discarded"
	default:
		return "failed"
	}
}
