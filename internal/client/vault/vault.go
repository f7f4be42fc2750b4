// Package vault is the entry point used by the client shell. It seals and
// stores credentials synchronously and hands sync passes to the reconcile
// engine in the background.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/atinyakov/gophvault/internal/client/breach"
	"github.com/atinyakov/gophvault/internal/client/reconcile"
	"github.com/atinyakov/gophvault/internal/client/storage"
	"github.com/atinyakov/gophvault/internal/envelope"
	verrors "github.com/atinyakov/gophvault/internal/errors"
	"github.com/atinyakov/gophvault/internal/models"
	"github.com/atinyakov/gophvault/internal/session"
)

// ErrEmptyField is returned when a required credential field is blank.
var ErrEmptyField = errors.New("required field is empty")

// Syncer runs reconcile passes.
type Syncer interface {
	Reconcile(ctx context.Context) (reconcile.Outcome, error)
}

// BreachChecker runs and reports breach scans.
type BreachChecker interface {
	Check(ctx context.Context, force bool) (breach.Report, error)
	Results(ctx context.Context) ([]models.BreachResult, error)
}

// NewCredential is the plaintext input of Add.
type NewCredential struct {
	Site         string
	AccountLabel string
	Secret       string
	Category     string
}

// Vault ties one session's store, crypto, sync and breach scanning together.
type Vault struct {
	store  *storage.Store
	crypto *envelope.Engine
	sess   *session.Session
	syncer Syncer
	breach BreachChecker
	log    *zap.Logger

	wg sync.WaitGroup
}

// Option configures a Vault.
type Option func(*Vault)

// WithSyncer enables background passes after local changes.
func WithSyncer(s Syncer) Option {
	return func(v *Vault) { v.syncer = s }
}

// WithBreachChecker enables Scan and BreachResults.
func WithBreachChecker(b BreachChecker) Option {
	return func(v *Vault) { v.breach = b }
}

// WithEngine replaces the default envelope engine.
func WithEngine(e *envelope.Engine) Option {
	return func(v *Vault) { v.crypto = e }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(v *Vault) {
		if log != nil {
			v.log = log
		}
	}
}

// New returns a Vault over store. The store's session is the vault's session.
func New(store *storage.Store, opts ...Option) *Vault {
	v := &Vault{
		store:  store,
		crypto: envelope.New(),
		sess:   store.Session(),
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Session returns the session the vault was opened for.
func (v *Vault) Session() *session.Session {
	return v.sess
}

// Add seals nc.Secret, stores it as a pending credential and starts a
// background sync. An empty AccountLabel defaults to the session identity.
func (v *Vault) Add(ctx context.Context, nc NewCredential) (models.Credential, error) {
	rec, err := v.seal(nc)
	if err != nil {
		return models.Credential{}, err
	}
	rec, err = v.store.Append(ctx, rec)
	if err != nil {
		return models.Credential{}, fmt.Errorf("add %s: %w", nc.Site, err)
	}
	v.kick()
	return rec, nil
}

func (v *Vault) seal(nc NewCredential) (models.Credential, error) {
	if err := v.sess.Err(); err != nil {
		return models.Credential{}, err
	}
	site := strings.TrimSpace(nc.Site)
	if site == "" {
		return models.Credential{}, fmt.Errorf("site: %w", ErrEmptyField)
	}
	if nc.Secret == "" {
		return models.Credential{}, fmt.Errorf("secret: %w", ErrEmptyField)
	}
	account := strings.TrimSpace(nc.AccountLabel)
	if account == "" {
		account = v.sess.Identity
	}

	master, err := v.sess.MasterKeyBytes()
	if err != nil {
		return models.Credential{}, err
	}
	cs, cdk, err := v.crypto.Seal([]byte(nc.Secret), master)
	if err != nil {
		return models.Credential{}, fmt.Errorf("seal %s: %w", site, err)
	}
	return models.Credential{
		Owner:         v.sess.Identity,
		Site:          site,
		AccountLabel:  account,
		CipherSecret:  cs,
		CipherDataKey: cdk,
		Category:      strings.TrimSpace(nc.Category),
		PendingSync:   true,
	}, nil
}

// Reveal decrypts the secret of the credential with id.
func (v *Vault) Reveal(ctx context.Context, id string) (string, error) {
	rec, err := v.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	master, err := v.sess.MasterKeyBytes()
	if err != nil {
		return "", err
	}
	plain, err := v.crypto.Open(rec.CipherSecret, rec.CipherDataKey, master)
	if err != nil {
		return "", fmt.Errorf("reveal %s: %w", id, err)
	}
	return string(plain), nil
}

// Edit reseals the secret of the credential with id under a fresh data key.
// The returned record may carry a new id; see storage.Store.Update.
func (v *Vault) Edit(ctx context.Context, id, secret string) (models.Credential, error) {
	if secret == "" {
		return models.Credential{}, fmt.Errorf("secret: %w", ErrEmptyField)
	}
	rec, err := v.store.Get(ctx, id)
	if err != nil {
		return models.Credential{}, err
	}
	master, err := v.sess.MasterKeyBytes()
	if err != nil {
		return models.Credential{}, err
	}
	rec.CipherSecret, rec.CipherDataKey, err = v.crypto.Seal([]byte(secret), master)
	if err != nil {
		return models.Credential{}, fmt.Errorf("seal %s: %w", id, err)
	}
	rec, err = v.store.Update(ctx, rec)
	if err != nil {
		return models.Credential{}, err
	}
	v.kick()
	return rec, nil
}

// Delete removes the credential with id and starts a background sync.
func (v *Vault) Delete(ctx context.Context, id string) error {
	if _, err := v.store.Get(ctx, id); err != nil {
		return err
	}
	if err := v.store.Remove(ctx, id); err != nil {
		return err
	}
	v.kick()
	return nil
}

// List returns every credential, newest first.
func (v *Vault) List(ctx context.Context) ([]models.Credential, error) {
	all, err := v.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	storage.SortByRecency(all)
	return all, nil
}

// SyncEnabled reports the persisted sync flag.
func (v *Vault) SyncEnabled(ctx context.Context) (bool, error) {
	st, err := v.store.SyncSettings(ctx)
	if err != nil {
		return false, err
	}
	return st.Enabled, nil
}

// SetSyncEnabled persists the sync flag. Enabling it starts a pass.
func (v *Vault) SetSyncEnabled(ctx context.Context, enabled bool) error {
	if err := v.store.SetSyncEnabled(ctx, enabled); err != nil {
		return err
	}
	if enabled {
		v.kick()
	}
	return nil
}

// Sync runs a reconcile pass and waits for it.
func (v *Vault) Sync(ctx context.Context) (reconcile.Outcome, error) {
	if v.syncer == nil {
		return reconcile.Outcome{Skipped: true}, nil
	}
	return v.syncer.Reconcile(ctx)
}

// Scan checks every account label against the breach service. Cached
// results are returned while fresh unless force is set.
func (v *Vault) Scan(ctx context.Context, force bool) (breach.Report, error) {
	if v.breach == nil {
		return breach.Report{}, verrors.ErrNoSession
	}
	return v.breach.Check(ctx, force)
}

// BreachResults returns the cached scan results.
func (v *Vault) BreachResults(ctx context.Context) ([]models.BreachResult, error) {
	if v.breach == nil {
		return nil, nil
	}
	return v.breach.Results(ctx)
}

// Wait blocks until background passes started by the vault have returned.
func (v *Vault) Wait() {
	v.wg.Wait()
}

// kick starts a reconcile pass bound to the session. Passes already running
// absorb the request.
func (v *Vault) kick() {
	if v.syncer == nil || !v.sess.Active() {
		return
	}
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		out, err := v.syncer.Reconcile(v.sess.Context())
		switch {
		case err == nil:
			if !out.Skipped {
				v.log.Debug("background reconcile finished",
					zap.Int("uploaded", out.Uploaded),
					zap.Int("total", out.Total))
			}
		case errors.Is(err, verrors.ErrSessionClosed), errors.Is(err, context.Canceled):
			v.log.Debug("background reconcile discarded", zap.Error(err))
		case errors.Is(err, verrors.ErrOffline), errors.Is(err, verrors.ErrTimeout):
			v.log.Info("background reconcile skipped, remote unreachable", zap.Error(err))
		default:
			v.log.Warn("background reconcile failed", zap.Error(err))
		}
	}()
}
