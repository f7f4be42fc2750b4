package vault

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/gophvault/internal/client/breach"
	"github.com/atinyakov/gophvault/internal/client/kv"
	"github.com/atinyakov/gophvault/internal/client/reconcile"
	"github.com/atinyakov/gophvault/internal/client/storage"
	verrors "github.com/atinyakov/gophvault/internal/errors"
	"github.com/atinyakov/gophvault/internal/models"
	"github.com/atinyakov/gophvault/internal/session"
)

type memRemote struct {
	mu      sync.Mutex
	docs    map[string]models.Document
	nextID  int
	creates int
}

func newMemRemote() *memRemote {
	return &memRemote{docs: map[string]models.Document{}, nextID: 1}
}

func (r *memRemote) Ping(context.Context) error { return nil }

func (r *memRemote) FetchAll(context.Context) ([]models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Document, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, d)
	}
	return out, nil
}

func (r *memRemote) Create(_ context.Context, doc models.Document) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	doc.ID = fmt.Sprintf("srv-%d", r.nextID)
	r.nextID++
	r.docs[doc.ID] = doc
	return doc.ID, nil
}

func (r *memRemote) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
	return nil
}

func (r *memRemote) snapshot() (map[string]models.Document, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]models.Document, len(r.docs))
	for k, v := range r.docs {
		out[k] = v
	}
	return out, r.creates
}

type tableChecker map[string]bool

func (c tableChecker) Check(_ context.Context, identity string) (bool, error) {
	return c[identity], nil
}

type fixture struct {
	sess   *session.Session
	store  *storage.Store
	remote *memRemote
	vault  *Vault
}

func newFixture(t *testing.T, syncEnabled bool) *fixture {
	t.Helper()
	sess, err := session.New("alice@example.com")
	require.NoError(t, err)
	t.Cleanup(sess.Close)

	kvs := kv.NewFile(filepath.Join(t.TempDir(), "vault.json"))
	store := storage.New(kvs, sess)
	require.NoError(t, store.SetSyncEnabled(context.Background(), syncEnabled))

	remote := newMemRemote()
	engine := reconcile.New(store, remote, sess)
	scanner := breach.NewScanner(tableChecker{"leaked@example.com": true}, 0)
	svc := breach.NewService(kvs, sess, store, scanner)

	v := New(store, WithSyncer(engine), WithBreachChecker(svc))
	t.Cleanup(v.Wait)
	return &fixture{sess: sess, store: store, remote: remote, vault: v}
}

func TestAdd_SealsAndReveals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	rec, err := f.vault.Add(ctx, NewCredential{Site: " github.com ", Secret: "hunter2"})
	require.NoError(t, err)
	f.vault.Wait()

	assert.Equal(t, "github.com", rec.Site)
	assert.Equal(t, "alice@example.com", rec.AccountLabel, "account defaults to the identity")
	assert.Equal(t, "alice@example.com", rec.Owner)
	assert.True(t, rec.PendingSync)
	assert.NotContains(t, rec.CipherSecret, "hunter2")

	secret, err := f.vault.Reveal(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret)

	_, creates := f.remote.snapshot()
	assert.Zero(t, creates, "sync is disabled")
}

func TestAdd_RequiresSiteAndSecret(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.vault.Add(context.Background(), NewCredential{Site: "  ", Secret: "x"})
	assert.ErrorIs(t, err, ErrEmptyField)
	_, err = f.vault.Add(context.Background(), NewCredential{Site: "a.com"})
	assert.ErrorIs(t, err, ErrEmptyField)
}

func TestAdd_SyncEnabledUploadsInBackground(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	_, err := f.vault.Add(ctx, NewCredential{Site: "a.com", AccountLabel: "bob@a.com", Secret: "pw"})
	require.NoError(t, err)
	f.vault.Wait()

	list, err := f.vault.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "srv-1", list[0].ID)
	assert.False(t, list[0].PendingSync)

	docs, _ := f.remote.snapshot()
	assert.Equal(t, "bob@a.com", docs["srv-1"].AccountLabel)

	secret, err := f.vault.Reveal(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "pw", secret)
}

func TestSetSyncEnabled_TriggersPass(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	_, err := f.vault.Add(ctx, NewCredential{Site: "a.com", Secret: "pw"})
	require.NoError(t, err)
	f.vault.Wait()
	_, creates := f.remote.snapshot()
	require.Zero(t, creates)

	require.NoError(t, f.vault.SetSyncEnabled(ctx, true))
	f.vault.Wait()

	enabled, err := f.vault.SyncEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)
	_, creates = f.remote.snapshot()
	assert.Equal(t, 1, creates)
}

func TestEdit_ReplacesSecret(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	rec, err := f.vault.Add(ctx, NewCredential{Site: "a.com", Secret: "old"})
	require.NoError(t, err)
	edited, err := f.vault.Edit(ctx, rec.ID, "new")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, edited.ID, "pending records are edited in place")
	assert.NotEqual(t, rec.CipherDataKey, edited.CipherDataKey)

	secret, err := f.vault.Reveal(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", secret)

	_, err = f.vault.Edit(ctx, "missing", "x")
	assert.ErrorIs(t, err, verrors.ErrNotFound)
}

func TestDelete_ConfirmedRecordIsDeletedRemotely(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	_, err := f.vault.Add(ctx, NewCredential{Site: "a.com", Secret: "pw"})
	require.NoError(t, err)
	f.vault.Wait()

	require.NoError(t, f.vault.Delete(ctx, "srv-1"))
	f.vault.Wait()

	docs, _ := f.remote.snapshot()
	assert.Empty(t, docs)
	tombs, err := f.store.Tombstones(ctx)
	require.NoError(t, err)
	assert.Empty(t, tombs)

	assert.ErrorIs(t, f.vault.Delete(ctx, "srv-1"), verrors.ErrNotFound)
}

func TestSync_DisabledIsSkipped(t *testing.T) {
	f := newFixture(t, false)

	out, err := f.vault.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Skipped)
}

func TestScan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	_, err := f.vault.Add(ctx, NewCredential{Site: "a.com", AccountLabel: "leaked@example.com", Secret: "pw"})
	require.NoError(t, err)
	_, err = f.vault.Add(ctx, NewCredential{Site: "b.com", Secret: "pw"})
	require.NoError(t, err)

	rep, err := f.vault.Scan(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"leaked@example.com"}, rep.NewBreaches)
	require.Len(t, rep.Results, 2)

	cached, err := f.vault.BreachResults(ctx)
	require.NoError(t, err)
	require.Len(t, cached, 2)
	assert.Equal(t, "alice@example.com", cached[0].SubjectIdentity)
	assert.Equal(t, models.StatusClean, cached[0].Status)
	assert.Equal(t, "leaked@example.com", cached[1].SubjectIdentity)
	assert.True(t, cached[1].IsBreached)
}

func TestClosedSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	rec, err := f.vault.Add(ctx, NewCredential{Site: "a.com", Secret: "pw"})
	require.NoError(t, err)
	f.vault.Wait()

	f.sess.Close()

	_, err = f.vault.Add(ctx, NewCredential{Site: "b.com", Secret: "pw"})
	assert.ErrorIs(t, err, verrors.ErrSessionClosed)
	_, err = f.vault.Reveal(ctx, rec.ID)
	assert.ErrorIs(t, err, verrors.ErrSessionClosed)
	_, err = f.vault.List(ctx)
	assert.ErrorIs(t, err, verrors.ErrSessionClosed)
}
