// Package storage keeps the on-device credential collection of one session.
// Every operation is a whole-collection read-modify-write under one mutex.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atinyakov/gophvault/internal/client/kv"
	verrors "github.com/atinyakov/gophvault/internal/errors"
	"github.com/atinyakov/gophvault/internal/models"
	"github.com/atinyakov/gophvault/internal/session"
)

// Persisted roles under a session namespace. RoleTombstones is only read to
// migrate version 1 data.
const (
	RoleCredentials     = "credentials"
	RoleTombstones      = "tombstones"
	RoleSyncSettings    = "sync_settings"
	RoleBreachResults   = "breach_results"
	RoleLastBreachCheck = "last_breach_check"
)

// ErrDuplicateID is returned when a write would store an id twice.
var ErrDuplicateID = errors.New("credential id already exists")

// Store is the credential collection of one session.
type Store struct {
	kv    kv.Store
	sess  *session.Session
	clock func() time.Time

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// New returns a Store persisting into kvs under the namespace of sess.
func New(kvs kv.Store, sess *session.Session, opts ...Option) *Store {
	s := &Store{kv: kvs, sess: sess, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Session returns the session the store is bound to.
func (s *Store) Session() *session.Session {
	return s.sess
}

func (s *Store) now() int64 {
	return models.NowMillis(s.clock())
}

func (s *Store) loadLocked(ctx context.Context) (state, error) {
	raw, err := s.kv.Get(ctx, s.sess.Key(RoleCredentials))
	var st state
	switch {
	case errors.Is(err, verrors.ErrNotFound):
		st = state{records: []models.Credential{}, legacy: true}
	case err != nil:
		return state{}, err
	default:
		if st, err = decodeCredentials(raw); err != nil {
			return state{}, err
		}
	}
	if st.legacy {
		tombs, err := s.legacyTombstonesLocked(ctx)
		if err != nil {
			return state{}, err
		}
		st.tombs = tombs
	}
	return st, nil
}

// saveLocked writes records and tombstones in one Put.
func (s *Store) saveLocked(ctx context.Context, st state) error {
	buf, err := encodeCredentials(st)
	if err != nil {
		return fmt.Errorf("encode credentials: %w: %w", verrors.ErrStorageWriteFailed, err)
	}
	if err := s.kv.Put(ctx, s.sess.Key(RoleCredentials), buf); err != nil {
		return err
	}
	if st.legacy {
		// The version 2 document no longer reads this key.
		_ = s.kv.Delete(ctx, s.sess.Key(RoleTombstones))
	}
	return nil
}

// LoadAll returns the stored collection in stored order.
func (s *Store) LoadAll(ctx context.Context) ([]models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sess.Err(); err != nil {
		return nil, err
	}
	st, err := s.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	return st.records, nil
}

// Get returns the record with id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (models.Credential, error) {
	all, err := s.LoadAll(ctx)
	if err != nil {
		return models.Credential{}, err
	}
	for _, c := range all {
		if c.ID == id {
			return c, nil
		}
	}
	return models.Credential{}, fmt.Errorf("credential %s: %w", id, verrors.ErrNotFound)
}

// Append adds rec to the collection. An empty id is filled with a fresh
// UUID and a zero LastModified with the current time. The stored record is
// returned.
func (s *Store) Append(ctx context.Context, rec models.Credential) (models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sess.Err(); err != nil {
		return models.Credential{}, err
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.LastModified == 0 {
		rec.LastModified = s.now()
	}
	if err := validate(rec); err != nil {
		return models.Credential{}, fmt.Errorf("append: %w", err)
	}

	st, err := s.loadLocked(ctx)
	if err != nil {
		return models.Credential{}, err
	}
	for _, c := range st.records {
		if c.ID == rec.ID {
			return models.Credential{}, fmt.Errorf("append %s: %w", rec.ID, ErrDuplicateID)
		}
	}
	st.records = append(st.records, rec)
	if err := s.saveLocked(ctx, st); err != nil {
		return models.Credential{}, err
	}
	return rec, nil
}

// ReplaceAll overwrites the collection with records. Tombstones are kept.
// A collection repeating an id is rejected with ErrDuplicateID.
func (s *Store) ReplaceAll(ctx context.Context, records []models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sess.Err(); err != nil {
		return err
	}
	if err := checkRecords(records); err != nil {
		return fmt.Errorf("replace: %w", err)
	}

	st, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	st.records = append([]models.Credential(nil), records...)
	return s.saveLocked(ctx, st)
}

// Remove deletes the record with id. Absent ids are a no-op. Removing a
// record the remote store already confirmed leaves a tombstone so the next
// reconcile deletes it remotely.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sess.Err(); err != nil {
		return err
	}

	st, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	idx := -1
	for i, c := range st.records {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	removed := st.records[idx]
	st.records = append(st.records[:idx:idx], st.records[idx+1:]...)
	if !removed.PendingSync {
		st.addTombstones(removed.ID)
	}
	return s.saveLocked(ctx, st)
}

// Update replaces the mutable fields of the record with rec.ID and bumps
// LastModified. A pending record is edited in place. A confirmed record is
// re-issued as a new pending record and its old id tombstoned, since the
// remote store only creates and deletes. The stored record is returned.
func (s *Store) Update(ctx context.Context, rec models.Credential) (models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sess.Err(); err != nil {
		return models.Credential{}, err
	}

	st, err := s.loadLocked(ctx)
	if err != nil {
		return models.Credential{}, err
	}
	idx := -1
	for i, c := range st.records {
		if c.ID == rec.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.Credential{}, fmt.Errorf("credential %s: %w", rec.ID, verrors.ErrNotFound)
	}

	prev := st.records[idx]
	rec.LastModified = s.now()
	if prev.PendingSync {
		rec.PendingSync = true
		if err := validate(rec); err != nil {
			return models.Credential{}, fmt.Errorf("update: %w", err)
		}
		st.records[idx] = rec
		if err := s.saveLocked(ctx, st); err != nil {
			return models.Credential{}, err
		}
		return rec, nil
	}

	rec.ID = uuid.NewString()
	rec.PendingSync = true
	if err := validate(rec); err != nil {
		return models.Credential{}, fmt.Errorf("update: %w", err)
	}
	st.records[idx] = rec
	st.addTombstones(prev.ID)
	if err := s.saveLocked(ctx, st); err != nil {
		return models.Credential{}, err
	}
	return rec, nil
}

// Commit installs next, computed by a reconcile pass from the snapshot base,
// without losing writes that landed while the pass ran. renamed maps the
// client ids of records uploaded during the pass to their remote ids.
//
//   - records appended after base was read are kept;
//   - records edited after base was read keep their current version; if the
//     pass uploaded the stale version, that remote copy is tombstoned and the
//     edit stays pending;
//   - records removed after base was read stay removed; an upload of a
//     removed record is tombstoned.
//
// The result and its tombstones are written together, ordered by
// LastModified, newest first. Commit fails with
// ErrSessionClosed once the session has ended.
func (s *Store) Commit(ctx context.Context, base, next []models.Credential, renamed map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sess.Err(); err != nil {
		return err
	}

	st, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	current := st.records

	baseByID := index(base)
	currentByID := index(current)

	drop := make(map[string]bool)
	override := make(map[string]models.Credential)
	var extra []models.Credential
	var tombs []string

	for id, b := range baseByID {
		cur, ok := currentByID[id]
		srvID, uploaded := renamed[id]
		switch {
		case !ok:
			drop[id] = true
			if uploaded {
				drop[srvID] = true
				tombs = append(tombs, srvID)
			}
		case cur != b:
			if uploaded {
				drop[srvID] = true
				tombs = append(tombs, srvID)
				extra = append(extra, cur)
			} else {
				override[id] = cur
			}
		}
	}
	for _, c := range current {
		if _, ok := baseByID[c.ID]; !ok {
			extra = append(extra, c)
		}
	}

	out := make([]models.Credential, 0, len(next)+len(extra))
	seen := make(map[string]bool, len(next)+len(extra))
	for _, r := range next {
		if drop[r.ID] || seen[r.ID] {
			continue
		}
		if o, ok := override[r.ID]; ok {
			r = o
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	for _, r := range extra {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	SortByRecency(out)

	sort.Strings(tombs)
	st.records = out
	st.addTombstones(tombs...)
	return s.saveLocked(ctx, st)
}

// SortByRecency orders records by LastModified, newest first. Ties keep
// their relative order.
func SortByRecency(records []models.Credential) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].LastModified > records[j].LastModified
	})
}

func index(records []models.Credential) map[string]models.Credential {
	m := make(map[string]models.Credential, len(records))
	for _, r := range records {
		m[r.ID] = r
	}
	return m
}
