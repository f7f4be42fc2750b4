package storage

import (
	"context"
	"errors"

	verrors "github.com/atinyakov/gophvault/internal/errors"
)

// Tombstones returns the remote ids removed locally and not yet deleted
// remotely.
func (s *Store) Tombstones(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sess.Err(); err != nil {
		return nil, err
	}
	st, err := s.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	return st.tombs, nil
}

// ClearTombstones forgets ids, once their remote deletion succeeded.
func (s *Store) ClearTombstones(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sess.Err(); err != nil {
		return err
	}

	st, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := make([]string, 0, len(st.tombs))
	for _, id := range st.tombs {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	st.tombs = kept
	return s.saveLocked(ctx, st)
}

// legacyTombstonesLocked reads the separate tombstone list of version 1 data.
func (s *Store) legacyTombstonesLocked(ctx context.Context) ([]string, error) {
	raw, err := s.kv.Get(ctx, s.sess.Key(RoleTombstones))
	if errors.Is(err, verrors.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	ids, err := decodeTombstones(raw)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// addTombstones appends ids not already tombstoned.
func (st *state) addTombstones(ids ...string) {
	have := make(map[string]bool, len(st.tombs))
	for _, id := range st.tombs {
		have[id] = true
	}
	for _, id := range ids {
		if !have[id] {
			st.tombs = append(st.tombs, id)
			have[id] = true
		}
	}
}
