package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	verrors "github.com/atinyakov/gophvault/internal/errors"
)

// SyncSettings is the per-session reconcile toggle. Sync is off until the
// user enables it.
type SyncSettings struct {
	Enabled  bool
	LastSync time.Time
}

// SyncSettings returns the persisted settings, or the zero value when none
// were saved.
func (s *Store) SyncSettings(ctx context.Context) (SyncSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sess.Err(); err != nil {
		return SyncSettings{}, err
	}
	return s.settingsLocked(ctx)
}

// SetSyncEnabled persists the toggle, keeping LastSync.
func (s *Store) SetSyncEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sess.Err(); err != nil {
		return err
	}
	cur, err := s.settingsLocked(ctx)
	if err != nil {
		return err
	}
	cur.Enabled = enabled
	return s.saveSettingsLocked(ctx, cur)
}

// MarkSynced records the completion time of a reconcile pass.
func (s *Store) MarkSynced(ctx context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sess.Err(); err != nil {
		return err
	}
	cur, err := s.settingsLocked(ctx)
	if err != nil {
		return err
	}
	cur.LastSync = at
	return s.saveSettingsLocked(ctx, cur)
}

func (s *Store) settingsLocked(ctx context.Context) (SyncSettings, error) {
	raw, err := s.kv.Get(ctx, s.sess.Key(RoleSyncSettings))
	if errors.Is(err, verrors.ErrNotFound) {
		return SyncSettings{}, nil
	}
	if err != nil {
		return SyncSettings{}, err
	}
	return decodeSettings(raw)
}

func (s *Store) saveSettingsLocked(ctx context.Context, v SyncSettings) error {
	buf, err := encodeSettings(v)
	if err != nil {
		return fmt.Errorf("encode sync settings: %w: %w", verrors.ErrStorageWriteFailed, err)
	}
	return s.kv.Put(ctx, s.sess.Key(RoleSyncSettings), buf)
}
