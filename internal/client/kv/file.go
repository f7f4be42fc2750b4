package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	verrors "github.com/atinyakov/gophvault/internal/errors"
)

// File is a Store keeping every key in one JSON file. Each write rewrites the
// whole file through a temporary file and a rename.
type File struct {
	path   string
	mu     sync.Mutex
	data   map[string]json.RawMessage
	loaded bool
}

var _ Store = (*File)(nil)

// NewFile returns a File store at path. The file is read lazily.
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) load() error {
	if f.loaded {
		return nil
	}
	buf, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			f.data = make(map[string]json.RawMessage)
			f.loaded = true
			return nil
		}
		return fmt.Errorf("read %s: %w: %w", f.path, verrors.ErrStorageUnavailable, err)
	}
	data := make(map[string]json.RawMessage)
	if err := json.Unmarshal(buf, &data); err != nil {
		return fmt.Errorf("parse %s: %w: %w", f.path, verrors.ErrStorageCorrupt, err)
	}
	f.data = data
	f.loaded = true
	return nil
}

func (f *File) save() error {
	buf, err := json.Marshal(f.data)
	if err != nil {
		return fmt.Errorf("encode store: %w: %w", verrors.ErrStorageWriteFailed, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".kv-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w: %w", verrors.ErrStorageWriteFailed, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w: %w", verrors.ErrStorageWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w: %w", verrors.ErrStorageWriteFailed, err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace %s: %w: %w", f.path, verrors.ErrStorageWriteFailed, err)
	}
	return nil
}

// Get returns the value stored under key.
func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return nil, err
	}
	v, ok := f.data[key]
	if !ok {
		return nil, verrors.ErrNotFound
	}
	return []byte(v), nil
}

// Put stores value under key. value must be valid JSON.
func (f *File) Put(_ context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("put %q: value is not JSON: %w", key, verrors.ErrStorageWriteFailed)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return err
	}
	prev, had := f.data[key]
	f.data[key] = json.RawMessage(append([]byte(nil), value...))
	if err := f.save(); err != nil {
		if had {
			f.data[key] = prev
		} else {
			delete(f.data, key)
		}
		return err
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (f *File) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return err
	}
	prev, ok := f.data[key]
	if !ok {
		return nil
	}
	delete(f.data, key)
	if err := f.save(); err != nil {
		f.data[key] = prev
		return err
	}
	return nil
}

// Close is a no-op; every write is already durable.
func (f *File) Close() error {
	return nil
}
