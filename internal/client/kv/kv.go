// Package kv provides the local persisted key/value store. Keys follow the
// "namespace:role" contract and values are JSON documents.
package kv

import "context"

// Store is a durable key/value store.
//
// Get returns errors.ErrNotFound for absent keys. Read failures wrap
// ErrStorageUnavailable and write failures wrap ErrStorageWriteFailed.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
