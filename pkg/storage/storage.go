// Package storage provides the persistence substrate shared by the cache
// store and the retry queue: a flat, prefix-scannable key/value space that
// survives process restarts.
//
// Three backends are available:
//
//   - LevelDB: local on-disk database, the default for a single host.
//   - Redis: remote store, keys namespaced by a prefix.
//   - Memory: process-local map for tests and ephemeral deployments.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("storage: backend closed")

// Backend is a persistent key/value store.
type Backend interface {
	// Get returns the value stored at key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value at key, overwriting any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Scan calls fn for every key starting with prefix. Iteration stops at the
	// first error returned by fn. Key order is backend specific.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error

	// DeletePrefix removes every key starting with prefix and returns how many
	// keys were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
