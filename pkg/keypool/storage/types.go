package storage

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("storage backend closed")

// Backend is a durable key-value store for pool snapshots.
// Implementations must be thread-safe.
type Backend interface {
	// Get returns the value stored under key. The boolean is false when
	// nothing has been stored yet; err is reserved for system failures.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores value under key, replacing any previous value. It returns
	// only after the write is durable for the backend's definition of durable.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. No-op if key does not exist.
	Delete(ctx context.Context, key string) error

	// Close releases resources. The backend must not be used afterwards.
	Close() error
}
