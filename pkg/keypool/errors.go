package keypool

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned when the pool holds no keys.
	ErrNotConfigured = errors.New("no API keys configured")

	// ErrExhausted matches any *ExhaustedError.
	ErrExhausted = errors.New("all API keys exhausted")

	// ErrKeyNotFound is returned when an operation references a key that is
	// not part of the pool.
	ErrKeyNotFound = errors.New("API key not found in pool")
)

// ExhaustedError reports that no key is eligible for Model.
type ExhaustedError struct {
	// Model is the model every key is exhausted for. Empty means the
	// pool had no keys eligible at all.
	Model string
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	if e.Model == "" {
		return "all API keys are currently exhausted"
	}
	return fmt.Sprintf("all API keys are currently exhausted for model %s", e.Model)
}

// Is reports whether target is ErrExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// StorageError wraps a failure to load or save the pool snapshot.
type StorageError struct {
	// Op is "load" or "save".
	Op string

	// Err is the underlying backend error.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("key pool %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}
