package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an id is neither cached nor available remotely.
	ErrNotFound = errors.New("not found")

	// ErrDisposed is returned by stores that were already disposed.
	ErrDisposed = errors.New("disposed")

	// ErrChecksumMismatch marks a cached row whose stored checksum does not
	// match its payload.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// NotFoundError wraps ErrNotFound with the missing id.
func NotFoundError(id string) error {
	return fmt.Errorf("%s: %w", id, ErrNotFound)
}
