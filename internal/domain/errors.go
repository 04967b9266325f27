package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the chat domain. Callers wrap them with fmt.Errorf
// and %w so that errors.Is keeps working across layers.
var (
	// ErrValidation marks input that can never succeed as given.
	ErrValidation = errors.New("validation failed")
	// ErrNotAuthenticated is returned when no verified identity is present.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrTransientTransport marks failures of the bus or store that may be retried.
	ErrTransientTransport = errors.New("transient transport failure")
	// ErrStaleViewRace marks a backfill that finished after the view moved on.
	ErrStaleViewRace = errors.New("stale view backfill discarded")
	// ErrPresenceDesync marks a local presence set that no longer tracks the server.
	ErrPresenceDesync = errors.New("presence out of sync")
	// ErrNotAttached is returned for session operations that need an attachment.
	ErrNotAttached = errors.New("session not attached")
	// ErrClosed is returned once a component has been shut down.
	ErrClosed = errors.New("closed")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("requested resource not found")
)

// Invalid builds an error wrapping ErrValidation.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Transient wraps err so that errors.Is(err, ErrTransientTransport) holds.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransientTransport, err)
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientTransport)
}
