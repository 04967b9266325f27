package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nfrund/peerchat/internal/domain"
)

// Common database errors that can be checked using errors.Is().
var (
	// ErrNotConnected is returned when no healthy connection is available.
	ErrNotConnected = errors.New("database not connected")

	// ErrNotFound is returned when a record is not found in the database.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned when trying to create a record that already exists.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrQueryFailed is returned when a query execution fails.
	ErrQueryFailed = errors.New("query execution failed")
)

// DBError represents a database error with additional context.
type DBError struct {
	err     error
	context string
	query   string
}

// NewDBError creates a new DBError. context describes the operation that failed.
func NewDBError(err error, context string) *DBError {
	return &DBError{err: err, context: context}
}

// WithQuery adds the query text to the error.
func (e *DBError) WithQuery(query string) *DBError {
	e.query = query
	return e
}

func (e *DBError) Error() string {
	msg := e.context
	if e.query != "" {
		msg = fmt.Sprintf("%s (query: %s)", msg, e.query)
	}
	if e.err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *DBError) Unwrap() error {
	return e.err
}

// Is lets connection failures match domain.ErrTransientTransport, so callers
// above the store only deal with the domain taxonomy.
func (e *DBError) Is(target error) bool {
	if target == domain.ErrTransientTransport {
		return errors.Is(e.err, ErrNotConnected) || isConnectionError(e.err)
	}
	return false
}

// WrapError wraps err with context. An existing DBError gets the context
// prepended instead of a second wrapper.
func WrapError(err error, context string) error {
	if err == nil {
		return nil
	}
	var dbErr *DBError
	if errors.As(err, &dbErr) {
		if dbErr.context != "" {
			context = fmt.Sprintf("%s: %s", context, dbErr.context)
		}
		dbErr.context = context
		return dbErr
	}
	if strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return NewDBError(fmt.Errorf("%w: %w", ErrAlreadyExists, err), context)
	}
	return NewDBError(err, context)
}
