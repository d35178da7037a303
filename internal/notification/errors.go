package notification

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrHintUnavailable is returned by a HintStore whose backend cannot be reached.
	ErrHintUnavailable = errors.New("latest hint store is unavailable")
	// ErrStoreUnavailable is returned by a Store with no backing connection.
	ErrStoreUnavailable = errors.New("notification store is unavailable")
	// ErrDuplicateID reports a primary key collision on insert.
	ErrDuplicateID = errors.New("notification id already exists")
	// ErrUserNotFound is returned by a Directory lookup for an unknown user.
	ErrUserNotFound = errors.New("user not found")
)

// ValidationError lists the fields that made a CreateInput unacceptable.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "invalid notification: " + strings.Join(parts, "; ")
}

// WriteError wraps a Store failure during Writer.Create. Callers retry.
type WriteError struct {
	UserID string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write notification for user %s: %v", e.UserID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// StoreError wraps a constraint violation raised by a Store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("notification store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
