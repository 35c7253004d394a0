package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing entity id.
	ErrNotFound = errors.New("not found")

	// ErrLockTimeout signals the store gave up waiting for a row lock.
	// Transient; callers may retry with backoff.
	ErrLockTimeout = errors.New("lock wait timeout")

	// ErrForbidden signals an operation reserved for a higher-privilege role.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError is a business-rule violation. Never retried.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string { return e.Detail }

func Validationf(format string, args ...any) error {
	return &ValidationError{Detail: fmt.Sprintf(format, args...)}
}

// ConstraintError reports a uniqueness or referential-integrity violation
// enforced by the store.
type ConstraintError struct {
	Detail string
}

func (e *ConstraintError) Error() string { return e.Detail }

// ConflictError is an optimistic version mismatch or an unexpected lock
// conflict. The caller is expected to re-read and retry; both versions are
// carried so it can tell how stale it is.
type ConflictError struct {
	Detail           string
	CurrentVersion   int
	SubmittedVersion int
}

func (e *ConflictError) Error() string { return e.Detail }
