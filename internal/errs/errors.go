// Package errs provides the unified error type used across all of Meridian's
// database subsystem.
//
// Every backend adapter (Postgres, MySQL, SQLite, MongoDB) wraps its native
// driver errors into *errs.Error before returning them to callers. Callers
// use the Is* predicates to handle errors without importing driver-specific
// packages.
//
// Usage:
//
//	// In an adapter, wrap native errors:
//	return errs.Wrap(errs.ErrKindTimeout, "postgres: query timed out", pgErr)
//
//	// In application code, check error kind:
//	if errs.IsNotFound(err) {
//	    return nil, ErrUserMissing
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing backend-specific codes.
// All adapters map their native errors to one of these kinds, giving
// callers a single consistent API.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindNotFound                 // no rows, no document
	ErrKindConnectionFailed         // cannot reach or authenticate to the backend
	ErrKindNotConnected             // operation attempted on a closed adapter
	ErrKindTimeout                  // context deadline / cancellation
	ErrKindQueryFailed              // SQL or storage operation error
	ErrKindTransaction              // begin/commit/rollback failure
	ErrKindInvalidInput             // bad arguments from the caller
	ErrKindUnsupported              // operation not available on this backend
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindNotConnected:
		return "not_connected"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindTransaction:
		return "transaction_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all database operations.
// Adapters produce it; callers inspect it via the Is* predicates below.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an *Error with a formatted message and no cause.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsNotFound reports whether err represents a "not found" result
// (no rows, missing document, …).
func IsNotFound(err error) bool {
	return kindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return kindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return kindOf(err) == ErrKindConnectionFailed
}

// IsNotConnected reports whether err was raised because the adapter
// is not connected and could not re-establish its connection.
func IsNotConnected(err error) bool {
	return kindOf(err) == ErrKindNotConnected
}

// IsQueryFailed reports whether err is a backend operation failure.
func IsQueryFailed(err error) bool {
	return kindOf(err) == ErrKindQueryFailed
}

// IsTransaction reports whether err came from begin/commit/rollback handling.
func IsTransaction(err error) bool {
	return kindOf(err) == ErrKindTransaction
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return kindOf(err) == ErrKindInvalidInput
}

// IsUnsupported reports whether err marks an operation the backend cannot do.
func IsUnsupported(err error) bool {
	return kindOf(err) == ErrKindUnsupported
}

// kindOf extracts the ErrKind from any error in the chain.
func kindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
