// Package apperr implements the error taxonomy shared by every
// management mutation: a small set of kinds that an external REST
// framing maps to HTTP statuses, plus field-level validation detail.
package apperr

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// Kind is the user-visible error category.
type Kind int

const (
	// Internal indicates an unexpected storage or cache failure. The
	// message is sanitized; full detail is only in logs.
	Internal Kind = iota
	// InvalidInput indicates validation failed.
	InvalidInput
	// Unauthorized indicates a missing, malformed, expired, or revoked
	// token.
	Unauthorized
	// Forbidden indicates a valid token lacking the required scope.
	Forbidden
	// Conflict indicates a domain/path collision or listener port clash.
	Conflict
	// NotFound indicates a referenced definition or route is missing.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case Unauthorized:
		return "Unauthorized"
	case Forbidden:
		return "Forbidden"
	case Conflict:
		return "Conflict"
	case NotFound:
		return "NotFound"
	default:
		return "Internal"
	}
}

// FieldError is one violation found by the Validator. Field-level checks
// never short-circuit on the first violation; every FieldError found is
// reported together.
type FieldError struct {
	Field  string
	Detail string
}

// Error is the error type every component in the core returns. It never
// carries secrets: only token IDs and correlation IDs are safe to log
// alongside it.
type Error struct {
	Kind          Kind
	Message       string
	CorrelationID string
	Fields        []FieldError
	cause         error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Cause() error { return e.cause }

func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches kind and message to an underlying cause, preserving the
// chain the way github.com/pkg/errors callers expect.
func Wrap(cause error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: pkgerrors.Wrap(cause, message)}
}

// WithCorrelationID returns a copy of e carrying the given correlation ID.
func (e *Error) WithCorrelationID(id string) *Error {
	out := *e
	out.CorrelationID = id
	return &out
}

// Invalid builds an InvalidInput error carrying every accumulated field
// violation.
func Invalid(fields []FieldError) *Error {
	return &Error{Kind: InvalidInput, Message: "validation failed", Fields: fields}
}

// Conflictf builds a Conflict error with a formatted diagnostic.
func Conflictf(format string, args ...interface{}) *Error {
	return New(Conflict, pkgerrors.Errorf(format, args...).Error())
}

// NotFoundf builds a NotFound error with a formatted diagnostic.
func NotFoundf(format string, args ...interface{}) *Error {
	return New(NotFound, pkgerrors.Errorf(format, args...).Error())
}

// Forbiddenf builds a Forbidden error with a formatted diagnostic.
func Forbiddenf(format string, args ...interface{}) *Error {
	return New(Forbidden, pkgerrors.Errorf(format, args...).Error())
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
