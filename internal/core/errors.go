// internal/core/errors.go
package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every error leaving the gateway matches exactly one of these
// through errors.Is, and the HTTP layer maps the kind to a status code.
var (
	ErrUnauthenticated  = errors.New("authentication required")
	ErrForbidden        = errors.New("forbidden")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrConflict         = errors.New("conflict")
	ErrTooLarge         = errors.New("request too large")
	ErrBackend          = errors.New("backend error")
)

// Error carries a kind, the message shown to the caller and an optional cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.Error()
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an error of the given kind with a formatted caller-facing message.
func Errorf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a kind. The message stays what the caller sees.
func Wrap(kind error, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or ErrBackend when err carries none.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrUnauthenticated, ErrForbidden, ErrRateLimited, ErrNotFound,
		ErrValidation, ErrMethodNotAllowed, ErrConflict, ErrTooLarge, ErrBackend,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrBackend
}
