// Package errors defines the pipeline error taxonomy and its HTTP
// mapping.
//
// Every pipeline operation returns an explicit error value carrying a
// machine-readable kind, so the worker's retry/dead-letter decision is
// a pure function of the returned kind and clients always receive a
// structured failure.
package errors

import (
	"errors"
	"fmt"

	"github.com/factgate/factgate/pkg/verify"
)

// Kind is a machine-readable error code from the pipeline taxonomy.
type Kind string

const (
	KindInvalidInput           Kind = "INVALID_INPUT"
	KindNotFound               Kind = "NOT_FOUND"
	KindCancelled              Kind = "CANCELLED"
	KindTimeout                Kind = "TIMEOUT"
	KindRateLimited            Kind = "RATE_LIMITED"
	KindMalformedOutput        Kind = "MALFORMED_OUTPUT"
	KindFactVerificationFailed Kind = "FACT_VERIFICATION_FAILED"
	KindStorage                Kind = "STORAGE_ERROR"
	KindInternal               Kind = "INTERNAL"
)

// Retryable reports whether a worker may retry an operation that
// failed with this kind. Everything else is terminal.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindRateLimited, KindStorage:
		return true
	}
	return false
}

// Error is a structured pipeline error.
type Error struct {
	Kind    Kind
	Message string

	// Violations carries field-level detail for
	// FACT_VERIFICATION_FAILED.
	Violations []verify.Violation

	// Err is the wrapped cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a pipeline error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a pipeline error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a pipeline error wrapping a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithViolations attaches verification violations and returns e.
func (e *Error) WithViolations(violations []verify.Violation) *Error {
	e.Violations = violations
	return e
}

// KindOf extracts the taxonomy kind from any error. Unclassified
// errors are INTERNAL.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// ViolationsOf extracts attached violations, if any.
func ViolationsOf(err error) []verify.Violation {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Violations
	}
	return nil
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Is and As re-export the standard library helpers so callers of this
// package never need a second errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }
