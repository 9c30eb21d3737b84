// Package herrors defines the single tagged error type every haste
// operation returns: a Kind drawn from a closed enum, a human reason,
// and an optional wrapped cause.
package herrors

import (
	"errors"
	"fmt"
)

// Kind classifies a haste error.
type Kind string

const (
	// ValidationError marks bad plan() inputs, caught before any
	// resource is touched.
	ValidationError Kind = "validation"

	// ResourceError marks insufficient capacity or a spread-constraint
	// violation discovered after normalization.
	ResourceError Kind = "resource"

	// TransportError marks an RPC, download, or service-manager
	// process failure.
	TransportError Kind = "transport"

	// ConvergenceError marks a health-phase probe failure: the
	// cluster was never brought up.
	ConvergenceError Kind = "convergence"

	// FatalIOError marks a filesystem failure in a critical agent
	// step (rename, render, remove).
	FatalIOError Kind = "fatal_io"
)

// Error is the single error type returned across haste's public APIs.
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Validation builds a ValidationError with no underlying cause.
func Validation(reason string) *Error {
	return &Error{Kind: ValidationError, Reason: reason}
}

// Resource builds a ResourceError with no underlying cause.
func Resource(reason string) *Error {
	return &Error{Kind: ResourceError, Reason: reason}
}

// Transport wraps a transport-layer failure (RPC, download, subprocess).
func Transport(reason string, cause error) *Error {
	return &Error{Kind: TransportError, Reason: reason, Cause: cause}
}

// Convergence wraps a health-phase failure.
func Convergence(reason string, cause error) *Error {
	return &Error{Kind: ConvergenceError, Reason: reason, Cause: cause}
}

// FatalIO wraps a filesystem failure in a critical agent step.
func FatalIO(reason string, cause error) *Error {
	return &Error{Kind: FatalIOError, Reason: reason, Cause: cause}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind, true
	}
	return "", false
}
