// Package awcperrors defines the control plane's error taxonomy. The core
// never panics across an API boundary; every fallible operation returns
// (value, error) with *Error as the concrete error type, or a bare bool for
// void operations.
package awcperrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies why an operation failed.
type Kind string

const (
	// InvalidArgument marks bad schema, unknown agent/resource, or
	// out-of-range thresholds.
	InvalidArgument Kind = "invalid_argument"
	// PolicyDenied marks a cross-tenant message blocked by a deny policy,
	// or a secure send attempted while security is disabled.
	PolicyDenied Kind = "policy_denied"
	// NotAuthorized marks a sender missing from the secure allow-list.
	NotAuthorized Kind = "not_authorized"
	// Unavailable marks an external transport or persistence failure.
	Unavailable Kind = "unavailable"
	// NotFound marks an unknown task, agent, resource, or route.
	NotFound Kind = "not_found"
	// Integrity marks a secure receive failure (decrypt, signature, or
	// identity mismatch).
	Integrity Kind = "integrity"
)

// Error is the concrete error type returned by every fallible core
// operation. It carries a Kind, an optional wrapped cause, and structured
// fields for logging.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, awcperrors.New(InvalidArgument, "")) works as a kind check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string, fields ...map[string]interface{}) *Error {
	e := &Error{Kind: kind, Message: message}
	if len(fields) > 0 {
		e.Fields = fields[0]
	}
	return e
}

// Wrap attaches an external cause to a new *Error of the given kind.
func Wrap(cause error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: errors.WithStack(cause)}
}

// OfKind reports whether err is an *Error of the given kind.
func OfKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
