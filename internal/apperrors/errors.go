package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the engine's failure taxonomy.
type Kind string

const (
	KindValidation Kind = "validation" // malformed input, recoverable client-side
	KindNotFound   Kind = "not_found"  // unknown event/participant/choice
	KindForbidden  Kind = "forbidden"  // role violation: non-participant, self-vote
	KindConflict   Kind = "conflict"   // uniqueness violation: duplicate submission/vote
	KindState      Kind = "state"      // operation invalid for the event's current phase
	KindDependency Kind = "dependency" // datastore or downstream unavailable
)

// Error is a classified engine error. Handlers map Kind to an HTTP status;
// services and repositories construct these at the point where the semantic
// failure is known.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a KindValidation error.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a KindNotFound error.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Forbidden returns a KindForbidden error.
func Forbidden(format string, args ...interface{}) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// Conflict returns a KindConflict error.
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// State returns a KindState error.
func State(format string, args ...interface{}) *Error {
	return &Error{Kind: KindState, Message: fmt.Sprintf(format, args...)}
}

// Dependency wraps a downstream failure.
func Dependency(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindDependency, Message: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err is a classified error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or KindDependency for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDependency
}
