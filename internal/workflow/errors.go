package workflow

import "fmt"

// ErrorKind classifies workflow failures for the caller. ConflictRetry is
// the only transient kind; everything else means the request was invalid
// against the current state and must not be blindly retried.
type ErrorKind string

const (
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindPermissionDenied  ErrorKind = "permission_denied"
	KindGuardFailed       ErrorKind = "guard_failed"
	KindNothingChanged    ErrorKind = "nothing_changed"
	KindConflictRetry     ErrorKind = "conflict_retry"
	KindNotFound          ErrorKind = "not_found"
)

// Error is the typed result of a rejected workflow operation.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// KindOf extracts the error kind, or empty string for foreign errors.
func KindOf(err error) ErrorKind {
	if we, ok := err.(*Error); ok {
		return we.Kind
	}
	return ""
}

func errInvalidTransition(from, action string) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("action %q is not defined for status %q", action, from),
	}
}

func errPermissionDenied(role, action string) *Error {
	return &Error{
		Kind:    KindPermissionDenied,
		Message: fmt.Sprintf("role %q may not perform %q", role, action),
	}
}

func errGuardFailed(msg string) *Error {
	return &Error{Kind: KindGuardFailed, Message: msg}
}

func errNothingChanged() *Error {
	return &Error{Kind: KindNothingChanged, Message: "staged edit does not change any field"}
}

// ErrDenied is the exported form of a permission failure for callers that
// enforce checks outside the transition table, such as parish ownership.
func ErrDenied(msg string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: msg}
}

// ErrConflict reports that the record changed between read and write; the
// caller should reload and retry.
func ErrConflict() *Error {
	return &Error{Kind: KindConflictRetry, Message: "profile was modified concurrently, reload and retry"}
}

// ErrNotFound reports an unknown profile id.
func ErrNotFound(id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("profile %q not found", id)}
}
