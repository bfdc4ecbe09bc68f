package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies business-rule failures returned by the ledger.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInvalidState      Kind = "invalid_state"
	KindForbidden         Kind = "forbidden"
	KindConflict          Kind = "conflict"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindValidation        Kind = "validation"
)

// Error is a typed business error. Two errors match under errors.Is when their kinds match,
// so callers can test either the precise sentinel or the generic kind.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports kind equality for kind-only sentinels and identity otherwise.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Message == "" {
		return t.Kind == e.Kind
	}
	return t == e
}

// Kind-only sentinels.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrValidation        = &Error{Kind: KindValidation}
)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a validation error carrying per-field messages.
func Validation(details map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Details: details}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
