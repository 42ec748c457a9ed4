package fluxtor

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// ErrCodeInvalidArgument indicates a constructor or registration argument
	// of the wrong kind.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// ErrCodeUnknownAction indicates a dispatch of a name with no registered
	// action function.
	ErrCodeUnknownAction ErrorCode = "UNKNOWN_ACTION"
)

// Error is returned by the store for contract violations detected at the
// call site. Errors raised by user-supplied actions and reducers are never
// wrapped in an Error.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Position is the ordinal of the offending argument ("first", "second").
	// Set for ErrCodeInvalidArgument.
	Position string

	// Expected is the kind the argument should have had ("object",
	// "function", "non-empty string"). Set for ErrCodeInvalidArgument.
	Expected string

	// Action is the dispatched name. Set for ErrCodeUnknownAction.
	Action string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidArgumentError creates an Error for an argument of the wrong kind.
func NewInvalidArgumentError(position, expected string) *Error {
	return &Error{
		Code:     ErrCodeInvalidArgument,
		Message:  fmt.Sprintf("%s argument must be %s %s", position, article(expected), expected),
		Position: position,
		Expected: expected,
	}
}

// NewUnknownActionError creates an Error for a dispatch of an unregistered name.
func NewUnknownActionError(name string) *Error {
	return &Error{
		Code:    ErrCodeUnknownAction,
		Message: fmt.Sprintf("action %q was not specified", name),
		Action:  name,
	}
}

// IsInvalidArgument returns true if the error is an invalid argument error.
// Uses errors.As to handle wrapped errors.
func IsInvalidArgument(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrCodeInvalidArgument
	}
	return false
}

// IsUnknownAction returns true if the error is an unknown action error.
// Uses errors.As to handle wrapped errors.
func IsUnknownAction(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrCodeUnknownAction
	}
	return false
}

func article(kind string) string {
	if kind == "" {
		return "a"
	}
	switch kind[0] {
	case 'a', 'e', 'i', 'o', 'u':
		return "an"
	}
	return "a"
}
