package domain

import (
	"errors"
	"fmt"
)

// ErrKind classifies an error for wire-level reporting. A rejected
// operation with any of these kinds leaves the targeted state untouched.
type ErrKind string

const (
	ErrValidation     ErrKind = "validation"
	ErrAuthentication ErrKind = "authentication"
	ErrAuthorization  ErrKind = "authorization"
	ErrNotFound       ErrKind = "not_found"
	ErrConflict       ErrKind = "conflict"
	ErrState          ErrKind = "state"
	ErrTransient      ErrKind = "transient"
)

type Error struct {
	Kind ErrKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(msg string) *Error       { return &Error{Kind: ErrValidation, Msg: msg} }
func Authentication(msg string) *Error   { return &Error{Kind: ErrAuthentication, Msg: msg} }
func Unauthorized(msg string) *Error     { return &Error{Kind: ErrAuthorization, Msg: msg} }
func NotFound(msg string) *Error         { return &Error{Kind: ErrNotFound, Msg: msg} }
func Conflict(msg string) *Error         { return &Error{Kind: ErrConflict, Msg: msg} }
func State(msg string) *Error            { return &Error{Kind: ErrState, Msg: msg} }
func Transient(msg string, err error) *Error {
	return &Error{Kind: ErrTransient, Msg: msg, Err: err}
}

// KindOf extracts the taxonomy kind, defaulting unknown errors to
// validation so adapters never leak internals to clients.
func KindOf(err error) ErrKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ErrValidation
}
