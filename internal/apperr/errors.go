// Package apperr is the error taxonomy shared by the realtime core, the
// gateway and the HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeUnknown         Code = "UNKNOWN"
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeNotAuthorized   Code = "NOT_AUTHORIZED"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeInvalid         Code = "INVALID"
	CodeInternal        Code = "INTERNAL"
)

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by code, so errors.Is(err, apperr.ErrRoomNotFound)
// and errors.Is(err, &apperr.Error{Code: CodeNotFound}) both work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message == "" {
		return e.Code == t.Code
	}
	return e.Code == t.Code && e.Message == t.Message
}

func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func Unauthenticated(msg string) error { return New(CodeUnauthenticated, msg) }
func NotAuthorized(msg string) error   { return New(CodeNotAuthorized, msg) }
func NotFound(msg string) error        { return New(CodeNotFound, msg) }
func Conflict(msg string) error        { return New(CodeConflict, msg) }
func Invalid(msg string) error         { return New(CodeInvalid, msg) }

func Unavailable(msg string, cause error) error { return Wrap(CodeUnavailable, msg, cause) }
func Internal(msg string, cause error) error    { return Wrap(CodeInternal, msg, cause) }

// CodeOf returns the code of the first *Error in err's chain, or
// CodeUnknown when there is none.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Message returns the client-safe message for err. Internal causes are never
// exposed.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}
