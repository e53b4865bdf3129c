package qerr

import (
	"errors"
	"fmt"
)

// Code represents a stable error category that callers can switch on.
type Code string

const (
	CodeUnknown Code = "unknown"

	// CodeConfig marks failures to resolve launcher configuration: a missing
	// code location, an unresolvable secret or env reference.
	CodeConfig Code = "config"

	// CodeRemote marks failures returned by the Cloud Run API.
	CodeRemote Code = "remote"

	// CodeNoExecution is used when RunJob succeeded but no execution
	// reference could be read from the operation.
	CodeNoExecution Code = "no_execution"

	CodeRunNotFound  Code = "run_not_found"
	CodeInvalidState Code = "invalid_state"
)

// Error is a simple value type that carries a Code plus the underlying error.
type Error struct {
	Code Code
	err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// New wraps an error with the provided code. If err is nil a nil is returned.
func New(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, err: err}
}

// Newf builds a coded error from a format string. %w verbs are honoured.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, err: fmt.Errorf(format, args...)}
}

// CodeOf returns the code of the outermost coded error in err's chain,
// or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode helps callers compare codes without type assertions. Wrapped
// errors are unwrapped.
func IsCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}
