// Package errs defines the stable error code system for bmadloop.
package errs

import (
	"errors"
	"fmt"
)

// Code is a stable error code string.
type Code string

const (
	EUsage    Code = "E_USAGE"
	EInternal Code = "E_INTERNAL"

	// Verification and tracking error codes
	ENotFound          Code = "E_NOT_FOUND"           // tracking record missing
	ETimeout           Code = "E_TIMEOUT"             // assistant call exceeded bound
	EMalformedResponse Code = "E_MALFORMED_RESPONSE"  // assistant output unparsable
	EToolUnavailable   Code = "E_TOOL_UNAVAILABLE"    // assistant cannot be invoked
	EExhaustedBacklog  Code = "E_EXHAUSTED_BACKLOG"   // fewer stories remain than requested
	EStoreCorrupt      Code = "E_STORE_CORRUPT"       // sprint record unreadable
	EPersistFailed     Code = "E_PERSIST_FAILED"      // tracking write failed
	EPreflightFailed   Code = "E_PREFLIGHT_FAILED"    // environment checks failed
	EStoriesAbandoned  Code = "E_STORIES_ABANDONED"   // one or more stories ended abandoned
)

// Error is the standard error type carrying a stable code.
type Error struct {
	Code  Code
	Msg   string
	Cause error
}

// Error returns the stable "CODE: message" format.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Msg: msg}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an error wrapping an underlying cause.
func Wrap(code Code, msg string, err error) error {
	return &Error{Code: code, Msg: msg, Cause: err}
}

// GetCode extracts the error code, or empty string for foreign errors.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err is or wraps an Error with the given code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

// ExitCode returns the process exit code for an error.
// 0 for nil, 2 for usage errors, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if GetCode(err) == EUsage {
		return 2
	}
	return 1
}
