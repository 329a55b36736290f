package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing errors
const (
	ErrConfig     = "CONFIG"
	ErrValidation = "VALIDATION" // malformed user intent, never sent over the wire
	ErrTransport  = "TRANSPORT"  // network, HTTP or decode failure talking to the control plane
	ErrRemote     = "REMOTE"     // control plane answered with a non-success status
	ErrData       = "DATA"       // a telemetry sample carried a non-numeric or non-finite field
)

// Error represents a structured error with code, message, suggestion, and optional cause.
// Rendered as:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrTransport code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrTransport,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var vmErr *Error
	if errors.As(err, &vmErr) {
		return vmErr.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost structured Error in the chain,
// or an empty string when err carries none.
func CodeOf(err error) string {
	var vmErr *Error
	if errors.As(err, &vmErr) {
		return vmErr.Code
	}
	return ""
}

// Short returns the one-line message of a structured error, or err.Error()
// for anything else. Status lines in the dashboard use it.
func Short(err error) string {
	if err == nil {
		return ""
	}
	var vmErr *Error
	if errors.As(err, &vmErr) {
		if vmErr.Cause != nil {
			return vmErr.Message + ": " + vmErr.Cause.Error()
		}
		return vmErr.Message
	}
	return err.Error()
}
