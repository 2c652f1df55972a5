package core

import (
	"errors"
	"fmt"
)

// Error is the error type returned across component boundaries of a live
// support session.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	Err     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Code != "" {
		msg = fmt.Sprintf("%s (code: %s)", msg, e.Code)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrConfig is returned before any resource is acquired.
	ErrConfig ErrorType = "config_error"
	// ErrCapture aborts the session: the microphone is denied or unavailable.
	ErrCapture ErrorType = "capture_error"
	// ErrSession aborts the session: the remote side reported a failure.
	ErrSession ErrorType = "session_error"
	// ErrToolCall is recovered locally and answered with a default result.
	ErrToolCall ErrorType = "tool_call_error"
)

// NewConfigError creates a configuration error.
func NewConfigError(message string) *Error {
	return &Error{
		Type:    ErrConfig,
		Message: message,
	}
}

// NewCaptureError creates a capture error wrapping the device failure.
func NewCaptureError(message string, underlying error) *Error {
	return &Error{
		Type:    ErrCapture,
		Message: message,
		Err:     underlying,
	}
}

// NewSessionError creates a session error wrapping the remote failure.
func NewSessionError(message string, underlying error) *Error {
	return &Error{
		Type:    ErrSession,
		Message: message,
		Err:     underlying,
	}
}

// NewToolCallError creates a tool call error. code carries the tool name.
func NewToolCallError(tool, message string) *Error {
	return &Error{
		Type:    ErrToolCall,
		Message: message,
		Code:    tool,
	}
}

// IsType reports whether err is, or wraps, an *Error of the given type.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == t
}
