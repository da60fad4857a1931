// Package errors provides structured error types for the debug bridge.
// Every failure surfaced by the bridge carries one taxonomy code plus the
// underlying message text, and a hint that tells the caller what to do next.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a category of error for programmatic handling
type ErrorCode string

const (
	// Session errors
	CodeNotConnected      ErrorCode = "NOT_CONNECTED"
	CodeHandshakeFailed   ErrorCode = "HANDSHAKE_FAILED"
	CodeConnectInProgress ErrorCode = "CONNECT_IN_PROGRESS"

	// Channel errors
	CodeChannelClosed    ErrorCode = "CHANNEL_CLOSED"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeProtocolRejected ErrorCode = "PROTOCOL_REJECTED"

	// Caller errors
	CodeBadRequest ErrorCode = "BAD_REQUEST"

	// Launcher errors
	CodeLaunchFailed  ErrorCode = "LAUNCH_FAILED"
	CodeLaunchTimeout ErrorCode = "LAUNCH_TIMEOUT"

	CodeUnknown ErrorCode = "UNKNOWN_ERROR"
)

// DebugError is a structured error type that includes helpful information
// for the caller to understand what went wrong and how to fix it.
type DebugError struct {
	// Code is a machine-readable error category
	Code ErrorCode `json:"code"`

	// Message is a human-readable description of what went wrong
	Message string `json:"message"`

	// Hint provides actionable guidance on how to fix the error
	Hint string `json:"hint,omitempty"`

	// Details contains additional context (e.g., the command, the invalid value)
	Details map[string]interface{} `json:"details,omitempty"`

	// Cause is the underlying error, if any
	Cause error `json:"-"`
}

// Error implements the error interface
func (e *DebugError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Hint != "" {
		sb.WriteString(" | Hint: ")
		sb.WriteString(e.Hint)
	}

	return sb.String()
}

// Unwrap returns the underlying error for error chaining
func (e *DebugError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *DebugError) WithDetails(key string, value interface{}) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *DebugError) WithCause(err error) *DebugError {
	e.Cause = err
	return e
}

// --- Session Errors ---

// NotConnected creates an error for operations issued without a live session
func NotConnected(operation string) *DebugError {
	return &DebugError{
		Code:    CodeNotConnected,
		Message: "not connected to debug session",
		Hint:    "Call connect first. If the debuggee exited or crashed, launch it again and reconnect.",
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// HandshakeFailed creates an error for a failed socket connect or handshake step
func HandshakeFailed(step string, err error) *DebugError {
	return &DebugError{
		Code:    CodeHandshakeFailed,
		Message: fmt.Sprintf("failed to connect: %s failed: %v", step, err),
		Hint:    "Ensure the debuggee is running and listening (debugpy.listen) on the given host and port, then call connect again.",
		Cause:   err,
		Details: map[string]interface{}{
			"step": step,
		},
	}
}

// ConnectInProgress creates an error for a connect racing another connect
func ConnectInProgress() *DebugError {
	return &DebugError{
		Code:    CodeConnectInProgress,
		Message: "another connect is already in progress",
		Hint:    "Wait for the running connect to finish and check status.",
	}
}

// --- Channel Errors ---

// ChannelClosed creates an error for requests failed by a dropped transport
func ChannelClosed(err error) *DebugError {
	msg := "debug channel closed"
	if err != nil {
		msg = fmt.Sprintf("debug channel closed: %v", err)
	}
	return &DebugError{
		Code:    CodeChannelClosed,
		Message: msg,
		Hint:    "The debuggee may have exited or crashed. Check its captured output, relaunch it and connect again.",
		Cause:   err,
	}
}

// Timeout creates an error for a request that got no response in time
func Timeout(command string, timeout time.Duration) *DebugError {
	return &DebugError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("%s timed out after %s", command, timeout),
		Hint:    "The debuggee did not answer. It may be running without a breakpoint, busy, or waiting for input. Try pause.",
		Details: map[string]interface{}{
			"command": command,
			"timeout": timeout.String(),
		},
	}
}

// ProtocolRejected creates an error for an explicit error response from the debuggee
func ProtocolRejected(command, message string) *DebugError {
	return &DebugError{
		Code:    CodeProtocolRejected,
		Message: fmt.Sprintf("%s failed: %s", command, message),
		Hint:    "The debuggee rejected the request. Check the arguments and that the program is stopped where required.",
		Details: map[string]interface{}{
			"command": command,
		},
	}
}

// --- Caller Errors ---

// BadRequest creates an error for invalid caller arguments
func BadRequest(paramName string, value interface{}, expected string) *DebugError {
	return &DebugError{
		Code:    CodeBadRequest,
		Message: fmt.Sprintf("invalid value for parameter '%s': %v", paramName, value),
		Hint:    fmt.Sprintf("Expected: %s", expected),
		Details: map[string]interface{}{
			"parameter": paramName,
			"value":     value,
			"expected":  expected,
		},
	}
}

// --- Launcher Errors ---

// LaunchFailed creates an error for a debuggee that could not be started or died early
func LaunchFailed(reason string, err error) *DebugError {
	return &DebugError{
		Code:    CodeLaunchFailed,
		Message: fmt.Sprintf("failed to launch debuggee: %s", reason),
		Hint:    "Ensure the python interpreter is installed with debugpy (pip install debugpy) and check the captured stderr.",
		Cause:   err,
	}
}

// LaunchTimeout creates an error for a debuggee whose endpoint never accepted connections
func LaunchTimeout(address string, timeout time.Duration, err error) *DebugError {
	return &DebugError{
		Code:    CodeLaunchTimeout,
		Message: fmt.Sprintf("debuggee did not listen on %s within %s", address, timeout),
		Hint:    "The program may have failed before reaching debugpy.listen. Check the captured stderr.",
		Cause:   err,
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// --- Helpers ---

// Wrap wraps a generic error with context
func Wrap(code ErrorCode, message string, hint string, err error) *DebugError {
	return &DebugError{
		Code:    code,
		Message: message,
		Hint:    hint,
		Cause:   err,
	}
}

// FromError creates a DebugError from a generic error, attempting to preserve any existing structure
func FromError(err error) *DebugError {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de
	}
	return Wrap(CodeUnknown, err.Error(), "An unexpected error occurred. Please check the error message for details.", err)
}

// KindOf returns the taxonomy code of err, or CodeUnknown
func KindOf(err error) ErrorCode {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de.Code
	}
	return CodeUnknown
}

// Is reports whether err carries the given code
func Is(err error, code ErrorCode) bool {
	return err != nil && KindOf(err) == code
}
