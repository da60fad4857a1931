// Package types defines shared data types used across the debug bridge.
//
// This package provides type definitions for:
//   - ConnectionState: the state of the single bridge session
//   - Request types: ConnectRequest, BreakpointRequest, EvaluateRequest, StepRequest
//   - Info types: SessionInfo, StopInfo, EventRecord, SourceBreakpoint
//
// DAP response bodies are not modelled here. The bridge passes them through as
// opaque JSON documents and does not validate their contents.
package types

import (
	"encoding/json"
	"time"
)

// ConnectionState represents the state of the bridge session
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// StepDirection selects one of the DAP step commands
type StepDirection string

const (
	StepIn   StepDirection = "in"
	StepOver StepDirection = "over"
	StepOut  StepDirection = "out"
)

// ConnectRequest represents a request to attach the bridge to a debuggee
type ConnectRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	PID  int    `json:"pid,omitempty"`
}

// SessionInfo represents the externally visible state of the session slot
type SessionInfo struct {
	Status      ConnectionState `json:"status"`
	Connected   bool            `json:"connected"`
	SessionID   string          `json:"sessionId,omitempty"`
	Host        string          `json:"host,omitempty"`
	Port        int             `json:"port,omitempty"`
	PID         int             `json:"pid,omitempty"`
	ConnectedAt *time.Time      `json:"connectedAt,omitempty"`
	LastStop    *StopInfo       `json:"lastStop,omitempty"`
}

// StopInfo describes the most recent stopped event
type StopInfo struct {
	Reason      string `json:"reason"`
	ThreadID    int    `json:"threadId,omitempty"`
	Description string `json:"description,omitempty"`
	AllStopped  bool   `json:"allThreadsStopped,omitempty"`
}

// SourceBreakpoint is one line breakpoint inside a file
type SourceBreakpoint struct {
	Line         int    `json:"line"`
	Condition    string `json:"condition,omitempty"`
	HitCondition string `json:"hitCondition,omitempty"`
	LogMessage   string `json:"logMessage,omitempty"`
}

// BreakpointRequest represents a request to replace the breakpoints of a file.
// Either Line or Breakpoints is used; a single Line is the common case.
type BreakpointRequest struct {
	File         string             `json:"file"`
	Line         int                `json:"line,omitempty"`
	Condition    string             `json:"condition,omitempty"`
	HitCondition string             `json:"hitCondition,omitempty"`
	LogMessage   string             `json:"logMessage,omitempty"`
	Breakpoints  []SourceBreakpoint `json:"breakpoints,omitempty"`
}

// SourceBreakpoints returns the breakpoint set described by the request. A
// non-nil Breakpoints list wins, even when empty; otherwise the single Line
// breakpoint is returned as given, and an invalid line is left for the
// session to reject.
func (r BreakpointRequest) SourceBreakpoints() []SourceBreakpoint {
	if r.Breakpoints != nil {
		return r.Breakpoints
	}
	return []SourceBreakpoint{{
		Line:         r.Line,
		Condition:    r.Condition,
		HitCondition: r.HitCondition,
		LogMessage:   r.LogMessage,
	}}
}

// EvaluateRequest represents a request to evaluate an expression
type EvaluateRequest struct {
	Expression string `json:"expression"`
	FrameID    int    `json:"frameId,omitempty"`
	Context    string `json:"context,omitempty"`
}

// StepRequest represents a request to step one thread
type StepRequest struct {
	StepType StepDirection `json:"step_type"`
	ThreadID *int          `json:"threadId,omitempty"`
}

// ThreadRequest is the body of continue and pause
type ThreadRequest struct {
	ThreadID *int `json:"threadId,omitempty"`
}

// DisconnectRequest represents a request to end the session
type DisconnectRequest struct {
	TerminateDebuggee bool `json:"terminateDebuggee,omitempty"`
}

// EventRecord is a DAP event kept in the session's event backlog
type EventRecord struct {
	Seq        int             `json:"seq"`
	Event      string          `json:"event"`
	Body       json.RawMessage `json:"body,omitempty"`
	ReceivedAt time.Time       `json:"receivedAt"`
}
