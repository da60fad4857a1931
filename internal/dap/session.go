package dap

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/go-dap"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ctagard/debug-bridge/internal/config"
	bridgeerrors "github.com/ctagard/debug-bridge/internal/errors"
	"github.com/ctagard/debug-bridge/internal/logging"
	"github.com/ctagard/debug-bridge/pkg/types"
)

// EvaluateContexts are the accepted values of the evaluate context
var EvaluateContexts = []string{"repl", "watch", "hover", "clipboard", "variables"}

// Session is the single live connection to a debuggee
type Session struct {
	ID           string
	Host         string
	Port         int
	PID          int
	Channel      *Channel
	Capabilities dap.Capabilities
	ConnectedAt  time.Time

	// guarded by SessionManager.mu
	breakpoints map[string][]types.SourceBreakpoint
	lastStop    *types.StopInfo
	// retired sessions no longer record events
	retired bool
}

// SessionManager owns the session slot. At most one session exists at a
// time; every debug operation other than Connect and Status requires it to
// be connected and fails fast with NOT_CONNECTED otherwise.
type SessionManager struct {
	cfg    config.BridgeConfig
	logger zerolog.Logger

	// connectMu serializes connect attempts
	connectMu sync.Mutex

	mu      sync.RWMutex
	state   types.ConnectionState
	current *Session

	events *eventLog
}

// NewSessionManager creates a session manager with no session
func NewSessionManager(cfg config.BridgeConfig, logger zerolog.Logger) *SessionManager {
	defaults := config.DefaultConfig().Bridge
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if cfg.AttachGrace < 0 {
		cfg.AttachGrace = defaults.AttachGrace
	}

	return &SessionManager{
		cfg:    cfg,
		logger: logging.Component(logger, "session"),
		state:  types.StateDisconnected,
		events: newEventLog(cfg.EventBacklog),
	}
}

// Connect attaches to the debuggee listening on host:port. Any current
// session is discarded first: its socket is closed and no disconnect request
// is sent. A concurrent Connect fails with CONNECT_IN_PROGRESS.
func (sm *SessionManager) Connect(ctx context.Context, req types.ConnectRequest) (*types.SessionInfo, error) {
	if req.Host == "" {
		req.Host = "localhost"
	}
	if req.Port <= 0 || req.Port > 65535 {
		return nil, bridgeerrors.BadRequest("port", req.Port, "a TCP port between 1 and 65535")
	}

	if !sm.connectMu.TryLock() {
		return nil, bridgeerrors.ConnectInProgress()
	}
	defer sm.connectMu.Unlock()

	sm.mu.Lock()
	old := sm.current
	if old != nil {
		old.retired = true
	}
	sm.current = nil
	sm.state = types.StateConnecting
	sm.events.reset()
	sm.mu.Unlock()

	if old != nil {
		sm.logger.Warn().
			Str("session_id", old.ID).
			Str("address", net.JoinHostPort(old.Host, strconv.Itoa(old.Port))).
			Msg("discarding active session for new connect")
		_ = old.Channel.Close()
	}

	s := &Session{
		ID:          uuid.New().String(),
		Host:        req.Host,
		Port:        req.Port,
		PID:         req.PID,
		breakpoints: make(map[string][]types.SourceBreakpoint),
	}
	logger := sm.logger.With().Str("session_id", s.ID).Logger()

	ctx, cancel := context.WithTimeout(ctx, sm.cfg.HandshakeTimeout)
	defer cancel()

	address := net.JoinHostPort(req.Host, strconv.Itoa(req.Port))
	logger.Info().Str("address", address).Int("pid", req.PID).Msg("connecting to debuggee")

	transport, err := DialTransport(ctx, address)
	if err != nil {
		sm.setDisconnected()
		return nil, bridgeerrors.HandshakeFailed("connect", err)
	}

	s.Channel = NewChannel(transport, ChannelOptions{
		RequestTimeout: sm.cfg.RequestTimeout,
		OnEvent:        sm.eventHandler(s),
		Logger:         logging.Component(logger, "channel"),
	})

	caps, err := sm.handshake(ctx, s.Channel, req)
	if err != nil {
		_ = s.Channel.Close()
		sm.mu.Lock()
		s.retired = true
		sm.mu.Unlock()
		sm.setDisconnected()
		logger.Warn().Err(err).Msg("handshake failed")
		return nil, err
	}

	s.Capabilities = caps
	s.ConnectedAt = time.Now()

	sm.mu.Lock()
	sm.current = s
	sm.state = types.StateConnected
	info := sm.infoLocked()
	sm.mu.Unlock()

	logger.Info().Str("address", address).Msg("debug session connected")
	return info, nil
}

// Status returns the current connection state. It never fails. A session
// whose channel is already known to be closed is reset and reported as
// disconnected.
func (sm *SessionManager) Status() *types.SessionInfo {
	sm.mu.RLock()
	s := sm.current
	sm.mu.RUnlock()

	if s != nil && s.Channel.IsClosed() {
		sm.drop(s, "channel closed")
	}

	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.infoLocked()
}

// Session returns the connected session, or nil
func (sm *SessionManager) Session() *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if sm.state != types.StateConnected {
		return nil
	}
	return sm.current
}

// SetBreakpoints replaces the breakpoints of file with bps
func (sm *SessionManager) SetBreakpoints(ctx context.Context, file string, bps []types.SourceBreakpoint) (json.RawMessage, error) {
	s, err := sm.acquire("setBreakpoints")
	if err != nil {
		return nil, err
	}
	if file == "" {
		return nil, bridgeerrors.BadRequest("file", file, "a source file path")
	}

	args := setBreakpointsArguments{
		Source:      dap.Source{Name: filepath.Base(file), Path: file},
		Breakpoints: make([]dap.SourceBreakpoint, 0, len(bps)),
	}
	for _, bp := range bps {
		if bp.Line <= 0 {
			return nil, bridgeerrors.BadRequest("line", bp.Line, "a positive line number")
		}
		args.Breakpoints = append(args.Breakpoints, dap.SourceBreakpoint{
			Line:         bp.Line,
			Condition:    bp.Condition,
			HitCondition: bp.HitCondition,
			LogMessage:   bp.LogMessage,
		})
	}

	body, err := sm.call(ctx, s, "setBreakpoints", args)
	if err != nil {
		return nil, err
	}

	sm.mu.Lock()
	if len(bps) == 0 {
		delete(s.breakpoints, file)
	} else {
		s.breakpoints[file] = append([]types.SourceBreakpoint(nil), bps...)
	}
	sm.mu.Unlock()

	return body, nil
}

// ClearBreakpoints removes every breakpoint of file
func (sm *SessionManager) ClearBreakpoints(ctx context.Context, file string) (json.RawMessage, error) {
	return sm.SetBreakpoints(ctx, file, nil)
}

// Breakpoints returns the breakpoint table of the session
func (sm *SessionManager) Breakpoints() (map[string][]types.SourceBreakpoint, error) {
	s, err := sm.acquire("breakpoints")
	if err != nil {
		return nil, err
	}

	sm.mu.RLock()
	defer sm.mu.RUnlock()

	table := make(map[string][]types.SourceBreakpoint, len(s.breakpoints))
	for file, bps := range s.breakpoints {
		table[file] = append([]types.SourceBreakpoint(nil), bps...)
	}
	return table, nil
}

// Threads lists the debuggee's threads
func (sm *SessionManager) Threads(ctx context.Context) (json.RawMessage, error) {
	s, err := sm.acquire("threads")
	if err != nil {
		return nil, err
	}
	return sm.call(ctx, s, "threads", nil)
}

// StackTrace returns up to levels frames of threadID starting at startFrame.
// Zero levels means all frames.
func (sm *SessionManager) StackTrace(ctx context.Context, threadID, startFrame, levels int) (json.RawMessage, error) {
	s, err := sm.acquire("stackTrace")
	if err != nil {
		return nil, err
	}
	if threadID <= 0 {
		return nil, bridgeerrors.BadRequest("threadId", threadID, "a positive thread id")
	}
	if startFrame < 0 {
		return nil, bridgeerrors.BadRequest("startFrame", startFrame, "a non-negative frame index")
	}
	if levels < 0 {
		return nil, bridgeerrors.BadRequest("levels", levels, "a non-negative frame count")
	}

	return sm.call(ctx, s, "stackTrace", dap.StackTraceArguments{
		ThreadId:   threadID,
		StartFrame: startFrame,
		Levels:     levels,
	})
}

// Scopes returns the scopes of a stack frame
func (sm *SessionManager) Scopes(ctx context.Context, frameID int) (json.RawMessage, error) {
	s, err := sm.acquire("scopes")
	if err != nil {
		return nil, err
	}
	if frameID <= 0 {
		return nil, bridgeerrors.BadRequest("frameId", frameID, "a frame id from a stack trace")
	}
	return sm.call(ctx, s, "scopes", dap.ScopesArguments{FrameId: frameID})
}

// Variables expands a variables reference
func (sm *SessionManager) Variables(ctx context.Context, ref int) (json.RawMessage, error) {
	s, err := sm.acquire("variables")
	if err != nil {
		return nil, err
	}
	if ref <= 0 {
		return nil, bridgeerrors.BadRequest("variablesReference", ref, "a positive reference from scopes or variables")
	}
	return sm.call(ctx, s, "variables", dap.VariablesArguments{VariablesReference: ref})
}

// Evaluate evaluates an expression, in the given frame when FrameID is set
func (sm *SessionManager) Evaluate(ctx context.Context, req types.EvaluateRequest) (json.RawMessage, error) {
	s, err := sm.acquire("evaluate")
	if err != nil {
		return nil, err
	}
	if req.Expression == "" {
		return nil, bridgeerrors.BadRequest("expression", req.Expression, "a non-empty expression")
	}
	if req.Context == "" {
		req.Context = "repl"
	}
	if !slices.Contains(EvaluateContexts, req.Context) {
		return nil, bridgeerrors.BadRequest("context", req.Context, "one of repl, watch, hover, clipboard, variables")
	}
	if req.FrameID < 0 {
		return nil, bridgeerrors.BadRequest("frameId", req.FrameID, "a frame id from a stack trace")
	}

	return sm.call(ctx, s, "evaluate", dap.EvaluateArguments{
		Expression: req.Expression,
		FrameId:    req.FrameID,
		Context:    req.Context,
	})
}

// Continue resumes threadID, or every thread when nil
func (sm *SessionManager) Continue(ctx context.Context, threadID *int) (json.RawMessage, error) {
	s, err := sm.acquire("continue")
	if err != nil {
		return nil, err
	}
	return sm.call(ctx, s, "continue", threadArguments{ThreadID: threadID})
}

// Step steps threadID in the given direction
func (sm *SessionManager) Step(ctx context.Context, direction types.StepDirection, threadID *int) (json.RawMessage, error) {
	s, err := sm.acquire("step")
	if err != nil {
		return nil, err
	}
	command, ok := stepCommands[direction]
	if !ok {
		return nil, bridgeerrors.BadRequest("step_type", direction, "one of in, over, out")
	}
	return sm.call(ctx, s, command, threadArguments{ThreadID: threadID})
}

// Pause suspends threadID, or every thread when nil
func (sm *SessionManager) Pause(ctx context.Context, threadID *int) (json.RawMessage, error) {
	s, err := sm.acquire("pause")
	if err != nil {
		return nil, err
	}
	return sm.call(ctx, s, "pause", threadArguments{ThreadID: threadID})
}

// Disconnect sends a best-effort disconnect request and ends the session
func (sm *SessionManager) Disconnect(ctx context.Context, terminateDebuggee bool) (*types.SessionInfo, error) {
	s, err := sm.acquire("disconnect")
	if err != nil {
		return nil, err
	}

	_, err = s.Channel.Send(ctx, "disconnect", dap.DisconnectArguments{TerminateDebuggee: terminateDebuggee})
	if err != nil {
		sm.logger.Debug().Err(err).Str("session_id", s.ID).Msg("disconnect request failed")
	}

	sm.drop(s, "disconnected by caller")
	return sm.Status(), nil
}

// Events returns the recent events of the current session, oldest first
func (sm *SessionManager) Events() []types.EventRecord {
	return sm.events.snapshot()
}

// Close ends any current session without sending a disconnect request
func (sm *SessionManager) Close() {
	sm.mu.RLock()
	s := sm.current
	sm.mu.RUnlock()
	if s != nil {
		sm.drop(s, "bridge shutting down")
	}
}

// acquire returns the connected session or fails without doing any I/O
func (sm *SessionManager) acquire(operation string) (*Session, error) {
	sm.mu.RLock()
	s := sm.current
	state := sm.state
	sm.mu.RUnlock()

	if s == nil || state != types.StateConnected {
		return nil, bridgeerrors.NotConnected(operation)
	}
	if s.Channel.IsClosed() {
		sm.drop(s, "channel closed")
		return nil, bridgeerrors.ChannelClosed(nil)
	}
	return s, nil
}

// call performs one round trip. A closed channel resets the slot.
func (sm *SessionManager) call(ctx context.Context, s *Session, command string, args any) (json.RawMessage, error) {
	resp, err := s.Channel.Send(ctx, command, args)
	if err != nil {
		if bridgeerrors.Is(err, bridgeerrors.CodeChannelClosed) {
			sm.drop(s, "channel closed")
		}
		return nil, err
	}
	if len(resp.Body) == 0 {
		return json.RawMessage("{}"), nil
	}
	return resp.Body, nil
}

// drop clears the slot if it still holds s and closes its channel
func (sm *SessionManager) drop(s *Session, reason string) {
	sm.mu.Lock()
	owned := sm.current == s
	if owned {
		sm.current = nil
		sm.state = types.StateDisconnected
	}
	s.retired = true
	sm.mu.Unlock()

	_ = s.Channel.Close()
	if owned {
		sm.logger.Info().Str("session_id", s.ID).Str("reason", reason).Msg("debug session ended")
	}
}

func (sm *SessionManager) setDisconnected() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.current = nil
	sm.state = types.StateDisconnected
}

func (sm *SessionManager) infoLocked() *types.SessionInfo {
	info := &types.SessionInfo{
		Status:    sm.state,
		Connected: sm.state == types.StateConnected,
	}
	s := sm.current
	if s == nil {
		return info
	}
	connectedAt := s.ConnectedAt
	info.SessionID = s.ID
	info.Host = s.Host
	info.Port = s.Port
	info.PID = s.PID
	info.ConnectedAt = &connectedAt
	if s.lastStop != nil {
		stop := *s.lastStop
		info.LastStop = &stop
	}
	return info
}

// eventHandler records events of s and tracks where it last stopped
func (sm *SessionManager) eventHandler(s *Session) func(*Event) {
	return func(evt *Event) {
		sm.mu.Lock()
		if s.retired {
			sm.mu.Unlock()
			return
		}
		sm.events.add(types.EventRecord{
			Seq:        evt.Seq,
			Event:      evt.Event.Event,
			Body:       evt.Body,
			ReceivedAt: time.Now(),
		})
		sm.mu.Unlock()

		logger := sm.logger.With().Str("session_id", s.ID).Str("event", evt.Event.Event).Logger()

		switch evt.Event.Event {
		case "stopped":
			msg, err := dap.DecodeProtocolMessage(evt.Raw)
			if err != nil {
				logger.Warn().Err(err).Msg("malformed stopped event")
				return
			}
			stopped, ok := msg.(*dap.StoppedEvent)
			if !ok {
				return
			}
			stop := &types.StopInfo{
				Reason:      stopped.Body.Reason,
				ThreadID:    stopped.Body.ThreadId,
				Description: stopped.Body.Description,
				AllStopped:  stopped.Body.AllThreadsStopped,
			}
			sm.mu.Lock()
			s.lastStop = stop
			sm.mu.Unlock()
			logger.Info().Str("reason", stop.Reason).Int("thread_id", stop.ThreadID).Msg("debuggee stopped")

		case "continued":
			sm.mu.Lock()
			s.lastStop = nil
			sm.mu.Unlock()

		case "exited", "terminated":
			logger.Info().RawJSON("body", nonEmptyJSON(evt.Body)).Msg("debuggee ended")

		case "output":
			logger.Debug().RawJSON("body", nonEmptyJSON(evt.Body)).Msg("debuggee output")

		default:
			logger.Debug().Msg("event")
		}
	}
}

// setBreakpointsArguments always sends the breakpoints field; an empty list
// clears the file.
type setBreakpointsArguments struct {
	Source      dap.Source             `json:"source"`
	Breakpoints []dap.SourceBreakpoint `json:"breakpoints"`
}

// threadArguments omits threadId when none is given
type threadArguments struct {
	ThreadID *int `json:"threadId,omitempty"`
}

var stepCommands = map[types.StepDirection]string{
	types.StepIn:   "stepIn",
	types.StepOver: "next",
	types.StepOut:  "stepOut",
}

func nonEmptyJSON(b json.RawMessage) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}
