package gateway

import (
	"encoding/json"
	"net/http"

	bridgeerrors "github.com/ctagard/debug-bridge/internal/errors"
	"github.com/ctagard/debug-bridge/pkg/types"
)

const (
	defaultHost   = "localhost"
	defaultPort   = 5678
	defaultLevels = 20
)

// errorResponse is the body of every failed call
type errorResponse struct {
	*bridgeerrors.DebugError
	// Detail is the underlying message text
	Detail string `json:"detail"`
}

// HTTPStatus maps an error code to its HTTP status
func HTTPStatus(code bridgeerrors.ErrorCode) int {
	switch code {
	case bridgeerrors.CodeNotConnected, bridgeerrors.CodeHandshakeFailed, bridgeerrors.CodeBadRequest:
		return http.StatusBadRequest
	case bridgeerrors.CodeConnectInProgress:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	req := types.ConnectRequest{Host: p.str("host")}
	if req.Host == "" {
		req.Host = defaultHost
	}
	if req.Port, err = p.intOr(defaultPort, "port"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.PID, err = p.intOr(0, "pid"); err != nil {
		s.writeError(w, r, err)
		return
	}

	info, err := s.bridge.Connect(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Status())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	if err != nil {
		s.paramError(w, r, "disconnect", err)
		return
	}
	var req types.DisconnectRequest
	if req.TerminateDebuggee, err = p.boolean("terminateDebuggee", "terminate_debuggee"); err != nil {
		s.paramError(w, r, "disconnect", err)
		return
	}

	info, err := s.bridge.Disconnect(r.Context(), req.TerminateDebuggee)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"events": s.bridge.Events()})
}

func (s *Server) handleListBreakpoints(w http.ResponseWriter, r *http.Request) {
	table, err := s.bridge.Breakpoints()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"breakpoints": table})
}

func (s *Server) handleSetBreakpoint(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	if err != nil {
		s.paramError(w, r, "setBreakpoints", err)
		return
	}

	req := types.BreakpointRequest{
		File:         p.str("file", "path"),
		Condition:    p.str("condition"),
		HitCondition: p.str("hitCondition", "hit_condition"),
		LogMessage:   p.str("logMessage", "log_message"),
	}

	hasList, err := p.decode("breakpoints", &req.Breakpoints)
	if err != nil {
		s.paramError(w, r, "setBreakpoints", err)
		return
	}
	if !hasList {
		line, err := p.optionalInt("line")
		if err != nil {
			s.paramError(w, r, "setBreakpoints", err)
			return
		}
		if line == nil {
			s.paramError(w, r, "setBreakpoints", bridgeerrors.BadRequest("line", nil, "a line number or a breakpoints list"))
			return
		}
		req.Line = *line
	}

	body, err := s.bridge.SetBreakpoints(r.Context(), req.File, req.SourceBreakpoints())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeRaw(w, body)
}

func (s *Server) handleClearBreakpoints(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	if err != nil {
		s.paramError(w, r, "clearBreakpoints", err)
		return
	}

	body, err := s.bridge.ClearBreakpoints(r.Context(), p.str("file", "path"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeRaw(w, body)
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	body, err := s.bridge.Threads(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeRaw(w, body)
}

func (s *Server) handleStackTrace(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	if err != nil {
		s.paramError(w, r, "stackTrace", err)
		return
	}

	threadID, err := p.intOr(1, "threadId", "thread_id")
	if err != nil {
		s.paramError(w, r, "stackTrace", err)
		return
	}
	startFrame, err := p.intOr(0, "startFrame", "start_frame")
	if err != nil {
		s.paramError(w, r, "stackTrace", err)
		return
	}
	levels, err := p.intOr(defaultLevels, "levels")
	if err != nil {
		s.paramError(w, r, "stackTrace", err)
		return
	}

	body, err := s.bridge.StackTrace(r.Context(), threadID, startFrame, levels)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeRaw(w, body)
}

func (s *Server) handleScopes(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	if err == nil {
		var frameID int
		if frameID, err = p.pathInt("frameId"); err == nil {
			body, err := s.bridge.Scopes(r.Context(), frameID)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			writeRaw(w, body)
			return
		}
	}
	s.paramError(w, r, "scopes", err)
}

func (s *Server) handleVariables(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	if err == nil {
		var ref int
		if ref, err = p.pathInt("ref"); err == nil {
			body, err := s.bridge.Variables(r.Context(), ref)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			writeRaw(w, body)
			return
		}
	}
	s.paramError(w, r, "variables", err)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	if err != nil {
		s.paramError(w, r, "evaluate", err)
		return
	}

	frameID, err := p.intOr(0, "frameId", "frame_id")
	if err != nil {
		s.paramError(w, r, "evaluate", err)
		return
	}

	body, err := s.bridge.Evaluate(r.Context(), types.EvaluateRequest{
		Expression: p.str("expression"),
		FrameID:    frameID,
		Context:    p.str("context"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeRaw(w, body)
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	req, ok := s.threadParam(w, r, "continue")
	if !ok {
		return
	}
	body, err := s.bridge.Continue(r.Context(), req.ThreadID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeRaw(w, body)
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	if err != nil {
		s.paramError(w, r, "step", err)
		return
	}

	req := types.StepRequest{StepType: types.StepIn}
	if _, _, ok := p.lookup("step_type", "stepType"); ok {
		req.StepType = types.StepDirection(p.str("step_type", "stepType"))
	}
	if req.ThreadID, err = p.optionalInt("threadId", "thread_id"); err != nil {
		s.paramError(w, r, "step", err)
		return
	}

	body, err := s.bridge.Step(r.Context(), req.StepType, req.ThreadID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeRaw(w, body)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	req, ok := s.threadParam(w, r, "pause")
	if !ok {
		return
	}
	body, err := s.bridge.Pause(r.Context(), req.ThreadID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeRaw(w, body)
}

// threadParam reads the optional thread id of continue and pause
func (s *Server) threadParam(w http.ResponseWriter, r *http.Request, operation string) (types.ThreadRequest, bool) {
	var req types.ThreadRequest
	p, err := readParams(r)
	if err != nil {
		s.paramError(w, r, operation, err)
		return req, false
	}
	if req.ThreadID, err = p.optionalInt("threadId", "thread_id"); err != nil {
		s.paramError(w, r, operation, err)
		return req, false
	}
	return req, true
}

// paramError reports a malformed argument, unless the session is not
// connected, which takes precedence.
func (s *Server) paramError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	if !s.bridge.Status().Connected {
		err = bridgeerrors.NotConnected(operation)
	}
	s.writeError(w, r, err)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	de := bridgeerrors.FromError(err)
	status := HTTPStatus(de.Code)

	event := s.logger.Debug()
	if status >= http.StatusInternalServerError {
		event = s.logger.Warn()
	}
	event.Str("path", r.URL.Path).Str("code", string(de.Code)).Err(err).Msg("request failed")

	detail := de.Message
	if de.Cause != nil {
		detail = de.Cause.Error()
	}
	writeJSON(w, status, errorResponse{DebugError: de, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeRaw passes a DAP body through unchanged
func writeRaw(w http.ResponseWriter, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
