package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	bridgeerrors "github.com/ctagard/debug-bridge/internal/errors"
	"github.com/ctagard/debug-bridge/pkg/types"
)

const (
	defaultHost   = "localhost"
	defaultPort   = 5678
	defaultLevels = 20
)

// Session Handlers

func (s *Server) handleDebugConnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info, err := s.bridge.Connect(ctx, types.ConnectRequest{
		Host: request.GetString("host", defaultHost),
		Port: request.GetInt("port", defaultPort),
		PID:  request.GetInt("pid", 0),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(info)
}

func (s *Server) handleDebugStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.bridge.Status())
}

func (s *Server) handleDebugDisconnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info, err := s.bridge.Disconnect(ctx, request.GetBool("terminateDebuggee", false))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(info)
}

func (s *Server) handleDebugEvents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{"events": s.bridge.Events()})
}

func (s *Server) handleDebugLaunch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return errorResult(bridgeerrors.BadRequest("code", nil, "Python source text")), nil
	}

	h, err := s.relaunch(ctx, code)
	if err != nil {
		return errorResult(err), nil
	}

	info, err := s.bridge.Connect(ctx, types.ConnectRequest{Host: h.Host, Port: h.Port, PID: h.PID})
	if err != nil {
		_ = h.Kill()
		return errorResult(err), nil
	}

	s.logger.Info().Int("pid", h.PID).Str("address", h.Address()).Msg("launched debuggee")

	return jsonResult(map[string]any{
		"session": info,
		"debuggee": map[string]any{
			"pid":    h.PID,
			"port":   h.Port,
			"script": h.Script,
		},
	})
}

func (s *Server) handleDebugOutput(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h := s.currentDebuggee()
	if h == nil {
		return mcp.NewToolResultError("no program has been launched; use debug_launch first"), nil
	}

	result := map[string]any{
		"pid":     h.PID,
		"running": !h.Exited(),
		"stdout":  h.Stdout(),
		"stderr":  h.Stderr(),
	}
	if h.Exited() {
		result["exitCode"] = h.ExitCode()
	}
	return jsonResult(result)
}

// Inspection Handlers

func (s *Server) handleDebugThreads(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body, err := s.bridge.Threads(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return rawResult(body), nil
}

func (s *Server) handleDebugStackTrace(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body, err := s.bridge.StackTrace(ctx,
		request.GetInt("threadId", 1),
		request.GetInt("startFrame", 0),
		request.GetInt("levels", defaultLevels),
	)
	if err != nil {
		return errorResult(err), nil
	}
	return rawResult(body), nil
}

func (s *Server) handleDebugScopes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	frameID, err := request.RequireInt("frameId")
	if err != nil && s.bridge.Status().Connected {
		return errorResult(bridgeerrors.BadRequest("frameId", nil, "a frame id from debug_stacktrace")), nil
	}

	body, err := s.bridge.Scopes(ctx, frameID)
	if err != nil {
		return errorResult(err), nil
	}
	return rawResult(body), nil
}

func (s *Server) handleDebugVariables(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := request.RequireInt("variablesReference")
	if err != nil && s.bridge.Status().Connected {
		return errorResult(bridgeerrors.BadRequest("variablesReference", nil, "a reference from debug_scopes")), nil
	}

	body, err := s.bridge.Variables(ctx, ref)
	if err != nil {
		return errorResult(err), nil
	}
	return rawResult(body), nil
}

func (s *Server) handleDebugEvaluate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body, err := s.bridge.Evaluate(ctx, types.EvaluateRequest{
		Expression: request.GetString("expression", ""),
		FrameID:    request.GetInt("frameId", 0),
		Context:    request.GetString("context", ""),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return rawResult(body), nil
}

// Control Handlers

func (s *Server) handleDebugBreakpoints(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := types.BreakpointRequest{
		File:      request.GetString("file", ""),
		Line:      request.GetInt("line", 0),
		Condition: request.GetString("condition", ""),
	}
	args := request.GetArguments()

	// neither line nor breakpoints clears the file
	var bps []types.SourceBreakpoint
	if raw, ok := args["breakpoints"]; ok && raw != nil {
		data, err := json.Marshal(raw)
		if err == nil {
			err = json.Unmarshal(data, &req.Breakpoints)
		}
		if err != nil && s.bridge.Status().Connected {
			return errorResult(bridgeerrors.BadRequest("breakpoints", raw, "a list of {line, condition?, hitCondition?, logMessage?}")), nil
		}
		bps = req.SourceBreakpoints()
	} else if line, ok := args["line"]; ok && line != nil {
		bps = req.SourceBreakpoints()
	}

	body, err := s.bridge.SetBreakpoints(ctx, req.File, bps)
	if err != nil {
		return errorResult(err), nil
	}
	return rawResult(body), nil
}

func (s *Server) handleDebugContinue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body, err := s.bridge.Continue(ctx, optionalInt(request, "threadId"))
	if err != nil {
		return errorResult(err), nil
	}
	return rawResult(body), nil
}

func (s *Server) handleDebugStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	direction := types.StepDirection(request.GetString("step_type", ""))

	body, err := s.bridge.Step(ctx, direction, optionalInt(request, "threadId"))
	if err != nil {
		return errorResult(err), nil
	}
	return rawResult(body), nil
}

func (s *Server) handleDebugPause(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body, err := s.bridge.Pause(ctx, optionalInt(request, "threadId"))
	if err != nil {
		return errorResult(err), nil
	}
	return rawResult(body), nil
}

// Helpers

// optionalInt returns nil when the argument is absent
func optionalInt(request mcp.CallToolRequest, name string) *int {
	if v, ok := request.GetArguments()[name]; !ok || v == nil {
		return nil
	}
	n := request.GetInt(name, 0)
	return &n
}

// errorResult prefixes the message with the error code
func errorResult(err error) *mcp.CallToolResult {
	de := bridgeerrors.FromError(err)
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", de.Code, de.Error()))
}

// rawResult passes a DAP body through unchanged
func rawResult(body json.RawMessage) *mcp.CallToolResult {
	return mcp.NewToolResultText(string(body))
}

func jsonResult(data interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
