// Package mcp exposes the debug bridge as Model Context Protocol tools.
//
// The tools mirror the HTTP gateway, so an MCP client such as an AI assistant
// drives the same single session:
//
// Session:
//   - debug_connect, debug_status, debug_disconnect, debug_events
//   - debug_launch, debug_output (launcher-backed debuggee)
//
// Inspection:
//   - debug_threads, debug_stacktrace, debug_scopes, debug_variables
//   - debug_evaluate
//
// Control:
//   - debug_breakpoints, debug_continue, debug_step, debug_pause
package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/ctagard/debug-bridge/internal/dap"
	bridgeerrors "github.com/ctagard/debug-bridge/internal/errors"
	"github.com/ctagard/debug-bridge/internal/launcher"
	"github.com/ctagard/debug-bridge/internal/logging"
	"github.com/ctagard/debug-bridge/internal/version"
)

// killWait bounds how long a relaunch waits for the previous debuggee to exit
const killWait = 5 * time.Second

// Server wraps the MCP server around a session manager
type Server struct {
	mcpServer *server.MCPServer
	bridge    *dap.SessionManager
	launcher  *launcher.Launcher
	logger    zerolog.Logger

	// launchMu serializes launches
	launchMu sync.Mutex
	mu       sync.Mutex
	debuggee *launcher.Handle
}

// NewServer creates the MCP server. A nil launcher disables debug_launch.
func NewServer(bridge *dap.SessionManager, l *launcher.Launcher, logger zerolog.Logger) *Server {
	mcpServer := server.NewMCPServer(
		"debug-bridge",
		version.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &Server{
		mcpServer: mcpServer,
		bridge:    bridge,
		launcher:  l,
		logger:    logging.Component(logger, "mcp"),
	}

	s.registerTools()

	return s
}

// ServeStdio starts the server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// MCPServer returns the underlying MCP server
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Close ends the session and kills a launched debuggee
func (s *Server) Close() {
	s.bridge.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debuggee != nil {
		_ = s.debuggee.Kill()
		s.debuggee = nil
	}
}

// relaunch kills the previously launched debuggee and waits for it to exit,
// releasing its port, before starting code as the new one. A debuggee that
// failed to become ready is still recorded so its output can be read.
func (s *Server) relaunch(ctx context.Context, code string) (*launcher.Handle, error) {
	s.launchMu.Lock()
	defer s.launchMu.Unlock()

	s.mu.Lock()
	old := s.debuggee
	s.debuggee = nil
	s.mu.Unlock()

	if old != nil && !old.Exited() {
		s.logger.Warn().Int("pid", old.PID).Msg("killing previously launched debuggee")
		killErr := old.Kill()
		select {
		case <-old.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(killWait):
			return nil, bridgeerrors.LaunchFailed("the previous debuggee did not exit", killErr).
				WithDetails("pid", old.PID)
		}
	}

	h, err := s.launcher.Start(ctx, code)
	if h != nil {
		s.mu.Lock()
		s.debuggee = h
		s.mu.Unlock()
	}
	return h, err
}

func (s *Server) currentDebuggee() *launcher.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debuggee
}

