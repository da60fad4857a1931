// Package gateway exposes the session manager over a stateless HTTP API.
//
// Every session operation maps to one endpoint. Errors carry the taxonomy code
// and the underlying message; DAP response bodies are passed through without
// validation. The gateway never retries a call.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ctagard/debug-bridge/internal/logging"
	"github.com/ctagard/debug-bridge/pkg/types"
)

// Bridge is the set of session operations served by the gateway
type Bridge interface {
	Connect(ctx context.Context, req types.ConnectRequest) (*types.SessionInfo, error)
	Status() *types.SessionInfo
	Disconnect(ctx context.Context, terminateDebuggee bool) (*types.SessionInfo, error)
	Events() []types.EventRecord

	SetBreakpoints(ctx context.Context, file string, bps []types.SourceBreakpoint) (json.RawMessage, error)
	ClearBreakpoints(ctx context.Context, file string) (json.RawMessage, error)
	Breakpoints() (map[string][]types.SourceBreakpoint, error)

	Threads(ctx context.Context) (json.RawMessage, error)
	StackTrace(ctx context.Context, threadID, startFrame, levels int) (json.RawMessage, error)
	Scopes(ctx context.Context, frameID int) (json.RawMessage, error)
	Variables(ctx context.Context, ref int) (json.RawMessage, error)
	Evaluate(ctx context.Context, req types.EvaluateRequest) (json.RawMessage, error)

	Continue(ctx context.Context, threadID *int) (json.RawMessage, error)
	Step(ctx context.Context, direction types.StepDirection, threadID *int) (json.RawMessage, error)
	Pause(ctx context.Context, threadID *int) (json.RawMessage, error)
}

// Config contains dependencies for creating a gateway server
type Config struct {
	// Address is the listen address, host:port
	Address string

	Bridge Bridge
	Logger zerolog.Logger
}

// Server is the HTTP gateway
type Server struct {
	bridge     Bridge
	httpServer *http.Server
	listener   net.Listener
	logger     zerolog.Logger
}

// New creates a gateway server
func New(cfg Config) *Server {
	s := &Server{
		bridge: cfg.Bridge,
		logger: logging.Component(cfg.Logger, "gateway"),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the routed handler wrapped in audit logging
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK\n"))
	})

	mux.HandleFunc("POST /connect", s.handleConnect)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /disconnect", s.handleDisconnect)
	mux.HandleFunc("GET /events", s.handleEvents)

	mux.HandleFunc("GET /breakpoints", s.handleListBreakpoints)
	mux.HandleFunc("POST /breakpoint", s.handleSetBreakpoint)
	mux.HandleFunc("DELETE /breakpoint", s.handleClearBreakpoints)

	mux.HandleFunc("GET /threads", s.handleThreads)
	mux.HandleFunc("GET /stacktrace", s.handleStackTrace)
	mux.HandleFunc("GET /scopes/{frameId}", s.handleScopes)
	mux.HandleFunc("GET /variables/{ref}", s.handleVariables)
	mux.HandleFunc("POST /evaluate", s.handleEvaluate)

	mux.HandleFunc("POST /continue", s.handleContinue)
	mux.HandleFunc("POST /step", s.handleStep)
	mux.HandleFunc("POST /pause", s.handlePause)

	return NewAuditMiddleware(s.logger).Handler(mux)
}

// Start binds the listen address and serves in a background goroutine
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("starting gateway")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("gateway server error")
		}
	}()
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("stopping gateway")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bound address once started, or the configured one
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// URL returns the base URL of the gateway
func (s *Server) URL() string {
	return "http://" + s.Addr()
}
