// Package daptest provides a scripted DAP debuggee for tests.
//
// The stub listens on a loopback port and answers requests the way debugpy
// does for a program stopped in a.py at line 10: one thread, one frame, one
// scope, and a fixed variable payload. It records every command it receives
// and echoes its current breakpoint table in setBreakpoints responses.
// Individual commands can be overridden with Handle.
package daptest

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
)

// Request is a request received by the stub
type Request struct {
	dap.Request
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// Raw is the complete message as read from the wire
	Raw []byte `json:"-"`
}

// Reply describes the response to a request
type Reply struct {
	Body any
	// Fail turns the reply into an error response with this message
	Fail string
}

// HandlerFunc answers one request. Returning nil sends no response; the
// handler may respond later with Conn.Respond.
type HandlerFunc func(c *Conn, req *Request) *Reply

// FixedVariables is the payload of every variables response
var FixedVariables = map[string]any{
	"variables": []dap.Variable{
		{Name: "x", Value: "42", Type: "int"},
		{Name: "name", Value: "'bridge'", Type: "str"},
	},
}

const (
	// TopFrameID is the id of the only stack frame
	TopFrameID = 1
	// LocalsReference is the variables reference of the only scope
	LocalsReference = 100
)

// Server is a loopback DAP debuggee
type Server struct {
	ln net.Listener

	// DeferAttach holds the attach response until configurationDone, as debugpy does
	DeferAttach bool

	mu          sync.Mutex
	handlers    map[string]HandlerFunc
	commands    []string
	requests    []*Request
	breakpoints map[string][]dap.SourceBreakpoint
	conns       []*Conn
	closed      bool
	connCh      chan *Conn
	wg          sync.WaitGroup
}

// NewServer starts a stub on 127.0.0.1 with a free port. It is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("daptest: listen: %v", err)
	}

	s := &Server{
		ln:          ln,
		handlers:    make(map[string]HandlerFunc),
		breakpoints: make(map[string][]dap.SourceBreakpoint),
		connCh:      make(chan *Conn, 8),
	}

	s.wg.Add(1)
	go s.acceptLoop()

	t.Cleanup(s.Close)
	return s
}

// Addr returns host:port
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Host returns the listen host
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listen port
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

// Handle overrides the handler of command
func (s *Server) Handle(command string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = h
}

// Commands returns the commands received so far, in order
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Requests returns the requests received so far, in order
func (s *Server) Requests() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Request(nil), s.requests...)
}

// LastRequest returns the most recent request for command, or nil
func (s *Server) LastRequest(command string) *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.requests) - 1; i >= 0; i-- {
		if s.requests[i].Command == command {
			return s.requests[i]
		}
	}
	return nil
}

// BreakpointLines returns the lines in the stub's table for path
func (s *Server) BreakpointLines(path string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := make([]int, 0, len(s.breakpoints[path]))
	for _, bp := range s.breakpoints[path] {
		lines = append(lines, bp.Line)
	}
	return lines
}

// WaitConn returns the next accepted connection
func (s *Server) WaitConn(timeout time.Duration) (*Conn, error) {
	select {
	case c := <-s.connCh:
		return c, nil
	case <-time.After(timeout):
		return nil, errors.New("daptest: no connection accepted")
	}
}

// LatestConn returns the most recently accepted connection, or nil
func (s *Server) LatestConn() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

// SendEvent emits an event on the most recent connection
func (s *Server) SendEvent(event string, body any) error {
	c := s.LatestConn()
	if c == nil {
		return errors.New("daptest: no connection")
	}
	return c.SendEvent(event, body)
}

// Close stops the listener and drops all connections
func (s *Server) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	s.closed = true
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return
		}
		c := &Conn{server: s, conn: nc, reader: bufio.NewReader(nc)}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = nc.Close()
			return
		}
		s.conns = append(s.conns, c)
		s.wg.Add(1)
		s.mu.Unlock()
		select {
		case s.connCh <- c:
		default:
		}
		go c.serve()
	}
}

func (s *Server) record(req *Request) HandlerFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, req.Command)
	s.requests = append(s.requests, req)
	if h, ok := s.handlers[req.Command]; ok {
		return h
	}
	return s.defaultHandler(req.Command)
}

// Conn is one bridge connection to the stub
type Conn struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex
	seq     int

	deferredAttach *Request
}

// Close drops the connection
func (c *Conn) Close() error {
	return c.conn.Close()
}

// SendEvent writes an event
func (c *Conn) SendEvent(event string, body any) error {
	return c.write(func(seq int) any {
		return struct {
			dap.Event
			Body any `json:"body,omitempty"`
		}{
			Event: dap.Event{ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "event"}, Event: event},
			Body:  body,
		}
	})
}

// Respond writes the response to req
func (c *Conn) Respond(req *Request, r *Reply) error {
	return c.write(func(seq int) any {
		return struct {
			dap.Response
			Body any `json:"body,omitempty"`
		}{
			Response: dap.Response{
				ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "response"},
				RequestSeq:      req.Seq,
				Command:         req.Command,
				Success:         r.Fail == "",
				Message:         r.Fail,
			},
			Body: r.Body,
		}
	})
}

// WriteRaw writes an arbitrary frame
func (c *Conn) WriteRaw(body []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return dap.WriteBaseMessage(c.conn, body)
}

func (c *Conn) write(build func(seq int) any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.seq++
	body, err := json.Marshal(build(c.seq))
	if err != nil {
		return err
	}
	return dap.WriteBaseMessage(c.conn, body)
}

func (c *Conn) serve() {
	defer c.server.wg.Done()
	for {
		raw, err := dap.ReadBaseMessage(c.reader)
		if err != nil {
			return
		}
		req := &Request{Raw: raw}
		if err := json.Unmarshal(raw, req); err != nil || req.Type != "request" {
			continue
		}
		h := c.server.record(req)
		if reply := h(c, req); reply != nil {
			if err := c.Respond(req, reply); err != nil {
				return
			}
		}
	}
}

func (s *Server) defaultHandler(command string) HandlerFunc {
	switch command {
	case "initialize":
		return func(c *Conn, req *Request) *Reply {
			return &Reply{Body: dap.Capabilities{
				SupportsConfigurationDoneRequest:  true,
				SupportsConditionalBreakpoints:    true,
				SupportsHitConditionalBreakpoints: true,
				SupportsEvaluateForHovers:         true,
				SupportsLogPoints:                 true,
			}}
		}
	case "attach":
		return func(c *Conn, req *Request) *Reply {
			_ = c.SendEvent("initialized", nil)
			if s.DeferAttach {
				c.deferredAttach = req
				return nil
			}
			return &Reply{}
		}
	case "configurationDone":
		return func(c *Conn, req *Request) *Reply {
			if err := c.Respond(req, &Reply{}); err != nil {
				return nil
			}
			if c.deferredAttach != nil {
				_ = c.Respond(c.deferredAttach, &Reply{})
				c.deferredAttach = nil
			}
			return nil
		}
	case "setBreakpoints":
		return s.setBreakpoints
	case "threads":
		return func(c *Conn, req *Request) *Reply {
			return &Reply{Body: dap.ThreadsResponseBody{Threads: []dap.Thread{{Id: 1, Name: "MainThread"}}}}
		}
	case "stackTrace":
		return func(c *Conn, req *Request) *Reply {
			return &Reply{Body: dap.StackTraceResponseBody{
				StackFrames: []dap.StackFrame{{
					Id:     TopFrameID,
					Name:   "<module>",
					Source: &dap.Source{Name: "a.py", Path: "a.py"},
					Line:   10,
					Column: 1,
				}},
				TotalFrames: 1,
			}}
		}
	case "scopes":
		return func(c *Conn, req *Request) *Reply {
			return &Reply{Body: dap.ScopesResponseBody{Scopes: []dap.Scope{{
				Name:               "Locals",
				PresentationHint:   "locals",
				VariablesReference: LocalsReference,
			}}}}
		}
	case "variables":
		return func(c *Conn, req *Request) *Reply {
			return &Reply{Body: FixedVariables}
		}
	case "evaluate":
		return func(c *Conn, req *Request) *Reply {
			var args dap.EvaluateArguments
			_ = json.Unmarshal(req.Arguments, &args)
			return &Reply{Body: dap.EvaluateResponseBody{Result: args.Expression, Type: "str"}}
		}
	case "continue":
		return func(c *Conn, req *Request) *Reply {
			return &Reply{Body: dap.ContinueResponseBody{AllThreadsContinued: true}}
		}
	case "next", "stepIn", "stepOut", "pause":
		return func(c *Conn, req *Request) *Reply {
			return &Reply{}
		}
	case "disconnect":
		return func(c *Conn, req *Request) *Reply {
			_ = c.Respond(req, &Reply{})
			_ = c.Close()
			return nil
		}
	default:
		return func(c *Conn, req *Request) *Reply {
			return &Reply{Fail: "unsupported command: " + command}
		}
	}
}

// setBreakpoints replaces the table for the file and echoes it back
func (s *Server) setBreakpoints(c *Conn, req *Request) *Reply {
	msg, err := dap.DecodeProtocolMessage(req.Raw)
	if err != nil {
		return &Reply{Fail: err.Error()}
	}
	sbr, ok := msg.(*dap.SetBreakpointsRequest)
	if !ok {
		return &Reply{Fail: "malformed setBreakpoints"}
	}

	path := sbr.Arguments.Source.Path
	s.mu.Lock()
	if len(sbr.Arguments.Breakpoints) == 0 {
		delete(s.breakpoints, path)
	} else {
		s.breakpoints[path] = sbr.Arguments.Breakpoints
	}
	table := s.breakpoints[path]
	s.mu.Unlock()

	out := make([]dap.Breakpoint, 0, len(table))
	for i, bp := range table {
		out = append(out, dap.Breakpoint{
			Id:       i + 1,
			Verified: true,
			Line:     bp.Line,
			Source:   &dap.Source{Path: path},
		})
	}
	return &Reply{Body: dap.SetBreakpointsResponseBody{Breakpoints: out}}
}
