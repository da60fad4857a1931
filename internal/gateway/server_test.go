package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/debug-bridge/internal/config"
	bridgedap "github.com/ctagard/debug-bridge/internal/dap"
	"github.com/ctagard/debug-bridge/internal/dap/daptest"
	bridgeerrors "github.com/ctagard/debug-bridge/internal/errors"
	"github.com/ctagard/debug-bridge/pkg/types"
)

type testGateway struct {
	t   *testing.T
	url string
	sm  *bridgedap.SessionManager
}

func newTestGateway(t *testing.T, mutate func(*config.BridgeConfig)) *testGateway {
	t.Helper()

	cfg := config.DefaultConfig().Bridge
	cfg.RequestTimeout = 2 * time.Second
	cfg.HandshakeTimeout = 5 * time.Second
	cfg.AttachGrace = 100 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	sm := bridgedap.NewSessionManager(cfg, zerolog.Nop())
	t.Cleanup(sm.Close)

	s := New(Config{Address: "127.0.0.1:0", Bridge: sm, Logger: zerolog.Nop()})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &testGateway{t: t, url: ts.URL, sm: sm}
}

// do issues a request and decodes the JSON reply into out when non-nil
func (g *testGateway) do(method, path string, body any, out any) int {
	g.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(g.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, g.url+path, reader)
	require.NoError(g.t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(g.t, err)
	defer resp.Body.Close()

	assert.Equal(g.t, "application/json", resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(g.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (g *testGateway) connect(srv *daptest.Server) types.SessionInfo {
	g.t.Helper()
	var info types.SessionInfo
	status := g.do(http.MethodPost, "/connect", map[string]any{"host": srv.Host(), "port": srv.Port()}, &info)
	require.Equal(g.t, http.StatusOK, status)
	return info
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func TestGateway_DebugScenario(t *testing.T) {
	srv := daptest.NewServer(t)
	g := newTestGateway(t, nil)

	info := g.connect(srv)
	assert.True(t, info.Connected)
	assert.Equal(t, types.StateConnected, info.Status)

	var bpBody dap.SetBreakpointsResponseBody
	status := g.do(http.MethodPost, "/breakpoint", map[string]any{"file": "a.py", "line": 10}, &bpBody)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, bpBody.Breakpoints, 1)
	assert.Equal(t, []int{10}, srv.BreakpointLines("a.py"))

	var cont dap.ContinueResponseBody
	status = g.do(http.MethodPost, "/continue", nil, &cont)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, cont.AllThreadsContinued)

	require.NoError(t, srv.SendEvent("stopped", dap.StoppedEventBody{Reason: "breakpoint", ThreadId: 1}))
	require.Eventually(t, func() bool {
		var st types.SessionInfo
		g.do(http.MethodGet, "/status", nil, &st)
		return st.LastStop != nil && st.LastStop.ThreadID == 1
	}, 2*time.Second, 10*time.Millisecond)

	var trace dap.StackTraceResponseBody
	status = g.do(http.MethodGet, "/stacktrace?threadId=1", nil, &trace)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, trace.StackFrames)
	top := trace.StackFrames[0]
	assert.Equal(t, 10, top.Line)

	var scopes dap.ScopesResponseBody
	status = g.do(http.MethodGet, fmt.Sprintf("/scopes/%d", top.Id), nil, &scopes)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, scopes.Scopes)

	var vars map[string]any
	status = g.do(http.MethodGet, fmt.Sprintf("/variables/%d", scopes.Scopes[0].VariablesReference), nil, &vars)
	require.Equal(t, http.StatusOK, status)

	expected, err := json.Marshal(daptest.FixedVariables)
	require.NoError(t, err)
	got, err := json.Marshal(vars)
	require.NoError(t, err)
	assert.JSONEq(t, string(expected), string(got))

	var evtList struct {
		Events []types.EventRecord `json:"events"`
	}
	require.Equal(t, http.StatusOK, g.do(http.MethodGet, "/events", nil, &evtList))
	assert.NotEmpty(t, evtList.Events)
}

func TestGateway_NotConnected(t *testing.T) {
	g := newTestGateway(t, nil)

	cases := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/threads", nil},
		{http.MethodGet, "/stacktrace?threadId=1", nil},
		{http.MethodGet, "/scopes/1", nil},
		{http.MethodGet, "/variables/100", nil},
		{http.MethodPost, "/evaluate", map[string]any{"expression": "x"}},
		{http.MethodPost, "/continue", nil},
		{http.MethodPost, "/pause", nil},
		{http.MethodPost, "/step", map[string]any{"step_type": "over"}},
		{http.MethodPost, "/breakpoint", map[string]any{"file": "a.py", "line": 3}},
		{http.MethodDelete, "/breakpoint?file=a.py", nil},
		{http.MethodGet, "/breakpoints", nil},
		// argument errors do not mask the missing session
		{http.MethodPost, "/step", map[string]any{"step_type": "sideways"}},
		{http.MethodGet, "/scopes/abc", nil},
		{http.MethodGet, "/stacktrace?threadId=zero", nil},
	}

	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			var body errorBody
			status := g.do(tc.method, tc.path, tc.body, &body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, string(bridgeerrors.CodeNotConnected), body.Code)
			assert.NotEmpty(t, body.Detail)
		})
	}
}

func TestGateway_StatusNeverFails(t *testing.T) {
	g := newTestGateway(t, nil)

	var st types.SessionInfo
	require.Equal(t, http.StatusOK, g.do(http.MethodGet, "/status", nil, &st))
	assert.False(t, st.Connected)
	assert.Equal(t, types.StateDisconnected, st.Status)
}

func TestGateway_Health(t *testing.T) {
	g := newTestGateway(t, nil)

	resp, err := http.Get(g.url + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGateway_BadArguments(t *testing.T) {
	srv := daptest.NewServer(t)
	g := newTestGateway(t, nil)
	g.connect(srv)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"unknown step direction", http.MethodPost, "/step", map[string]any{"step_type": "sideways"}},
		{"missing line", http.MethodPost, "/breakpoint", map[string]any{"file": "a.py"}},
		{"missing file", http.MethodPost, "/breakpoint", map[string]any{"line": 3}},
		{"non-numeric frame", http.MethodGet, "/scopes/abc", nil},
		{"non-positive thread", http.MethodGet, "/stacktrace?threadId=0", nil},
		{"unknown evaluate context", http.MethodPost, "/evaluate", map[string]any{"expression": "x", "context": "console"}},
		{"empty expression", http.MethodPost, "/evaluate", map[string]any{"expression": ""}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body errorBody
			status := g.do(tc.method, tc.path, tc.body, &body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, string(bridgeerrors.CodeBadRequest), body.Code)
		})
	}

	// the session survives argument errors
	require.Equal(t, http.StatusOK, g.do(http.MethodGet, "/threads", nil, nil))
}

func TestGateway_Step(t *testing.T) {
	srv := daptest.NewServer(t)
	g := newTestGateway(t, nil)
	g.connect(srv)

	require.Equal(t, http.StatusOK, g.do(http.MethodPost, "/step", map[string]any{"step_type": "in", "threadId": 1}, nil))
	require.Equal(t, http.StatusOK, g.do(http.MethodPost, "/step", map[string]any{"stepType": "out"}, nil))

	assert.Equal(t, "stepOut", srv.LastRequest("stepOut").Command)
	assert.NotNil(t, srv.LastRequest("stepIn"))

	// an omitted direction steps in
	before := len(srv.Commands())
	require.Equal(t, http.StatusOK, g.do(http.MethodPost, "/step", nil, nil))
	assert.Equal(t, "stepIn", srv.Commands()[before])
}

func TestGateway_BreakpointList(t *testing.T) {
	srv := daptest.NewServer(t)
	g := newTestGateway(t, nil)
	g.connect(srv)

	status := g.do(http.MethodPost, "/breakpoint", map[string]any{
		"path": "b.py",
		"breakpoints": []map[string]any{
			{"line": 4},
			{"line": 9, "condition": "x > 1"},
		},
	}, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []int{4, 9}, srv.BreakpointLines("b.py"))

	var listed struct {
		Breakpoints map[string][]types.SourceBreakpoint `json:"breakpoints"`
	}
	require.Equal(t, http.StatusOK, g.do(http.MethodGet, "/breakpoints", nil, &listed))
	require.Len(t, listed.Breakpoints["b.py"], 2)
	assert.Equal(t, "x > 1", listed.Breakpoints["b.py"][1].Condition)

	require.Equal(t, http.StatusOK, g.do(http.MethodDelete, "/breakpoint?file=b.py", nil, nil))
	assert.Empty(t, srv.BreakpointLines("b.py"))
}

func TestGateway_Timeout(t *testing.T) {
	srv := daptest.NewServer(t)
	srv.Handle("evaluate", func(c *daptest.Conn, req *daptest.Request) *daptest.Reply {
		return nil
	})
	g := newTestGateway(t, func(c *config.BridgeConfig) {
		c.RequestTimeout = 200 * time.Millisecond
	})
	g.connect(srv)

	var body errorBody
	status := g.do(http.MethodPost, "/evaluate", map[string]any{"expression": "while True: pass"}, &body)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, string(bridgeerrors.CodeTimeout), body.Code)

	var st types.SessionInfo
	require.Equal(t, http.StatusOK, g.do(http.MethodGet, "/status", nil, &st))
	assert.True(t, st.Connected)
}

func TestGateway_ProtocolRejected(t *testing.T) {
	srv := daptest.NewServer(t)
	srv.Handle("threads", func(c *daptest.Conn, req *daptest.Request) *daptest.Reply {
		return &daptest.Reply{Fail: "not stopped"}
	})
	g := newTestGateway(t, nil)
	g.connect(srv)

	var body errorBody
	status := g.do(http.MethodGet, "/threads", nil, &body)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, string(bridgeerrors.CodeProtocolRejected), body.Code)
	assert.Contains(t, body.Detail, "not stopped")
}

func TestGateway_ConnectFailures(t *testing.T) {
	g := newTestGateway(t, func(c *config.BridgeConfig) {
		c.HandshakeTimeout = 500 * time.Millisecond
	})

	var body errorBody
	status := g.do(http.MethodPost, "/connect", map[string]any{"host": "127.0.0.1", "port": 70000}, &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(bridgeerrors.CodeBadRequest), body.Code)

	status = g.do(http.MethodPost, "/connect", map[string]any{"host": "127.0.0.1", "port": closedPort(t)}, &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(bridgeerrors.CodeHandshakeFailed), body.Code)
}

func TestGateway_ConcurrentConnect(t *testing.T) {
	srv := daptest.NewServer(t)
	srv.Handle("initialize", func(c *daptest.Conn, req *daptest.Request) *daptest.Reply {
		return nil
	})
	g := newTestGateway(t, func(c *config.BridgeConfig) {
		c.HandshakeTimeout = time.Second
		c.RequestTimeout = time.Second
	})

	var wg sync.WaitGroup
	wg.Add(1)
	var firstStatus int
	go func() {
		defer wg.Done()
		firstStatus = g.do(http.MethodPost, "/connect", map[string]any{"host": srv.Host(), "port": srv.Port()}, nil)
	}()

	_, err := srv.WaitConn(2 * time.Second)
	require.NoError(t, err)

	var body errorBody
	status := g.do(http.MethodPost, "/connect", map[string]any{"host": srv.Host(), "port": srv.Port()}, &body)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(bridgeerrors.CodeConnectInProgress), body.Code)

	wg.Wait()
	assert.Equal(t, http.StatusBadRequest, firstStatus)
}

func TestGateway_Disconnect(t *testing.T) {
	srv := daptest.NewServer(t)
	g := newTestGateway(t, nil)
	g.connect(srv)

	var st types.SessionInfo
	require.Equal(t, http.StatusOK, g.do(http.MethodPost, "/disconnect", map[string]any{"terminateDebuggee": true}, &st))
	assert.False(t, st.Connected)

	var args dap.DisconnectArguments
	require.NoError(t, json.Unmarshal(srv.LastRequest("disconnect").Arguments, &args))
	assert.True(t, args.TerminateDebuggee)

	var body errorBody
	assert.Equal(t, http.StatusBadRequest, g.do(http.MethodGet, "/threads", nil, &body))
	assert.Equal(t, string(bridgeerrors.CodeNotConnected), body.Code)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code     bridgeerrors.ErrorCode
		expected int
	}{
		{bridgeerrors.CodeNotConnected, http.StatusBadRequest},
		{bridgeerrors.CodeHandshakeFailed, http.StatusBadRequest},
		{bridgeerrors.CodeBadRequest, http.StatusBadRequest},
		{bridgeerrors.CodeConnectInProgress, http.StatusConflict},
		{bridgeerrors.CodeTimeout, http.StatusInternalServerError},
		{bridgeerrors.CodeChannelClosed, http.StatusInternalServerError},
		{bridgeerrors.CodeProtocolRejected, http.StatusInternalServerError},
		{bridgeerrors.CodeUnknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.code))
		})
	}
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestGateway_NonPositiveLineRejected(t *testing.T) {
	srv := daptest.NewServer(t)
	g := newTestGateway(t, nil)
	g.connect(srv)

	require.Equal(t, http.StatusOK, g.do(http.MethodPost, "/breakpoint", map[string]any{"file": "a.py", "line": 10}, nil))

	for _, line := range []int{0, -3} {
		var body errorBody
		status := g.do(http.MethodPost, "/breakpoint", map[string]any{"file": "a.py", "line": line}, &body)
		assert.Equal(t, http.StatusBadRequest, status, "line %d", line)
		assert.Equal(t, string(bridgeerrors.CodeBadRequest), body.Code)
	}

	// the existing breakpoint is untouched
	assert.Equal(t, []int{10}, srv.BreakpointLines("a.py"))

	// an explicit empty list still clears the file
	require.Equal(t, http.StatusOK, g.do(http.MethodPost, "/breakpoint", map[string]any{"file": "a.py", "breakpoints": []any{}}, nil))
	assert.Empty(t, srv.BreakpointLines("a.py"))
}

func TestGateway_ErrorDetailCarriesCause(t *testing.T) {
	g := newTestGateway(t, nil)

	var body errorBody
	status := g.do(http.MethodPost, "/connect", map[string]any{"host": "127.0.0.1", "port": closedPort(t)}, &body)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(bridgeerrors.CodeHandshakeFailed), body.Code)
	assert.NotEqual(t, body.Message, body.Detail)
	assert.Contains(t, body.Detail, "refused")

	// without a cause the detail is the message
	status = g.do(http.MethodGet, "/threads", nil, &body)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, body.Message, body.Detail)
}
