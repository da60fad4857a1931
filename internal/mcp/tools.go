package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers the debug tool set
func (s *Server) registerTools() {
	// Session
	s.registerDebugConnect()
	s.registerDebugStatus()
	s.registerDebugDisconnect()
	s.registerDebugEvents()
	if s.launcher != nil {
		s.registerDebugLaunch()
		s.registerDebugOutput()
	}

	// Inspection
	s.registerDebugThreads()
	s.registerDebugStackTrace()
	s.registerDebugScopes()
	s.registerDebugVariables()
	s.registerDebugEvaluate()

	// Control
	s.registerDebugBreakpoints()
	s.registerDebugContinue()
	s.registerDebugStep()
	s.registerDebugPause()
}

// Session Tools

func (s *Server) registerDebugConnect() {
	tool := mcp.NewTool("debug_connect",
		mcp.WithDescription("Attach to a Python process listening with debugpy. Replaces any active session. The debuggee stays paused until debug_continue."),
		mcp.WithString("host",
			mcp.Description("Host of the debugpy endpoint (default: localhost)"),
		),
		mcp.WithNumber("port",
			mcp.Description("Port of the debugpy endpoint (default: 5678)"),
		),
		mcp.WithNumber("pid",
			mcp.Description("Process id of the debuggee, reported back in debug_status"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugConnect)
}

func (s *Server) registerDebugStatus() {
	tool := mcp.NewTool("debug_status",
		mcp.WithDescription("Report whether a session is connected, and where the debuggee last stopped"),
	)
	s.mcpServer.AddTool(tool, s.handleDebugStatus)
}

func (s *Server) registerDebugDisconnect() {
	tool := mcp.NewTool("debug_disconnect",
		mcp.WithDescription("End the debug session"),
		mcp.WithBoolean("terminateDebuggee",
			mcp.Description("Ask the debuggee to exit (default: false)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugDisconnect)
}

func (s *Server) registerDebugEvents() {
	tool := mcp.NewTool("debug_events",
		mcp.WithDescription("List the most recent DAP events of the session, oldest first"),
	)
	s.mcpServer.AddTool(tool, s.handleDebugEvents)
}

func (s *Server) registerDebugLaunch() {
	tool := mcp.NewTool("debug_launch",
		mcp.WithDescription("Run Python source under debugpy and attach to it. The program is paused on its first line; set breakpoints, then call debug_continue."),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("Python source to run"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugLaunch)
}

func (s *Server) registerDebugOutput() {
	tool := mcp.NewTool("debug_output",
		mcp.WithDescription("Return stdout and stderr of the program started by debug_launch, and its exit code once it has exited"),
	)
	s.mcpServer.AddTool(tool, s.handleDebugOutput)
}

// Inspection Tools

func (s *Server) registerDebugThreads() {
	tool := mcp.NewTool("debug_threads",
		mcp.WithDescription("List the threads of the debuggee"),
	)
	s.mcpServer.AddTool(tool, s.handleDebugThreads)
}

func (s *Server) registerDebugStackTrace() {
	tool := mcp.NewTool("debug_stacktrace",
		mcp.WithDescription("Get the call stack of a stopped thread. Frame ids feed debug_scopes and debug_evaluate."),
		mcp.WithNumber("threadId",
			mcp.Description("Thread to inspect (default: 1)"),
		),
		mcp.WithNumber("startFrame",
			mcp.Description("Index of the first frame (default: 0)"),
		),
		mcp.WithNumber("levels",
			mcp.Description("Maximum number of frames (default: 20)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugStackTrace)
}

func (s *Server) registerDebugScopes() {
	tool := mcp.NewTool("debug_scopes",
		mcp.WithDescription("List the scopes of a stack frame. Each scope has a variablesReference for debug_variables."),
		mcp.WithNumber("frameId",
			mcp.Required(),
			mcp.Description("Frame id from debug_stacktrace"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugScopes)
}

func (s *Server) registerDebugVariables() {
	tool := mcp.NewTool("debug_variables",
		mcp.WithDescription("Expand a variables reference from debug_scopes or a structured variable"),
		mcp.WithNumber("variablesReference",
			mcp.Required(),
			mcp.Description("Reference to expand"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugVariables)
}

func (s *Server) registerDebugEvaluate() {
	tool := mcp.NewTool("debug_evaluate",
		mcp.WithDescription("Evaluate a Python expression, in a frame when frameId is given"),
		mcp.WithString("expression",
			mcp.Required(),
			mcp.Description("Expression to evaluate"),
		),
		mcp.WithNumber("frameId",
			mcp.Description("Frame id from debug_stacktrace"),
		),
		mcp.WithString("context",
			mcp.Description("Evaluation context (default: repl)"),
			mcp.Enum("repl", "watch", "hover", "clipboard", "variables"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugEvaluate)
}

// Control Tools

func (s *Server) registerDebugBreakpoints() {
	tool := mcp.NewTool("debug_breakpoints",
		mcp.WithDescription("Replace the breakpoints of a file. Pass line for one breakpoint, breakpoints for several, or neither to clear the file."),
		mcp.WithString("file",
			mcp.Required(),
			mcp.Description("Source file path as seen by the debuggee"),
		),
		mcp.WithNumber("line",
			mcp.Description("Line of a single breakpoint"),
		),
		mcp.WithString("condition",
			mcp.Description("Condition of the single breakpoint"),
		),
		mcp.WithArray("breakpoints",
			mcp.Description("Breakpoints as objects with line and optional condition, hitCondition, logMessage"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"line":         map[string]any{"type": "number"},
					"condition":    map[string]any{"type": "string"},
					"hitCondition": map[string]any{"type": "string"},
					"logMessage":   map[string]any{"type": "string"},
				},
				"required": []string{"line"},
			}),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugBreakpoints)
}

func (s *Server) registerDebugContinue() {
	tool := mcp.NewTool("debug_continue",
		mcp.WithDescription("Resume execution"),
		mcp.WithNumber("threadId",
			mcp.Description("Thread to resume (default: all threads)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugContinue)
}

func (s *Server) registerDebugStep() {
	tool := mcp.NewTool("debug_step",
		mcp.WithDescription("Step a stopped thread"),
		mcp.WithString("step_type",
			mcp.Required(),
			mcp.Description("Direction: in, over, or out"),
			mcp.Enum("in", "over", "out"),
		),
		mcp.WithNumber("threadId",
			mcp.Description("Thread to step"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugStep)
}

func (s *Server) registerDebugPause() {
	tool := mcp.NewTool("debug_pause",
		mcp.WithDescription("Pause execution"),
		mcp.WithNumber("threadId",
			mcp.Description("Thread to pause (default: all threads)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugPause)
}
