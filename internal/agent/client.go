package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Client calls the HTTP gateway. Results are returned as the raw response
// text so they can be fed to the model unchanged.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError is a non-2xx gateway reply
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Body)
}

// NewClient creates a gateway client. Calls are bounded by their context.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Connect attaches the gateway to a debugpy endpoint
func (c *Client) Connect(ctx context.Context, host string, port, pid int) (string, error) {
	body := map[string]any{"host": host, "port": port}
	if pid > 0 {
		body["pid"] = pid
	}
	return c.call(ctx, http.MethodPost, "/connect", nil, body)
}

// Status reports the gateway's session state
func (c *Client) Status(ctx context.Context) (string, error) {
	return c.call(ctx, http.MethodGet, "/status", nil, nil)
}

// Threads lists the debuggee's threads
func (c *Client) Threads(ctx context.Context) (string, error) {
	return c.call(ctx, http.MethodGet, "/threads", nil, nil)
}

// Continue resumes every thread
func (c *Client) Continue(ctx context.Context) (string, error) {
	return c.call(ctx, http.MethodPost, "/continue", nil, nil)
}

// Execute runs one directive against the gateway
func (c *Client) Execute(ctx context.Context, d Directive) (string, error) {
	switch d.Command {
	case "connect":
		return c.call(ctx, http.MethodPost, "/connect", nil, map[string]any{
			"host": d.arg(0, "localhost"),
			"port": d.arg(1, "5678"),
		})
	case "status":
		return c.Status(ctx)
	case "disconnect":
		return c.call(ctx, http.MethodPost, "/disconnect", nil, nil)
	case "events":
		return c.call(ctx, http.MethodGet, "/events", nil, nil)
	case "breakpoints":
		return c.call(ctx, http.MethodGet, "/breakpoints", nil, nil)
	case "threads":
		return c.Threads(ctx)
	case "stacktrace":
		q := url.Values{}
		q.Set("threadId", d.arg(0, "1"))
		q.Set("startFrame", d.arg(1, "0"))
		q.Set("levels", d.arg(2, "20"))
		return c.call(ctx, http.MethodGet, "/stacktrace", q, nil)
	case "scopes":
		if len(d.Args) < 1 {
			return "", usageError(d, "<frameId>")
		}
		return c.call(ctx, http.MethodGet, "/scopes/"+url.PathEscape(d.Args[0]), nil, nil)
	case "variables":
		if len(d.Args) < 1 {
			return "", usageError(d, "<ref>")
		}
		return c.call(ctx, http.MethodGet, "/variables/"+url.PathEscape(d.Args[0]), nil, nil)
	case "breakpoint":
		if len(d.Args) < 2 {
			return "", usageError(d, "<file> <line> [condition]")
		}
		body := map[string]any{"file": d.Args[0], "line": d.Args[1]}
		if cond := d.restAfter(2); cond != "" {
			body["condition"] = cond
		}
		return c.call(ctx, http.MethodPost, "/breakpoint", nil, body)
	case "clear":
		if len(d.Args) < 1 {
			return "", usageError(d, "<file>")
		}
		q := url.Values{}
		q.Set("file", d.Args[0])
		return c.call(ctx, http.MethodDelete, "/breakpoint", q, nil)
	case "evaluate":
		if d.Rest == "" {
			return "", usageError(d, "<expression>")
		}
		return c.call(ctx, http.MethodPost, "/evaluate", nil, map[string]any{"expression": d.Rest})
	case "continue", "pause":
		return c.call(ctx, http.MethodPost, "/"+d.Command, nil, threadBody(d, 0))
	case "step":
		if len(d.Args) < 1 {
			return "", usageError(d, "<in|over|out> [threadId]")
		}
		body := threadBody(d, 1)
		body["step_type"] = d.Args[0]
		return c.call(ctx, http.MethodPost, "/step", nil, body)
	default:
		return "", fmt.Errorf("unknown debug command %q", d.Command)
	}
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body any) (string, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	text := strings.TrimSpace(string(data))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return text, &APIError{Status: resp.StatusCode, Body: text}
	}
	return text, nil
}

// threadBody carries the optional thread id at argument i
func threadBody(d Directive, i int) map[string]any {
	body := map[string]any{}
	if i < len(d.Args) {
		body["threadId"] = d.Args[i]
	}
	return body
}

func usageError(d Directive, usage string) error {
	return fmt.Errorf("usage: %s%s %s", DirectivePrefix, d.Command, usage)
}
