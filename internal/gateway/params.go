package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	bridgeerrors "github.com/ctagard/debug-bridge/internal/errors"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// params holds request arguments from the query string and the JSON body.
// Body values take precedence.
type params struct {
	values map[string]any
	path   func(string) string
}

func readParams(r *http.Request) (*params, error) {
	p := &params{values: make(map[string]any), path: r.PathValue}

	for key, vals := range r.URL.Query() {
		if len(vals) > 0 {
			p.values[key] = vals[len(vals)-1]
		}
	}

	if r.Body == nil {
		return p, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, bridgeerrors.BadRequest("body", "unreadable", "a JSON object").WithCause(err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return p, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, bridgeerrors.BadRequest("body", string(truncate(body, 64)), "a JSON object").WithCause(err)
	}
	for k, v := range fields {
		p.values[k] = v
	}
	return p, nil
}

// lookup returns the first present value among names
func (p *params) lookup(names ...string) (any, string, bool) {
	for _, name := range names {
		if v, ok := p.values[name]; ok && v != nil {
			return v, name, true
		}
	}
	return nil, "", false
}

func (p *params) str(names ...string) string {
	v, _, ok := p.lookup(names...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// optionalInt returns nil when none of names is present
func (p *params) optionalInt(names ...string) (*int, error) {
	v, name, ok := p.lookup(names...)
	if !ok {
		return nil, nil
	}
	n, err := toInt(name, v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (p *params) intOr(def int, names ...string) (int, error) {
	n, err := p.optionalInt(names...)
	if err != nil || n == nil {
		return def, err
	}
	return *n, nil
}

func (p *params) boolean(names ...string) (bool, error) {
	v, name, ok := p.lookup(names...)
	if !ok {
		return false, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, bridgeerrors.BadRequest(name, t, "true or false")
		}
		return b, nil
	default:
		return false, bridgeerrors.BadRequest(name, v, "true or false")
	}
}

// pathInt parses a path wildcard
func (p *params) pathInt(name string) (int, error) {
	raw := p.path(name)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, bridgeerrors.BadRequest(name, raw, "an integer")
	}
	return n, nil
}

// decode re-encodes one value into out, for structured fields like breakpoints
func (p *params) decode(name string, out any) (bool, error) {
	v, ok := p.values[name]
	if !ok || v == nil {
		return false, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return false, bridgeerrors.BadRequest(name, v, "a JSON value").WithCause(err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, bridgeerrors.BadRequest(name, string(truncate(raw, 64)), "a list of {line, condition?, hitCondition?, logMessage?}").WithCause(err)
	}
	return true, nil
}

func toInt(name string, v any) (int, error) {
	switch t := v.(type) {
	case json.Number:
		n, err := strconv.Atoi(t.String())
		if err != nil {
			return 0, bridgeerrors.BadRequest(name, t.String(), "an integer")
		}
		return n, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, bridgeerrors.BadRequest(name, t, "an integer")
		}
		return n, nil
	default:
		return 0, bridgeerrors.BadRequest(name, v, "an integer")
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
