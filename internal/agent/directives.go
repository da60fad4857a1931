// Package agent runs the conversational loop that drives the bridge: a model
// writes Python and /debug/ directives, the loop executes the directives
// against the HTTP gateway, runs the code under the debugger, and feeds every
// result back into the conversation.
package agent

import (
	"regexp"
	"strings"
)

// DirectivePrefix starts every directive line
const DirectivePrefix = "/debug/"

// Directive is one /debug/<command> line of a model reply
type Directive struct {
	Command string
	Args    []string

	// Rest is the text after the command token, spacing preserved
	Rest string
	Line string
}

var codeBlockPattern = regexp.MustCompile("(?s)```python(.*?)```")

// ParseDirectives returns the directive lines of text, in order
func ParseDirectives(text string) []Directive {
	var out []Directive
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, DirectivePrefix) {
			continue
		}
		fields := strings.Fields(line)
		out = append(out, Directive{
			Command: strings.TrimPrefix(fields[0], DirectivePrefix),
			Args:    fields[1:],
			Rest:    strings.TrimSpace(line[len(fields[0]):]),
			Line:    line,
		})
	}
	return out
}

// ExtractCode returns the body of the first ```python block
func ExtractCode(text string) (string, bool) {
	m := codeBlockPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	code := strings.TrimSpace(m[1])
	return code, code != ""
}

// arg returns the i-th argument or def
func (d Directive) arg(i int, def string) string {
	if i < len(d.Args) {
		return d.Args[i]
	}
	return def
}

// restAfter returns the text following the first n arguments
func (d Directive) restAfter(n int) string {
	rest := d.Rest
	for i := 0; i < n && rest != ""; i++ {
		rest = strings.TrimSpace(strings.TrimPrefix(rest, d.Args[i]))
	}
	return rest
}
