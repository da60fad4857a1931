package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBreakpointRequest_SourceBreakpoints(t *testing.T) {
	tests := []struct {
		name string
		req  BreakpointRequest
		want []SourceBreakpoint
	}{
		{
			name: "single line",
			req:  BreakpointRequest{File: "a.py", Line: 4, Condition: "x > 1"},
			want: []SourceBreakpoint{{Line: 4, Condition: "x > 1"}},
		},
		{
			name: "zero line kept for validation",
			req:  BreakpointRequest{File: "a.py"},
			want: []SourceBreakpoint{{Line: 0}},
		},
		{
			name: "list wins over line",
			req:  BreakpointRequest{File: "a.py", Line: 4, Breakpoints: []SourceBreakpoint{{Line: 7}}},
			want: []SourceBreakpoint{{Line: 7}},
		},
		{
			name: "empty list clears",
			req:  BreakpointRequest{File: "a.py", Breakpoints: []SourceBreakpoint{}},
			want: []SourceBreakpoint{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.SourceBreakpoints())
		})
	}
}
