package main

import (
	"bytes"
	"testing"

	"github.com/dougsko/rigd/pkg/protocol"
)

func TestPrintResponse(t *testing.T) {
	tests := []struct {
		name string
		resp *protocol.Response
		want string
	}{
		{"Empty Success", &protocol.Response{Success: true}, "ok\n"},
		{"Error", &protocol.Response{Error: "set_freq: out of range", Code: "invalid_argument"}, "error (invalid_argument): set_freq: out of range\n"},
		{
			"Sorted Keys",
			&protocol.Response{Success: true, Data: map[string]interface{}{"width": float64(2400), "mode": "USB"}},
			"mode: USB\nwidth: 2400\n",
		},
		{
			"Nested",
			&protocol.Response{Success: true, Data: map[string]interface{}{
				"commands": []interface{}{"F  set_freq [vfo] <freq>"},
				"pos":      map[string]interface{}{"el": 10.5, "az": float64(90)},
			}},
			"commands:\n  F  set_freq [vfo] <freq>\npos: {az=90 el=10.5}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printResponse(&buf, tt.resp)
			if buf.String() != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, buf.String())
			}
		})
	}
}

func TestCompleter(t *testing.T) {
	c := completer()
	names := map[string]bool{}
	for _, child := range c.GetChildren() {
		names[string(child.GetName())] = true
	}
	for _, want := range []string{"set_freq ", "get_pos ", "exit "} {
		if !names[want] {
			t.Errorf("Expected completion %q", want)
		}
	}
}
