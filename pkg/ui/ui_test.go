package ui

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sysdesign-mentor/searchagent/pkg/journal"
	"github.com/sysdesign-mentor/searchagent/pkg/tools"
)

func newTestUI(t *testing.T, in string) (*TerminalUI, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	u, err := NewTerminalUI(TerminalOptions{Out: &out, In: strings.NewReader(in)})
	if err != nil {
		t.Fatalf("NewTerminalUI: %v", err)
	}
	t.Cleanup(func() { u.Close() })
	return u, &out
}

func TestRenderOutput(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		style []StyleOption
		want  func(out string) bool
	}{
		{
			name: "plain",
			text: "hello\n",
			want: func(out string) bool { return out == "hello\n" },
		},
		{
			name:  "red",
			text:  "boom",
			style: []StyleOption{Foreground(ColorRed)},
			want:  func(out string) bool { return out == "\033[31mboom\033[0m" },
		},
		{
			name:  "markdown",
			text:  "# Title\n\nsome **bold** text",
			style: []StyleOption{RenderMarkdown()},
			want: func(out string) bool {
				return strings.Contains(out, "Title") && strings.Contains(out, "bold") && out != "# Title\n\nsome **bold** text"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, out := newTestUI(t, "")
			u.RenderOutput(context.Background(), tt.text, tt.style...)
			if !tt.want(out.String()) {
				t.Errorf("unexpected output %q", out.String())
			}
		})
	}
}

func TestReadQuery(t *testing.T) {
	u, _ := newTestUI(t, "first question\r\nsecond question\nlast")

	var got []string
	for {
		q, err := u.ReadQuery(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadQuery: %v", err)
		}
		got = append(got, q)
	}
	if diff := cmp.Diff([]string{"first question", "second question", "last"}, got); diff != "" {
		t.Errorf("queries mismatch (-want +got):\n%s", diff)
	}
}

func TestReadQueryCancelled(t *testing.T) {
	u, _ := newTestUI(t, "question\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := u.ReadQuery(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestActivityRecorder(t *testing.T) {
	u, out := newTestUI(t, "")
	next := &journal.MemoryRecorder{}
	r := &ActivityRecorder{UI: u, Next: next}

	ctx := context.Background()
	events := []*journal.Event{
		{Action: journal.ActionLLMRequest},
		{Action: journal.ActionToolRequest, Payload: tools.ToolRequestEvent{Name: "web_search", Arguments: map[string]any{"query": "weather in Boston", "max_results": 3}}},
		{Action: journal.ActionToolResponse},
	}
	for _, ev := range events {
		if err := r.Write(ctx, ev); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	want := "\033[32m  Running: web_search(max_results=\"3\", query=\"weather in Boston\")\n\033[0m"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if len(next.Events()) != len(events) {
		t.Errorf("forwarded %d events, want %d", len(next.Events()), len(events))
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
