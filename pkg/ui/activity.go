package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sysdesign-mentor/searchagent/pkg/journal"
	"github.com/sysdesign-mentor/searchagent/pkg/tools"
)

// ActivityRecorder shows the tool calls of a run as they happen and forwards
// every event to Next, if set.
type ActivityRecorder struct {
	UI   UI
	Next journal.Recorder
}

var _ journal.Recorder = &ActivityRecorder{}

func (r *ActivityRecorder) Write(ctx context.Context, event *journal.Event) error {
	if event.Action == journal.ActionToolRequest {
		if req, ok := event.Payload.(tools.ToolRequestEvent); ok {
			r.UI.RenderOutput(ctx, fmt.Sprintf("  Running: %s\n", describeCall(req.Name, req.Arguments)), Foreground(ColorGreen))
		}
	}
	if r.Next == nil {
		return nil
	}
	return r.Next.Write(ctx, event)
}

func (r *ActivityRecorder) Close() error {
	if r.Next == nil {
		return nil
	}
	return r.Next.Close()
}

func describeCall(name string, args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, fmt.Sprint(args[k])))
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}
