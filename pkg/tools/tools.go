// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sysdesign-mentor/searchagent/gollm"
	"github.com/sysdesign-mentor/searchagent/pkg/api"
	"github.com/sysdesign-mentor/searchagent/pkg/journal"
)

var (
	// ErrUnknownTool is returned when the LLM asks for a tool that is not registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments is returned by tools when the LLM supplied unusable arguments.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

var allTools = NewTools()

// Default returns the tool set used when a Runner is not given one. It is empty.
func Default() *Tools {
	return allTools
}

// Tools is a set of tools keyed by name. It is safe for concurrent use.
type Tools struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewTools(tools ...Tool) *Tools {
	t := &Tools{tools: make(map[string]Tool)}
	for _, tool := range tools {
		t.RegisterTool(tool)
	}
	return t
}

func (t *Tools) Lookup(name string) Tool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tools[name]
}

// AllTools returns the registered tools ordered by name.
func (t *Tools) AllTools() []Tool {
	var out []Tool
	for _, name := range t.Names() {
		out = append(out, t.Lookup(name))
	}
	return out
}

func (t *Tools) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.tools))
	for name := range t.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (t *Tools) RegisterTool(tool Tool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.tools[tool.Name()]; exists {
		panic("tool already registered: " + tool.Name())
	}
	t.tools[tool.Name()] = tool
}

// FunctionDefinitions returns the definitions to bind to a chat, ordered by tool name.
func (t *Tools) FunctionDefinitions() []*gollm.FunctionDefinition {
	var defs []*gollm.FunctionDefinition
	for _, tool := range t.AllTools() {
		defs = append(defs, tool.FunctionDefinition())
	}
	return defs
}

type ToolRequestEvent struct {
	CallID    string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type ToolResponseEvent struct {
	CallID   string `json:"id,omitempty"`
	Response any    `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// InvokeTool runs the named tool and journals the request and the response.
func (t *Tools) InvokeTool(ctx context.Context, callID string, name string, arguments map[string]any) (any, error) {
	if callID == "" {
		callID = uuid.NewString()
	}
	journal.Record(ctx, journal.ActionToolRequest, ToolRequestEvent{
		CallID:    callID,
		Name:      name,
		Arguments: arguments,
	})

	var response any
	var err error
	if tool := t.Lookup(name); tool == nil {
		err = fmt.Errorf("%w: %q", ErrUnknownTool, name)
	} else {
		response, err = tool.Run(ctx, arguments)
	}

	ev := ToolResponseEvent{
		CallID:   callID,
		Response: response,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	journal.Record(ctx, journal.ActionToolResponse, ev)

	return response, err
}

// IsModelError reports whether err was caused by a bad tool call from the LLM,
// as opposed to a failure of the tool itself.
func IsModelError(err error) bool {
	return errors.Is(err, ErrUnknownTool) || errors.Is(err, ErrInvalidArguments)
}

// RunToolCall executes a tool call and returns the tool message answering it.
// Model errors become the content of the message so the LLM can correct itself.
func (t *Tools) RunToolCall(ctx context.Context, call api.ToolCall) (*api.Message, error) {
	msg := &api.Message{
		ID:         uuid.NewString(),
		Role:       api.RoleTool,
		ToolCallID: call.ID,
		Name:       call.Name,
	}

	response, err := t.InvokeTool(ctx, call.ID, call.Name, call.Arguments)
	if err != nil {
		if !IsModelError(err) {
			return nil, fmt.Errorf("running tool %q: %w", call.Name, err)
		}
		response = map[string]string{"error": err.Error()}
	}

	content, err := formatToolResponse(response)
	if err != nil {
		return nil, fmt.Errorf("formatting response of tool %q: %w", call.Name, err)
	}
	msg.Content = content
	msg.Timestamp = time.Now()
	return msg, nil
}

func formatToolResponse(response any) (string, error) {
	switch v := response.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
