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

package agent

import (
	"context"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/sysdesign-mentor/searchagent/gollm"
	"github.com/sysdesign-mentor/searchagent/internal/mocks"
	"github.com/sysdesign-mentor/searchagent/pkg/api"
	"github.com/sysdesign-mentor/searchagent/pkg/journal"
	"github.com/sysdesign-mentor/searchagent/pkg/tools"
)

// fakeResponse is a single-candidate LLM reply.
type fakeResponse struct {
	text  string
	calls []gollm.FunctionCall
}

func textResponse(text string) *fakeResponse {
	return &fakeResponse{text: text}
}

func searchResponse(id, query string) *fakeResponse {
	return &fakeResponse{calls: []gollm.FunctionCall{{
		ID:        id,
		Name:      tools.WebSearchToolName,
		Arguments: map[string]any{"query": query},
	}}}
}

func (r *fakeResponse) UsageMetadata() any { return nil }

func (r *fakeResponse) Candidates() []gollm.Candidate {
	return []gollm.Candidate{&fakeCandidate{r: r}}
}

type fakeCandidate struct {
	r *fakeResponse
}

func (c *fakeCandidate) String() string { return c.r.text }

func (c *fakeCandidate) Parts() []gollm.Part {
	var parts []gollm.Part
	if c.r.text != "" {
		parts = append(parts, &fakePart{text: c.r.text})
	}
	if len(c.r.calls) > 0 {
		parts = append(parts, &fakePart{calls: c.r.calls})
	}
	return parts
}

type fakePart struct {
	text  string
	calls []gollm.FunctionCall
}

func (p *fakePart) AsText() (string, bool) { return p.text, p.text != "" }

func (p *fakePart) AsFunctionCalls() ([]gollm.FunctionCall, bool) {
	return p.calls, len(p.calls) > 0
}

// weatherChat answers deterministically from its input: a user turn triggers
// a search, a tool result triggers the final answer.
type weatherChat struct{}

func (weatherChat) Send(ctx context.Context, messages []*api.Message) (gollm.ChatResponse, error) {
	last := messages[len(messages)-1]
	if last.Role == api.RoleTool {
		return textResponse("It is sunny in Boston."), nil
	}
	return searchResponse("call_1", "weather in Boston"), nil
}

func (weatherChat) SetFunctionDefinitions([]*gollm.FunctionDefinition) error { return nil }

func (weatherChat) IsRetryableError(err error) bool { return gollm.DefaultIsRetryableError(err) }

// staticFactory returns chat for every backend and counts the calls.
type staticFactory struct {
	chat  gollm.Chat
	calls int
}

func (f *staticFactory) build(ctx context.Context, backend Backend, model string) (*BoundModel, error) {
	f.calls++
	return NewBoundModel(backend, model, f.chat, nil), nil
}

func newMockSearchTool(ctrl *gomock.Controller) *mocks.MockTool {
	mt := mocks.NewMockTool(ctrl)
	mt.EXPECT().Name().Return(tools.WebSearchToolName).AnyTimes()
	mt.EXPECT().FunctionDefinition().Return(&gollm.FunctionDefinition{Name: tools.WebSearchToolName}).AnyTimes()
	return mt
}

func newTestRunner(t *testing.T, chat gollm.Chat, toolset *tools.Tools) (*Runner, *staticFactory, *journal.MemoryRecorder) {
	t.Helper()
	factory := &staticFactory{chat: chat}
	selector, err := NewModelSelector(factory.build, DefaultModelCacheSize)
	if err != nil {
		t.Fatalf("NewModelSelector: %v", err)
	}
	prompt, err := NewPromptAssembler(PromptOptions{Tools: toolset})
	if err != nil {
		t.Fatalf("NewPromptAssembler: %v", err)
	}
	recorder := &journal.MemoryRecorder{}
	return &Runner{
		Selector: selector,
		Prompt:   prompt,
		Tools:    toolset,
		Recorder: recorder,
	}, factory, recorder
}

func userMessage(text string) *api.Message {
	return &api.Message{ID: "user-1", Role: api.RoleUser, Content: text}
}
