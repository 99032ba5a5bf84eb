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
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/mock/gomock"

	"github.com/sysdesign-mentor/searchagent/gollm"
	"github.com/sysdesign-mentor/searchagent/internal/mocks"
	"github.com/sysdesign-mentor/searchagent/pkg/api"
	"github.com/sysdesign-mentor/searchagent/pkg/journal"
	"github.com/sysdesign-mentor/searchagent/pkg/tools"
)

var ignoreVolatile = cmpopts.IgnoreFields(api.Message{}, "ID", "Timestamp")

func TestRunWithToolCall(t *testing.T) {
	ctrl := gomock.NewController(t)
	chat := mocks.NewMockChat(ctrl)
	searchTool := newMockSearchTool(ctrl)

	gomock.InOrder(
		chat.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, messages []*api.Message) (gollm.ChatResponse, error) {
				if len(messages) != 2 || messages[0].Role != api.RoleSystem || messages[1].Role != api.RoleUser {
					t.Errorf("unexpected first request %+v", messages)
				}
				return searchResponse("call_1", "weather in Boston"), nil
			}),
		chat.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, messages []*api.Message) (gollm.ChatResponse, error) {
				if len(messages) != 4 || messages[3].Role != api.RoleTool {
					t.Errorf("unexpected second request %+v", messages)
				}
				return textResponse("It is sunny in Boston."), nil
			}),
	)
	searchTool.EXPECT().Run(gomock.Any(), map[string]any{"query": "weather in Boston"}).Return("Sunny, 72F", nil)

	runner, factory, recorder := newTestRunner(t, chat, tools.NewTools(searchTool))
	input := []*api.Message{userMessage("What's the weather in Boston?")}

	conv, err := runner.Run(context.Background(), RunConfig{Backend: "anthropic"}, input)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []*api.Message{
		{Role: api.RoleUser, Content: "What's the weather in Boston?"},
		{Role: api.RoleAssistant, ToolCalls: []api.ToolCall{{ID: "call_1", Name: tools.WebSearchToolName, Arguments: map[string]any{"query": "weather in Boston"}}}},
		{Role: api.RoleTool, ToolCallID: "call_1", Name: tools.WebSearchToolName, Content: "Sunny, 72F"},
		{Role: api.RoleAssistant, Content: "It is sunny in Boston."},
	}
	if diff := cmp.Diff(want, conv.Messages(), ignoreVolatile); diff != "" {
		t.Errorf("conversation mismatch (-want +got):\n%s", diff)
	}
	if conv.Messages()[0] != input[0] {
		t.Error("expected the input message to be kept as is")
	}
	if factory.calls != 1 {
		t.Errorf("factory calls = %d, want 1", factory.calls)
	}

	wantActions := []string{
		journal.ActionLLMRequest, journal.ActionLLMResponse,
		journal.ActionToolRequest, journal.ActionToolResponse,
		journal.ActionLLMRequest, journal.ActionLLMResponse,
		journal.ActionRunDone,
	}
	if diff := cmp.Diff(wantActions, recorder.Actions()); diff != "" {
		t.Errorf("journal mismatch (-want +got):\n%s", diff)
	}
	runID := recorder.Events()[0].RunID
	for _, ev := range recorder.Events() {
		if ev.RunID == "" || ev.RunID != runID {
			t.Errorf("event %s has run id %q, want %q", ev.Action, ev.RunID, runID)
		}
	}
}

func TestRunWithoutToolCall(t *testing.T) {
	ctrl := gomock.NewController(t)
	chat := mocks.NewMockChat(ctrl)
	chat.EXPECT().Send(gomock.Any(), gomock.Any()).Return(textResponse("Hello!"), nil)

	runner, _, _ := newTestRunner(t, chat, tools.NewTools(newMockSearchTool(ctrl)))
	conv, err := runner.Run(context.Background(), RunConfig{Backend: "openai"}, []*api.Message{userMessage("Say hello.")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []*api.Message{
		{Role: api.RoleUser, Content: "Say hello."},
		{Role: api.RoleAssistant, Content: "Hello!"},
	}
	if diff := cmp.Diff(want, conv.Messages(), ignoreVolatile); diff != "" {
		t.Errorf("conversation mismatch (-want +got):\n%s", diff)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	searchTool := newMockSearchTool(ctrl)
	searchTool.EXPECT().Run(gomock.Any(), gomock.Any()).Return("Sunny, 72F", nil).Times(2)

	runner, _, _ := newTestRunner(t, weatherChat{}, tools.NewTools(searchTool))
	input := []*api.Message{userMessage("What's the weather in Boston?")}

	first, err := runner.Run(context.Background(), RunConfig{Backend: "anthropic"}, input)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := runner.Run(context.Background(), RunConfig{Backend: "anthropic"}, input)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if diff := cmp.Diff(first.Messages(), second.Messages(), ignoreVolatile); diff != "" {
		t.Errorf("runs differ (-first +second):\n%s", diff)
	}
	if len(input) != 1 {
		t.Errorf("input was modified: %d messages", len(input))
	}
}

func TestRunLoopLimit(t *testing.T) {
	ctrl := gomock.NewController(t)
	chat := mocks.NewMockChat(ctrl)
	chat.EXPECT().Send(gomock.Any(), gomock.Any()).Return(searchResponse("call_x", "again"), nil).Times(3)
	searchTool := newMockSearchTool(ctrl)
	searchTool.EXPECT().Run(gomock.Any(), gomock.Any()).Return("nothing", nil).Times(3)

	runner, _, recorder := newTestRunner(t, chat, tools.NewTools(searchTool))
	runner.MaxIterations = 3

	conv, err := runner.Run(context.Background(), RunConfig{Backend: "anthropic"}, []*api.Message{userMessage("loop")})
	if conv != nil {
		t.Errorf("expected no conversation, got %d messages", conv.Len())
	}
	if !errors.Is(err, ErrLoopLimitExceeded) {
		t.Fatalf("expected ErrLoopLimitExceeded, got %v", err)
	}
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected *RunError, got %T", err)
	}
	if runErr.Iteration != 3 || runErr.Step != StepAgent {
		t.Errorf("failed at %s/%d, want agent/3", runErr.Step, runErr.Iteration)
	}
	if got := runErr.State.Len(); got != 7 {
		t.Errorf("state has %d messages, want 7", got)
	}
	actions := recorder.Actions()
	if actions[len(actions)-1] != journal.ActionRunFailed {
		t.Errorf("last journal action = %q, want %q", actions[len(actions)-1], journal.ActionRunFailed)
	}
}

func TestRunFailures(t *testing.T) {
	modelErr := &gollm.APIError{StatusCode: http.StatusBadRequest, Message: "bad request"}
	toolErr := errors.New("connection reset by peer")

	tests := []struct {
		name          string
		setup         func(chat *mocks.MockChat, searchTool *mocks.MockTool)
		wantErr       error
		wantStep      Step
		wantIteration int
		wantRoles     []api.Role
	}{
		{
			name: "model error on first call",
			setup: func(chat *mocks.MockChat, searchTool *mocks.MockTool) {
				chat.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil, modelErr)
			},
			wantErr:       modelErr,
			wantStep:      StepAgent,
			wantIteration: 1,
			wantRoles:     []api.Role{api.RoleUser},
		},
		{
			name: "model error after a tool call",
			setup: func(chat *mocks.MockChat, searchTool *mocks.MockTool) {
				gomock.InOrder(
					chat.EXPECT().Send(gomock.Any(), gomock.Any()).Return(searchResponse("call_1", "q"), nil),
					chat.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil, modelErr),
				)
				searchTool.EXPECT().Run(gomock.Any(), gomock.Any()).Return("result", nil)
			},
			wantErr:       modelErr,
			wantStep:      StepAgent,
			wantIteration: 2,
			wantRoles:     []api.Role{api.RoleUser, api.RoleAssistant, api.RoleTool},
		},
		{
			name: "tool failure",
			setup: func(chat *mocks.MockChat, searchTool *mocks.MockTool) {
				chat.EXPECT().Send(gomock.Any(), gomock.Any()).Return(searchResponse("call_1", "q"), nil)
				searchTool.EXPECT().Run(gomock.Any(), gomock.Any()).Return(nil, toolErr)
			},
			wantErr:       toolErr,
			wantStep:      StepAction,
			wantIteration: 1,
			wantRoles:     []api.Role{api.RoleUser, api.RoleAssistant},
		},
		{
			name: "empty response",
			setup: func(chat *mocks.MockChat, searchTool *mocks.MockTool) {
				chat.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil, nil)
			},
			wantStep:      StepAgent,
			wantIteration: 1,
			wantRoles:     []api.Role{api.RoleUser},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			chat := mocks.NewMockChat(ctrl)
			searchTool := newMockSearchTool(ctrl)
			tt.setup(chat, searchTool)

			runner, _, _ := newTestRunner(t, chat, tools.NewTools(searchTool))
			_, err := runner.Run(context.Background(), RunConfig{Backend: "anthropic"}, []*api.Message{userMessage("q")})

			var runErr *RunError
			if !errors.As(err, &runErr) {
				t.Fatalf("expected *RunError, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if runErr.Step != tt.wantStep || runErr.Iteration != tt.wantIteration {
				t.Errorf("failed at %s/%d, want %s/%d", runErr.Step, runErr.Iteration, tt.wantStep, tt.wantIteration)
			}
			var roles []api.Role
			for _, m := range runErr.State.Messages() {
				roles = append(roles, m.Role)
			}
			if diff := cmp.Diff(tt.wantRoles, roles); diff != "" {
				t.Errorf("state roles mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunReportsModelMistakesToModel(t *testing.T) {
	ctrl := gomock.NewController(t)
	chat := mocks.NewMockChat(ctrl)
	gomock.InOrder(
		chat.EXPECT().Send(gomock.Any(), gomock.Any()).Return(&fakeResponse{calls: []gollm.FunctionCall{{ID: "call_1", Name: "calculator"}}}, nil),
		chat.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, messages []*api.Message) (gollm.ChatResponse, error) {
				last := messages[len(messages)-1]
				if last.Role != api.RoleTool || !strings.Contains(last.Content, `"error"`) {
					t.Errorf("expected an error tool message, got %+v", last)
				}
				return textResponse("Sorry, I cannot do that."), nil
			}),
	)

	runner, _, _ := newTestRunner(t, chat, tools.NewTools(newMockSearchTool(ctrl)))
	conv, err := runner.Run(context.Background(), RunConfig{Backend: "anthropic"}, []*api.Message{userMessage("q")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if conv.Len() != 4 {
		t.Errorf("conversation has %d messages, want 4", conv.Len())
	}
}

func TestRunCancelled(t *testing.T) {
	ctrl := gomock.NewController(t)
	chat := mocks.NewMockChat(ctrl)
	chat.EXPECT().Send(gomock.Any(), gomock.Any()).Return(searchResponse("call_1", "q"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	searchTool := newMockSearchTool(ctrl)
	searchTool.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, map[string]any) (any, error) {
			cancel()
			return "result", nil
		})

	runner, _, _ := newTestRunner(t, chat, tools.NewTools(searchTool))
	_, err := runner.Run(ctx, RunConfig{Backend: "anthropic"}, []*api.Message{userMessage("q")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected *RunError, got %T", err)
	}
	if got := runErr.State.Len(); got != 3 {
		t.Errorf("state has %d messages, want 3", got)
	}
}

func TestRunCancelledAfterFinalAnswer(t *testing.T) {
	ctrl := gomock.NewController(t)
	chat := mocks.NewMockChat(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chat.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, []*api.Message) (gollm.ChatResponse, error) {
			cancel()
			return textResponse("It is sunny in Boston."), nil
		})

	runner, _, recorder := newTestRunner(t, chat, tools.NewTools(newMockSearchTool(ctrl)))
	conv, err := runner.Run(ctx, RunConfig{Backend: "anthropic"}, []*api.Message{userMessage("weather in Boston?")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if conv.Len() != 2 {
		t.Errorf("conversation has %d messages, want 2", conv.Len())
	}
	actions := recorder.Actions()
	if last := actions[len(actions)-1]; last != journal.ActionRunDone {
		t.Errorf("last action = %q, want %q", last, journal.ActionRunDone)
	}
}

func TestRunUnsupportedBackend(t *testing.T) {
	ctrl := gomock.NewController(t)
	chat := mocks.NewMockChat(ctrl)

	runner, factory, recorder := newTestRunner(t, chat, tools.NewTools(newMockSearchTool(ctrl)))
	_, err := runner.Run(context.Background(), RunConfig{Backend: "gemini"}, []*api.Message{userMessage("q")})

	var configErr *ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if !errors.Is(err, ErrUnsupportedBackend) {
		t.Errorf("expected ErrUnsupportedBackend, got %v", err)
	}
	var runErr *RunError
	if errors.As(err, &runErr) {
		t.Error("configuration errors must not be reported as run errors")
	}
	if factory.calls != 0 {
		t.Errorf("factory called %d times", factory.calls)
	}
	if len(recorder.Events()) != 0 {
		t.Errorf("expected no journal events, got %v", recorder.Actions())
	}
}

func TestResponseToMessageAssignsCallIDs(t *testing.T) {
	msg, err := responseToMessage(&fakeResponse{calls: []gollm.FunctionCall{{Name: tools.WebSearchToolName}}})
	if err != nil {
		t.Fatalf("responseToMessage: %v", err)
	}
	if len(msg.ToolCalls) != 1 || !strings.HasPrefix(msg.ToolCalls[0].ID, "call_") {
		t.Errorf("expected a generated call id, got %+v", msg.ToolCalls)
	}
}
