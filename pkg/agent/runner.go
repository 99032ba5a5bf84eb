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
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/sysdesign-mentor/searchagent/gollm"
	"github.com/sysdesign-mentor/searchagent/pkg/api"
	"github.com/sysdesign-mentor/searchagent/pkg/journal"
	"github.com/sysdesign-mentor/searchagent/pkg/tools"
)

const (
	DefaultMaxIterations = 20
	DefaultStepTimeout   = 2 * time.Minute
)

// Step is a state of the agent loop.
type Step int

const (
	// StepAgent asks the model for the next assistant message.
	StepAgent Step = iota
	// StepAction runs the tool calls of the last assistant message.
	StepAction
	// StepDone is terminal.
	StepDone
)

func (s Step) String() string {
	switch s {
	case StepAgent:
		return "agent"
	case StepAction:
		return "action"
	case StepDone:
		return "done"
	default:
		return fmt.Sprintf("Step(%d)", int(s))
	}
}

// RunConfig selects the model of a run.
type RunConfig struct {
	// Backend is "anthropic" or "openai".
	Backend string
	// Model overrides the backend default model.
	Model string
}

// Runner drives a conversation through agent and action steps until the model
// gives a final answer. A Runner may be shared by concurrent runs.
type Runner struct {
	Selector *ModelSelector
	Prompt   *PromptAssembler
	Tools    *tools.Tools

	// MaxIterations bounds the number of agent steps of a run.
	MaxIterations int
	// StepTimeout bounds each model call and each tool call.
	StepTimeout time.Duration

	// Recorder captures events for diagnostics; the recorder of the context is used when nil.
	Recorder journal.Recorder
}

type LLMRequestEvent struct {
	Backend   Backend        `json:"backend"`
	Model     string         `json:"model"`
	Iteration int            `json:"iteration"`
	Messages  []*api.Message `json:"messages"`
}

type LLMResponseEvent struct {
	Iteration int          `json:"iteration"`
	Message   *api.Message `json:"message"`
	Usage     any          `json:"usage,omitempty"`
}

type RunDoneEvent struct {
	Iterations int `json:"iterations"`
	Messages   int `json:"messages"`
}

type RunFailedEvent struct {
	Step      string `json:"step"`
	Iteration int    `json:"iteration"`
	Error     string `json:"error"`
}

// Run executes the loop over input and returns the whole conversation, input included.
// Configuration errors are returned before any model call; later failures are
// returned as *RunError.
func (r *Runner) Run(ctx context.Context, cfg RunConfig, input []*api.Message) (*api.Conversation, error) {
	runID := uuid.NewString()
	if r.Recorder != nil {
		ctx = journal.ContextWithRecorder(ctx, r.Recorder)
	}
	ctx = journal.ContextWithRunID(ctx, runID)
	log := klog.FromContext(ctx).WithValues("runID", runID, "backend", cfg.Backend)
	ctx = klog.NewContext(ctx, log)

	conv := api.NewConversation(input...)

	if _, err := ParseBackend(cfg.Backend); err != nil {
		return nil, err
	}
	model, err := r.Selector.hold(ctx, cfg.Backend, cfg.Model)
	if err != nil {
		return nil, r.fail(ctx, StepAgent, 0, conv, err)
	}
	defer model.release()

	maxIterations := r.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	step := StepAgent
	iteration := 0
	for {
		// Cancellation is checked before the AGENT and ACTION steps only.
		if step != StepDone {
			if err := ctx.Err(); err != nil {
				return nil, r.fail(ctx, step, iteration, conv, err)
			}
		}

		switch step {
		case StepAgent:
			if iteration >= maxIterations {
				log.Info("Max iterations reached", "iterations", maxIterations)
				return nil, r.fail(ctx, step, iteration, conv, fmt.Errorf("%w: limit is %d", ErrLoopLimitExceeded, maxIterations))
			}
			iteration++
			log.V(1).Info("Starting agent step", "iteration", iteration)

			msg, err := r.agentStep(ctx, model, conv, iteration)
			if err != nil {
				return nil, r.fail(ctx, step, iteration, conv, err)
			}
			conv.Append(msg)

			next, err := ShouldContinue(conv)
			if err != nil {
				return nil, r.fail(ctx, step, iteration, conv, err)
			}
			switch next {
			case ContinuationContinue:
				step = StepAction
			case ContinuationEnd:
				step = StepDone
			}

		case StepAction:
			if err := r.actionStep(ctx, conv); err != nil {
				return nil, r.fail(ctx, step, iteration, conv, err)
			}
			step = StepAgent

		case StepDone:
			log.Info("Run done", "iterations", iteration, "messages", conv.Len())
			journal.Record(ctx, journal.ActionRunDone, RunDoneEvent{Iterations: iteration, Messages: conv.Len()})
			return conv, nil
		}
	}
}

func (r *Runner) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := r.StepTimeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *Runner) agentStep(ctx context.Context, model *BoundModel, conv *api.Conversation, iteration int) (*api.Message, error) {
	ctx, cancel := r.stepContext(ctx)
	defer cancel()

	request := r.Prompt.Assemble(conv)
	journal.Record(ctx, journal.ActionLLMRequest, LLMRequestEvent{
		Backend:   model.Backend,
		Model:     model.Model,
		Iteration: iteration,
		Messages:  request,
	})

	response, err := model.Chat.Send(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("calling %s model: %w", model.Backend, err)
	}

	msg, err := responseToMessage(response)
	if err != nil {
		return nil, err
	}
	journal.Record(ctx, journal.ActionLLMResponse, LLMResponseEvent{
		Iteration: iteration,
		Message:   msg,
		Usage:     response.UsageMetadata(),
	})
	return msg, nil
}

// actionStep appends one tool message per tool call of the last message, in order.
func (r *Runner) actionStep(ctx context.Context, conv *api.Conversation) error {
	toolset := r.Tools
	if toolset == nil {
		toolset = tools.Default()
	}

	last := conv.Last()
	for _, call := range last.ToolCalls {
		if err := ctx.Err(); err != nil {
			return err
		}
		klog.FromContext(ctx).Info("Running tool", "name", call.Name, "id", call.ID)

		stepCtx, cancel := r.stepContext(ctx)
		msg, err := toolset.RunToolCall(stepCtx, call)
		cancel()
		if err != nil {
			return err
		}
		conv.Append(msg)
	}
	return nil
}

// fail records the failure and wraps it with the conversation so far.
func (r *Runner) fail(ctx context.Context, step Step, iteration int, conv *api.Conversation, err error) error {
	klog.FromContext(ctx).Error(err, "Run failed", "step", step, "iteration", iteration)
	journal.Record(ctx, journal.ActionRunFailed, RunFailedEvent{
		Step:      step.String(),
		Iteration: iteration,
		Error:     err.Error(),
	})
	return &RunError{
		Step:      step,
		Iteration: iteration,
		State:     api.NewConversation(conv.Messages()...),
		Err:       err,
	}
}

// responseToMessage converts the first candidate of a response into an assistant message.
func responseToMessage(response gollm.ChatResponse) (*api.Message, error) {
	if response == nil {
		return nil, errors.New("empty LLM response")
	}
	candidates := response.Candidates()
	if len(candidates) == 0 {
		return nil, errors.New("no candidates in LLM response")
	}

	var text strings.Builder
	var toolCalls []api.ToolCall
	for _, part := range candidates[0].Parts() {
		if t, ok := part.AsText(); ok {
			text.WriteString(t)
		}
		if calls, ok := part.AsFunctionCalls(); ok {
			for _, call := range calls {
				id := call.ID
				if id == "" {
					id = "call_" + uuid.NewString()
				}
				toolCalls = append(toolCalls, api.ToolCall{
					ID:        id,
					Name:      call.Name,
					Arguments: call.Arguments,
				})
			}
		}
	}

	return &api.Message{
		ID:        uuid.NewString(),
		Role:      api.RoleAssistant,
		Content:   text.String(),
		ToolCalls: toolCalls,
		Timestamp: time.Now(),
	}, nil
}
