// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/klog/v2"

	"github.com/sysdesign-mentor/searchagent/gollm"
	"github.com/sysdesign-mentor/searchagent/pkg/agent"
	"github.com/sysdesign-mentor/searchagent/pkg/journal"
	"github.com/sysdesign-mentor/searchagent/pkg/tools"
	"github.com/sysdesign-mentor/searchagent/pkg/ui"
)

// app holds everything a chat needs, from the tool set to the terminal.
type app struct {
	ui           *ui.TerminalUI
	conversation *agent.Conversation
	selector     *agent.ModelSelector
	recorder     journal.Recorder
}

// newToolset returns the tools offered to the model: the web search tool only.
func newToolset(opt Options) (*tools.Tools, error) {
	searcher, err := tools.NewTavilySearcher(tools.TavilyOptions{})
	if err != nil {
		return nil, fmt.Errorf("creating web searcher: %w", err)
	}
	webSearch := tools.NewWebSearch(searcher, tools.WebSearchOptions{
		MaxResults: opt.SearchMaxResults,
		RateLimit:  rate.Limit(opt.SearchRateLimit),
	})
	return tools.NewTools(webSearch), nil
}

func newRecorder(opt Options) (journal.Recorder, error) {
	if opt.TracePath == "" {
		// Ensure we always have a recorder, to avoid nil checks
		return &journal.LogRecorder{}, nil
	}
	recorder, err := journal.NewFileRecorder(opt.TracePath)
	if err != nil {
		return nil, fmt.Errorf("creating trace recorder: %w", err)
	}
	return recorder, nil
}

func newApp(ctx context.Context, opt Options, hasInputData bool) (*app, error) {
	toolset, err := newToolset(opt)
	if err != nil {
		return nil, err
	}

	prompt, err := agent.NewPromptAssembler(agent.PromptOptions{
		TemplateFile:     opt.PromptTemplateFilePath,
		ExtraPromptPaths: opt.ExtraPromptPaths,
		Tools:            toolset,
	})
	if err != nil {
		return nil, fmt.Errorf("building system prompt: %w", err)
	}

	selector, err := agent.NewModelSelector(agent.NewBackendFactory(agent.BackendOptions{
		SkipVerifySSL: opt.SkipVerifySSL,
	}, toolset), agent.DefaultModelCacheSize)
	if err != nil {
		return nil, err
	}

	// since stdin is already consumed, we use TTY for taking input from user
	terminal, err := ui.NewTerminalUI(ui.TerminalOptions{UseTTYForInput: hasInputData})
	if err != nil {
		selector.Close()
		return nil, fmt.Errorf("creating terminal UI: %w", err)
	}

	trace, err := newRecorder(opt)
	if err != nil {
		selector.Close()
		terminal.Close()
		return nil, err
	}
	recorder := &ui.ActivityRecorder{UI: terminal, Next: trace}

	chatStore, sessionManager, err := openChatStore(opt)
	if err != nil {
		selector.Close()
		terminal.Close()
		recorder.Close()
		return nil, err
	}

	// The client is only used to list models; the runner builds its own through the selector.
	var clientOpts []gollm.Option
	if opt.SkipVerifySSL {
		clientOpts = append(clientOpts, gollm.WithSkipVerifySSL())
	}
	llmClient, err := gollm.NewClient(ctx, opt.ProviderID, clientOpts...)
	if err != nil {
		klog.Warningf("Listing models will not be available: %v", err)
		llmClient = nil
	}

	runner := &agent.Runner{
		Selector:      selector,
		Prompt:        prompt,
		Tools:         toolset,
		MaxIterations: opt.MaxIterations,
		StepTimeout:   time.Duration(opt.StepTimeout),
		Recorder:      recorder,
	}

	return &app{
		ui:       terminal,
		selector: selector,
		recorder: recorder,
		conversation: &agent.Conversation{
			Runner:           runner,
			Config:           opt.runConfig(),
			ChatMessageStore: chatStore,
			LLM:              llmClient,
			Sessions:         sessionManager,
		},
	}, nil
}

// answer handles one user query, either locally or by running the agent.
func (a *app) answer(ctx context.Context, query string) error {
	if reply, handled, err := a.conversation.HandleMetaQuery(ctx, query); handled {
		if err != nil {
			return err
		}
		a.ui.RenderOutput(ctx, reply, ui.RenderMarkdown())
		return nil
	}

	msg, err := a.conversation.RunOneRound(ctx, query)
	if err != nil {
		return err
	}
	a.ui.RenderOutput(ctx, msg.Content, ui.RenderMarkdown())
	return nil
}

func (a *app) showError(ctx context.Context, err error) {
	var runErr *agent.RunError
	if errors.As(err, &runErr) {
		klog.FromContext(ctx).Error(err, "Query failed", "step", runErr.Step, "iteration", runErr.Iteration)
	}
	a.ui.RenderOutput(ctx, fmt.Sprintf("Error: %v\n", err), ui.Foreground(ui.ColorRed))
}

func (a *app) Close() error {
	return errors.Join(
		a.conversation.Close(),
		a.selector.Close(),
		a.recorder.Close(),
		a.ui.Close(),
	)
}
