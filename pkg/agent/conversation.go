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
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/sysdesign-mentor/searchagent/gollm"
	"github.com/sysdesign-mentor/searchagent/pkg/api"
	"github.com/sysdesign-mentor/searchagent/pkg/sessions"
)

// Conversation is a multi-turn chat on top of a Runner. Each round appends the
// user's query to the stored history and runs the agent loop over all of it.
type Conversation struct {
	Runner *Runner
	Config RunConfig

	// ChatMessageStore holds the history between rounds.
	ChatMessageStore api.ChatMessageStore

	// LLM is used to answer the "models" meta query; optional.
	LLM gollm.Client

	// Sessions lists persisted sessions for the "sessions" meta query; optional.
	Sessions *sessions.SessionManager

	exited bool
}

var _ Agent = &Conversation{}

func (c *Conversation) Close() error {
	if c.LLM != nil {
		return c.LLM.Close()
	}
	return nil
}

// Exited reports whether the user asked to leave.
func (c *Conversation) Exited() bool {
	return c.exited
}

// RunOneRound runs one user turn. On failure the stored history is left untouched.
func (c *Conversation) RunOneRound(ctx context.Context, query string) (*api.Message, error) {
	log := klog.FromContext(ctx)
	log.Info("Starting round", "query", query)

	history := c.ChatMessageStore.ChatMessages()
	userMessage := &api.Message{
		ID:        uuid.NewString(),
		Role:      api.RoleUser,
		Content:   query,
		Timestamp: time.Now(),
	}
	history = append(history, userMessage)

	conv, err := c.Runner.Run(ctx, c.Config, history)
	if err != nil {
		return nil, err
	}

	for _, msg := range conv.Since(len(history) - 1) {
		if err := c.ChatMessageStore.AddChatMessage(msg); err != nil {
			return nil, fmt.Errorf("storing message: %w", err)
		}
	}
	if s, ok := c.ChatMessageStore.(*sessions.Session); ok {
		if err := s.UpdateLastAccessed(); err != nil {
			log.Error(err, "updating session access time")
		}
	}
	return conv.Last(), nil
}

// HandleMetaQuery answers REPL commands that are not sent to the model.
func (c *Conversation) HandleMetaQuery(ctx context.Context, query string) (answer string, handled bool, err error) {
	switch strings.ToLower(strings.TrimSpace(query)) {
	case "clear", "reset":
		if err := c.ChatMessageStore.ClearChatMessages(); err != nil {
			return "", true, fmt.Errorf("clearing conversation: %w", err)
		}
		return "Cleared the conversation.", true, nil

	case "exit", "quit":
		c.exited = true
		return "It has been a pleasure assisting you. Have a great day!", true, nil

	case "model":
		model := c.Config.Model
		if model == "" {
			if b, err := ParseBackend(c.Config.Backend); err == nil {
				model = DefaultModels[b]
			}
		}
		return fmt.Sprintf("Current model is `%s` (%s)", model, c.Config.Backend), true, nil

	case "models":
		if c.LLM == nil {
			return "Listing models is not available.", true, nil
		}
		models, err := c.LLM.ListModels(ctx)
		if err != nil {
			return "", true, fmt.Errorf("listing models: %w", err)
		}
		return "Available models:\n\n" + bulletList(models) + "\n", true, nil

	case "tools":
		var names []string
		if c.Runner != nil && c.Runner.Tools != nil {
			names = c.Runner.Tools.Names()
		}
		return "Available tools:\n\n" + bulletList(names) + "\n", true, nil

	case "session":
		s, ok := c.ChatMessageStore.(*sessions.Session)
		if !ok {
			return "Current session is in-memory; it will not be saved.", true, nil
		}
		info, err := s.Info()
		if err != nil {
			return "", true, fmt.Errorf("reading session info: %w", err)
		}
		return info, true, nil

	case "sessions":
		if c.Sessions == nil {
			return "No session storage configured.", true, nil
		}
		list, err := c.Sessions.ListSessions()
		if err != nil {
			return "", true, fmt.Errorf("listing sessions: %w", err)
		}
		var ids []string
		for _, s := range list {
			ids = append(ids, s.ID)
		}
		return "Available sessions:\n\n" + bulletList(ids) + "\n", true, nil
	}

	return "", false, nil
}

func bulletList(items []string) string {
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "  - %s\n", item)
	}
	return b.String()
}
