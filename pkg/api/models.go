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

package api

import (
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry of a conversation.
// Assistant messages may carry tool call requests; tool messages answer exactly one of them.
type Message struct {
	ID        string     `json:"id,omitempty"`
	Role      Role       `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	// ToolCallID is set on tool messages and references ToolCall.ID.
	ToolCallID string `json:"toolCallID,omitempty"`
	// Name is the name of the tool that produced a tool message.
	Name      string    `json:"name,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// HasToolCalls reports whether the message requests at least one tool invocation.
func (m *Message) HasToolCalls() bool {
	return m != nil && len(m.ToolCalls) > 0
}

// ToolCall is a request, emitted by the model, to invoke a tool.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Conversation is an append-only sequence of messages.
// It is not safe for concurrent use; a conversation is owned by a single run.
type Conversation struct {
	messages []*Message
}

// NewConversation returns a conversation seeded with the given messages.
func NewConversation(messages ...*Message) *Conversation {
	c := &Conversation{}
	c.Append(messages...)
	return c
}

// Append adds messages to the end of the conversation.
func (c *Conversation) Append(messages ...*Message) {
	c.messages = append(c.messages, messages...)
}

// Messages returns a copy of the message sequence.
func (c *Conversation) Messages() []*Message {
	if c == nil {
		return nil
	}
	out := make([]*Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Last returns the most recently appended message, or nil if the conversation is empty.
func (c *Conversation) Last() *Message {
	if c == nil || len(c.messages) == 0 {
		return nil
	}
	return c.messages[len(c.messages)-1]
}

func (c *Conversation) Len() int {
	if c == nil {
		return 0
	}
	return len(c.messages)
}

// Since returns the messages appended at or after position n.
func (c *Conversation) Since(n int) []*Message {
	if c == nil || n >= len(c.messages) {
		return nil
	}
	if n < 0 {
		n = 0
	}
	out := make([]*Message, len(c.messages)-n)
	copy(out, c.messages[n:])
	return out
}

// ChatMessageStore defines the interface for managing storage of chat messages of a session.
type ChatMessageStore interface {
	AddChatMessage(record *Message) error
	SetChatMessages(newHistory []*Message) error
	ChatMessages() []*Message
	ClearChatMessages() error
}
