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

package sessions

import (
	"slices"
	"sync"

	"github.com/sysdesign-mentor/searchagent/pkg/api"
)

// InMemoryChatStore keeps the history of a conversation that is not persisted.
// It is safe for concurrent use.
type InMemoryChatStore struct {
	mu       sync.RWMutex
	messages []*api.Message
}

var _ api.ChatMessageStore = &InMemoryChatStore{}

func NewInMemoryChatStore(messages ...*api.Message) *InMemoryChatStore {
	return &InMemoryChatStore{messages: slices.Clone(messages)}
}

func (s *InMemoryChatStore) AddChatMessage(record *api.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, record)
	return nil
}

func (s *InMemoryChatStore) SetChatMessages(newHistory []*api.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = slices.Clone(newHistory)
	return nil
}

// ChatMessages returns a copy of the stored history.
func (s *InMemoryChatStore) ChatMessages() []*api.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

func (s *InMemoryChatStore) ClearChatMessages() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	return nil
}
