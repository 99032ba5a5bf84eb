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
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"

	"github.com/sysdesign-mentor/searchagent/pkg/api"
)

const (
	metadataFileName = "metadata.yaml"
	historyFileName  = "history.jsonl"
)

// Metadata describes a session; it is stored as YAML next to the history.
type Metadata struct {
	Backend      string    `json:"backend"`
	Model        string    `json:"model,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastAccessed time.Time `json:"lastAccessed"`
}

// Session is a conversation persisted on disk. The history is kept as one JSON
// message per line so that appending does not rewrite the file.
type Session struct {
	ID   string
	Path string
	mu   sync.Mutex
}

var _ api.ChatMessageStore = &Session{}

func (s *Session) HistoryPath() string {
	return filepath.Join(s.Path, historyFileName)
}

func (s *Session) MetadataPath() string {
	return filepath.Join(s.Path, metadataFileName)
}

func (s *Session) LoadMetadata() (*Metadata, error) {
	b, err := os.ReadFile(s.MetadataPath())
	if err != nil {
		return nil, fmt.Errorf("reading session metadata: %w", err)
	}
	var m Metadata
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parsing session metadata: %w", err)
	}
	return &m, nil
}

func (s *Session) SaveMetadata(m *Metadata) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshalling session metadata: %w", err)
	}
	return os.WriteFile(s.MetadataPath(), b, 0644)
}

// UpdateLastAccessed bumps the last accessed timestamp in the metadata.
func (s *Session) UpdateLastAccessed() error {
	m, err := s.LoadMetadata()
	if err != nil {
		return err
	}
	m.LastAccessed = time.Now()
	return s.SaveMetadata(m)
}

// AddChatMessage appends msg to the history file.
func (s *Session) AddChatMessage(msg *api.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeMessages(os.O_APPEND|os.O_CREATE|os.O_WRONLY, msg)
}

// SetChatMessages overwrites the history file with newMessages.
func (s *Session) SetChatMessages(newMessages []*api.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeMessages(os.O_WRONLY|os.O_CREATE|os.O_TRUNC, newMessages...)
}

func (s *Session) writeMessages(flag int, messages ...*api.Message) error {
	var buf bytes.Buffer
	for _, msg := range messages {
		b, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshalling message: %w", err)
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}

	f, err := os.OpenFile(s.HistoryPath(), flag, 0644)
	if err != nil {
		return fmt.Errorf("opening session history: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("writing session history: %w", err)
	}
	return f.Close()
}

// ChatMessages reads the history file. Malformed lines are skipped.
func (s *Session) ChatMessages() []*api.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.HistoryPath())
	if err != nil {
		if !os.IsNotExist(err) {
			klog.Warningf("opening history of session %s: %v", s.ID, err)
		}
		return nil
	}
	defer f.Close()

	var messages []*api.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var message api.Message
		if err := json.Unmarshal(line, &message); err != nil {
			klog.V(2).Infof("skipping malformed message in session %s: %v", s.ID, err)
			continue
		}
		messages = append(messages, &message)
	}
	return messages
}

func (s *Session) ClearChatMessages() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeMessages(os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
}

// Info renders the session for display.
func (s *Session) Info() (string, error) {
	metadata, err := s.LoadMetadata()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Current session:\n\nID: %s\nCreated: %s\nLast Accessed: %s\nBackend: %s\nModel: %s\nMessages: %d\n",
		s.ID,
		metadata.CreatedAt.Format("2006-01-02 15:04:05"),
		metadata.LastAccessed.Format("2006-01-02 15:04:05"),
		metadata.Backend,
		metadata.Model,
		len(s.ChatMessages())), nil
}
