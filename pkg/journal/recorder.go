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

package journal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"sigs.k8s.io/yaml"
)

// Actions recorded by a run.
const (
	ActionLLMRequest   = "llm-request"
	ActionLLMResponse  = "llm-response"
	ActionToolRequest  = "tool-request"
	ActionToolResponse = "tool-response"
	ActionRunDone      = "run-done"
	ActionRunFailed    = "run-failed"
)

type Recorder interface {
	io.Closer

	// Write will add an event to the recorder.
	Write(ctx context.Context, event *Event) error
}

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	// RunID groups the events of one run when several runs share a recorder.
	RunID   string `json:"runID,omitempty"`
	Action  string `json:"action"`
	Payload any    `json:"payload,omitempty"`
}

// FileRecorder appends events to a file as a stream of YAML documents.
// It is safe for concurrent use.
type FileRecorder struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileRecorder(path string) (*FileRecorder, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening trace file %q: %w", path, err)
	}
	return &FileRecorder{
		f: file,
	}, nil
}

func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}

func (r *FileRecorder) Write(ctx context.Context, event *Event) error {
	yamlBytes, err := yaml.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	var b bytes.Buffer
	b.Write(yamlBytes)
	b.Write([]byte("\n\n---\n\n"))

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.f.Write(b.Bytes())
	return err
}

// MemoryRecorder keeps events in memory, mostly for tests and the REPL.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []*Event
}

func (r *MemoryRecorder) Write(ctx context.Context, event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (r *MemoryRecorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Event, len(r.events))
	copy(out, r.events)
	return out
}

// Actions returns the action of each recorded event, in order.
func (r *MemoryRecorder) Actions() []string {
	var actions []string
	for _, ev := range r.Events() {
		actions = append(actions, ev.Action)
	}
	return actions
}

func (r *MemoryRecorder) Close() error {
	return nil
}
