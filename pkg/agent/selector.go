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
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"

	"github.com/sysdesign-mentor/searchagent/gollm"
	"github.com/sysdesign-mentor/searchagent/pkg/tools"
)

// Backend names a hosted model provider.
type Backend string

const (
	BackendAnthropic Backend = "anthropic"
	BackendOpenAI    Backend = "openai"

	DefaultBackend = BackendAnthropic

	// DefaultModelCacheSize bounds the number of bound models kept by a ModelSelector.
	DefaultModelCacheSize = 4
)

// DefaultModels is the model used for a backend when none is configured.
var DefaultModels = map[Backend]string{
	BackendAnthropic: "claude-3-sonnet-20240229",
	BackendOpenAI:    "gpt-4o",
}

// Backends returns the supported backends.
func Backends() []Backend {
	return []Backend{BackendAnthropic, BackendOpenAI}
}

// ParseBackend validates a backend name.
func ParseBackend(name string) (Backend, error) {
	b := Backend(name)
	if !slices.Contains(Backends(), b) {
		return "", &ConfigError{Field: "model backend", Value: name, Err: ErrUnsupportedBackend}
	}
	return b, nil
}

// BoundModel is a chat bound to the tool set, ready to be used by any number of runs.
// Runs hold it with acquire/release; Close waits for the last holder before
// releasing the underlying client.
type BoundModel struct {
	Backend Backend
	Model   string
	Chat    gollm.Chat

	// closer releases the underlying client, if any.
	closer io.Closer

	mu      sync.Mutex
	inUse   int
	retired bool
	closed  bool
}

func NewBoundModel(backend Backend, model string, chat gollm.Chat, closer io.Closer) *BoundModel {
	return &BoundModel{Backend: backend, Model: model, Chat: chat, closer: closer}
}

// acquire marks the model in use. It fails once the model has been closed.
func (m *BoundModel) acquire() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.inUse++
	return true
}

func (m *BoundModel) release() {
	m.mu.Lock()
	m.inUse--
	closeNow := m.retired && m.inUse == 0 && !m.closed
	if closeNow {
		m.closed = true
	}
	m.mu.Unlock()

	if closeNow {
		if err := m.closeClient(); err != nil {
			klog.Warningf("closing model %s/%s: %v", m.Backend, m.Model, err)
		}
	}
}

// Close closes the underlying client, or defers it until no run holds the model.
func (m *BoundModel) Close() error {
	m.mu.Lock()
	m.retired = true
	if m.closed || m.inUse > 0 {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	return m.closeClient()
}

func (m *BoundModel) closeClient() error {
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}

// ModelFactory builds a bound model. It is only called with supported backends;
// an empty model means the backend default.
type ModelFactory func(ctx context.Context, backend Backend, model string) (*BoundModel, error)

type modelKey struct {
	backend Backend
	model   string
}

// ModelSelector hands out bound models, building each one at most once and
// keeping at most a fixed number of them. Evicted models are closed.
// It is safe for concurrent use.
type ModelSelector struct {
	factory ModelFactory
	cache   *lru.Cache[modelKey, *BoundModel]
	group   singleflight.Group
}

func NewModelSelector(factory ModelFactory, size int) (*ModelSelector, error) {
	if size <= 0 {
		size = DefaultModelCacheSize
	}
	cache, err := lru.NewWithEvict(size, func(key modelKey, m *BoundModel) {
		klog.V(1).Infof("Closing evicted model %s/%s", key.backend, key.model)
		if err := m.Close(); err != nil {
			klog.Warningf("closing model %s/%s: %v", key.backend, key.model, err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("creating model cache: %w", err)
	}
	return &ModelSelector{factory: factory, cache: cache}, nil
}

// Select returns the bound model for the backend name and model.
// Unsupported backends fail with a *ConfigError before the factory is called.
func (s *ModelSelector) Select(ctx context.Context, name string, model string) (*BoundModel, error) {
	backend, err := ParseBackend(name)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultModels[backend]
	}
	key := modelKey{backend: backend, model: model}

	if m, ok := s.cache.Get(key); ok {
		return m, nil
	}

	v, err, _ := s.group.Do(string(backend)+"/"+model, func() (any, error) {
		if m, ok := s.cache.Get(key); ok {
			return m, nil
		}
		klog.FromContext(ctx).Info("Creating model", "backend", backend, "model", model)
		m, err := s.factory(ctx, backend, model)
		if err != nil {
			return nil, err
		}
		s.cache.Add(key, m)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s model %q: %w", backend, model, err)
	}
	return v.(*BoundModel), nil
}

// hold selects a model and marks it in use. A model evicted and closed between
// the lookup and the acquire is selected again.
func (s *ModelSelector) hold(ctx context.Context, name string, model string) (*BoundModel, error) {
	for {
		m, err := s.Select(ctx, name, model)
		if err != nil {
			return nil, err
		}
		if m.acquire() {
			return m, nil
		}
		key := modelKey{backend: m.Backend, model: m.Model}
		if cur, ok := s.cache.Peek(key); ok && cur == m {
			s.cache.Remove(key)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// Len is the number of cached models.
func (s *ModelSelector) Len() int {
	return s.cache.Len()
}

// Close closes and drops every cached model.
func (s *ModelSelector) Close() error {
	s.cache.Purge()
	return nil
}

// BackendOptions configure the models built by NewBackendFactory.
type BackendOptions struct {
	SkipVerifySSL bool
	HTTPClient    *http.Client
	Retry         gollm.RetryConfig

	// NewClient defaults to gollm.NewClient.
	NewClient func(ctx context.Context, providerID string, opts ...gollm.Option) (gollm.Client, error)
}

// DefaultModelRetryConfig is used for model calls when BackendOptions.Retry is unset.
var DefaultModelRetryConfig = gollm.RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 2 * time.Second,
	MaxBackoff:     30 * time.Second,
	BackoffFactor:  2,
	Jitter:         true,
}

// NewBackendFactory returns the factory used in production: a provider client with
// temperature 0, bound to every tool of toolset, retrying transient failures.
func NewBackendFactory(opts BackendOptions, toolset *tools.Tools) ModelFactory {
	newClient := opts.NewClient
	if newClient == nil {
		newClient = gollm.NewClient
	}
	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultModelRetryConfig
	}

	return func(ctx context.Context, backend Backend, model string) (*BoundModel, error) {
		if model == "" {
			model = DefaultModels[backend]
		}

		var clientOpts []gollm.Option
		if opts.SkipVerifySSL {
			clientOpts = append(clientOpts, gollm.WithSkipVerifySSL())
		}
		if opts.HTTPClient != nil {
			clientOpts = append(clientOpts, gollm.WithHTTPClient(opts.HTTPClient))
		}

		client, err := newClient(ctx, string(backend), clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating %s client: %w", backend, err)
		}

		chat := client.StartChat(model, gollm.WithTemperature(0))
		if err := chat.SetFunctionDefinitions(toolset.FunctionDefinitions()); err != nil {
			client.Close()
			return nil, fmt.Errorf("setting function definitions: %w", err)
		}

		return NewBoundModel(backend, model, gollm.NewRetryChat(chat, retry), client), nil
	}
}
