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

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sysdesign-mentor/searchagent/gollm"
)

func TestTavilySearcher(t *testing.T) {
	var got tavilyRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tvly-test" {
			t.Errorf("unexpected Authorization %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		fmt.Fprint(w, `{
			"query": "langgraph",
			"results": [
				{"title": "LangGraph", "url": "https://example.com/a", "content": "graphs", "score": 0.9},
				{"title": "Other", "url": "https://example.com/b", "content": "other", "score": 0.1}
			]
		}`)
	}))
	defer server.Close()

	searcher, err := NewTavilySearcher(TavilyOptions{APIKey: "tvly-test", Endpoint: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("NewTavilySearcher: %v", err)
	}
	results, err := searcher.Search(context.Background(), "langgraph", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if got.Query != "langgraph" || got.MaxResults != 1 {
		t.Errorf("unexpected request %+v", got)
	}
	want := []SearchResult{{Title: "LangGraph", URL: "https://example.com/a", Content: "graphs", Score: 0.9}}
	if diff := cmp.Diff(want, results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
}

func TestTavilySearcherHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	searcher, err := NewTavilySearcher(TavilyOptions{APIKey: "k", Endpoint: server.URL})
	if err != nil {
		t.Fatalf("NewTavilySearcher: %v", err)
	}
	_, err = searcher.Search(context.Background(), "q", 1)
	var apiErr *gollm.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 APIError, got %v", err)
	}
}

func TestNewTavilySearcherRequiresKey(t *testing.T) {
	t.Setenv("TAVILY_API_KEY", "")
	if _, err := NewTavilySearcher(TavilyOptions{}); err == nil {
		t.Error("expected error without an API key")
	}
}

type fakeSearcher struct {
	mu      sync.Mutex
	calls   int
	results []SearchResult
	errs    []error
	gotMax  int
}

func (f *fakeSearcher) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotMax = maxResults
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.results, nil
}

var testRetry = gollm.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1}

func TestWebSearchRunArguments(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{name: "valid", args: map[string]any{"query": "weather in sf"}},
		{name: "missing query", args: map[string]any{}, wantErr: true},
		{name: "nil args", args: nil, wantErr: true},
		{name: "wrong type", args: map[string]any{"query": 42.0}, wantErr: true},
		{name: "blank", args: map[string]any{"query": "   "}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &fakeSearcher{results: []SearchResult{{URL: "https://example.com", Content: "x"}}}
			tool := NewWebSearch(searcher, WebSearchOptions{Retry: testRetry})
			_, err := tool.Run(context.Background(), tt.args)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArguments) {
					t.Fatalf("expected ErrInvalidArguments, got %v", err)
				}
				if searcher.calls != 0 {
					t.Errorf("searcher called %d times on invalid arguments", searcher.calls)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if searcher.gotMax != 1 {
				t.Errorf("expected max results 1, got %d", searcher.gotMax)
			}
		})
	}
}

func TestWebSearchCachesResults(t *testing.T) {
	searcher := &fakeSearcher{results: []SearchResult{{URL: "https://example.com", Content: "x"}}}
	tool := NewWebSearch(searcher, WebSearchOptions{Retry: testRetry})

	for _, q := range []string{"Go generics", "go generics", " go generics "} {
		if _, err := tool.Run(context.Background(), map[string]any{"query": q}); err != nil {
			t.Fatalf("Run(%q): %v", q, err)
		}
	}
	if searcher.calls != 1 {
		t.Errorf("expected 1 backend call, got %d", searcher.calls)
	}
}

func TestWebSearchRetriesTransientErrors(t *testing.T) {
	searcher := &fakeSearcher{
		results: []SearchResult{{URL: "https://example.com", Content: "x"}},
		errs:    []error{&gollm.APIError{StatusCode: http.StatusBadGateway}},
	}
	tool := NewWebSearch(searcher, WebSearchOptions{Retry: testRetry})

	results, err := tool.Run(context.Background(), map[string]any{"query": "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if searcher.calls != 2 {
		t.Errorf("expected 2 backend calls, got %d", searcher.calls)
	}
	if got := results.([]SearchResult); len(got) != 1 {
		t.Errorf("expected 1 result, got %d", len(got))
	}
}

func TestWebSearchFailureIsNotAModelError(t *testing.T) {
	searcher := &fakeSearcher{errs: []error{&gollm.APIError{StatusCode: http.StatusUnauthorized}}}
	tool := NewWebSearch(searcher, WebSearchOptions{Retry: testRetry})

	_, err := tool.Run(context.Background(), map[string]any{"query": "q"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsModelError(err) {
		t.Errorf("backend failure classified as model error: %v", err)
	}
}

func TestWebSearchRateLimitHonorsContext(t *testing.T) {
	searcher := &fakeSearcher{results: []SearchResult{{URL: "https://example.com"}}}
	tool := NewWebSearch(searcher, WebSearchOptions{RateLimit: 0.001, Burst: 1, Retry: testRetry})

	if _, err := tool.Run(context.Background(), map[string]any{"query": "first"}); err != nil {
		t.Fatalf("first search: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := tool.Run(ctx, map[string]any{"query": "second"}); err == nil {
		t.Fatal("expected rate limited search to fail when the context expires")
	}
	if searcher.calls != 1 {
		t.Errorf("expected 1 backend call, got %d", searcher.calls)
	}
}

func TestWebSearchFunctionDefinition(t *testing.T) {
	def := NewWebSearch(&fakeSearcher{}, WebSearchOptions{}).FunctionDefinition()
	if def.Name != WebSearchToolName {
		t.Errorf("name = %q", def.Name)
	}
	if def.Parameters.Type != gollm.TypeObject {
		t.Errorf("parameters type = %q", def.Parameters.Type)
	}
	if diff := cmp.Diff([]string{"query"}, def.Parameters.Required); diff != "" {
		t.Errorf("required mismatch (-want +got):\n%s", diff)
	}
	if def.Parameters.Properties["query"].Type != gollm.TypeString {
		t.Errorf("query type = %q", def.Parameters.Properties["query"].Type)
	}
}
