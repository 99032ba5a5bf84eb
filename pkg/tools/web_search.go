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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"

	"github.com/sysdesign-mentor/searchagent/gollm"
)

const (
	WebSearchToolName = "web_search"

	defaultTavilyEndpoint   = "https://api.tavily.com/search"
	defaultSearchMaxResults = 1
	defaultSearchCacheSize  = 128
	defaultSearchCacheTTL   = 15 * time.Minute
	searchTimeout           = 30 * time.Second
)

// SearchResult is one hit returned by a search backend.
type SearchResult struct {
	Title   string  `json:"title,omitempty"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// Searcher is a web search backend.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

type TavilyOptions struct {
	// APIKey defaults to $TAVILY_API_KEY.
	APIKey     string
	Endpoint   string
	HTTPClient *http.Client
}

// TavilySearcher queries the Tavily search API.
type TavilySearcher struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

var _ Searcher = &TavilySearcher{}

func NewTavilySearcher(opts TavilyOptions) (*TavilySearcher, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("TAVILY_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("Tavily API key not found. Set via TAVILY_API_KEY env var")
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = defaultTavilyEndpoint
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: searchTimeout}
	}
	return &TavilySearcher{apiKey: apiKey, endpoint: endpoint, client: client}, nil
}

type tavilyRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth,omitempty"`
}

type tavilyResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

func (s *TavilySearcher) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	body, err := json.Marshal(tavilyRequest{
		Query:       query,
		MaxResults:  maxResults,
		SearchDepth: "advanced",
	})
	if err != nil {
		return nil, fmt.Errorf("encoding tavily request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating tavily request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &gollm.APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}

	var out tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding tavily response: %w", err)
	}
	if len(out.Results) > maxResults {
		out.Results = out.Results[:maxResults]
	}
	return out.Results, nil
}

type WebSearchOptions struct {
	// MaxResults is the number of results returned per query, 1 when unset.
	MaxResults int
	CacheSize  int
	CacheTTL   time.Duration
	// RateLimit is the sustained number of searches per second; unlimited when zero.
	RateLimit rate.Limit
	Burst     int
	Retry     gollm.RetryConfig
}

// WebSearch is the tool that lets the LLM search the web.
type WebSearch struct {
	searcher   Searcher
	maxResults int
	cache      *expirable.LRU[string, []SearchResult]
	limiter    *rate.Limiter
	retry      gollm.RetryConfig
}

var _ Tool = &WebSearch{}

func NewWebSearch(searcher Searcher, opts WebSearchOptions) *WebSearch {
	if opts.MaxResults <= 0 {
		opts.MaxResults = defaultSearchMaxResults
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultSearchCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultSearchCacheTTL
	}
	limit := opts.RateLimit
	if limit <= 0 {
		limit = rate.Inf
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = gollm.DefaultRetryConfig
	}

	return &WebSearch{
		searcher:   searcher,
		maxResults: opts.MaxResults,
		cache:      expirable.NewLRU[string, []SearchResult](opts.CacheSize, nil, opts.CacheTTL),
		limiter:    rate.NewLimiter(limit, opts.Burst),
		retry:      opts.Retry,
	}
}

func (t *WebSearch) Name() string {
	return WebSearchToolName
}

func (t *WebSearch) Description() string {
	return "A search engine optimized for comprehensive, accurate, and trusted results. " +
		"Useful for when you need to answer questions about current events. " +
		"Input should be a search query."
}

type webSearchArgs struct {
	Query string `json:"query" description:"search query to look up"`
}

func (t *WebSearch) FunctionDefinition() *gollm.FunctionDefinition {
	return &gollm.FunctionDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  gollm.BuildSchemaFor(reflect.TypeOf(webSearchArgs{})),
	}
}

func (t *WebSearch) Run(ctx context.Context, args map[string]any) (any, error) {
	log := klog.FromContext(ctx)

	raw, ok := args["query"]
	if !ok {
		return nil, fmt.Errorf("%w: missing required argument \"query\"", ErrInvalidArguments)
	}
	query, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: \"query\" must be a string, got %T", ErrInvalidArguments, raw)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: \"query\" must not be empty", ErrInvalidArguments)
	}

	key := fmt.Sprintf("%d:%s", t.maxResults, strings.ToLower(query))
	if results, ok := t.cache.Get(key); ok {
		log.V(1).Info("web search cache hit", "query", query)
		return results, nil
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for search rate limit: %w", err)
	}

	results, err := gollm.Retry(ctx, t.retry, gollm.DefaultIsRetryableError, func(ctx context.Context) ([]SearchResult, error) {
		return t.searcher.Search(ctx, query, t.maxResults)
	})
	if err != nil {
		return nil, fmt.Errorf("searching for %q: %w", query, err)
	}
	log.V(1).Info("web search done", "query", query, "results", len(results))

	t.cache.Add(key, results)
	return results, nil
}
