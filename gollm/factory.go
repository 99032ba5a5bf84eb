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

package gollm

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sysdesign-mentor/searchagent/pkg/api"
	"k8s.io/klog/v2"
)

var globalRegistry registry

type registry struct {
	mutex     sync.Mutex
	providers map[string]FactoryFunc
}

// ClientOptions are the settings handed to a provider factory.
type ClientOptions struct {
	// URL is the parsed provider id, e.g. anthropic:// or openai://
	URL           *url.URL
	SkipVerifySSL bool
	// HTTPClient overrides the HTTP client used by the provider.
	HTTPClient *http.Client
	// APIKey overrides the provider's API key environment variable.
	APIKey string
	// BaseURL overrides the provider's default endpoint.
	BaseURL string
}

type Option func(*ClientOptions)

func WithSkipVerifySSL() Option {
	return func(o *ClientOptions) {
		o.SkipVerifySSL = true
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *ClientOptions) {
		o.HTTPClient = c
	}
}

func WithAPIKey(key string) Option {
	return func(o *ClientOptions) {
		o.APIKey = key
	}
}

func WithBaseURL(baseURL string) Option {
	return func(o *ClientOptions) {
		o.BaseURL = baseURL
	}
}

type FactoryFunc func(ctx context.Context, opts ClientOptions) (Client, error)

func RegisterProvider(id string, factoryFunc FactoryFunc) error {
	return globalRegistry.RegisterProvider(id, factoryFunc)
}

// Providers returns the registered provider ids in sorted order.
func Providers() []string {
	return globalRegistry.Providers()
}

func (r *registry) RegisterProvider(id string, factoryFunc FactoryFunc) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.providers == nil {
		r.providers = make(map[string]FactoryFunc)
	}
	_, exists := r.providers[id]
	if exists {
		return fmt.Errorf("provider %q is already registered", id)
	}
	r.providers[id] = factoryFunc
	return nil
}

func (r *registry) Providers() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *registry) NewClient(ctx context.Context, providerID string, opts ...Option) (Client, error) {
	// providerID can be just an ID, for example "openai" instead of "openai://"
	if !strings.Contains(providerID, "/") && !strings.Contains(providerID, ":") {
		providerID = providerID + "://"
	}

	u, err := url.Parse(providerID)
	if err != nil {
		return nil, fmt.Errorf("parsing provider id %q: %w", providerID, err)
	}

	r.mutex.Lock()
	factoryFunc := r.providers[u.Scheme]
	r.mutex.Unlock()
	if factoryFunc == nil {
		return nil, fmt.Errorf("provider %q not registered", u.Scheme)
	}

	clientOpts := ClientOptions{URL: u}
	for _, opt := range opts {
		opt(&clientOpts)
	}
	return factoryFunc(ctx, clientOpts)
}

// NewClient builds a Client for the given provider id, e.g. "anthropic" or "openai".
func NewClient(ctx context.Context, providerID string, opts ...Option) (Client, error) {
	if providerID == "" {
		return nil, fmt.Errorf("provider id is required")
	}
	return globalRegistry.NewClient(ctx, providerID, opts...)
}

// createCustomHTTPClient returns the HTTP client used by the providers.
func createCustomHTTPClient(skipVerify bool) *http.Client {
	if !skipVerify {
		return http.DefaultClient
	}
	klog.Warning("SSL certificate verification is disabled for the LLM provider")
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return &http.Client{Transport: transport}
}

func httpClientFor(opts ClientOptions) *http.Client {
	if opts.HTTPClient != nil {
		return opts.HTTPClient
	}
	return createCustomHTTPClient(opts.SkipVerifySSL)
}

// APIError represents an error returned by the LLM client.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("API Error: Status=%d, Message='%s', OriginalErr=%v", e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("API Error: Status=%d, Message='%s'", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsRetryableFunc defines the signature for functions that check if an error is retryable.
type IsRetryableFunc func(error) bool

// DefaultIsRetryableError provides a default implementation based on common HTTP codes and network errors.
func DefaultIsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusConflict, http.StatusTooManyRequests,
			http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// RetryConfig holds the configuration for the retry mechanism
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         bool
}

// DefaultRetryConfig provides sensible defaults
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:    5,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         true,
}

// Retry executes the provided operation with retries, returning the result and error.
func Retry[T any](
	ctx context.Context,
	config RetryConfig,
	isRetryable IsRetryableFunc,
	operation func(ctx context.Context) (T, error),
) (T, error) {
	var lastErr error
	var zero T

	log := klog.FromContext(ctx)

	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result, err := operation(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Check if context was cancelled *after* the operation
		select {
		case <-ctx.Done():
			log.Info("Context cancelled after failed attempt", "attempt", attempt)
			return zero, ctx.Err()
		default:
		}

		if !isRetryable(lastErr) {
			log.Info("Attempt failed with non-retryable error", "attempt", attempt, "error", lastErr)
			return zero, lastErr
		}

		log.Info("Attempt failed with retryable error", "attempt", attempt, "error", lastErr)

		if attempt == config.MaxAttempts {
			break
		}

		waitTime := backoff
		if config.Jitter {
			waitTime += time.Duration(rand.Float64() * float64(backoff) / 2)
		}

		log.Info("Waiting before next attempt", "waitTime", waitTime, "attempt", attempt+1, "maxAttempts", config.MaxAttempts)

		select {
		case <-time.After(waitTime):
		case <-ctx.Done():
			log.Info("Context cancelled while waiting for retry", "attempt", attempt)
			return zero, ctx.Err()
		}

		backoff = time.Duration(float64(backoff) * config.BackoffFactor)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return zero, fmt.Errorf("operation failed after %d attempts: %w", config.MaxAttempts, lastErr)
}

// retryChat is a generic decorator that adds retry logic to any Chat implementation.
type retryChat[C Chat] struct {
	underlying C
	config     RetryConfig
}

// NewRetryChat creates a new Chat that wraps the given underlying chat
// with retry logic using the provided configuration.
// It returns the Chat interface type, hiding the generic implementation detail.
func NewRetryChat[C Chat](
	underlying C,
	config RetryConfig,
) Chat {
	return &retryChat[C]{
		underlying: underlying,
		config:     config,
	}
}

func (rc *retryChat[C]) Send(ctx context.Context, messages []*api.Message) (ChatResponse, error) {
	operation := func(ctx context.Context) (ChatResponse, error) {
		return rc.underlying.Send(ctx, messages)
	}
	return Retry[ChatResponse](ctx, rc.config, rc.underlying.IsRetryableError, operation)
}

func (rc *retryChat[C]) SetFunctionDefinitions(functionDefinitions []*FunctionDefinition) error {
	return rc.underlying.SetFunctionDefinitions(functionDefinitions)
}

func (rc *retryChat[C]) IsRetryableError(err error) bool {
	return rc.underlying.IsRetryableError(err)
}
