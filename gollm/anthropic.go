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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"k8s.io/klog/v2"

	"github.com/sysdesign-mentor/searchagent/pkg/api"
)

const (
	defaultAnthropicBaseURL   = "https://api.anthropic.com"
	defaultAnthropicModel     = "claude-3-sonnet-20240229"
	defaultAnthropicMaxTokens = 1024
	anthropicVersion          = "2023-06-01"
)

func init() {
	if err := RegisterProvider("anthropic", newAnthropicClientFactory); err != nil {
		klog.Fatalf("Failed to register anthropic provider: %v", err)
	}
}

func newAnthropicClientFactory(ctx context.Context, opts ClientOptions) (Client, error) {
	return NewAnthropicClient(ctx, opts)
}

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

var _ Client = &AnthropicClient{}

// NewAnthropicClient creates a client from opts, falling back to
// ANTHROPIC_API_KEY and ANTHROPIC_BASE_URL.
func NewAnthropicClient(ctx context.Context, opts ClientOptions) (*AnthropicClient, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("Anthropic API key not found. Set via ANTHROPIC_API_KEY env var")
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("ANTHROPIC_BASE_URL")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	} else {
		klog.Infof("Using custom Anthropic base URL: %s", baseURL)
	}

	return &AnthropicClient{
		httpClient: httpClientFor(opts),
		baseURL:    baseURL,
		apiKey:     apiKey,
	}, nil
}

func (c *AnthropicClient) Close() error {
	return nil
}

func (c *AnthropicClient) StartChat(model string, opts ...ChatOption) Chat {
	if model == "" {
		model = defaultAnthropicModel
	}
	klog.V(1).Infof("Starting new Anthropic chat session with model: %s", model)
	return &anthropicChat{
		client:  c,
		model:   model,
		options: buildChatOptions(opts),
	}
}

type anthropicModelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (c *AnthropicClient) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("error listing models from Anthropic: %w", err)
	}
	defer resp.Body.Close()

	var list anthropicModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding anthropic model list: %w", err)
	}
	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// do sends a request and converts non-2xx replies into *APIError.
func (c *AnthropicClient) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			return nil, fmt.Errorf("encoding anthropic request: %w", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating anthropic request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Anthropic-Version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		return nil, readAnthropicError(resp)
	}
	return resp, nil
}

func readAnthropicError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: resp.Status, Err: err}
	}
	body = bytes.TrimSpace(body)

	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error.Type + ": " + errResp.Error.Message}
	}
	if len(body) == 0 {
		return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

// anthropicContentBlock is the union of text, tool_use and tool_result blocks.
type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Role       string                  `json:"role"`
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicChat struct {
	client  *AnthropicClient
	model   string
	options ChatOptions
	tools   []anthropicTool
}

var _ Chat = (*anthropicChat)(nil)

func (cs *anthropicChat) SetFunctionDefinitions(defs []*FunctionDefinition) error {
	cs.tools = nil
	for _, def := range defs {
		schema := def.Parameters
		if schema == nil {
			schema = &Schema{Type: TypeObject}
		}
		raw, err := json.Marshal(openAISchema{Schema: schema})
		if err != nil {
			return fmt.Errorf("converting parameters of function %s: %w", def.Name, err)
		}
		cs.tools = append(cs.tools, anthropicTool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: raw,
		})
	}
	klog.V(1).Infof("Set %d function definitions for Anthropic chat session", len(cs.tools))
	return nil
}

func (cs *anthropicChat) Send(ctx context.Context, messages []*api.Message) (ChatResponse, error) {
	system, history, err := toAnthropicMessages(messages)
	if err != nil {
		return nil, err
	}

	req := anthropicRequest{
		Model:       cs.model,
		System:      system,
		Messages:    history,
		MaxTokens:   cs.options.MaxTokens,
		Temperature: cs.options.Temperature,
		Tools:       cs.tools,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultAnthropicMaxTokens
	}

	klog.V(1).InfoS("Sending request to Anthropic Messages API", "model", cs.model, "messages", len(history), "tools", len(cs.tools))
	resp, err := cs.client.do(ctx, http.MethodPost, "/v1/messages", req)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages request failed: %w", err)
	}
	defer resp.Body.Close()

	var out anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding anthropic response: %w", err)
	}
	klog.V(1).InfoS("Received response from Anthropic Messages API", "id", out.ID, "stopReason", out.StopReason, "blocks", len(out.Content))
	return &anthropicChatResponse{resp: &out}, nil
}

func (cs *anthropicChat) IsRetryableError(err error) bool {
	var apiErr *APIError
	// 529 is Anthropic's "overloaded" status.
	if errors.As(err, &apiErr) && apiErr.StatusCode == 529 {
		return true
	}
	return DefaultIsRetryableError(err)
}

// toAnthropicMessages lifts system messages into the top-level system field and
// folds tool results into user turns. Consecutive turns of the same role are
// merged because the API requires alternating roles.
func toAnthropicMessages(messages []*api.Message) (string, []anthropicMessage, error) {
	var systemParts []string
	var out []anthropicMessage

	push := func(role string, blocks ...anthropicContentBlock) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropicMessage{Role: role, Content: blocks})
	}

	for _, msg := range messages {
		switch msg.Role {
		case api.RoleSystem:
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}
		case api.RoleUser:
			// The API rejects text blocks without text.
			if msg.Content == "" {
				continue
			}
			push("user", anthropicContentBlock{Type: "text", Text: msg.Content})
		case api.RoleTool:
			push("user", anthropicContentBlock{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			})
		case api.RoleAssistant:
			var blocks []anthropicContentBlock
			if msg.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				input := json.RawMessage("{}")
				if len(call.Arguments) > 0 {
					b, err := json.Marshal(call.Arguments)
					if err != nil {
						return "", nil, fmt.Errorf("marshalling arguments of tool call %q: %w", call.ID, err)
					}
					input = b
				}
				blocks = append(blocks, anthropicContentBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: input,
				})
			}
			if len(blocks) == 0 {
				continue
			}
			push("assistant", blocks...)
		default:
			return "", nil, fmt.Errorf("unhandled message role: %q", msg.Role)
		}
	}
	return strings.Join(systemParts, "\n\n"), out, nil
}

type anthropicChatResponse struct {
	resp *anthropicResponse
}

var _ ChatResponse = (*anthropicChatResponse)(nil)

func (r *anthropicChatResponse) UsageMetadata() any {
	return r.resp.Usage
}

func (r *anthropicChatResponse) Candidates() []Candidate {
	// The Messages API returns exactly one message per request.
	return []Candidate{&anthropicCandidate{resp: r.resp}}
}

type anthropicCandidate struct {
	resp *anthropicResponse
}

func (c *anthropicCandidate) String() string {
	return fmt.Sprintf("Candidate(StopReason: %s, Blocks: %d)", c.resp.StopReason, len(c.resp.Content))
}

func (c *anthropicCandidate) Parts() []Part {
	var parts []Part
	var calls []FunctionCall
	for _, block := range c.resp.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				parts = append(parts, &anthropicPart{text: block.Text})
			}
		case "tool_use":
			args := make(map[string]any)
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					klog.V(2).Infof("Error unmarshalling tool_use input for %s: %v", block.Name, err)
					args = make(map[string]any)
				}
			}
			calls = append(calls, FunctionCall{ID: block.ID, Name: block.Name, Arguments: args})
		default:
			klog.V(2).Infof("Ignoring anthropic content block of type %q", block.Type)
		}
	}
	if len(calls) > 0 {
		parts = append(parts, &anthropicPart{calls: calls})
	}
	return parts
}

type anthropicPart struct {
	text  string
	calls []FunctionCall
}

func (p *anthropicPart) AsText() (string, bool) {
	return p.text, p.text != ""
}

func (p *anthropicPart) AsFunctionCalls() ([]FunctionCall, bool) {
	return p.calls, len(p.calls) > 0
}
