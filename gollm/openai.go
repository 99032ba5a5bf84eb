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
	"encoding/json"
	"errors"
	"fmt"
	"os"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"k8s.io/klog/v2"

	"github.com/sysdesign-mentor/searchagent/pkg/api"
)

const defaultOpenAIModel = "gpt-4o"

// init registers the OpenAI provider factory.
// OPENAI_API_KEY, OPENAI_ENDPOINT and OPENAI_API_BASE are read when a client is built.
func init() {
	if err := RegisterProvider("openai", newOpenAIClientFactory); err != nil {
		klog.Fatalf("Failed to register openai provider: %v", err)
	}
}

// OpenAIClient implements the gollm.Client interface for OpenAI models.
type OpenAIClient struct {
	client openai.Client
}

// Ensure OpenAIClient implements the Client interface.
var _ Client = &OpenAIClient{}

// NewOpenAIClient creates a new client for interacting with OpenAI.
func NewOpenAIClient(ctx context.Context, opts ClientOptions) (*OpenAIClient, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("OpenAI API key not found. Set via OPENAI_API_KEY env var")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// retries are handled by the retryChat decorator
		option.WithMaxRetries(0),
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_ENDPOINT")
	}
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_API_BASE")
	}
	if baseURL != "" {
		klog.Infof("Using custom OpenAI base URL: %s", baseURL)
		options = append(options, option.WithBaseURL(baseURL))
	}

	options = append(options, option.WithHTTPClient(httpClientFor(opts)))

	return &OpenAIClient{
		client: openai.NewClient(options...),
	}, nil
}

// Close cleans up any resources used by the client.
func (c *OpenAIClient) Close() error {
	return nil
}

// StartChat starts a new chat session.
func (c *OpenAIClient) StartChat(model string, opts ...ChatOption) Chat {
	if model == "" {
		model = defaultOpenAIModel
	}
	klog.V(1).Infof("Starting new OpenAI chat session with model: %s", model)

	return &openAIChatSession{
		client:  c.client,
		model:   model,
		options: buildChatOptions(opts),
	}
}

// ListModels returns a slice of strings with model IDs.
func (c *OpenAIClient) ListModels(ctx context.Context) ([]string, error) {
	res, err := c.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing models from OpenAI: %w", convertOpenAIError(err))
	}

	modelIDs := make([]string, 0, len(res.Data))
	for _, model := range res.Data {
		modelIDs = append(modelIDs, model.ID)
	}
	return modelIDs, nil
}

type openAIChatSession struct {
	client              openai.Client
	model               string
	options             ChatOptions
	functionDefinitions []*FunctionDefinition
	tools               []openai.ChatCompletionToolParam
}

// Ensure openAIChatSession implements the Chat interface.
var _ Chat = (*openAIChatSession)(nil)

// SetFunctionDefinitions stores the function definitions and converts them to OpenAI format.
func (cs *openAIChatSession) SetFunctionDefinitions(defs []*FunctionDefinition) error {
	cs.functionDefinitions = defs
	cs.tools = nil
	for _, def := range defs {
		params, err := convertFunctionParameters(def)
		if err != nil {
			return fmt.Errorf("failed to process parameters for function %s: %w", def.Name, err)
		}
		cs.tools = append(cs.tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  params,
			},
		})
	}
	klog.V(1).Infof("Set %d function definitions for OpenAI chat session", len(cs.functionDefinitions))
	return nil
}

// Send converts the conversation to OpenAI messages and gets the LLM response.
func (cs *openAIChatSession) Send(ctx context.Context, messages []*api.Message) (ChatResponse, error) {
	history, err := toOpenAIMessages(messages)
	if err != nil {
		return nil, err
	}

	chatReq := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(cs.model),
		Messages: history,
	}
	if cs.options.Temperature != nil {
		chatReq.Temperature = openai.Float(*cs.options.Temperature)
	}
	if cs.options.MaxTokens > 0 {
		chatReq.MaxTokens = openai.Int(int64(cs.options.MaxTokens))
	}
	if len(cs.tools) > 0 {
		chatReq.Tools = cs.tools
	}

	klog.V(1).InfoS("Sending request to OpenAI Chat API", "model", cs.model, "messages", len(chatReq.Messages), "tools", len(chatReq.Tools))
	completion, err := cs.client.Chat.Completions.New(ctx, chatReq)
	if err != nil {
		klog.Errorf("OpenAI ChatCompletion API error: %v", err)
		return nil, fmt.Errorf("OpenAI chat completion failed: %w", convertOpenAIError(err))
	}
	klog.V(1).InfoS("Received response from OpenAI Chat API", "id", completion.ID, "choices", len(completion.Choices))

	if len(completion.Choices) == 0 {
		return nil, errors.New("received empty response from OpenAI (no choices)")
	}

	return &openAIChatResponse{openaiCompletion: completion}, nil
}

// IsRetryableError determines if an error from the OpenAI API should be retried.
func (cs *openAIChatSession) IsRetryableError(err error) bool {
	return DefaultIsRetryableError(err)
}

// convertOpenAIError maps SDK errors to APIError so they can be classified for retries.
func convertOpenAIError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return &APIError{
			StatusCode: apierr.StatusCode,
			Message:    apierr.Message,
			Err:        err,
		}
	}
	return err
}

// toOpenAIMessages converts the conversation into the chat completion message union.
func toOpenAIMessages(messages []*api.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	history := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case api.RoleSystem:
			history = append(history, openai.SystemMessage(msg.Content))
		case api.RoleUser:
			history = append(history, openai.UserMessage(msg.Content))
		case api.RoleTool:
			history = append(history, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case api.RoleAssistant:
			if !msg.HasToolCalls() {
				history = append(history, openai.AssistantMessage(msg.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			for _, call := range msg.ToolCalls {
				args := []byte("{}")
				if len(call.Arguments) > 0 {
					b, err := json.Marshal(call.Arguments)
					if err != nil {
						return nil, fmt.Errorf("marshalling arguments of tool call %q: %w", call.ID, err)
					}
					args = b
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			history = append(history, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		default:
			return nil, fmt.Errorf("unhandled message role: %q", msg.Role)
		}
	}
	return history, nil
}

type openAIChatResponse struct {
	openaiCompletion *openai.ChatCompletion
}

var _ ChatResponse = (*openAIChatResponse)(nil)

func (r *openAIChatResponse) UsageMetadata() any {
	if r.openaiCompletion != nil && r.openaiCompletion.Usage.TotalTokens > 0 {
		return r.openaiCompletion.Usage
	}
	return nil
}

func (r *openAIChatResponse) Candidates() []Candidate {
	if r.openaiCompletion == nil {
		return nil
	}
	candidates := make([]Candidate, len(r.openaiCompletion.Choices))
	for i := range r.openaiCompletion.Choices {
		candidates[i] = &openAICandidate{openaiChoice: &r.openaiCompletion.Choices[i]}
	}
	return candidates
}

type openAICandidate struct {
	openaiChoice *openai.ChatCompletionChoice
}

var _ Candidate = (*openAICandidate)(nil)

func (c *openAICandidate) Parts() []Part {
	if c.openaiChoice == nil {
		return nil
	}

	// OpenAI message can have Content AND ToolCalls
	var parts []Part
	if c.openaiChoice.Message.Content != "" {
		parts = append(parts, &openAIPart{content: c.openaiChoice.Message.Content})
	}
	if len(c.openaiChoice.Message.ToolCalls) > 0 {
		parts = append(parts, &openAIPart{toolCalls: c.openaiChoice.Message.ToolCalls})
	}
	return parts
}

// String provides a simple string representation for logging/debugging.
func (c *openAICandidate) String() string {
	if c.openaiChoice == nil {
		return "<nil candidate>"
	}
	content := "<no content>"
	if c.openaiChoice.Message.Content != "" {
		content = c.openaiChoice.Message.Content
	}
	toolCalls := len(c.openaiChoice.Message.ToolCalls)
	finishReason := string(c.openaiChoice.FinishReason)
	return fmt.Sprintf("Candidate(FinishReason: %s, ToolCalls: %d, Content: %q)", finishReason, toolCalls, content)
}

type openAIPart struct {
	content   string
	toolCalls []openai.ChatCompletionMessageToolCall
}

var _ Part = (*openAIPart)(nil)

func (p *openAIPart) AsText() (string, bool) {
	return p.content, p.content != ""
}

func (p *openAIPart) AsFunctionCalls() ([]FunctionCall, bool) {
	return convertToolCallsToFunctionCalls(p.toolCalls)
}

// convertSchemaForOpenAI converts and transforms a schema for OpenAI compatibility
func convertSchemaForOpenAI(schema *Schema) (*Schema, error) {
	if schema == nil {
		return &Schema{
			Type:       TypeObject,
			Properties: make(map[string]*Schema),
		}, nil
	}

	// Create a deep copy to avoid modifying the original
	validated := &Schema{
		Description: schema.Description,
		Required:    make([]string, len(schema.Required)),
	}
	copy(validated.Required, schema.Required)

	switch schema.Type {
	case TypeObject:
		validated.Type = TypeObject
		// Objects MUST have properties for OpenAI (even if empty)
		validated.Properties = make(map[string]*Schema)
		for key, prop := range schema.Properties {
			validatedProp, err := convertSchemaForOpenAI(prop)
			if err != nil {
				return nil, fmt.Errorf("validating property %q: %w", key, err)
			}
			validated.Properties[key] = validatedProp
		}

	case TypeArray:
		validated.Type = TypeArray
		if schema.Items != nil {
			validatedItems, err := convertSchemaForOpenAI(schema.Items)
			if err != nil {
				return nil, fmt.Errorf("validating array items: %w", err)
			}
			validated.Items = validatedItems
		} else {
			validated.Items = &Schema{Type: TypeString}
		}

	case TypeString, TypeNumber, TypeBoolean:
		validated.Type = schema.Type

	case TypeInteger:
		// OpenAI prefers "number" for integers
		validated.Type = TypeNumber

	case "":
		klog.Warningf("Schema has no type, defaulting to object")
		validated.Type = TypeObject
		validated.Properties = make(map[string]*Schema)

	default:
		klog.Warningf("Unknown schema type '%s', defaulting to object", schema.Type)
		validated.Type = TypeObject
		validated.Properties = make(map[string]*Schema)
	}

	return validated, nil
}

// convertFunctionParameters handles the conversion of gollm parameters to OpenAI format
func convertFunctionParameters(def *FunctionDefinition) (openai.FunctionParameters, error) {
	var params openai.FunctionParameters

	if def.Parameters == nil {
		return params, nil
	}

	validatedSchema, err := convertSchemaForOpenAI(def.Parameters)
	if err != nil {
		return params, fmt.Errorf("schema conversion failed: %w", err)
	}

	schemaBytes, err := json.Marshal(openAISchema{Schema: validatedSchema})
	if err != nil {
		return params, fmt.Errorf("failed to convert schema: %w", err)
	}
	klog.V(2).Infof("OpenAI schema for function %s: %s", def.Name, string(schemaBytes))

	if err := json.Unmarshal(schemaBytes, &params); err != nil {
		return params, fmt.Errorf("failed to unmarshal schema: %w", err)
	}
	return params, nil
}

// openAISchema wraps a gollm Schema with OpenAI-specific marshaling behavior
type openAISchema struct {
	*Schema
}

// MarshalJSON ensures object schemas always carry a properties field
func (s openAISchema) MarshalJSON() ([]byte, error) {
	result := make(map[string]any)

	if s.Type != "" {
		result["type"] = s.Type
	}
	if s.Description != "" {
		result["description"] = s.Description
	}
	if len(s.Required) > 0 {
		result["required"] = s.Required
	}

	if s.Type == TypeObject {
		if s.Properties != nil {
			result["properties"] = s.Properties
		} else {
			result["properties"] = make(map[string]*Schema)
		}
	} else if len(s.Properties) > 0 {
		result["properties"] = s.Properties
	}

	if s.Items != nil {
		result["items"] = s.Items
	}

	return json.Marshal(result)
}

func newOpenAIClientFactory(ctx context.Context, opts ClientOptions) (Client, error) {
	return NewOpenAIClient(ctx, opts)
}

// convertToolCallsToFunctionCalls converts OpenAI tool calls to gollm function calls
func convertToolCallsToFunctionCalls(toolCalls []openai.ChatCompletionMessageToolCall) ([]FunctionCall, bool) {
	if len(toolCalls) == 0 {
		return nil, false
	}

	calls := make([]FunctionCall, 0, len(toolCalls))
	for _, tc := range toolCalls {
		if tc.Function.Name == "" {
			klog.V(2).Infof("Skipping non-function tool call ID: %s", tc.ID)
			continue
		}

		args := make(map[string]any)
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				klog.V(2).Infof("Error unmarshalling function arguments for %s: %v", tc.Function.Name, err)
				args = make(map[string]any)
			}
		}

		calls = append(calls, FunctionCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return calls, len(calls) > 0
}
