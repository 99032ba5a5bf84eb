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
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/sysdesign-mentor/searchagent/pkg/api"
	"github.com/sysdesign-mentor/searchagent/pkg/tools"
)

//go:embed systemprompt_template_default.txt
var defaultSystemPromptTemplate string

type PromptOptions struct {
	// TemplateFile replaces the default system prompt template.
	TemplateFile string
	// ExtraPromptPaths are appended to the template, in order.
	ExtraPromptPaths []string
	// Tools is exposed to the template as .Tools.
	Tools *tools.Tools
}

// PromptData is the data the system prompt template is rendered with.
type PromptData struct {
	Tools *tools.Tools
}

func (d *PromptData) ToolNames() string {
	if d.Tools == nil {
		return ""
	}
	return strings.Join(d.Tools.Names(), ", ")
}

// PromptAssembler prepends the system prompt to outgoing requests.
type PromptAssembler struct {
	systemPrompt string
}

// NewPromptAssembler renders the system prompt once; Assemble never re-reads the templates.
func NewPromptAssembler(opts PromptOptions) (*PromptAssembler, error) {
	promptTemplate := defaultSystemPromptTemplate
	if opts.TemplateFile != "" {
		content, err := os.ReadFile(opts.TemplateFile)
		if err != nil {
			return nil, fmt.Errorf("reading template file: %w", err)
		}
		promptTemplate = string(content)
	}

	for _, extraPromptPath := range opts.ExtraPromptPaths {
		content, err := os.ReadFile(extraPromptPath)
		if err != nil {
			return nil, fmt.Errorf("reading extra prompt path: %w", err)
		}
		promptTemplate += "\n" + string(content)
	}

	tmpl, err := template.New("promptTemplate").Parse(promptTemplate)
	if err != nil {
		return nil, fmt.Errorf("building template for prompt: %w", err)
	}

	var result strings.Builder
	if err := tmpl.Execute(&result, &PromptData{Tools: opts.Tools}); err != nil {
		return nil, fmt.Errorf("evaluating template for prompt: %w", err)
	}
	return &PromptAssembler{systemPrompt: result.String()}, nil
}

func (p *PromptAssembler) SystemPrompt() string {
	return p.systemPrompt
}

// Assemble returns a new sequence: the system message followed by every message of conv.
// conv is not modified.
func (p *PromptAssembler) Assemble(conv *api.Conversation) []*api.Message {
	messages := conv.Messages()
	out := make([]*api.Message, 0, len(messages)+1)
	out = append(out, &api.Message{Role: api.RoleSystem, Content: p.systemPrompt})
	return append(out, messages...)
}
