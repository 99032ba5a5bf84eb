// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"k8s.io/klog/v2"

	"github.com/sysdesign-mentor/searchagent/pkg/api"
	"github.com/sysdesign-mentor/searchagent/pkg/tools"
)

// searchMCPServer exposes the tool set to MCP clients.
type searchMCPServer struct {
	server *server.MCPServer
	tools  *tools.Tools
}

func newSearchMCPServer(toolset *tools.Tools) (*searchMCPServer, error) {
	s := &searchMCPServer{
		server: server.NewMCPServer(
			"searchagent",
			version,
			server.WithToolCapabilities(true),
		),
		tools: toolset,
	}
	for _, tool := range s.tools.AllTools() {
		toolDefn := tool.FunctionDefinition()
		toolInputSchema, err := toolDefn.Parameters.ToRawSchema()
		if err != nil {
			return nil, fmt.Errorf("converting tool schema to json.RawMessage: %w", err)
		}
		s.server.AddTool(mcp.NewToolWithRawSchema(
			toolDefn.Name,
			toolDefn.Description,
			toolInputSchema,
		), s.handleToolCall)
	}
	return s, nil
}

func (s *searchMCPServer) Serve(ctx context.Context) error {
	return server.ServeStdio(s.server)
}

func (s *searchMCPServer) handleToolCall(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	log := klog.FromContext(ctx)

	name := request.Params.Name
	args := request.GetArguments()
	log.Info("Received tool call", "tool", name, "arguments", args)

	msg, err := s.tools.RunToolCall(ctx, api.ToolCall{Name: name, Arguments: args})
	if err != nil {
		log.Error(err, "Error running tool call")
		return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
	}
	log.V(1).Info("Tool call output", "tool", name, "result", msg.Content)
	return mcp.NewToolResultText(msg.Content), nil
}

func startMCPServer(ctx context.Context, opt Options) error {
	toolset, err := newToolset(opt)
	if err != nil {
		return err
	}
	mcpServer, err := newSearchMCPServer(toolset)
	if err != nil {
		return fmt.Errorf("creating mcp server: %w", err)
	}
	return mcpServer.Serve(ctx)
}
