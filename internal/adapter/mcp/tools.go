package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
	"github.com/matross-gh/platform-engineering-copilot/internal/logger"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.processRequestTool(),
		s.getConversationTool(),
		s.listExecutorsTool(),
	)
}

func (s *Server) processRequestTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("process_request",
		mcplib.WithDescription("Send a platform engineering request to the copilot and return the orchestrated outcome"),
		mcplib.WithString("message",
			mcplib.Required(),
			mcplib.Description("The natural-language request"),
		),
		mcplib.WithString("conversation_id",
			mcplib.Description("Conversation to continue; a new one is created when omitted"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleProcessRequest,
	}
}

func (s *Server) getConversationTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_conversation",
		mcplib.WithDescription("Get the messages, results and workflow facts of a conversation"),
		mcplib.WithString("conversation_id",
			mcplib.Required(),
			mcplib.Description("The conversation ID to look up"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetConversation,
	}
}

func (s *Server) listExecutorsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_executors",
		mcplib.WithDescription("List the executor categories the copilot can route work to"),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleListExecutors,
	}
}

func (s *Server) handleProcessRequest(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Requests == nil {
		return mcplib.NewToolResultError("request processor not configured"), nil
	}
	args := req.GetArguments()
	message, _ := args["message"].(string)
	message = strings.TrimSpace(message)
	if message == "" {
		return mcplib.NewToolResultError("message is required"), nil
	}
	convID, _ := args["conversation_id"].(string)
	convID = strings.TrimSpace(convID)
	if convID != "" {
		ctx = logger.WithConversationID(ctx, convID)
	}

	out := s.deps.Requests.ProcessRequest(ctx, convID, message, nil)
	data, err := json.Marshal(out)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal outcome", err), nil
	}
	result := toolResultJSON(string(data))
	result.IsError = !out.Success
	return result, nil
}

func (s *Server) handleGetConversation(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Conversations == nil {
		return mcplib.NewToolResultError("conversation store not configured"), nil
	}
	args := req.GetArguments()
	convID, ok := args["conversation_id"].(string)
	if !ok || convID == "" {
		return mcplib.NewToolResultError("conversation_id is required"), nil
	}
	if !s.deps.Conversations.Has(convID) {
		return mcplib.NewToolResultError(fmt.Sprintf("conversation %s not found", convID)), nil
	}
	data, err := json.Marshal(s.deps.Conversations.Get(convID))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal conversation", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleListExecutors(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	data, err := json.Marshal(executor.Catalogue())
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal catalogue", err), nil
	}
	return toolResultJSON(string(data)), nil
}
