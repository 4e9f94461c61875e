package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
)

const (
	executorsURI         = "copilot://executors"
	conversationURIBase  = "copilot://conversations/"
	conversationTemplate = conversationURIBase + "{id}"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			executorsURI,
			"Executor Catalogue",
			mcplib.WithResourceDescription("Executor categories and what each one handles"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleExecutorsResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			conversationTemplate,
			"Conversation",
			mcplib.WithTemplateDescription("Messages, results and workflow facts of one conversation"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleConversationResource,
	)
}

func (s *Server) handleExecutorsResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.Marshal(executor.Catalogue())
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, data), nil
}

func (s *Server) handleConversationResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Conversations == nil {
		return jsonContents(req.Params.URI, []byte(`{"error":"conversation store not configured"}`)), nil
	}
	id := strings.TrimPrefix(req.Params.URI, conversationURIBase)
	if id == "" || id == req.Params.URI {
		return nil, fmt.Errorf("invalid conversation uri %q", req.Params.URI)
	}
	if !s.deps.Conversations.Has(id) {
		return nil, fmt.Errorf("conversation %s not found", id)
	}
	data, err := json.Marshal(s.deps.Conversations.Get(id))
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, data), nil
}

func jsonContents(uri string, data []byte) []mcplib.ResourceContents {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}
}
