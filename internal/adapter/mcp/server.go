// Package mcp exposes the orchestrator as Model Context Protocol tools and
// resources over the streamable HTTP transport.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/matross-gh/platform-engineering-copilot/internal/domain/conversation"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/outcome"
)

// EndpointPath is where the streamable HTTP transport is served.
const EndpointPath = "/mcp"

// RequestProcessor runs one user request through the orchestration pipeline.
type RequestProcessor interface {
	ProcessRequest(ctx context.Context, conversationID, message string, existing *conversation.Context) *outcome.Outcome
}

// ConversationReader reads conversation state.
type ConversationReader interface {
	Has(id string) bool
	Get(id string) *conversation.Context
}

// ServerConfig holds MCP server identity and listener settings.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string
}

// ServerDeps are the services the tools call into. Nil members make the
// corresponding tools report an error.
type ServerDeps struct {
	Requests      RequestProcessor
	Conversations ConversationReader
}

// Server wraps an mcp-go server with the copilot tool surface.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	transport *mcpserver.StreamableHTTPServer

	mu   sync.Mutex
	http *http.Server
}

// NewServer creates the MCP server and registers tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	s.transport = mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithEndpointPath(EndpointPath),
	)
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the authenticated streamable HTTP handler for mounting
// on an existing router at EndpointPath.
func (s *Server) Handler() http.Handler {
	return AuthMiddleware(s.cfg.APIKey, s.transport)
}

// Start listens on the configured address and serves in the background.
// Bind errors are returned synchronously.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcp listen %s: %w", s.cfg.Addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(EndpointPath, s.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	go func() {
		slog.Info("mcp server started", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the standalone listener, if started.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.http = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	slog.Info("mcp server stopping")
	return srv.Shutdown(ctx)
}

// toolResultJSON wraps a JSON document as a text tool result.
func toolResultJSON(data string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.NewTextContent(data)},
	}
}
