// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the tool enrichment cache for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/toolvault/internal/apperr"
	"github.com/starford/toolvault/internal/enrich"
	"github.com/starford/toolvault/internal/models"
)

// mcpCallerID is the quota ledger identity for requests arriving over
// stdio. The transport is local, so the caller counts as verified.
const mcpCallerID = "mcp"

// Server wraps the MCP server with enrichment tools.
type Server struct {
	mcp *server.MCPServer
	svc *enrich.Service
}

// New creates a new MCP server with all enrichment tools registered.
func New(svc *enrich.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"ToolVault",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("enrich_tool",
		mcp.WithDescription("Resolve a tool URL or name to an enriched record from the "+
			"shared cache, calling the AI provider on a cache miss. Misses consume the "+
			"caller's enrichment quota; cache hits are free."),
		mcp.WithString("input", mcp.Required(), mcp.Description("Tool website URL or plain tool name (e.g. https://zapier.com or Zapier)")),
		mcp.WithString("categories", mcp.Description("Optional comma-separated category hints")),
	), s.enrichTool)

	s.mcp.AddTool(mcp.NewTool("lookup_tool",
		mcp.WithDescription("Look up a tool in the shared cache without triggering "+
			"enrichment. Returns an error if the tool is not cached."),
		mcp.WithString("input", mcp.Required(), mcp.Description("Tool website URL or plain tool name")),
	), s.lookupTool)

	s.mcp.AddTool(mcp.NewTool("list_categories",
		mcp.WithDescription("List the closed set of tool categories used for enrichment hints."),
	), s.listCategories)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) enrichTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := req.RequireString("input")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var hints []string
	if raw := req.GetString("categories", ""); raw != "" {
		for _, h := range strings.Split(raw, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hints = append(hints, h)
			}
		}
	}

	tool, err := s.svc.Enrich(ctx, enrich.Request{
		Input:          input,
		CategoryHints:  hints,
		CallerID:       mcpCallerID,
		CallerVerified: true,
	})
	if err != nil {
		return mcp.NewToolResultError(enrichErrText(err)), nil
	}
	out, _ := json.MarshalIndent(tool, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) lookupTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := req.RequireString("input")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tool, err := s.svc.Lookup(ctx, input)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not cached: %s", input)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(tool, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listCategories(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(strings.Join(models.DefaultCategories, "\n")), nil
}

// enrichErrText flattens the error taxonomy into guidance an LLM client
// can act on.
func enrichErrText(err error) string {
	var rl *apperr.RateLimitError
	switch {
	case errors.As(err, &rl):
		return fmt.Sprintf("rate limit exceeded (%s quota); retry after %s", rl.Scope, rl.RetryAfter)
	case errors.Is(err, apperr.ErrConflict):
		return "enrichment already in progress for this tool; retry shortly"
	case errors.Is(err, apperr.ErrUnresolvedIdentity):
		return "could not determine an official website for this tool"
	case errors.Is(err, apperr.ErrProvider):
		return "enrichment provider failed; retry later"
	default:
		return err.Error()
	}
}
