// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes link administration tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/krezek/linktrace/internal/linkreg"
)

// Server wraps the MCP server with link administration tools.
type Server struct {
	mcp      *server.MCPServer
	registry *linkreg.Registry
}

// New creates a new MCP server with all tools registered.
func New(registry *linkreg.Registry) *Server {
	s := &Server{registry: registry}

	s.mcp = server.NewMCPServer(
		"Linktrace",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_links",
		mcp.WithDescription("List all tracking links with their page IDs, numbers and URLs."),
	), s.listLinks)

	s.mcp.AddTool(mcp.NewTool("get_link",
		mcp.WithDescription("Read a tracking link, including its full visit log."),
		mcp.WithString("pageId", mcp.Required(), mcp.Description("Page identifier of the link")),
	), s.getLink)

	s.mcp.AddTool(mcp.NewTool("create_link",
		mcp.WithDescription("Create a new tracking link with the given title. "+
			"Returns the generated page ID, 6-digit number and shareable URL."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Human-readable title for the link")),
	), s.createLink)

	s.mcp.AddTool(mcp.NewTool("link_logs",
		mcp.WithDescription("Return the visit log entries recorded for a tracking link."),
		mcp.WithString("pageId", mcp.Required(), mcp.Description("Page identifier of the link")),
	), s.linkLogs)

	s.mcp.AddTool(mcp.NewTool("delete_link",
		mcp.WithDescription("Delete a tracking link and all of its visit log entries."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Internal numeric ID or page identifier of the link")),
	), s.deleteLink)

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

func (s *Server) listLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	links, err := s.registry.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	type row struct {
		Title  string `json:"title"`
		PageID string `json:"pageId"`
		Number int    `json:"number"`
		URL    string `json:"url"`
		Visits int    `json:"visits"`
	}
	rows := make([]row, 0, len(links))
	for _, l := range links {
		rows = append(rows, row{
			Title:  l.Title,
			PageID: l.PageID,
			Number: l.Number,
			URL:    l.URL,
			Visits: len(l.Logs),
		})
	}
	out, _ := json.MarshalIndent(rows, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID, err := req.RequireString("pageId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	link, err := s.registry.FindByPageID(ctx, pageID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", pageID)), nil
	}
	out, _ := json.MarshalIndent(link, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) createLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	link, err := s.registry.Create(ctx, title)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(link, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) linkLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID, err := req.RequireString("pageId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	link, err := s.registry.FindByPageID(ctx, pageID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", pageID)), nil
	}
	out, _ := json.MarshalIndent(link.Logs, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) deleteLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.registry.Delete(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}
