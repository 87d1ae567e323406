// Package mcpserver exposes the link decoder to LLM clients as MCP tools
// over stdio.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"safelinks/cleaner"
	"safelinks/dom"
	"safelinks/links"
)

// Server wraps the MCP server with the safelinks tools.
type Server struct {
	mcp       *server.MCPServer
	untangler *links.Untangler
	markers   dom.Markers
	logger    *slog.Logger
}

// New creates a new MCP server with all tools registered.
func New(u *links.Untangler, markers dom.Markers, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if u == nil {
		u = links.New(links.WithLogger(logger))
	}
	s := &Server{untangler: u, markers: markers, logger: logger}

	s.mcp = server.NewMCPServer(
		"safelinks",
		version,
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("untangle_url",
		mcp.WithDescription("Decode a Safe Links or URL Defense wrapped link back to the destination the sender wrote. "+
			"Text around the link is kept; input without a wrapped link is returned unchanged."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Wrapped link, or text containing one")),
	), s.untangleURL)

	s.mcp.AddTool(mcp.NewTool("is_wrapped",
		mcp.WithDescription("Report whether text contains a wrapped link and which wrapping format it uses."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Link or text to classify")),
	), s.isWrapped)

	s.mcp.AddTool(mcp.NewTool("clean_html",
		mcp.WithDescription("Rewrite every wrapped link in an HTML message to its destination. "+
			"Content inside the compose region is left untouched."),
		mcp.WithString("html", mcp.Required(), mcp.Description("HTML document or fragment")),
		mcp.WithBoolean("preview", mcp.Description("List the destinations of links left wrapped in the compose region")),
	), s.cleanHTML)

	s.mcp.AddTool(mcp.NewTool("list_formats",
		mcp.WithDescription("List the link-wrapping formats the decoder understands, in matching order."),
	), s.listFormats)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) untangleURL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(s.untangler.Untangle(raw)), nil
}

type classification struct {
	Wrapped     bool         `json:"wrapped"`
	Format      links.Format `json:"format"`
	Destination string       `json:"destination,omitempty"`
}

func (s *Server) isWrapped(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c := classification{Wrapped: s.untangler.IsWrapped(raw), Format: s.untangler.Detect(raw)}
	if c.Wrapped {
		c.Destination = s.untangler.Untangle(raw)
	}
	out, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) cleanHTML(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, err := req.RequireString("html")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := []cleaner.Option{
		cleaner.WithUntangler(s.untangler),
		cleaner.WithMarkers(s.markers),
		cleaner.WithLogger(s.logger),
	}
	if req.GetBool("preview", false) {
		opts = append(opts, cleaner.WithPreview(""))
	}
	var buf bytes.Buffer
	res, err := cleaner.Clean(strings.NewReader(src), &buf, opts...)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.logger.Debug("mcp: clean_html", slog.Int("anchors", res.Anchors), slog.Int("texts", res.Texts))
	return mcp.NewToolResultText(buf.String()), nil
}

func (s *Server) listFormats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names := make([]string, 0, len(links.Formats()))
	for _, f := range links.Formats() {
		names = append(names, f.String())
	}
	return mcp.NewToolResultText(strings.Join(names, "\n")), nil
}
