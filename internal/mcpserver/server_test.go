package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"safelinks/dom"
	"safelinks/links"
)

const (
	wrapped = "https://urldefense.com/v3/__https://example.com/a*test__;Kw!!abc$"
	decoded = "https://example.com/a+test"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(links.New(links.WithLogger(logger)), dom.DefaultMarkers, logger, "test")
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error
	switch name {
	case "untangle_url":
		result, err = srv.untangleURL(ctx, req)
	case "is_wrapped":
		result, err = srv.isWrapped(ctx, req)
	case "clean_html":
		result, err = srv.cleanHTML(ctx, req)
	case "list_formats":
		result, err = srv.listFormats(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestUntangleURL(t *testing.T) {
	srv := testServer(t)

	res := callTool(t, srv, "untangle_url", map[string]interface{}{"url": wrapped})
	if res.IsError || resultText(res) != decoded {
		t.Fatalf("untangle_url = %q (error=%v)", resultText(res), res.IsError)
	}

	res = callTool(t, srv, "untangle_url", map[string]interface{}{})
	if !res.IsError {
		t.Fatalf("expected error for missing url")
	}
}

func TestIsWrapped(t *testing.T) {
	srv := testServer(t)

	res := callTool(t, srv, "is_wrapped", map[string]interface{}{"url": wrapped})
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(resultText(res)), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw["wrapped"] != true || raw["format"] != "urldefense-v3" || raw["destination"] != decoded {
		t.Fatalf("unexpected classification %v", raw)
	}

	res = callTool(t, srv, "is_wrapped", map[string]interface{}{"url": "https://example.com/"})
	raw = nil
	_ = json.Unmarshal([]byte(resultText(res)), &raw)
	if raw["wrapped"] != false || raw["format"] != "none" {
		t.Fatalf("unexpected classification %v", raw)
	}
}

func TestCleanHTML(t *testing.T) {
	srv := testServer(t)
	in := `<p><a href="` + wrapped + `">a</a></p><div class="sh-unquoted-content"><a href="` + wrapped + `">b</a></div>`

	res := callTool(t, srv, "clean_html", map[string]interface{}{"html": in})
	out := resultText(res)
	if res.IsError || strings.Count(out, `href="`+decoded+`"`) != 1 {
		t.Fatalf("clean_html = %s", out)
	}
	if strings.Contains(out, `title="`) {
		t.Fatalf("annotated without preview: %s", out)
	}

	res = callTool(t, srv, "clean_html", map[string]interface{}{"html": in, "preview": true})
	if out := resultText(res); !strings.Contains(out, `title="`+decoded+`"`) {
		t.Fatalf("preview annotation missing: %s", out)
	}
}

func TestListFormats(t *testing.T) {
	srv := testServer(t)
	res := callTool(t, srv, "list_formats", nil)
	want := "safelinks\nurldefense-v1\nurldefense-v2\nurldefense-v3"
	if got := resultText(res); got != want {
		t.Fatalf("list_formats = %q, want %q", got, want)
	}
}
