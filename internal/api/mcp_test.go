package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/vidsum/internal/completion"
	"github.com/kalambet/vidsum/internal/qa"
	"github.com/kalambet/vidsum/internal/session"
	"github.com/kalambet/vidsum/internal/storage"
	"github.com/kalambet/vidsum/internal/upstream"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *fakeUpstream) {
	t.Helper()
	fake := &fakeUpstream{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	client, err := upstream.NewClient(srv.URL, 0)
	if err != nil {
		t.Fatalf("upstream.NewClient: %v", err)
	}
	provider := completion.NewOpenRouter(completion.Config{BaseURL: srv.URL, Model: "test-model"})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return MCPDeps{
		Orchestrator: qa.New(upstream.NewGateway(client, provider, upstream.GatewayConfig{}), logger),
		Sessions:     session.NewRegistry(db, logger),
		Summaries:    db,
		Version:      "test",
	}, fake
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_LoadThenAsk(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	ctx := context.Background()

	result, err := mcpLoadVideo(deps)(ctx, makeCallToolRequest("load_video", map[string]interface{}{
		"url": testVideo,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); text != "A video about X." {
		t.Fatalf("unexpected summary: %s", text)
	}

	result, err = mcpAsk(deps)(ctx, makeCallToolRequest("ask", map[string]interface{}{
		"question": "What is X?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); text != "X is a thing." {
		t.Fatalf("unexpected answer: %s", text)
	}
}

func TestMCPTool_AskWithoutLoad(t *testing.T) {
	deps, fake := newTestMCPDeps(t)

	result, err := mcpAsk(deps)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"question": "What is X?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if fake.completions.Load() != 0 {
		t.Error("completion endpoint was called")
	}
}

func TestMCPTool_MissingArguments(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	ctx := context.Background()

	for name, h := range map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"load_video": mcpLoadVideo(deps),
		"ask":        mcpAsk(deps),
		"questions":  mcpQuestions(deps),
	} {
		result, err := h(ctx, makeCallToolRequest(name, map[string]interface{}{}))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if !result.IsError {
			t.Errorf("%s: expected error result", name)
		}
	}
}

func TestMCPTool_ResetNamedSession(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	ctx := context.Background()

	mcpLoadVideo(deps)(ctx, makeCallToolRequest("load_video", map[string]interface{}{
		"url":     testVideo,
		"session": "work",
	}))

	result, err := mcpReset(deps)(ctx, makeCallToolRequest("reset", map[string]interface{}{
		"session": "work",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := toolText(t, result); text != "Session work reset" {
		t.Fatalf("unexpected response: %s", text)
	}

	s, _ := deps.Sessions.Get(ctx, "work")
	if _, _, ok := s.Active(); ok {
		t.Error("session still active after reset")
	}
}

func TestMCPTool_Questions(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	result, err := mcpQuestions(deps)(context.Background(), makeCallToolRequest("questions", map[string]interface{}{
		"url": testVideo,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(toolText(t, result), "What is X?") {
		t.Fatalf("unexpected response: %s", toolText(t, result))
	}
}

func TestMCPTool_ListSummaries(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	ctx := context.Background()
	mcpLoadVideo(deps)(ctx, makeCallToolRequest("load_video", map[string]interface{}{"url": testVideo}))

	result, err := mcpListSummaries(deps)(ctx, makeCallToolRequest("list_summaries", map[string]interface{}{
		"limit": 5,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var records []storage.SummaryRecord
	if err := json.Unmarshal([]byte(toolText(t, result)), &records); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
}

func TestMCPResource_Session(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	ctx := context.Background()
	mcpLoadVideo(deps)(ctx, makeCallToolRequest("load_video", map[string]interface{}{"url": testVideo}))

	contents, err := mcpResourceSession(deps)(ctx, makeReadResourceRequest("session://current"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var view SessionView
	if err := json.Unmarshal([]byte(tc.Text), &view); err != nil {
		t.Fatalf("failed to parse session JSON: %v", err)
	}
	if !view.Ready || view.VideoID != "dQw4w9WgXcQ" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
