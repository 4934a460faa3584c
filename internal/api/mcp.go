package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/vidsum/internal/qa"
	"github.com/kalambet/vidsum/internal/session"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Orchestrator *qa.Orchestrator
	Sessions     *session.Registry
	Summaries    SummaryLister // optional; list_summaries is not registered when nil
	Version      string
}

// NewMCPServer creates an MCP server with the vidsum tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"vidsum",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("vidsum: load a YouTube video's summary, then ask questions about it."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("load_video",
			mcp.WithDescription("Fetch the summary of a YouTube video and start a new conversation about it."),
			mcp.WithString("url", mcp.Description("YouTube watch or youtu.be URL"), mcp.Required()),
			mcp.WithString("session", mcp.Description("Session id (default \"default\")")),
		),
		mcpLoadVideo(deps),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question about the currently loaded video."),
			mcp.WithString("question", mcp.Description("The question"), mcp.Required()),
			mcp.WithString("session", mcp.Description("Session id (default \"default\")")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("reset",
			mcp.WithDescription("Forget the loaded video and the conversation history."),
			mcp.WithString("session", mcp.Description("Session id (default \"default\")")),
		),
		mcpReset(deps),
	)

	s.AddTool(
		mcp.NewTool("questions",
			mcp.WithDescription("Generate quiz questions for a YouTube video."),
			mcp.WithString("url", mcp.Description("YouTube watch or youtu.be URL"), mcp.Required()),
		),
		mcpQuestions(deps),
	)

	if deps.Summaries != nil {
		s.AddTool(
			mcp.NewTool("list_summaries",
				mcp.WithDescription("List cached video summaries, most recently used first."),
				mcp.WithNumber("limit", mcp.Description("Maximum number of records (default 10)")),
			),
			mcpListSummaries(deps),
		)
	}

	s.AddResource(
		mcp.NewResource(
			"session://current",
			"Current Session",
			mcp.WithResourceDescription("The default session's video and turns as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSession(deps),
	)

	return s
}

func mcpLoadVideo(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := req.RequireString("url")
		if err != nil {
			return mcpError("url is required"), nil
		}
		s, err := deps.Sessions.Get(ctx, req.GetString("session", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		loaded, err := deps.Orchestrator.Load(ctx, s, url)
		if err != nil {
			return mcpError(fmt.Sprintf("load failed: %v", err)), nil
		}
		return mcpText(loaded.Summary), nil
	}
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		s, err := deps.Sessions.Get(ctx, req.GetString("session", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		turn, err := deps.Orchestrator.Ask(ctx, s, question)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		return mcpText(turn.Content), nil
	}
}

func mcpReset(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s, err := deps.Sessions.Get(ctx, req.GetString("session", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if err := deps.Orchestrator.Reset(ctx, s); err != nil {
			return mcpError(fmt.Sprintf("reset failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Session %s reset", s.Name())), nil
	}
}

func mcpQuestions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := req.RequireString("url")
		if err != nil {
			return mcpError("url is required"), nil
		}
		msg, err := deps.Orchestrator.Questions(ctx, url)
		if err != nil {
			return mcpError(fmt.Sprintf("questions failed: %v", err)), nil
		}
		return mcpText(msg), nil
	}
}

func mcpListSummaries(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}
		records, err := deps.Summaries.ListSummaries(ctx, limit, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("listing summaries failed: %v", err)), nil
		}
		b, err := json.Marshal(records)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal summaries: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceSession(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		s, err := deps.Sessions.Get(ctx, session.DefaultName)
		if err != nil {
			return nil, fmt.Errorf("failed to get session: %w", err)
		}
		b, err := json.Marshal(viewOf(s))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
