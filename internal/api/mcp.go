package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/calmind-app/calmind/internal/chat"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Session SessionAPI
}

// NewMCPServer creates an MCP server exposing the conversation to agent
// clients: tools for talking and renaming, resources for profile and history.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"calmind",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("calmind — a local companion chat with durable per-user history."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a message to the companion and receive its reply."),
			mcp.WithString("text", mcp.Description("Message text"), mcp.Required()),
		),
		mcpSendMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("rename_companion",
			mcp.WithDescription("Give the companion a new name for the current session and future ones."),
			mcp.WithString("name", mcp.Description("New companion name"), mcp.Required()),
		),
		mcpRenameCompanion(deps),
	)

	s.AddTool(
		mcp.NewTool("recall_history",
			mcp.WithDescription("Return the most recent conversation turns as JSON."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of turns (default 20)")),
		),
		mcpRecallHistory(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"user://profile",
			"User Profile",
			mcp.WithResourceDescription("Current session identity and state as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"chat://history",
			"Conversation History",
			mcp.WithResourceDescription("Full conversation history as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHistory(deps),
	)

	return s
}

func mcpSendMessage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		snap, err := deps.Session.SendMessage(ctx, text)
		if err != nil {
			return mcpError(fmt.Sprintf("send failed: %v", err)), nil
		}

		if len(snap.History) == 0 {
			return mcpText(""), nil
		}
		last := snap.History[len(snap.History)-1]
		return mcpText(last.Body), nil
	}
}

func mcpRenameCompanion(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}

		snap, err := deps.Session.RenameCompanion(name)
		if err != nil {
			return mcpError(fmt.Sprintf("rename failed: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Companion is now called %s", snap.CompanionName)), nil
	}
}

func mcpRecallHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}

		snap := deps.Session.Snapshot()
		history := snap.History
		if len(history) > limit {
			history = history[len(history)-limit:]
		}

		if len(history) == 0 {
			return mcpText("[]"), nil
		}

		type turn struct {
			Sender    string `json:"sender"`
			Body      string `json:"body"`
			CreatedAt string `json:"created_at"`
		}

		turns := make([]turn, len(history))
		for i, m := range history {
			turns[i] = turn{
				Sender:    string(m.Sender),
				Body:      m.Body,
				CreatedAt: m.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(turns)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal history: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		snap := deps.Session.Snapshot()

		profile := struct {
			State         chat.State `json:"state"`
			Email         string     `json:"email,omitempty"`
			CompanionName string     `json:"companion_name"`
			Turns         int        `json:"turns"`
		}{
			State:         snap.State,
			Email:         snap.Email,
			CompanionName: snap.CompanionName,
			Turns:         len(snap.History),
		}

		b, err := json.Marshal(profile)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
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

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		snap := deps.Session.Snapshot()

		b, err := json.Marshal(snap.History)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
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
