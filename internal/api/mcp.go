package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Engine  SearchEngine
	Indexer Indexer
	Vectors VectorStats
}

// NewMCPServer creates an MCP server exposing collection search and
// indexing status as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"acervo",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("acervo answers natural-language questions about indexed museum and archival collections."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_collections",
			mcp.WithDescription("Ask a natural-language question about the indexed collections and get a grounded answer with the supporting items."),
			mcp.WithString("query", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithArray("collections", mcp.Description("Optional collection ids to restrict the search to")),
		),
		mcpSearchCollections(deps),
	)

	s.AddTool(
		mcp.NewTool("indexing_status",
			mcp.WithDescription("Report the indexing job state of every known collection."),
		),
		mcpIndexingStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("collection_stats",
			mcp.WithDescription("Report how many items are indexed, total and per collection."),
		),
		mcpCollectionStats(deps),
	)

	return s
}

func mcpSearchCollections(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		var collections []int64
		for _, v := range req.GetStringSlice("collections", nil) {
			var id int64
			if _, err := fmt.Sscanf(v, "%d", &id); err == nil && id > 0 {
				collections = append(collections, id)
			}
		}

		result, err := deps.Engine.Search(ctx, query, collections, "mcp")
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		b, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return mcpError(fmt.Sprintf("encoding result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpIndexingStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		states, err := deps.Indexer.GetAllStates()
		if err != nil {
			return mcpError(fmt.Sprintf("listing indexing states: %v", err)), nil
		}
		if len(states) == 0 {
			return mcpText("No collection has been indexed yet."), nil
		}

		b, err := json.MarshalIndent(states, "", "  ")
		if err != nil {
			return mcpError(fmt.Sprintf("encoding states: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCollectionStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Vectors.Stats(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("reading stats: %v", err)), nil
		}

		b, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return mcpError(fmt.Sprintf("encoding stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
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
