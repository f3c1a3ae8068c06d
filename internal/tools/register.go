package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/codectx-dev/codectx/internal/metrics"
)

// RegisterAll adds every tool to the given MCP server instance. Each network
// session gets its own server instance; all of them dispatch into one shared
// Service.
func RegisterAll(srv *server.MCPServer, svc *Service) {
	srv.AddTool(mcp.NewTool("index_codebase",
		mcp.WithDescription("Register a repository by local path or clone URL and index its source for semantic search."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path to the repository, or a git clone URL.")),
		mcp.WithBoolean("force", mcp.Description("Re-index even if the repository already has an index.")),
		mcp.WithString("splitter", mcp.Description("Chunking strategy. Only the default splitter is built in.")),
		mcp.WithArray("customExtensions", mcp.Description("File extensions to index, overriding the default set."), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithArray("ignorePatterns", mcp.Description("Glob patterns of paths to skip."), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("branch", mcp.Description("Branch key to record the index under. Defaults to the checked-out branch.")),
	), svc.instrumented("index_codebase", svc.IndexCodebase))

	srv.AddTool(mcp.NewTool("search_code",
		mcp.WithDescription("Search one indexed repository with a natural-language query and get ranked code snippets."),
		mcp.WithString("path", mcp.Required(), mcp.Description("A registered path of the repository to search.")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language search query.")),
		mcp.WithNumber("limit", mcp.Description("Maximum results, capped at 50.")),
		mcp.WithArray("extensionFilter", mcp.Description("Restrict results to these file extensions."), mcp.Items(map[string]any{"type": "string"})),
	), svc.instrumented("search_code", svc.SearchCode))

	srv.AddTool(mcp.NewTool("search_all",
		mcp.WithDescription("Search every indexed repository at once; results carry their source repository."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language search query.")),
		mcp.WithNumber("limit", mcp.Description("Maximum merged results, capped at 50.")),
		mcp.WithArray("repos", mcp.Description("Restrict to these repositories, by display name or canonical ID."), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithArray("extensionFilter", mcp.Description("Restrict results to these file extensions."), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("normalization", mcp.Description("Score normalization across collections: raw or minmax.")),
	), svc.instrumented("search_all", svc.SearchAll))

	srv.AddTool(mcp.NewTool("clear_index",
		mcp.WithDescription("Drop a repository's index and unregister it."),
		mcp.WithString("path", mcp.Required(), mcp.Description("A registered path of the repository to clear.")),
	), svc.instrumented("clear_index", svc.ClearIndex))

	srv.AddTool(mcp.NewTool("get_indexing_status",
		mcp.WithDescription("Report the indexing state of a repository."),
		mcp.WithString("path", mcp.Required(), mcp.Description("A registered path of the repository.")),
	), svc.instrumented("get_indexing_status", svc.GetIndexingStatus))

	srv.AddTool(mcp.NewTool("list_repositories",
		mcp.WithDescription("List registered repositories and their index state."),
		mcp.WithString("status", mcp.Description("Filter by status: indexing, indexed or failed.")),
		mcp.WithString("nameSubstring", mcp.Description("Filter by display-name substring.")),
	), svc.instrumented("list_repositories", svc.ListRepositories))
}

// instrumented wraps a handler with the audit log record and invocation
// metrics every tool call emits.
func (s *Service) instrumented(name string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := handler(ctx, req)

		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case result != nil && result.IsError:
			outcome = "tool_error"
		}
		metrics.ToolInvocations.WithLabelValues(name, outcome).Inc()
		s.log.Audit("tool", "tool", name, "outcome", outcome)
		return result, err
	}
}
