package tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/codectx-dev/codectx/internal/search"
	"github.com/codectx-dev/codectx/internal/vectorstore"
)

// searchResponse is the search_code payload.
type searchResponse struct {
	Results []search.Result `json:"results"`
	Total   int             `json:"total"`
}

// SearchCode runs a hybrid search against one repository's collection.
func (s *Service) SearchCode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return errResult(KindValidation, "path is required: %v", err), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return errResult(KindValidation, "query is required: %v", err), nil
	}
	limit := clampLimit(req.GetInt("limit", 10))
	extensions := normalizeExtensions(req.GetStringSlice("extensionFilter", nil))

	res := s.registry.Resolve(ctx, path)
	if !res.Found || !res.Record.IsIndexed() {
		return errResult(KindNotFound,
			"repository at %s is not indexed; run index_codebase first", path), nil
	}
	collectionName := res.Record.CollectionName()
	if collectionName == "" {
		return errResult(KindNotFound,
			"repository at %s has no collection; run index_codebase first", path), nil
	}

	dense, err := s.engine.EmbedQuery(ctx, query)
	if err != nil {
		return errResult(KindExternal, "embedding failed: %v", err), nil
	}
	vsQuery := vectorstore.Query{
		Dense:      dense,
		Limit:      limit,
		Extensions: extensions,
	}
	if s.cfg.HybridMode {
		vsQuery.SparseIndices, vsQuery.SparseValues = vectorstore.EncodeSparse(query)
	}

	hits, err := s.store.Search(ctx, collectionName, vsQuery)
	if err != nil {
		return errResult(KindExternal, "vector store search failed: %v", err), nil
	}

	results := search.AttributeSingle(res.Record, collectionName, res.PrimaryPath, hits)
	return okResult(searchResponse{Results: results, Total: len(results)}), nil
}

// SearchAll fans the query out across every indexed repository.
func (s *Service) SearchAll(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return errResult(KindValidation, "query is required: %v", err), nil
	}
	limit := clampLimit(req.GetInt("limit", 10))
	repos := req.GetStringSlice("repos", nil)
	extensions := normalizeExtensions(req.GetStringSlice("extensionFilter", nil))
	normalization := req.GetString("normalization", s.cfg.SearchNormalization)

	resp, err := s.engine.SearchAll(ctx, query, search.Options{
		Limit:         limit,
		Repos:         repos,
		Extensions:    extensions,
		Normalization: normalization,
	})
	if err != nil {
		if strings.Contains(err.Error(), "normalization") {
			return errResult(KindValidation, "%v", err), nil
		}
		return errResult(KindExternal, "cross-repo search failed: %v", err), nil
	}
	return okResult(resp), nil
}

// normalizeExtensions ensures every filter entry carries a leading dot.
func normalizeExtensions(extensions []string) []string {
	out := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
