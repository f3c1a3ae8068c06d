package tools

import (
	"context"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/codectx-dev/codectx/internal/snapshot"
)

// ClearIndex drops a repository's collection and removes its record.
func (s *Service) ClearIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return errResult(KindValidation, "path is required: %v", err), nil
	}

	res := s.registry.Resolve(ctx, path)
	if !res.Found {
		return errResult(KindNotFound, "no repository registered at %s", path), nil
	}

	lock := s.registry.RepoLock(res.Record.CanonicalID)
	lock.Lock()
	defer lock.Unlock()

	dropped := []string{}
	for _, st := range res.Record.Branches {
		if st.CollectionName == "" {
			continue
		}
		if err := s.store.DropCollection(ctx, st.CollectionName); err != nil {
			s.log.Warn("cannot drop collection",
				"collection", st.CollectionName, "err", err)
			continue
		}
		dropped = append(dropped, st.CollectionName)
	}

	if err := s.registry.RemoveByCanonicalID(res.Record.CanonicalID); err != nil {
		return errResult(KindInternal, "cannot remove repository: %v", err), nil
	}

	return okResult(map[string]any{
		"status":             "cleared",
		"canonicalId":        res.Record.CanonicalID,
		"displayName":        res.Record.DisplayName,
		"droppedCollections": dropped,
	}), nil
}

// statusResponse is the get_indexing_status payload.
type statusResponse struct {
	CanonicalID string                `json:"canonicalId"`
	DisplayName string                `json:"displayName"`
	Branch      string                `json:"branch"`
	State       *snapshot.BranchState `json:"state,omitempty"`
	KnownPaths  []string              `json:"knownPaths"`
}

// GetIndexingStatus reports the repository's current branch state.
func (s *Service) GetIndexingStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return errResult(KindValidation, "path is required: %v", err), nil
	}

	res := s.registry.Resolve(ctx, path)
	if !res.Found {
		return errResult(KindNotFound,
			"no repository registered at %s; run index_codebase first", path), nil
	}

	resp := statusResponse{
		CanonicalID: res.Record.CanonicalID,
		DisplayName: res.Record.DisplayName,
		Branch:      res.Record.DefaultBranch,
		KnownPaths:  res.Record.KnownPaths,
	}
	if st, ok := res.Record.DefaultBranchState(); ok {
		resp.State = &st
	}
	return okResult(resp), nil
}

// repoListing is one list_repositories entry.
type repoListing struct {
	CanonicalID string    `json:"canonicalId"`
	DisplayName string    `json:"displayName"`
	RemoteURL   string    `json:"remoteUrl,omitempty"`
	Status      string    `json:"status"`
	KnownPaths  []string  `json:"knownPaths"`
	Worktrees   []string  `json:"worktrees,omitempty"`
	Branches    []string  `json:"branches"`
	LastIndexed time.Time `json:"lastIndexed"`
}

// ListRepositories returns registered repositories, optionally filtered by
// status and display-name substring.
func (s *Service) ListRepositories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	statusFilter := req.GetString("status", "")
	nameSubstring := strings.ToLower(req.GetString("nameSubstring", ""))

	var out []repoListing
	for _, record := range s.registry.ListAll() {
		status := "registered"
		if st, ok := record.DefaultBranchState(); ok {
			status = string(st.Status)
		}
		if statusFilter != "" && status != statusFilter {
			continue
		}
		if nameSubstring != "" && !strings.Contains(strings.ToLower(record.DisplayName), nameSubstring) {
			continue
		}

		branches := make([]string, 0, len(record.Branches))
		for name := range record.Branches {
			branches = append(branches, name)
		}
		out = append(out, repoListing{
			CanonicalID: record.CanonicalID,
			DisplayName: record.DisplayName,
			RemoteURL:   record.RemoteURL,
			Status:      status,
			KnownPaths:  record.KnownPaths,
			Worktrees:   record.Worktrees,
			Branches:    branches,
			LastIndexed: record.LastIndexed,
		})
	}

	return okResult(map[string]any{
		"repositories": out,
		"total":        len(out),
	}), nil
}
