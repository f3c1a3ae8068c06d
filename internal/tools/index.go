package tools

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/codectx-dev/codectx/internal/indexer"
	"github.com/codectx-dev/codectx/internal/metrics"
	"github.com/codectx-dev/codectx/internal/registry"
)

// indexResponse is the index_codebase payload.
type indexResponse struct {
	Status          string `json:"status"` // started | already_indexed
	CanonicalID     string `json:"canonicalId"`
	DisplayName     string `json:"displayName"`
	Path            string `json:"path"`
	Collection      string `json:"collection,omitempty"`
	Message         string `json:"message"`
	RegisteredAlias bool   `json:"registeredAlias,omitempty"`
}

// IndexCodebase registers a repository by path or clone URL and starts
// indexing unless the repo already has a live index.
func (s *Service) IndexCodebase(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("path")
	if err != nil {
		return errResult(KindValidation, "path is required: %v", err), nil
	}
	force := req.GetBool("force", false)
	branch := req.GetString("branch", "")
	extensions := req.GetStringSlice("customExtensions", nil)
	ignorePatterns := req.GetStringSlice("ignorePatterns", nil)

	switch splitterArg := req.GetString("splitter", ""); splitterArg {
	case "", "default", "line":
	default:
		return errResult(KindValidation,
			"unknown splitter %q; only the built-in line splitter is available", splitterArg), nil
	}

	path := source
	if isRemoteSource(source) {
		// URL registration: an already-indexed repo aliases silently
		// without cloning.
		if ident, ok := s.resolver.ResolveFromURL(source); ok && s.registry.IsAlreadyIndexed(ident) {
			record, _ := s.registry.Get(ident.CanonicalID)
			return okResult(indexResponse{
				Status:      "already_indexed",
				CanonicalID: ident.CanonicalID,
				DisplayName: record.DisplayName,
				Message:     "repository is already indexed",
			}), nil
		}
		path, err = s.materializeURL(ctx, source)
		if err != nil {
			return errResult(KindExternal, "cannot clone %s: %v", source, err), nil
		}
	}

	if fi, err := os.Stat(path); err != nil || !fi.IsDir() {
		return errResult(KindValidation, "path is not a directory: %s", path), nil
	}

	res := s.registry.Resolve(ctx, path)

	if res.Found && res.Record.IsIndexed() && !force {
		// The gate before indexing: a worktree or second clone of an
		// indexed repo gets registered as an alias, never a new collection.
		record, err := s.registry.Register(ctx, path, registry.RegisterOptions{})
		if err != nil {
			return errResult(KindInternal, "cannot register path: %v", err), nil
		}
		return okResult(indexResponse{
			Status:          "already_indexed",
			CanonicalID:     record.CanonicalID,
			DisplayName:     record.DisplayName,
			Path:            path,
			Collection:      record.CollectionName(),
			Message:         "repository already indexed; path registered as alias",
			RegisteredAlias: res.IsNewPathForExistingRepo,
		}), nil
	}

	ident := res.Identity
	repoPath := path
	if ident.RepoRoot != "" {
		repoPath = ident.RepoRoot
	}

	coll, err := s.resolveCollection(ctx, repoPath, ident.CanonicalID)
	if err != nil {
		return errResult(KindExternal, "vector store unavailable: %v", err), nil
	}

	if branch == "" {
		if current, ok := s.git.CurrentBranch(ctx, repoPath); ok {
			branch = current
		} else {
			branch = "main"
		}
	}
	if _, err := s.registry.Register(ctx, path, registry.RegisterOptions{
		CollectionName: coll.Name,
		Branch:         branch,
	}); err != nil {
		return errResult(KindInternal, "cannot register repository: %v", err), nil
	}
	if err := s.registry.MarkIndexing(ident.CanonicalID, branch, 0); err != nil {
		return errResult(KindInternal, "cannot update status: %v", err), nil
	}

	go s.runIndexing(ident.CanonicalID, branch, repoPath, coll.Name, indexer.Options{
		Extensions:     extensions,
		IgnorePatterns: ignorePatterns,
	})

	return okResult(indexResponse{
		Status:      "started",
		CanonicalID: ident.CanonicalID,
		DisplayName: ident.DisplayName,
		Path:        repoPath,
		Collection:  coll.Name,
		Message:     "indexing started; poll get_indexing_status for progress",
	}), nil
}

// runIndexing executes one indexing run in the background. The per-repo lock
// guarantees a single run per canonical ID; progress and the final state
// transition go through the registry.
func (s *Service) runIndexing(canonicalID, branch, repoPath, collectionName string, opts indexer.Options) {
	lock := s.registry.RepoLock(canonicalID)
	lock.Lock()
	defer lock.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("indexing panicked", "canonicalId", canonicalID, "recover", r)
			_ = s.registry.MarkFailed(canonicalID, branch, "internal indexing failure")
			metrics.IndexingRuns.WithLabelValues("panic").Inc()
		}
	}()

	ctx := context.Background()

	result, err := s.indexer.Index(ctx, repoPath, collectionName, opts, func(pct float64) {
		_ = s.registry.MarkIndexing(canonicalID, branch, pct)
	})
	if err != nil {
		s.log.Error("indexing failed", "canonicalId", canonicalID, "path", repoPath, "err", err)
		_ = s.registry.MarkFailed(canonicalID, branch, err.Error())
		metrics.IndexingRuns.WithLabelValues("failed").Inc()
		return
	}

	if commit, ok := s.git.HeadCommit(ctx, repoPath); ok {
		_ = s.registry.SetLastCommit(canonicalID, branch, commit)
	}
	_ = s.registry.MarkIndexed(canonicalID, branch, collectionName, result.IndexedFiles, result.TotalChunks)
	metrics.IndexingRuns.WithLabelValues("ok").Inc()
	s.log.Info("indexing finished",
		"canonicalId", canonicalID, "branch", branch,
		"files", result.IndexedFiles, "chunks", result.TotalChunks)
}
