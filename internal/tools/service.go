// Package tools implements the service's MCP tool surface: registration and
// indexing, single-repo and cross-repo search, index management, and
// repository listing. Handlers never bypass the registry, and every mutating
// handler persists the snapshot before returning.
package tools

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codectx-dev/codectx/internal/collection"
	"github.com/codectx-dev/codectx/internal/config"
	"github.com/codectx-dev/codectx/internal/gitutil"
	"github.com/codectx-dev/codectx/internal/identity"
	"github.com/codectx-dev/codectx/internal/indexer"
	"github.com/codectx-dev/codectx/internal/logger"
	"github.com/codectx-dev/codectx/internal/registry"
	"github.com/codectx-dev/codectx/internal/search"
	"github.com/codectx-dev/codectx/internal/vectorstore"
)

// maxSearchLimit caps result counts for both search tools.
const maxSearchLimit = 50

// Service holds the shared dependencies of all tool handlers. One Service
// backs every session; the per-session MCP server instances all dispatch
// into it.
type Service struct {
	cfg        *config.Config
	log        *logger.Logger
	registry   *registry.Registry
	resolver   *identity.Resolver
	git        *gitutil.Runner
	namer      collection.Namer
	migrations *collection.MigrationStore
	store      vectorstore.Store
	indexer    *indexer.Indexer
	engine     *search.Engine
}

// NewService wires a Service.
func NewService(
	cfg *config.Config,
	log *logger.Logger,
	reg *registry.Registry,
	resolver *identity.Resolver,
	git *gitutil.Runner,
	namer collection.Namer,
	migrations *collection.MigrationStore,
	store vectorstore.Store,
	ix *indexer.Indexer,
	engine *search.Engine,
) *Service {
	return &Service{
		cfg:        cfg,
		log:        log,
		registry:   reg,
		resolver:   resolver,
		git:        git,
		namer:      namer,
		migrations: migrations,
		store:      store,
		indexer:    ix,
		engine:     engine,
	}
}

// Registry exposes the registry for the sync loop and shutdown path.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// resolveCollection picks the collection name for a repository, preferring a
// surviving legacy collection and recording a migration mapping when one is
// found.
func (s *Service) resolveCollection(ctx context.Context, absPath, canonicalID string) (collection.Resolution, error) {
	names, err := s.store.ListCollections(ctx)
	if err != nil {
		return collection.Resolution{}, err
	}
	existing := make(map[string]bool, len(names))
	for _, n := range names {
		existing[n] = true
	}
	res := s.namer.ResolveName(absPath, canonicalID, existing, s.migrations.Record)
	return res, nil
}

// materializeURL clones a registered URL into the state directory and
// returns the local path to index. An existing clone is reused.
func (s *Service) materializeURL(ctx context.Context, url string) (string, error) {
	sum := md5.Sum([]byte(url))
	dst := filepath.Join(s.cfg.ClonesDir(), hex.EncodeToString(sum[:])[:12])

	if _, err := os.Stat(filepath.Join(dst, ".git")); err == nil {
		return dst, nil
	}
	if err := os.MkdirAll(s.cfg.ClonesDir(), 0755); err != nil {
		return "", fmt.Errorf("create clones dir: %w", err)
	}
	if ok := s.git.Clone(ctx, url, dst); !ok {
		return "", fmt.Errorf("clone failed for %s", url)
	}
	return dst, nil
}

// isRemoteSource reports whether the index_codebase argument is a clone URL
// rather than a filesystem path.
func isRemoteSource(source string) bool {
	_, ok := gitutil.NormalizeGitURL(source)
	return ok && !filepath.IsAbs(source)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 10
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}
