// Package search implements the cross-repository search engine: fan-out of
// one query to every indexed collection under bounded per-collection and
// global deadlines, score normalization, and deterministic merge with
// repository attribution.
package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codectx-dev/codectx/internal/embedding"
	"github.com/codectx-dev/codectx/internal/logger"
	"github.com/codectx-dev/codectx/internal/metrics"
	"github.com/codectx-dev/codectx/internal/snapshot"
	"github.com/codectx-dev/codectx/internal/vectorstore"
)

// Fan-out budgets. A collection that exceeds its budget is skipped, never
// fails the overall call.
const (
	DefaultPerCollectionTimeout = 5 * time.Second
	DefaultGlobalTimeout        = 15 * time.Second
	defaultConcurrency          = 8
)

// collectionNamePrefix filters live-enumerated collections down to ones this
// service manages.
const collectionNamePrefix = "code_chunks_"

// RegistryView is the registry surface the engine reads.
type RegistryView interface {
	ListIndexed() []*snapshot.RepoRecord
}

// Engine fans a query out to many collections.
type Engine struct {
	registry RegistryView
	store    vectorstore.Store
	embedder embedding.Provider
	hybrid   bool
	log      *logger.Logger

	// budgets are variables so tests can tighten them
	PerCollectionTimeout time.Duration
	GlobalTimeout        time.Duration
	Concurrency          int
}

// NewEngine creates an Engine with default budgets.
func NewEngine(registry RegistryView, store vectorstore.Store, embedder embedding.Provider, hybrid bool, log *logger.Logger) *Engine {
	return &Engine{
		registry:             registry,
		store:                store,
		embedder:             embedder,
		hybrid:               hybrid,
		log:                  log,
		PerCollectionTimeout: DefaultPerCollectionTimeout,
		GlobalTimeout:        DefaultGlobalTimeout,
		Concurrency:          defaultConcurrency,
	}
}

// Options narrow a cross-repo search.
type Options struct {
	Limit int
	// Repos restricts targets by display name or canonical ID.
	Repos []string
	// Extensions is passed through to the vector store filter.
	Extensions []string
	// Normalization is "raw" (default) or "minmax".
	Normalization string
}

// Result is one merged hit with repository attribution.
type Result struct {
	RepoDisplayName  string  `json:"repoDisplayName"`
	CanonicalRepoID  string  `json:"canonicalRepoId"`
	RelativePath     string  `json:"relativePath"`
	StartLine        int     `json:"startLine"`
	EndLine          int     `json:"endLine"`
	Language         string  `json:"language"`
	Content          string  `json:"content,omitempty"`
	Score            float64 `json:"score"`
	SourceCollection string  `json:"sourceCollection"`
}

// Summary reports fan-out accounting.
type Summary struct {
	CollectionsQueried          int      `json:"collectionsQueried"`
	CollectionsSkippedByTimeout []string `json:"collectionsSkippedByTimeout"`
	CollectionsFailed           []string `json:"collectionsFailed"`
	TotalResults                int      `json:"totalResults"`
}

// Response is the full search_all payload. Normalization tags which scoring
// policy produced the scores.
type Response struct {
	Results       []Result `json:"results"`
	Summary       Summary  `json:"summary"`
	Normalization string   `json:"normalization"`
}

// target is one fan-out destination.
type target struct {
	collection  string
	displayName string
	canonicalID string
	primaryPath string
}

// SearchAll runs the query against every matching indexed collection.
func (e *Engine) SearchAll(ctx context.Context, query string, opts Options) (*Response, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	norm, err := normalizationMode(opts.Normalization)
	if err != nil {
		return nil, err
	}

	dense, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	vsQuery := vectorstore.Query{
		Dense:      dense[0],
		Limit:      opts.Limit,
		Extensions: opts.Extensions,
	}
	if e.hybrid {
		vsQuery.SparseIndices, vsQuery.SparseValues = vectorstore.EncodeSparse(query)
	}

	targets, err := e.discoverTargets(ctx, opts.Repos)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.GlobalTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		merged  []Result
		skipped []string
		failed  []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Concurrency)

	for _, t := range targets {
		g.Go(func() error {
			collCtx, collCancel := context.WithTimeout(gctx, e.PerCollectionTimeout)
			defer collCancel()

			hits, err := e.store.Search(collCtx, t.collection, vsQuery)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				merged = append(merged, attribute(t, normalize(norm, hits))...)
			case errors.Is(err, context.DeadlineExceeded) || collCtx.Err() != nil:
				e.log.Warn("collection search timed out", "collection", t.collection)
				metrics.SearchCollectionsSkipped.Inc()
				skipped = append(skipped, t.collection)
			default:
				e.log.Warn("collection search failed", "collection", t.collection, "err", err)
				failed = append(failed, t.collection)
			}
			// per-collection outcomes never fail the fan-out
			return nil
		})
	}
	_ = g.Wait()

	sortResults(merged)
	if len(merged) > opts.Limit {
		merged = merged[:opts.Limit]
	}
	e.loadContent(merged, targets)

	sort.Strings(skipped)
	sort.Strings(failed)
	return &Response{
		Results: merged,
		Summary: Summary{
			CollectionsQueried:          len(targets),
			CollectionsSkippedByTimeout: skipped,
			CollectionsFailed:           failed,
			TotalResults:                len(merged),
		},
		Normalization: string(norm),
	}, nil
}

// EmbedQuery embeds a single query string. Single-repo search shares the
// engine's embedder through this.
func (e *Engine) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// AttributeSingle converts one known repository's hits into attributed
// results with snippet content, sorted the same way merged results are.
func AttributeSingle(record *snapshot.RepoRecord, collection, primaryPath string, hits []vectorstore.ScoredChunk) []Result {
	t := target{
		collection:  collection,
		displayName: record.DisplayName,
		canonicalID: record.CanonicalID,
		primaryPath: primaryPath,
	}
	results := attribute(t, normalize(ModeRaw, hits))
	sortResults(results)
	for i := range results {
		if t.primaryPath != "" {
			results[i].Content = readSnippet(t.primaryPath, results[i].RelativePath, results[i].StartLine, results[i].EndLine)
		}
	}
	return results
}

// discoverTargets merges registry-known collections with a live enumeration
// from the vector store, deduplicated by collection name, then applies the
// repo selector filter.
func (e *Engine) discoverTargets(ctx context.Context, repos []string) ([]target, error) {
	byCollection := map[string]target{}

	for _, record := range e.registry.ListIndexed() {
		coll := record.CollectionName()
		if coll == "" {
			continue
		}
		primary := ""
		if len(record.KnownPaths) > 0 {
			primary = record.KnownPaths[0]
		}
		byCollection[coll] = target{
			collection:  coll,
			displayName: record.DisplayName,
			canonicalID: record.CanonicalID,
			primaryPath: primary,
		}
	}

	// live enumeration catches repos indexed outside this process's snapshot
	live, err := e.store.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range live {
		if !isManagedCollection(name) {
			continue
		}
		if _, known := byCollection[name]; !known {
			byCollection[name] = target{collection: name, displayName: name}
		}
	}

	targets := make([]target, 0, len(byCollection))
	for _, t := range byCollection {
		if matchesRepoFilter(t, repos) {
			targets = append(targets, t)
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].collection < targets[j].collection })
	return targets, nil
}

func isManagedCollection(name string) bool {
	return strings.HasPrefix(name, collectionNamePrefix) ||
		strings.HasPrefix(name, "hybrid_"+collectionNamePrefix)
}

func matchesRepoFilter(t target, repos []string) bool {
	if len(repos) == 0 {
		return true
	}
	for _, selector := range repos {
		if selector == t.displayName || selector == t.canonicalID {
			return true
		}
	}
	return false
}

func attribute(t target, hits []scoredHit) []Result {
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{
			RepoDisplayName:  t.displayName,
			CanonicalRepoID:  t.canonicalID,
			RelativePath:     h.chunk.RelativePath,
			StartLine:        h.chunk.StartLine,
			EndLine:          h.chunk.EndLine,
			Language:         h.chunk.Language,
			Score:            h.score,
			SourceCollection: t.collection,
		})
	}
	return out
}

// sortResults orders by score descending with a stable tiebreak so merge
// output is deterministic.
func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.RepoDisplayName != b.RepoDisplayName {
			return a.RepoDisplayName < b.RepoDisplayName
		}
		if a.RelativePath != b.RelativePath {
			return a.RelativePath < b.RelativePath
		}
		return a.StartLine < b.StartLine
	})
}

// loadContent fills in snippet text for the final merged results only.
// Source content is never stored in the vector store, so it is read back
// from the repository's working tree; unreadable files leave Content empty.
func (e *Engine) loadContent(results []Result, targets []target) {
	pathByCollection := make(map[string]string, len(targets))
	for _, t := range targets {
		pathByCollection[t.collection] = t.primaryPath
	}
	for i := range results {
		root := pathByCollection[results[i].SourceCollection]
		if root == "" {
			continue
		}
		results[i].Content = readSnippet(root, results[i].RelativePath, results[i].StartLine, results[i].EndLine)
	}
}
