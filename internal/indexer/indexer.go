// Package indexer drives the indexing pipeline: walk the working tree, split
// files into chunks, embed them, and write vectors to the repository's
// collection.
package indexer

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/codectx-dev/codectx/internal/embedding"
	"github.com/codectx-dev/codectx/internal/logger"
	"github.com/codectx-dev/codectx/internal/splitter"
	"github.com/codectx-dev/codectx/internal/vectorstore"
)

// maxFileSize caps the size of files considered for indexing.
const maxFileSize = 1 << 20

// defaultIgnoreDirs are always skipped regardless of caller patterns.
var defaultIgnoreDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	".venv":        true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
}

// Options narrow what gets indexed.
type Options struct {
	// Extensions restricts indexing to these file extensions (with dot).
	// Empty means the splitter's default set.
	Extensions []string
	// IgnorePatterns are doublestar globs matched against the
	// slash-separated relative path.
	IgnorePatterns []string
}

// Progress receives completion percentages in [0,100] during a run.
type Progress func(percentage float64)

// Indexer owns the chunk→embed→upsert pipeline.
type Indexer struct {
	splitter  splitter.Splitter
	embedder  embedding.Provider
	store     vectorstore.Store
	log       *logger.Logger
	hybrid    bool
	batchSize int
}

// New creates an Indexer.
func New(split splitter.Splitter, embedder embedding.Provider, store vectorstore.Store, hybrid bool, log *logger.Logger) *Indexer {
	return &Indexer{
		splitter:  split,
		embedder:  embedder,
		store:     store,
		log:       log,
		hybrid:    hybrid,
		batchSize: 32,
	}
}

// Result summarizes one indexing run.
type Result struct {
	IndexedFiles int
	TotalChunks  int
}

// Index embeds the repository at repoPath into collection. The collection is
// created when missing. Progress callbacks fire as files complete.
func (ix *Indexer) Index(ctx context.Context, repoPath, collection string, opts Options, progress Progress) (Result, error) {
	files, err := ix.collectFiles(repoPath, opts)
	if err != nil {
		return Result{}, err
	}

	if err := ix.store.EnsureCollection(ctx, collection); err != nil {
		return Result{}, err
	}

	var result Result
	for i, relPath := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		chunks, err := ix.indexFile(ctx, repoPath, collection, relPath)
		if err != nil {
			return result, fmt.Errorf("indexing %s: %w", relPath, err)
		}
		result.IndexedFiles++
		result.TotalChunks += chunks

		if progress != nil {
			progress(float64(i+1) / float64(len(files)) * 100)
		}
	}

	ix.log.Info("indexing complete",
		"collection", collection, "files", result.IndexedFiles, "chunks", result.TotalChunks)
	return result, nil
}

// Reindex refreshes the given relative paths: stale chunks for those paths
// are dropped, then the files (the ones that still exist) are re-embedded.
func (ix *Indexer) Reindex(ctx context.Context, repoPath, collection string, relPaths []string) (Result, error) {
	if err := ix.store.DeletePaths(ctx, collection, relPaths); err != nil {
		return Result{}, err
	}

	var result Result
	for _, relPath := range relPaths {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := os.Stat(filepath.Join(repoPath, relPath)); err != nil {
			continue // deleted file: chunks already dropped
		}
		chunks, err := ix.indexFile(ctx, repoPath, collection, relPath)
		if err != nil {
			return result, fmt.Errorf("reindexing %s: %w", relPath, err)
		}
		result.IndexedFiles++
		result.TotalChunks += chunks
	}
	return result, nil
}

func (ix *Indexer) indexFile(ctx context.Context, repoPath, collection, relPath string) (int, error) {
	data, err := os.ReadFile(filepath.Join(repoPath, relPath))
	if err != nil {
		ix.log.Warn("skipping unreadable file", "path", relPath, "err", err)
		return 0, nil
	}
	if !utf8.Valid(data) {
		return 0, nil // binary file
	}

	chunks := ix.splitter.Split(relPath, string(data))
	if len(chunks) == 0 {
		return 0, nil
	}

	ext := strings.ToLower(filepath.Ext(relPath))
	total := 0
	for start := 0; start < len(chunks); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		var vectors [][]float32
		err := withRetry(ctx, func() error {
			var embedErr error
			vectors, embedErr = ix.embedder.Embed(ctx, texts)
			return embedErr
		})
		if err != nil {
			return total, err
		}

		points := make([]vectorstore.Chunk, len(batch))
		for i, c := range batch {
			point := vectorstore.Chunk{
				ID:            chunkID(collection, relPath, c.StartLine, c.EndLine),
				Dense:         vectors[i],
				RelativePath:  filepath.ToSlash(relPath),
				StartLine:     c.StartLine,
				EndLine:       c.EndLine,
				Language:      c.Language,
				FileExtension: ext,
			}
			if ix.hybrid {
				point.SparseIndices, point.SparseValues = vectorstore.EncodeSparse(c.Content)
			}
			points[i] = point
		}

		if err := withRetry(ctx, func() error {
			return ix.store.Upsert(ctx, collection, points)
		}); err != nil {
			return total, err
		}
		total += len(batch)
	}
	return total, nil
}

// collectFiles walks the working tree, honoring extension and ignore
// filters. Paths come back sorted and slash-separated relative to repoPath.
func (ix *Indexer) collectFiles(repoPath string, opts Options) ([]string, error) {
	extensions := opts.Extensions
	if len(extensions) == 0 {
		extensions = splitter.DefaultExtensions()
	}
	wanted := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		wanted[strings.ToLower(ext)] = true
	}

	var files []string
	err := filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if defaultIgnoreDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(repoPath, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if !wanted[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		for _, pattern := range opts.IgnorePatterns {
			if matched, _ := doublestar.Match(pattern, rel); matched {
				return nil
			}
		}
		if info, err := d.Info(); err != nil || info.Size() > maxFileSize {
			return nil
		}

		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", repoPath, err)
	}
	sort.Strings(files)
	return files, nil
}

// chunkID derives a stable point ID so re-indexing a file replaces its
// chunks instead of accumulating duplicates. Qdrant requires UUID-shaped
// string IDs, so the digest is formatted as one.
func chunkID(collection, relPath string, startLine, endLine int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s:%s:%d:%d", collection, relPath, startLine, endLine)))
	hexStr := hex.EncodeToString(sum[:16])
	return fmt.Sprintf("%s-%s-%s-%s-%s",
		hexStr[0:8], hexStr[8:12], hexStr[12:16], hexStr[16:20], hexStr[20:32])
}
