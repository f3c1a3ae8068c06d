// Package vectorstore defines the service's interface to the external vector
// store and provides the Qdrant-backed production adapter.
//
// Only chunk metadata and vectors are stored; source content never leaves the
// client's disk.
package vectorstore

import "context"

// Chunk is one embedded code chunk. Sparse fields are only populated in
// hybrid mode.
type Chunk struct {
	ID            string
	Dense         []float32
	SparseIndices []uint32
	SparseValues  []float32

	RelativePath  string
	StartLine     int
	EndLine       int
	Language      string
	FileExtension string
}

// Query is one search request against a single collection.
type Query struct {
	Dense         []float32
	SparseIndices []uint32
	SparseValues  []float32
	Limit         int
	// Extensions restricts results to these file extensions (with dot),
	// applied inside the store, not post-filtered.
	Extensions []string
}

// ScoredChunk is one search hit.
type ScoredChunk struct {
	ID            string
	Score         float64
	RelativePath  string
	StartLine     int
	EndLine       int
	Language      string
	FileExtension string
}

// Store is the vector-store surface the service depends on. Implementations
// must be safe for concurrent use.
type Store interface {
	EnsureCollection(ctx context.Context, name string) error
	DropCollection(ctx context.Context, name string) error
	HasCollection(ctx context.Context, name string) (bool, error)
	ListCollections(ctx context.Context) ([]string, error)

	// RenameCollection makes newName resolve to oldName's data. Used by the
	// one-shot collection migration.
	RenameCollection(ctx context.Context, oldName, newName string) error

	Upsert(ctx context.Context, collection string, chunks []Chunk) error
	DeletePaths(ctx context.Context, collection string, relativePaths []string) error
	Search(ctx context.Context, collection string, q Query) ([]ScoredChunk, error)
}
