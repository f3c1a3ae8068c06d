package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/codectx-dev/codectx/internal/logger"
	"github.com/codectx-dev/codectx/internal/splitter"
	"github.com/codectx-dev/codectx/internal/vectorstore"
)

type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 2 }

type captureStore struct {
	mu       sync.Mutex
	ensured  []string
	upserted map[string][]vectorstore.Chunk
	deleted  map[string][]string
}

func newCaptureStore() *captureStore {
	return &captureStore{
		upserted: map[string][]vectorstore.Chunk{},
		deleted:  map[string][]string{},
	}
}

func (c *captureStore) EnsureCollection(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensured = append(c.ensured, name)
	return nil
}
func (c *captureStore) DropCollection(ctx context.Context, name string) error        { return nil }
func (c *captureStore) HasCollection(ctx context.Context, name string) (bool, error) { return true, nil }
func (c *captureStore) ListCollections(ctx context.Context) ([]string, error)        { return nil, nil }
func (c *captureStore) RenameCollection(ctx context.Context, oldName, newName string) error {
	return nil
}

func (c *captureStore) Upsert(ctx context.Context, collection string, chunks []vectorstore.Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upserted[collection] = append(c.upserted[collection], chunks...)
	return nil
}

func (c *captureStore) DeletePaths(ctx context.Context, collection string, relativePaths []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted[collection] = append(c.deleted[collection], relativePaths...)
	return nil
}

func (c *captureStore) Search(ctx context.Context, collection string, q vectorstore.Query) ([]vectorstore.ScoredChunk, error) {
	return nil, nil
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestIndexer(store vectorstore.Store) *Indexer {
	return New(splitter.NewLineSplitter(), &fakeEmbedder{}, store, true, logger.NewNop())
}

func TestIndexWalksAndUpserts(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.go":             "package main\n\nfunc main() {}\n",
		"pkg/util.go":         "package pkg\n\nfunc Util() {}\n",
		"README.md":           "# readme\n",
		"image.png":           "\x89PNG not text",
		".git/config":         "[core]\n",
		"node_modules/x/y.js": "ignored()\n",
	})

	store := newCaptureStore()
	ix := newTestIndexer(store)

	var progress []float64
	result, err := ix.Index(context.Background(), root, "code_chunks_test", Options{}, func(pct float64) {
		progress = append(progress, pct)
	})
	if err != nil {
		t.Fatal(err)
	}

	// main.go, pkg/util.go and README.md; png is not a known extension,
	// .git and node_modules are always skipped
	if result.IndexedFiles != 3 {
		t.Errorf("IndexedFiles = %d, want 3", result.IndexedFiles)
	}
	if result.TotalChunks != 3 {
		t.Errorf("TotalChunks = %d, want 3", result.TotalChunks)
	}
	if len(store.ensured) != 1 || store.ensured[0] != "code_chunks_test" {
		t.Errorf("ensured = %v", store.ensured)
	}
	if got := len(store.upserted["code_chunks_test"]); got != 3 {
		t.Errorf("upserted chunks = %d, want 3", got)
	}

	// progress is monotonic and ends at 100
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Errorf("progress regressed: %v", progress)
		}
	}
	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Errorf("final progress = %v, want 100", progress)
	}

	// hybrid mode populates sparse vectors and metadata
	for _, chunk := range store.upserted["code_chunks_test"] {
		if len(chunk.Dense) != 2 {
			t.Errorf("dense vector size = %d", len(chunk.Dense))
		}
		if len(chunk.SparseIndices) == 0 {
			t.Error("sparse vector missing in hybrid mode")
		}
		if chunk.RelativePath == "" || chunk.StartLine < 1 {
			t.Errorf("bad chunk metadata %+v", chunk)
		}
	}
}

func TestIndexExtensionAndIgnoreFilters(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"keep.go":           "package keep\n",
		"skip.py":           "print('skip')\n",
		"generated/gen.go":  "package generated\n",
		"testdata/fixture.go": "package fixture\n",
	})

	store := newCaptureStore()
	ix := newTestIndexer(store)

	result, err := ix.Index(context.Background(), root, "c", Options{
		Extensions:     []string{"go"}, // missing dot is tolerated
		IgnorePatterns: []string{"generated/**", "testdata/*"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.IndexedFiles != 1 {
		t.Errorf("IndexedFiles = %d, want 1 (only keep.go)", result.IndexedFiles)
	}
	if store.upserted["c"][0].RelativePath != "keep.go" {
		t.Errorf("indexed %q, want keep.go", store.upserted["c"][0].RelativePath)
	}
}

func TestReindexDropsThenRewrites(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.go": "package a\n"})

	store := newCaptureStore()
	ix := newTestIndexer(store)

	result, err := ix.Reindex(context.Background(), root, "c", []string{"a.go", "deleted.go"})
	if err != nil {
		t.Fatal(err)
	}
	if len(store.deleted["c"]) != 2 {
		t.Errorf("deleted = %v, want both paths dropped first", store.deleted["c"])
	}
	// only the surviving file is re-embedded
	if result.IndexedFiles != 1 {
		t.Errorf("IndexedFiles = %d, want 1", result.IndexedFiles)
	}
}

func TestChunkIDStable(t *testing.T) {
	a := chunkID("coll", "a.go", 1, 10)
	b := chunkID("coll", "a.go", 1, 10)
	if a != b {
		t.Error("chunk ID not stable")
	}
	if a == chunkID("coll", "a.go", 11, 20) {
		t.Error("distinct ranges share a chunk ID")
	}
	// UUID shape: 8-4-4-4-12
	parts := []int{8, 4, 4, 4, 12}
	segs := 0
	for _, seg := range splitDash(a) {
		if len(seg) != parts[segs] {
			t.Fatalf("chunk ID %q segment %d has length %d", a, segs, len(seg))
		}
		segs++
	}
	if segs != 5 {
		t.Fatalf("chunk ID %q has %d segments, want 5", a, segs)
	}
}

func splitDash(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r == '-' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func TestIndexCancellation(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{}
	for i := 0; i < 20; i++ {
		files[fmt.Sprintf("f%02d.go", i)] = "package f\n"
	}
	writeTree(t, root, files)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ix := newTestIndexer(newCaptureStore())
	if _, err := ix.Index(ctx, root, "c", Options{}, nil); err == nil {
		t.Error("cancelled context should abort indexing")
	}
}
