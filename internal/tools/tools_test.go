package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/codectx-dev/codectx/internal/collection"
	"github.com/codectx-dev/codectx/internal/config"
	"github.com/codectx-dev/codectx/internal/gitutil"
	"github.com/codectx-dev/codectx/internal/identity"
	"github.com/codectx-dev/codectx/internal/indexer"
	"github.com/codectx-dev/codectx/internal/logger"
	"github.com/codectx-dev/codectx/internal/registry"
	"github.com/codectx-dev/codectx/internal/search"
	"github.com/codectx-dev/codectx/internal/snapshot"
	"github.com/codectx-dev/codectx/internal/splitter"
	"github.com/codectx-dev/codectx/internal/vectorstore"
)

// fakeEmbedder returns constant vectors.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (fakeEmbedder) Dimensions() int { return 2 }

// fakeStore is an in-memory vector store good enough for handler tests.
type fakeStore struct {
	mu          sync.Mutex
	collections map[string][]vectorstore.Chunk
	dropped     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{collections: map[string][]vectorstore.Chunk{}}
}

func (f *fakeStore) EnsureCollection(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.collections[name]; !ok {
		f.collections[name] = nil
	}
	return nil
}

func (f *fakeStore) DropCollection(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.collections, name)
	f.dropped = append(f.dropped, name)
	return nil
}

func (f *fakeStore) HasCollection(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.collections[name]
	return ok, nil
}

func (f *fakeStore) ListCollections(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.collections {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeStore) RenameCollection(ctx context.Context, oldName, newName string) error { return nil }

func (f *fakeStore) Upsert(ctx context.Context, collectionName string, chunks []vectorstore.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[collectionName] = append(f.collections[collectionName], chunks...)
	return nil
}

func (f *fakeStore) DeletePaths(ctx context.Context, collectionName string, relativePaths []string) error {
	return nil
}

func (f *fakeStore) Search(ctx context.Context, collectionName string, q vectorstore.Query) ([]vectorstore.ScoredChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chunks := f.collections[collectionName]
	var out []vectorstore.ScoredChunk
	for i, c := range chunks {
		if i >= q.Limit {
			break
		}
		out = append(out, vectorstore.ScoredChunk{
			ID:           c.ID,
			Score:        1 - float64(i)*0.1,
			RelativePath: c.RelativePath,
			StartLine:    c.StartLine,
			EndLine:      c.EndLine,
			Language:     c.Language,
		})
	}
	return out, nil
}

// newTestService wires a Service over fakes plus the real registry,
// identity resolver and namer.
func newTestService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	stateDir := t.TempDir()

	cfg := &config.Config{
		Transport:           config.TransportStdio,
		StateDir:            stateDir,
		HybridMode:          false,
		SearchNormalization: "raw",
		GitTimeout:          5 * time.Second,
	}
	log := logger.NewNop()
	git := gitutil.NewRunner(log, cfg.GitTimeout)
	resolver := identity.NewResolver(git)

	snapStore := snapshot.NewStore(cfg.SnapshotPath(), func(ctx context.Context, path string) identity.RepoIdentity {
		return resolver.Resolve(ctx, path, identity.DefaultOptions())
	}, log)
	reg := registry.New(nil, resolver, snapStore, log)

	store := newFakeStore()
	ix := indexer.New(splitter.NewLineSplitter(), fakeEmbedder{}, store, false, log)
	engine := search.NewEngine(reg, store, fakeEmbedder{}, false, log)
	namer := collection.Namer{}
	migrations := collection.NewMigrationStore(cfg.MigrationPath(), log)

	return NewService(cfg, log, reg, resolver, git, namer, migrations, store, ix, engine), store
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// resultText extracts the text payload of a tool result.
func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", result.Content[0])
	}
	return text.Text
}

func decodeResult(t *testing.T, result *mcp.CallToolResult, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(resultText(t, result)), v); err != nil {
		t.Fatalf("cannot decode tool result %q: %v", resultText(t, result), err)
	}
}

// waitIndexed polls until the repo's default branch is indexed.
func waitIndexed(t *testing.T, svc *Service, canonicalID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if record, ok := svc.registry.Get(canonicalID); ok && record.IsIndexed() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("indexing did not finish in time")
}

func writeRepoFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"main.go":   "package main\n\nfunc main() { println(\"hi\") }\n",
		"helper.go": "package main\n\nfunc helper() int { return 42 }\n",
	}
	for rel, content := range files {
		if err := os.WriteFile(filepath.Join(dir, rel), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestIndexCodebaseLifecycle(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	repo := writeRepoFixture(t)

	result, err := svc.IndexCodebase(ctx, callRequest("index_codebase", map[string]any{"path": repo}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("index_codebase errored: %s", resultText(t, result))
	}
	var resp indexResponse
	decodeResult(t, result, &resp)
	if resp.Status != "started" {
		t.Fatalf("status = %q, want started", resp.Status)
	}
	waitIndexed(t, svc, resp.CanonicalID)

	// the collection received chunks
	if n := len(store.collections[resp.Collection]); n == 0 {
		t.Error("no chunks written to the collection")
	}

	// status tool reflects the finished run
	statusResult, err := svc.GetIndexingStatus(ctx, callRequest("get_indexing_status", map[string]any{"path": repo}))
	if err != nil {
		t.Fatal(err)
	}
	var status statusResponse
	decodeResult(t, statusResult, &status)
	if status.State == nil || status.State.Status != snapshot.StatusIndexed {
		t.Fatalf("status = %+v, want indexed", status.State)
	}
	if status.State.TotalChunks == 0 || status.State.IndexedFiles != 2 {
		t.Errorf("counts = %+v", status.State)
	}

	// a second index call short-circuits
	again, err := svc.IndexCodebase(ctx, callRequest("index_codebase", map[string]any{"path": repo}))
	if err != nil {
		t.Fatal(err)
	}
	var aliasResp indexResponse
	decodeResult(t, again, &aliasResp)
	if aliasResp.Status != "already_indexed" {
		t.Errorf("second call status = %q, want already_indexed", aliasResp.Status)
	}
	if svc.registry.Size() != 1 {
		t.Errorf("registry size = %d, want 1", svc.registry.Size())
	}
}

func TestIndexCodebaseRejectsBadPath(t *testing.T) {
	svc, _ := newTestService(t)
	result, err := svc.IndexCodebase(context.Background(),
		callRequest("index_codebase", map[string]any{"path": filepath.Join(t.TempDir(), "nope")}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Fatal("expected a tool error for a missing path")
	}
	if !strings.Contains(resultText(t, result), string(KindValidation)) {
		t.Errorf("error payload %q lacks kind", resultText(t, result))
	}
}

func TestSearchCodeRequiresIndex(t *testing.T) {
	svc, _ := newTestService(t)
	result, err := svc.SearchCode(context.Background(), callRequest("search_code", map[string]any{
		"path": t.TempDir(), "query": "anything",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Fatal("expected not_found tool error")
	}
	payload := resultText(t, result)
	if !strings.Contains(payload, string(KindNotFound)) || !strings.Contains(payload, "index_codebase") {
		t.Errorf("error %q should carry kind and remediation", payload)
	}
}

func TestSearchCodeReturnsRankedChunks(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	repo := writeRepoFixture(t)

	indexResult, err := svc.IndexCodebase(ctx, callRequest("index_codebase", map[string]any{"path": repo}))
	if err != nil {
		t.Fatal(err)
	}
	var resp indexResponse
	decodeResult(t, indexResult, &resp)
	waitIndexed(t, svc, resp.CanonicalID)

	result, err := svc.SearchCode(ctx, callRequest("search_code", map[string]any{
		"path": repo, "query": "print hello", "limit": 1,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("search errored: %s", resultText(t, result))
	}
	var searchResp searchResponse
	decodeResult(t, result, &searchResp)
	if searchResp.Total != 1 {
		t.Fatalf("total = %d, want 1 (limit)", searchResp.Total)
	}
	hit := searchResp.Results[0]
	if hit.RelativePath == "" || hit.StartLine < 1 || hit.Language != "go" {
		t.Errorf("bad hit %+v", hit)
	}
	if hit.Content == "" {
		t.Error("snippet content not loaded from disk")
	}
}

func TestClearIndex(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	repo := writeRepoFixture(t)

	indexResult, err := svc.IndexCodebase(ctx, callRequest("index_codebase", map[string]any{"path": repo}))
	if err != nil {
		t.Fatal(err)
	}
	var resp indexResponse
	decodeResult(t, indexResult, &resp)
	waitIndexed(t, svc, resp.CanonicalID)

	clearResult, err := svc.ClearIndex(ctx, callRequest("clear_index", map[string]any{"path": repo}))
	if err != nil {
		t.Fatal(err)
	}
	if clearResult.IsError {
		t.Fatalf("clear errored: %s", resultText(t, clearResult))
	}
	if svc.registry.Size() != 0 {
		t.Error("record survived clear_index")
	}
	if len(store.dropped) != 1 {
		t.Errorf("dropped collections = %v, want one", store.dropped)
	}

	// clearing again is a not_found error
	again, err := svc.ClearIndex(ctx, callRequest("clear_index", map[string]any{"path": repo}))
	if err != nil {
		t.Fatal(err)
	}
	if !again.IsError {
		t.Error("expected not_found after clear")
	}
}

func TestListRepositories(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	repo := writeRepoFixture(t)

	indexResult, err := svc.IndexCodebase(ctx, callRequest("index_codebase", map[string]any{"path": repo}))
	if err != nil {
		t.Fatal(err)
	}
	var resp indexResponse
	decodeResult(t, indexResult, &resp)
	waitIndexed(t, svc, resp.CanonicalID)

	listResult, err := svc.ListRepositories(ctx, callRequest("list_repositories", nil))
	if err != nil {
		t.Fatal(err)
	}
	var listing struct {
		Repositories []repoListing `json:"repositories"`
		Total        int           `json:"total"`
	}
	decodeResult(t, listResult, &listing)
	if listing.Total != 1 {
		t.Fatalf("total = %d, want 1", listing.Total)
	}
	if listing.Repositories[0].Status != "indexed" {
		t.Errorf("status = %q, want indexed", listing.Repositories[0].Status)
	}

	// status filter
	filtered, err := svc.ListRepositories(ctx, callRequest("list_repositories", map[string]any{"status": "failed"}))
	if err != nil {
		t.Fatal(err)
	}
	decodeResult(t, filtered, &listing)
	if listing.Total != 0 {
		t.Errorf("failed filter matched %d repos", listing.Total)
	}

	// name substring filter
	filtered, err = svc.ListRepositories(ctx, callRequest("list_repositories", map[string]any{
		"nameSubstring": "zzz-no-such-repo",
	}))
	if err != nil {
		t.Fatal(err)
	}
	decodeResult(t, filtered, &listing)
	if listing.Total != 0 {
		t.Errorf("substring filter matched %d repos", listing.Total)
	}
}

func TestSearchAllToolEndToEnd(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	repo := writeRepoFixture(t)

	indexResult, err := svc.IndexCodebase(ctx, callRequest("index_codebase", map[string]any{"path": repo}))
	if err != nil {
		t.Fatal(err)
	}
	var resp indexResponse
	decodeResult(t, indexResult, &resp)
	waitIndexed(t, svc, resp.CanonicalID)

	result, err := svc.SearchAll(ctx, callRequest("search_all", map[string]any{
		"query": "main function", "limit": 5,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("search_all errored: %s", resultText(t, result))
	}
	var searchResp search.Response
	decodeResult(t, result, &searchResp)
	if searchResp.Summary.CollectionsQueried != 1 {
		t.Errorf("collectionsQueried = %d, want 1", searchResp.Summary.CollectionsQueried)
	}
	if len(searchResp.Results) == 0 {
		t.Fatal("no results")
	}
	if searchResp.Results[0].CanonicalRepoID != resp.CanonicalID {
		t.Errorf("attribution = %q, want %q", searchResp.Results[0].CanonicalRepoID, resp.CanonicalID)
	}
	if searchResp.Normalization != "raw" {
		t.Errorf("normalization = %q, want raw (config default)", searchResp.Normalization)
	}
}

func TestLimitClamp(t *testing.T) {
	if clampLimit(0) != 10 {
		t.Error("zero limit should default to 10")
	}
	if clampLimit(200) != maxSearchLimit {
		t.Error("oversized limit not clamped to 50")
	}
	if clampLimit(7) != 7 {
		t.Error("in-range limit altered")
	}
}
