package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/codectx-dev/codectx/internal/identity"
	"github.com/codectx-dev/codectx/internal/logger"
)

const formatV3 = "v3"

// ResolveFunc derives an identity for a path during v1/v2 migration.
type ResolveFunc func(ctx context.Context, path string) identity.RepoIdentity

// Store reads and writes the repository snapshot file.
// Writes are serialized globally; the full state is always written in one
// atomic replace.
type Store struct {
	path    string
	log     *logger.Logger
	resolve ResolveFunc

	writeMu sync.Mutex
}

// NewStore creates a snapshot store for the given file path.
func NewStore(path string, resolve ResolveFunc, log *logger.Logger) *Store {
	return &Store{path: path, log: log, resolve: resolve}
}

// fileV3 is the only format ever written.
type fileV3 struct {
	FormatVersion string                 `json:"formatVersion"`
	Repositories  map[string]*RepoRecord `json:"repositories"`
	LastUpdated   time.Time              `json:"lastUpdated"`
}

// fileV2 maps paths to tagged per-path state.
type fileV2 struct {
	FormatVersion string                  `json:"formatVersion"`
	Codebases     map[string]CodebaseInfo `json:"codebases"`
	LastUpdated   flexTime                `json:"lastUpdated"`
}

// fileV1 predates format versioning. indexingCodebases was a plain list in
// early writers and a path→percentage map later; both are accepted.
type fileV1 struct {
	IndexedCodebases  []string       `json:"indexedCodebases"`
	IndexingCodebases v1IndexingList `json:"indexingCodebases"`
	LastUpdated       flexTime       `json:"lastUpdated"`
}

type v1IndexingList map[string]float64

func (v *v1IndexingList) UnmarshalJSON(data []byte) error {
	var asMap map[string]float64
	if err := json.Unmarshal(data, &asMap); err == nil {
		*v = asMap
		return nil
	}
	var asList []string
	if err := json.Unmarshal(data, &asList); err != nil {
		return err
	}
	out := make(map[string]float64, len(asList))
	for _, p := range asList {
		out[p] = 0
	}
	*v = out
	return nil
}

// Load reads the snapshot, migrating v1/v2 content to v3 in memory. After a
// migration the v3 form is written back once so subsequent loads are fast.
// A missing file yields an empty state; a corrupt file yields an empty state
// with a logged error, never a failed startup.
func (s *Store) Load(ctx context.Context) map[string]*RepoRecord {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]*RepoRecord{}
	}
	if err != nil {
		s.log.Error("cannot read snapshot, starting empty", "path", s.path, "err", err)
		return map[string]*RepoRecord{}
	}

	var probe struct {
		FormatVersion string `json:"formatVersion"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		s.log.Error("corrupt snapshot, starting empty", "path", s.path, "err", err)
		return map[string]*RepoRecord{}
	}

	switch probe.FormatVersion {
	case formatV3:
		var file fileV3
		if err := json.Unmarshal(data, &file); err != nil {
			s.log.Error("corrupt v3 snapshot, starting empty", "path", s.path, "err", err)
			return map[string]*RepoRecord{}
		}
		if file.Repositories == nil {
			file.Repositories = map[string]*RepoRecord{}
		}
		return file.Repositories

	case "v2":
		var file fileV2
		if err := json.Unmarshal(data, &file); err != nil {
			s.log.Error("corrupt v2 snapshot, starting empty", "path", s.path, "err", err)
			return map[string]*RepoRecord{}
		}
		repos := s.migrateV2(ctx, file)
		s.writeBack(repos)
		return repos

	default:
		// No formatVersion: v1.
		var file fileV1
		if err := json.Unmarshal(data, &file); err != nil {
			s.log.Error("corrupt v1 snapshot, starting empty", "path", s.path, "err", err)
			return map[string]*RepoRecord{}
		}
		repos := s.migrateV1(ctx, file)
		s.writeBack(repos)
		return repos
	}
}

func (s *Store) migrateV1(ctx context.Context, file fileV1) map[string]*RepoRecord {
	repos := map[string]*RepoRecord{}
	for _, path := range file.IndexedCodebases {
		s.mergePath(ctx, repos, path, CodebaseInfo{Status: "indexed", LastUpdated: file.LastUpdated})
	}
	for path, pct := range file.IndexingCodebases {
		s.mergePath(ctx, repos, path, CodebaseInfo{Status: "indexing", IndexingPercentage: pct})
	}
	return repos
}

func (s *Store) migrateV2(ctx context.Context, file fileV2) map[string]*RepoRecord {
	repos := map[string]*RepoRecord{}

	// deterministic migration order
	paths := make([]string, 0, len(file.Codebases))
	for path := range file.Codebases {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		s.mergePath(ctx, repos, path, file.Codebases[path])
	}
	return repos
}

// mergePath resolves one referenced path and unions it into the record set,
// grouping paths of the same logical repository under one canonical ID.
func (s *Store) mergePath(ctx context.Context, repos map[string]*RepoRecord, path string, info CodebaseInfo) {
	if _, err := os.Stat(path); err != nil {
		s.log.Warn("dropping snapshot path that no longer exists", "path", path)
		return
	}

	ident := s.resolveTolerant(ctx, path)

	record, ok := repos[ident.CanonicalID]
	if !ok {
		record = &RepoRecord{
			CanonicalID: ident.CanonicalID,
			DisplayName: ident.DisplayName,
			RemoteURL:   ident.RemoteURL,
			Source:      ident.Source,
			Branches:    map[string]BranchState{},
		}
		repos[ident.CanonicalID] = record
	}

	registeredPath := path
	if ident.RepoRoot != "" {
		registeredPath = ident.RepoRoot
	}
	if !record.HasPath(registeredPath) {
		record.KnownPaths = append(record.KnownPaths, registeredPath)
	}
	if ident.IsWorktree {
		record.Worktrees = append(record.Worktrees, registeredPath)
	}

	branch := BranchState{LastIndexed: info.LastUpdated.Time}
	switch info.Status {
	case "indexed":
		branch.Status = StatusIndexed
		branch.IndexedFiles = info.IndexedFiles
		branch.TotalChunks = info.TotalChunks
	case "indexing":
		branch.Status = StatusIndexing
		pct := info.IndexingPercentage
		branch.IndexingPercentage = &pct
	default:
		branch.Status = StatusFailed
		branch.ErrorMessage = info.ErrorMessage
	}

	if record.DefaultBranch == "" {
		record.DefaultBranch = "main"
	}
	// first migrated state for a canonical ID wins; later aliases of the
	// same repo don't overwrite it
	if _, exists := record.Branches[record.DefaultBranch]; !exists {
		record.Branches[record.DefaultBranch] = branch
		record.LastIndexed = info.LastUpdated.Time
	}
}

// resolveTolerant falls back to a path-hash identity when resolution fails,
// so one unreadable repo cannot abort a migration.
func (s *Store) resolveTolerant(ctx context.Context, path string) (ident identity.RepoIdentity) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("identity resolution failed during migration, using path hash",
				"path", path, "recover", r)
			ident = identity.PathFallback(path)
		}
	}()
	ident = s.resolve(ctx, path)
	if ident.CanonicalID == "" {
		ident = identity.PathFallback(path)
	}
	return ident
}

// Save serializes the full state and atomically replaces the snapshot file.
func (s *Store) Save(repos map[string]*RepoRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	file := fileV3{
		FormatVersion: formatV3,
		Repositories:  repos,
		LastUpdated:   time.Now().UTC(),
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *Store) writeBack(repos map[string]*RepoRecord) {
	if err := s.Save(repos); err != nil {
		s.log.Error("cannot write migrated snapshot", "err", err)
	}
}
