// Package registry is the in-memory authoritative index of known
// repositories, keyed by canonical ID and queryable by filesystem path.
// The snapshot store is its sole persistence backend.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/codectx-dev/codectx/internal/identity"
	"github.com/codectx-dev/codectx/internal/logger"
	"github.com/codectx-dev/codectx/internal/snapshot"
)

// Resolver derives repository identities. *identity.Resolver satisfies it;
// tests substitute stubs.
type Resolver interface {
	Resolve(ctx context.Context, path string, opts identity.Options) identity.RepoIdentity
}

// Persister writes the full registry state. *snapshot.Store satisfies it.
type Persister interface {
	Save(repos map[string]*snapshot.RepoRecord) error
}

// Registry maps canonical IDs to repository records with a companion
// path→canonicalID index. Safe for concurrent use.
type Registry struct {
	resolver Resolver
	store    Persister
	log      *logger.Logger

	mu     deadlock.RWMutex
	repos  map[string]*snapshot.RepoRecord
	byPath map[string]string

	// per-canonical-ID locks serialize indexing and registration per repo
	repoLocksMu sync.Mutex
	repoLocks   map[string]*sync.Mutex
}

// New builds a registry over the given initial state (typically
// snapshot.Store.Load output).
func New(repos map[string]*snapshot.RepoRecord, resolver Resolver, store Persister, log *logger.Logger) *Registry {
	if repos == nil {
		repos = map[string]*snapshot.RepoRecord{}
	}
	r := &Registry{
		resolver:  resolver,
		store:     store,
		log:       log,
		repos:     repos,
		byPath:    map[string]string{},
		repoLocks: map[string]*sync.Mutex{},
	}
	for id, record := range repos {
		for _, p := range record.KnownPaths {
			r.byPath[p] = id
		}
	}
	return r
}

// RepoLock returns the mutex serializing mutations and indexing for one
// canonical ID. Only one indexing task runs per repository at a time.
func (r *Registry) RepoLock(canonicalID string) *sync.Mutex {
	r.repoLocksMu.Lock()
	defer r.repoLocksMu.Unlock()

	if lock, ok := r.repoLocks[canonicalID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	r.repoLocks[canonicalID] = lock
	return lock
}

// Resolution is the result of Resolve.
type Resolution struct {
	Found    bool
	Record   *snapshot.RepoRecord
	Identity identity.RepoIdentity
	// IsNewPathForExistingRepo is true precisely when the queried path was
	// not registered but its canonical ID was.
	IsNewPathForExistingRepo bool
	// PrimaryPath is the first known path of the existing record.
	PrimaryPath string
}

// Resolve looks up path, first through the path index, then by computed
// canonical identity.
func (r *Registry) Resolve(ctx context.Context, path string) Resolution {
	r.mu.RLock()
	if id, ok := r.byPath[path]; ok {
		record := r.repos[id].Clone()
		r.mu.RUnlock()
		return Resolution{
			Found:       true,
			Record:      record,
			Identity:    identity.RepoIdentity{CanonicalID: id, Source: record.Source, RemoteURL: record.RemoteURL, DisplayName: record.DisplayName},
			PrimaryPath: primaryPath(record),
		}
	}
	r.mu.RUnlock()

	ident := r.resolver.Resolve(ctx, path, identity.DefaultOptions())

	r.mu.RLock()
	defer r.mu.RUnlock()
	if record, ok := r.repos[ident.CanonicalID]; ok {
		return Resolution{
			Found:                    true,
			Record:                   record.Clone(),
			Identity:                 ident,
			IsNewPathForExistingRepo: true,
			PrimaryPath:              primaryPath(record),
		}
	}
	return Resolution{Identity: ident}
}

// RegisterOptions overlay fields onto the registered record.
type RegisterOptions struct {
	CollectionName string
	IsIndexed      bool
	IndexedFiles   int
	TotalChunks    int
	Branch         string // branch key; defaults to the repo's current default
}

// Register adds path to the record for its canonical ID, creating the record
// if needed, and persists the snapshot.
func (r *Registry) Register(ctx context.Context, path string, opts RegisterOptions) (*snapshot.RepoRecord, error) {
	ident := r.resolver.Resolve(ctx, path, identity.DefaultOptions())
	registeredPath := path
	if ident.RepoRoot != "" {
		registeredPath = ident.RepoRoot
	}

	lock := r.RepoLock(ident.CanonicalID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()

	record, ok := r.repos[ident.CanonicalID]
	if !ok {
		record = &snapshot.RepoRecord{
			CanonicalID: ident.CanonicalID,
			DisplayName: ident.DisplayName,
			RemoteURL:   ident.RemoteURL,
			Source:      ident.Source,
			Branches:    map[string]snapshot.BranchState{},
		}
		r.repos[ident.CanonicalID] = record
	}

	if !record.HasPath(registeredPath) {
		record.KnownPaths = append(record.KnownPaths, registeredPath)
	}
	r.byPath[registeredPath] = ident.CanonicalID
	if ident.IsWorktree && !contains(record.Worktrees, registeredPath) {
		record.Worktrees = append(record.Worktrees, registeredPath)
	}

	branch := opts.Branch
	if branch == "" {
		branch = record.DefaultBranch
	}
	if branch == "" {
		branch = "main"
	}
	if record.DefaultBranch == "" {
		record.DefaultBranch = branch
	}

	if opts.IsIndexed {
		record.Branches[branch] = snapshot.BranchState{
			Status:         snapshot.StatusIndexed,
			IndexedFiles:   opts.IndexedFiles,
			TotalChunks:    opts.TotalChunks,
			CollectionName: opts.CollectionName,
			LastIndexed:    time.Now().UTC(),
		}
		record.LastIndexed = time.Now().UTC()
	} else if opts.CollectionName != "" {
		st := record.Branches[branch]
		st.CollectionName = opts.CollectionName
		record.Branches[branch] = st
	}

	result := record.Clone()
	err := r.persistLocked()
	r.mu.Unlock()
	return result, err
}

// IsAlreadyIndexed reports whether the repository with this identity has a
// live index.
func (r *Registry) IsAlreadyIndexed(ident identity.RepoIdentity) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.repos[ident.CanonicalID]
	return ok && record.IsIndexed()
}

// IsPathAlreadyIndexed reports whether the repository registered at path has
// a live index.
func (r *Registry) IsPathAlreadyIndexed(ctx context.Context, path string) bool {
	res := r.Resolve(ctx, path)
	return res.Found && res.Record.IsIndexed()
}

// MarkIndexing transitions the branch to indexing state with a progress
// percentage.
func (r *Registry) MarkIndexing(canonicalID, branch string, percentage float64) error {
	return r.mutateBranch(canonicalID, branch, func(st *snapshot.BranchState) {
		st.Status = snapshot.StatusIndexing
		st.IndexingPercentage = &percentage
		st.ErrorMessage = ""
	})
}

// MarkIndexed transitions the branch to indexed state with final counts.
func (r *Registry) MarkIndexed(canonicalID, branch, collectionName string, indexedFiles, totalChunks int) error {
	return r.mutateBranch(canonicalID, branch, func(st *snapshot.BranchState) {
		st.Status = snapshot.StatusIndexed
		st.IndexedFiles = indexedFiles
		st.TotalChunks = totalChunks
		st.CollectionName = collectionName
		st.IndexingPercentage = nil
		st.ErrorMessage = ""
		st.LastIndexed = time.Now().UTC()
	})
}

// MarkFailed transitions the branch to failed state with a message.
func (r *Registry) MarkFailed(canonicalID, branch, message string) error {
	return r.mutateBranch(canonicalID, branch, func(st *snapshot.BranchState) {
		st.Status = snapshot.StatusFailed
		st.ErrorMessage = message
		st.IndexingPercentage = nil
	})
}

// SetLastCommit records the commit an index run was built from.
func (r *Registry) SetLastCommit(canonicalID, branch, commit string) error {
	return r.mutateBranch(canonicalID, branch, func(st *snapshot.BranchState) {
		st.LastCommit = commit
	})
}

// MarkNotIndexed removes all branch state for the repository, keeping its
// registration.
func (r *Registry) MarkNotIndexed(canonicalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.repos[canonicalID]
	if !ok {
		return fmt.Errorf("unknown repository %s", canonicalID)
	}
	record.Branches = map[string]snapshot.BranchState{}
	record.DefaultBranch = ""
	return r.persistLocked()
}

func (r *Registry) mutateBranch(canonicalID, branch string, fn func(*snapshot.BranchState)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.repos[canonicalID]
	if !ok {
		return fmt.Errorf("unknown repository %s", canonicalID)
	}
	if branch == "" {
		branch = record.DefaultBranch
	}
	if branch == "" {
		branch = "main"
	}
	if record.DefaultBranch == "" {
		record.DefaultBranch = branch
	}
	st := record.Branches[branch]
	fn(&st)
	record.Branches[branch] = st
	return r.persistLocked()
}

// RemovePath unregisters one path. Dropping a record's last path removes the
// record itself.
func (r *Registry) RemovePath(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byPath[path]
	if !ok {
		return fmt.Errorf("path not registered: %s", path)
	}
	delete(r.byPath, path)

	record := r.repos[id]
	record.KnownPaths = remove(record.KnownPaths, path)
	record.Worktrees = remove(record.Worktrees, path)
	if len(record.KnownPaths) == 0 {
		delete(r.repos, id)
	}
	return r.persistLocked()
}

// RemoveByCanonicalID removes a record and all its path registrations.
func (r *Registry) RemoveByCanonicalID(canonicalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.repos[canonicalID]
	if !ok {
		return fmt.Errorf("unknown repository %s", canonicalID)
	}
	for _, p := range record.KnownPaths {
		delete(r.byPath, p)
	}
	delete(r.repos, canonicalID)
	return r.persistLocked()
}

// Get returns the record for a canonical ID.
func (r *Registry) Get(canonicalID string) (*snapshot.RepoRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.repos[canonicalID]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// ListAll returns a copy of every record.
func (r *Registry) ListAll() []*snapshot.RepoRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*snapshot.RepoRecord, 0, len(r.repos))
	for _, record := range r.repos {
		out = append(out, record.Clone())
	}
	return out
}

// ListIndexed returns a copy of every record with a live index.
func (r *Registry) ListIndexed() []*snapshot.RepoRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*snapshot.RepoRecord
	for _, record := range r.repos {
		if record.IsIndexed() {
			out = append(out, record.Clone())
		}
	}
	return out
}

// Size returns the number of registered repositories.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.repos)
}

// IndexedCodebases returns the legacy flat list of indexed paths.
func (r *Registry) IndexedCodebases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot.IndexedCodebases(r.repos)
}

// IndexingCodebases returns the legacy path→progress view.
func (r *Registry) IndexingCodebases() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot.IndexingCodebases(r.repos)
}

// CodebaseInfo returns the legacy per-path view.
func (r *Registry) CodebaseInfo(path string) (snapshot.CodebaseInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot.InfoForPath(r.repos, path)
}

// Persist writes the current state through the snapshot store. Mutating
// methods call this implicitly; shutdown calls it once more explicitly.
func (r *Registry) Persist() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.persistLocked()
}

func (r *Registry) persistLocked() error {
	if err := r.store.Save(r.repos); err != nil {
		r.log.Error("snapshot persist failed", "err", err)
		return err
	}
	return nil
}

func primaryPath(record *snapshot.RepoRecord) string {
	if len(record.KnownPaths) == 0 {
		return ""
	}
	return record.KnownPaths[0]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
