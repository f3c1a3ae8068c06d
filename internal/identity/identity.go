// Package identity resolves filesystem paths and clone URLs onto canonical
// repository identifiers, collapsing worktrees, clones and SSH/HTTPS remote
// variants of the same logical repository.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"

	"github.com/codectx-dev/codectx/internal/gitutil"
)

// Source records how a canonical ID was derived.
type Source string

const (
	SourceRemoteURL     Source = "remote-url"
	SourceInitialCommit Source = "initial-commit"
	SourcePathHash      Source = "path-hash"
)

// Salt prefixes keep the three derivation inputs in disjoint hash domains.
const (
	commitSalt = "initial-commit:"
	pathSalt   = "path:"
)

// RepoIdentity is the result of resolving a path or URL.
type RepoIdentity struct {
	CanonicalID      string   `json:"canonicalId"`
	Source           Source   `json:"identitySource"`
	RemoteURL        string   `json:"remoteUrl,omitempty"` // normalized host/owner/name
	DisplayName      string   `json:"displayName"`
	IsGitRepo        bool     `json:"isGitRepo"`
	IsWorktree       bool     `json:"isWorktree"`
	RepoRoot         string   `json:"repoRoot,omitempty"`
	MainWorktreePath string   `json:"mainWorktreePath,omitempty"`
	DetectedPaths    []string `json:"detectedPaths"`
}

// Resolver derives repository identities using git subprocess helpers.
type Resolver struct {
	git *gitutil.Runner
}

// NewResolver creates a Resolver on top of the given git runner.
func NewResolver(git *gitutil.Runner) *Resolver {
	return &Resolver{git: git}
}

// Options control identity resolution.
type Options struct {
	// IncludeWorktrees unions every worktree of the repository into
	// DetectedPaths. Defaults to true via DefaultOptions.
	IncludeWorktrees bool
}

// DefaultOptions returns the default resolution options.
func DefaultOptions() Options {
	return Options{IncludeWorktrees: true}
}

// Resolve derives the identity of the repository containing path.
//
// Derivation order, first success wins: normalized origin remote URL, then
// salted root-commit SHA, then a hash of the repository root path. Paths
// outside any git repository get a path-hash identity of the path itself.
func (r *Resolver) Resolve(ctx context.Context, path string, opts Options) RepoIdentity {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}

	info := gitutil.DetectGitRepo(abs)
	if !info.IsGitRepo {
		return RepoIdentity{
			CanonicalID:   hashHex(pathSalt + abs),
			Source:        SourcePathHash,
			DisplayName:   filepath.Base(abs),
			DetectedPaths: []string{abs},
		}
	}

	ident := RepoIdentity{
		IsGitRepo:     true,
		IsWorktree:    info.IsWorktree,
		RepoRoot:      info.RepoRoot,
		DisplayName:   filepath.Base(info.RepoRoot),
		DetectedPaths: []string{info.RepoRoot},
	}

	if info.IsWorktree && info.MainGitDir != "" {
		ident.MainWorktreePath = filepath.Dir(info.MainGitDir)
		if ident.MainWorktreePath != info.RepoRoot {
			ident.DetectedPaths = append(ident.DetectedPaths, ident.MainWorktreePath)
		}
	}

	if opts.IncludeWorktrees {
		if worktrees, ok := r.git.ListWorktrees(ctx, info.RepoRoot); ok {
			for _, wt := range worktrees {
				ident.DetectedPaths = appendUnique(ident.DetectedPaths, wt)
			}
		}
	}

	// Identity queries run against the main repository when resolving a
	// worktree, so every worktree of one repo lands on one ID.
	queryDir := info.RepoRoot
	if ident.MainWorktreePath != "" {
		queryDir = ident.MainWorktreePath
	}

	if rawURL, ok := r.git.RemoteOriginURL(ctx, queryDir); ok {
		if normalized, ok := gitutil.NormalizeGitURL(rawURL); ok {
			ident.CanonicalID = hashHex(normalized)
			ident.Source = SourceRemoteURL
			ident.RemoteURL = normalized
			ident.DisplayName = filepath.Base(normalized)
			return ident
		}
	}

	if rootSHA, ok := r.git.RootCommitSHA(ctx, queryDir); ok {
		ident.CanonicalID = hashHex(commitSalt + rootSHA)
		ident.Source = SourceInitialCommit
		return ident
	}

	// Zero-commit repositories fall through to the path hash.
	ident.CanonicalID = hashHex(pathSalt + info.RepoRoot)
	ident.Source = SourcePathHash
	return ident
}

// ResolveFromURL derives an identity from a clone URL alone.
// Unnormalizable URLs return ok=false.
func (r *Resolver) ResolveFromURL(url string) (RepoIdentity, bool) {
	normalized, ok := gitutil.NormalizeGitURL(url)
	if !ok {
		return RepoIdentity{}, false
	}
	return RepoIdentity{
		CanonicalID: hashHex(normalized),
		Source:      SourceRemoteURL,
		RemoteURL:   normalized,
		DisplayName: filepath.Base(normalized),
	}, true
}

// IsSameRepository reports whether two paths resolve to the same canonical ID.
func (r *Resolver) IsSameRepository(ctx context.Context, a, b string) bool {
	ia := r.Resolve(ctx, a, DefaultOptions())
	ib := r.Resolve(ctx, b, DefaultOptions())
	return ia.CanonicalID == ib.CanonicalID
}

// PathFallback builds a bare path-hash identity. It is the tolerant fallback
// for callers that must make progress even when git resolution fails.
func PathFallback(path string) RepoIdentity {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return RepoIdentity{
		CanonicalID:   hashHex(pathSalt + abs),
		Source:        SourcePathHash,
		DisplayName:   filepath.Base(abs),
		DetectedPaths: []string{abs},
	}
}

func hashHex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func appendUnique(paths []string, p string) []string {
	for _, existing := range paths {
		if existing == p {
			return paths
		}
	}
	return append(paths, p)
}
