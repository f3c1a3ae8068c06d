// Package gitutil provides helpers over a git subprocess runner: repository
// and worktree detection, remote and commit queries, and git URL
// normalization.
package gitutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// RepoInfo describes the git status of a filesystem path.
type RepoInfo struct {
	IsGitRepo  bool
	RepoRoot   string // directory containing the .git entry
	IsWorktree bool
	GitPath    string // the .git directory, or the .git pointer file for worktrees
	MainGitDir string // common git directory, set for worktrees only
}

// FindGitPath walks upward from start looking for a .git entry.
// It returns the entry path and whether it is a worktree pointer file.
// ok=false means no git repository contains start.
func FindGitPath(start string) (gitPath string, isFile bool, ok bool) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", false, false
	}

	for {
		candidate := filepath.Join(dir, ".git")
		if fi, err := os.Stat(candidate); err == nil {
			return candidate, !fi.IsDir(), true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false, false
		}
		dir = parent
	}
}

// DetectGitRepo resolves the git status of path, following worktree pointer
// files of the form "gitdir: <path>" back to the common git directory.
func DetectGitRepo(path string) RepoInfo {
	gitPath, isFile, ok := FindGitPath(path)
	if !ok {
		return RepoInfo{}
	}

	info := RepoInfo{
		IsGitRepo: true,
		RepoRoot:  filepath.Dir(gitPath),
		GitPath:   gitPath,
	}

	if !isFile {
		return info
	}

	// A .git file marks a worktree. Its content points at
	// <main>/.git/worktrees/<name>; the common git directory is two
	// levels above that.
	target, ok := readGitdirPointer(gitPath)
	if !ok {
		return RepoInfo{}
	}

	info.IsWorktree = true
	if filepath.Base(filepath.Dir(target)) == "worktrees" {
		info.MainGitDir = filepath.Dir(filepath.Dir(target))
	}
	return info
}

// readGitdirPointer parses a worktree .git pointer file.
func readGitdirPointer(gitFile string) (string, bool) {
	data, err := os.ReadFile(gitFile)
	if err != nil {
		return "", false
	}
	line := strings.TrimSpace(string(data))
	const prefix = "gitdir:"
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	target := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	if target == "" {
		return "", false
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(gitFile), target)
	}
	return filepath.Clean(target), true
}

// RemoteOriginURL returns the configured origin remote URL of the repo at dir.
func (r *Runner) RemoteOriginURL(ctx context.Context, dir string) (string, bool) {
	out, ok := r.Run(ctx, dir, "config", "--get", "remote.origin.url")
	if !ok || out == "" {
		return "", false
	}
	return out, true
}

// RootCommitSHA returns the SHA of the first parentless commit reachable from
// HEAD. Repositories with zero commits return ok=false.
func (r *Runner) RootCommitSHA(ctx context.Context, dir string) (string, bool) {
	out, ok := r.Run(ctx, dir, "rev-list", "--max-parents=0", "HEAD")
	if !ok || out == "" {
		return "", false
	}
	// histories with multiple roots list one per line; take the last for
	// a stable choice
	lines := strings.Split(out, "\n")
	return strings.TrimSpace(lines[len(lines)-1]), true
}

// HeadCommit returns the current HEAD commit SHA.
func (r *Runner) HeadCommit(ctx context.Context, dir string) (string, bool) {
	return r.Run(ctx, dir, "rev-parse", "HEAD")
}

// CurrentBranch returns the checked-out branch name, or "HEAD" when detached.
func (r *Runner) CurrentBranch(ctx context.Context, dir string) (string, bool) {
	return r.Run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
}

// StatusDigest returns a digest input for change detection: HEAD plus the
// porcelain status of the working tree.
func (r *Runner) StatusDigest(ctx context.Context, dir string) (string, bool) {
	head, ok := r.Run(ctx, dir, "rev-parse", "HEAD")
	if !ok {
		return "", false
	}
	status, ok := r.Run(ctx, dir, "status", "--porcelain")
	if !ok {
		return "", false
	}
	return head + "\n" + status, true
}

// ListWorktrees enumerates all worktree paths of the repository at dir,
// including the main working tree, via `git worktree list --porcelain`.
func (r *Runner) ListWorktrees(ctx context.Context, dir string) ([]string, bool) {
	out, ok := r.Run(ctx, dir, "worktree", "list", "--porcelain")
	if !ok {
		return nil, false
	}

	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if rest, found := strings.CutPrefix(line, "worktree "); found {
			paths = append(paths, filepath.Clean(strings.TrimSpace(rest)))
		}
	}
	return paths, true
}

// Clone performs a shallow clone of url into dst. Clones get a much larger
// budget than ordinary subcommands.
func (r *Runner) Clone(ctx context.Context, url, dst string) bool {
	_, ok := r.run(ctx, cloneTimeout, "", "clone", "--depth", "1", url, dst)
	return ok
}
