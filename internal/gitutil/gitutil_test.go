package gitutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindGitPath(t *testing.T) {
	root := t.TempDir()
	gitDir := filepath.Join(root, ".git")
	if err := os.Mkdir(gitDir, 0755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	gitPath, isFile, ok := FindGitPath(nested)
	if !ok {
		t.Fatal("expected to find .git walking up from nested dir")
	}
	if isFile {
		t.Error("expected a .git directory, got a file")
	}
	if gitPath != gitDir {
		t.Errorf("gitPath = %q, want %q", gitPath, gitDir)
	}
}

func TestFindGitPathNone(t *testing.T) {
	dir := t.TempDir()
	if _, _, ok := FindGitPath(dir); ok {
		t.Error("expected no .git for a bare temp dir")
	}
}

func TestDetectGitRepoRegular(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0755); err != nil {
		t.Fatal(err)
	}

	info := DetectGitRepo(root)
	if !info.IsGitRepo {
		t.Fatal("expected a git repo")
	}
	if info.IsWorktree {
		t.Error("regular repo flagged as worktree")
	}
	if info.RepoRoot != root {
		t.Errorf("RepoRoot = %q, want %q", info.RepoRoot, root)
	}
}

func TestDetectGitRepoWorktree(t *testing.T) {
	// layout: main/.git/worktrees/feat, wt/.git -> pointer file
	base := t.TempDir()
	mainRepo := filepath.Join(base, "main")
	worktreesDir := filepath.Join(mainRepo, ".git", "worktrees", "feat")
	if err := os.MkdirAll(worktreesDir, 0755); err != nil {
		t.Fatal(err)
	}
	wt := filepath.Join(base, "wt")
	if err := os.Mkdir(wt, 0755); err != nil {
		t.Fatal(err)
	}
	pointer := "gitdir: " + worktreesDir + "\n"
	if err := os.WriteFile(filepath.Join(wt, ".git"), []byte(pointer), 0644); err != nil {
		t.Fatal(err)
	}

	info := DetectGitRepo(wt)
	if !info.IsGitRepo {
		t.Fatal("expected worktree to be detected as a git repo")
	}
	if !info.IsWorktree {
		t.Fatal("expected IsWorktree")
	}
	if info.RepoRoot != wt {
		t.Errorf("RepoRoot = %q, want %q", info.RepoRoot, wt)
	}
	wantMain := filepath.Join(mainRepo, ".git")
	if info.MainGitDir != wantMain {
		t.Errorf("MainGitDir = %q, want %q", info.MainGitDir, wantMain)
	}
}

func TestDetectGitRepoBrokenPointer(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".git"), []byte("not a pointer"), 0644); err != nil {
		t.Fatal(err)
	}
	if info := DetectGitRepo(dir); info.IsGitRepo {
		t.Error("malformed pointer file should not detect as a repo")
	}
}

func TestReadGitdirPointerRelative(t *testing.T) {
	dir := t.TempDir()
	gitFile := filepath.Join(dir, ".git")
	if err := os.WriteFile(gitFile, []byte("gitdir: ../main/.git/worktrees/feat"), 0644); err != nil {
		t.Fatal(err)
	}
	target, ok := readGitdirPointer(gitFile)
	if !ok {
		t.Fatal("expected pointer to parse")
	}
	want := filepath.Clean(filepath.Join(dir, "..", "main", ".git", "worktrees", "feat"))
	if target != want {
		t.Errorf("target = %q, want %q", target, want)
	}
}
