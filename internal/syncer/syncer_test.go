package syncer

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codectx-dev/codectx/internal/gitutil"
	"github.com/codectx-dev/codectx/internal/logger"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
}

func TestGitDetectorObservesCommits(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	dir := t.TempDir()

	runGit(t, dir, "init", "-b", "main")
	if err := os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0644); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "one")

	d := NewGitDetector(gitutil.NewRunner(logger.NewNop(), 30*time.Second))

	changed, digest, _ := d.Changed(ctx, dir, "")
	if !changed || digest == "" {
		t.Fatal("first observation should report a change with a digest")
	}

	// steady state: no change
	changed, again, _ := d.Changed(ctx, dir, digest)
	if changed {
		t.Error("unchanged tree reported as changed")
	}
	if again != digest {
		t.Error("digest drifted without changes")
	}

	// a new commit changes the digest and names the changed file
	if err := os.WriteFile(filepath.Join(dir, "b.go"), []byte("package b\n"), 0644); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "two")

	changed, next, changedPaths := d.Changed(ctx, dir, digest)
	if !changed {
		t.Fatal("new commit not detected")
	}
	if next == digest {
		t.Error("digest unchanged after commit")
	}
	found := false
	for _, p := range changedPaths {
		if strings.TrimSpace(p) == "b.go" {
			found = true
		}
	}
	if !found {
		t.Errorf("changedPaths = %v, want b.go listed", changedPaths)
	}
}

func TestGitDetectorObservesDirtyTree(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	dir := t.TempDir()

	runGit(t, dir, "init", "-b", "main")
	if err := os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0644); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "one")

	d := NewGitDetector(gitutil.NewRunner(logger.NewNop(), 30*time.Second))
	_, digest, _ := d.Changed(ctx, dir, "")

	// an uncommitted edit flips the status half of the digest
	if err := os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a // edited\n"), 0644); err != nil {
		t.Fatal(err)
	}
	changed, _, _ := d.Changed(ctx, dir, digest)
	if !changed {
		t.Error("dirty working tree not detected")
	}
}
