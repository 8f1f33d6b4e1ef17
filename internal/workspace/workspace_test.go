package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// TestPaths verifies the on-disk layout
func TestPaths(t *testing.T) {
	ws := New("/work/login")

	cases := map[string]string{
		ws.SpecPath():      "/work/login/spec.md",
		ws.TaskSetPath():   "/work/login/tasks.yaml",
		ws.ProgressPath():  "/work/login/progress.md",
		ws.ConfigPath():    "/work/login/.ralph/config.yaml",
		ws.LockPath():      "/work/login/.ralph/loop.lock",
		ws.RateStatePath(): "/work/login/.ralph/ratelimit.json",
		ws.HistoryPath():   "/work/login/.ralph/history.db",
	}
	for got, want := range cases {
		if got != filepath.FromSlash(want) {
			t.Errorf("path = %q, want %q", got, want)
		}
	}
}

// TestEnsureStateDir verifies creation and idempotence
func TestEnsureStateDir(t *testing.T) {
	ws := New(t.TempDir())

	if err := ws.EnsureStateDir(); err != nil {
		t.Fatalf("EnsureStateDir() error = %v", err)
	}
	info, err := os.Stat(filepath.Join(ws.Root, StateDir))
	if err != nil || !info.IsDir() {
		t.Fatalf("state dir missing: %v", err)
	}
	if err := ws.EnsureStateDir(); err != nil {
		t.Errorf("second EnsureStateDir() error = %v", err)
	}
}

// TestArchiveExcluded verifies transient run state is skipped
func TestArchiveExcluded(t *testing.T) {
	excluded := []string{
		".ralph/loop.lock",
		".ralph/loop.lock.holder",
		".ralph/ratelimit.json",
		".ralph/history.db",
	}
	for _, rel := range excluded {
		if !ArchiveExcluded(filepath.FromSlash(rel)) {
			t.Errorf("ArchiveExcluded(%q) = false, want true", rel)
		}
	}

	kept := []string{"spec.md", "tasks.yaml", "progress.md", ".ralph/config.yaml", "src/main.go"}
	for _, rel := range kept {
		if ArchiveExcluded(filepath.FromSlash(rel)) {
			t.Errorf("ArchiveExcluded(%q) = true, want false", rel)
		}
	}
}

// TestFindGitState verifies upward search and branch resolution
func TestFindGitState(t *testing.T) {
	root := t.TempDir()
	gitDir := filepath.Join(root, ".git")
	if err := os.MkdirAll(gitDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/feature-x\n"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	// Nested workspace resolves via the upward walk.
	nested := filepath.Join(root, "features", "login")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	git, err := FindGitState(nested)
	if err != nil {
		t.Fatalf("FindGitState() error = %v", err)
	}
	branch, err := git.Branch()
	if err != nil {
		t.Fatalf("Branch() error = %v", err)
	}
	if branch != "feature-x" {
		t.Errorf("Branch() = %q, want feature-x", branch)
	}
}

// TestFindGitStateMissing verifies the sentinel error
func TestFindGitStateMissing(t *testing.T) {
	_, err := FindGitState(t.TempDir())
	if !errors.Is(err, ErrNoGitContext) {
		t.Errorf("FindGitState() error = %v, want ErrNoGitContext", err)
	}
}

// TestBranchDetachedHead verifies the detached fallback
func TestBranchDetachedHead(t *testing.T) {
	root := t.TempDir()
	gitDir := filepath.Join(root, ".git")
	if err := os.MkdirAll(gitDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(gitDir, "HEAD"),
		[]byte("0123456789abcdef0123456789abcdef01234567\n"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	git, err := FindGitState(root)
	if err != nil {
		t.Fatalf("FindGitState() error = %v", err)
	}
	branch, err := git.Branch()
	if err != nil {
		t.Fatalf("Branch() error = %v", err)
	}
	if branch != "detached@0123456" {
		t.Errorf("Branch() = %q, want detached@0123456", branch)
	}
}
