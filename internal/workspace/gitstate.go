package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoGitContext indicates the workspace is not inside a git repository,
// so no stable execution identity can be determined.
var ErrNoGitContext = errors.New("workspace has no resolvable git context")

// GitState is a read-only view of the repository surrounding a workspace.
// Only commit state is read; no git operations are ever performed.
type GitState struct {
	gitDir string
}

// FindGitState walks up from dir looking for a .git directory.
func FindGitState(dir string) (*GitState, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	for {
		candidate := filepath.Join(abs, ".git")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return &GitState{gitDir: candidate}, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return nil, fmt.Errorf("%w (searched upward from %s)", ErrNoGitContext, dir)
		}
		abs = parent
	}
}

// Branch returns the current branch name, or the short detached HEAD hash
// prefixed with "detached@".
func (g *GitState) Branch() (string, error) {
	head, err := os.ReadFile(filepath.Join(g.gitDir, "HEAD"))
	if err != nil {
		return "", fmt.Errorf("failed to read git HEAD: %w", err)
	}
	line := strings.TrimSpace(string(head))
	if ref, ok := strings.CutPrefix(line, "ref: "); ok {
		return strings.TrimPrefix(ref, "refs/heads/"), nil
	}
	return "detached@" + shortHash(line), nil
}

// Head returns the short hash of the current commit, or empty if it
// cannot be resolved (e.g. an empty repository).
func (g *GitState) Head() string {
	head, err := os.ReadFile(filepath.Join(g.gitDir, "HEAD"))
	if err != nil {
		return ""
	}
	line := strings.TrimSpace(string(head))
	ref, ok := strings.CutPrefix(line, "ref: ")
	if !ok {
		return shortHash(line)
	}

	// Loose ref first, then packed-refs.
	if data, err := os.ReadFile(filepath.Join(g.gitDir, filepath.FromSlash(ref))); err == nil {
		return shortHash(strings.TrimSpace(string(data)))
	}
	if data, err := os.ReadFile(filepath.Join(g.gitDir, "packed-refs")); err == nil {
		for _, l := range strings.Split(string(data), "\n") {
			fields := strings.Fields(l)
			if len(fields) == 2 && fields[1] == ref {
				return shortHash(fields[0])
			}
		}
	}
	return ""
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}
