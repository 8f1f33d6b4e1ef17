// Package workspace defines the on-disk layout of a feature workspace and
// read-only access to the surrounding git state.
package workspace

import (
	"os"
	"path/filepath"
)

// Well-known file names inside a feature workspace.
const (
	SpecFile     = "spec.md"
	TaskSetFile  = "tasks.yaml"
	ProgressFile = "progress.md"
	StateDir     = ".ralph"
	ConfigFile   = "config.yaml"
	LockFile     = "loop.lock"
	RateFile     = "ratelimit.json"
	HistoryFile  = "history.db"
)

// Workspace locates the persisted artifacts for one feature.
type Workspace struct {
	Root string
}

// New returns a workspace rooted at dir.
func New(dir string) *Workspace {
	return &Workspace{Root: dir}
}

// SpecPath returns the specification file path.
func (w *Workspace) SpecPath() string { return filepath.Join(w.Root, SpecFile) }

// TaskSetPath returns the task set file path.
func (w *Workspace) TaskSetPath() string { return filepath.Join(w.Root, TaskSetFile) }

// ProgressPath returns the progress log path.
func (w *Workspace) ProgressPath() string { return filepath.Join(w.Root, ProgressFile) }

// StatePath returns the path of a file inside the workspace state dir.
func (w *Workspace) StatePath(name string) string {
	return filepath.Join(w.Root, StateDir, name)
}

// ConfigPath returns the per-workspace config overlay path.
func (w *Workspace) ConfigPath() string { return w.StatePath(ConfigFile) }

// LockPath returns the run lease lock file path.
func (w *Workspace) LockPath() string { return w.StatePath(LockFile) }

// RateStatePath returns the rate limiter state path.
func (w *Workspace) RateStatePath() string { return w.StatePath(RateFile) }

// HistoryPath returns the iteration history database path.
func (w *Workspace) HistoryPath() string { return w.StatePath(HistoryFile) }

// EnsureStateDir creates the state directory if needed.
func (w *Workspace) EnsureStateDir() error {
	return os.MkdirAll(filepath.Join(w.Root, StateDir), 0755)
}

// Exists reports whether the workspace root is an existing directory.
func (w *Workspace) Exists() bool {
	info, err := os.Stat(w.Root)
	return err == nil && info.IsDir()
}

// ArchiveExcluded reports whether a workspace-relative path is transient
// run state that the archiver should skip. The lease, rate limiter window,
// and history database belong to the machine, not the feature.
func ArchiveExcluded(rel string) bool {
	base := filepath.Base(rel)
	switch base {
	case LockFile, LockFile + ".holder", RateFile, HistoryFile:
		return true
	}
	return false
}
