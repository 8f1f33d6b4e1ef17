package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/krazyuniks/ralph-hybrid-sub003/internal/workspace"
)

// newArchivableWorkspace builds a workspace with artifacts and transient
// run state under .ralph/.
func newArchivableWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	root := filepath.Join(t.TempDir(), "login-feature")
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".ralph"), 0755))

	files := map[string]string{
		"spec.md":                 "# Login Feature\n",
		"tasks.yaml":              "tasks:\n  - id: t1\n    title: x\n    acceptance_criteria: [done]\n    completed: true\n",
		"progress.md":             "# Progress Log\n",
		"src/handler.go":          "package src\n",
		".ralph/loop.lock":        "",
		".ralph/loop.lock.holder": "run_id: abc\n",
		".ralph/ratelimit.json":   "{}",
	}
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return workspace.New(root)
}

// TestArchiveMovesWorkspace verifies copy, manifest, and removal
func TestArchiveMovesWorkspace(t *testing.T) {
	ws := newArchivableWorkspace(t)
	archiveRoot := filepath.Join(t.TempDir(), "archive")

	dest, err := NewArchiver(archiveRoot).Archive(ws, "12345678-abcd-efgh")
	require.NoError(t, err)

	// Archived content is complete.
	for _, rel := range []string{"spec.md", "tasks.yaml", "progress.md", "src/handler.go"} {
		_, err := os.Stat(filepath.Join(dest, rel))
		assert.NoError(t, err, "missing %s in archive", rel)
	}

	// Transient run state is not archived.
	for _, rel := range []string{".ralph/loop.lock", ".ralph/loop.lock.holder", ".ralph/ratelimit.json"} {
		_, err := os.Stat(filepath.Join(dest, rel))
		assert.True(t, os.IsNotExist(err), "%s must not be archived", rel)
	}

	// The live workspace is gone.
	_, err = os.Stat(ws.Root)
	assert.True(t, os.IsNotExist(err), "live workspace must be removed after archival")

	// The manifest names the run and digests every archived file.
	data, err := os.ReadFile(filepath.Join(dest, "manifest.yaml"))
	require.NoError(t, err)
	var manifest Manifest
	require.NoError(t, yaml.Unmarshal(data, &manifest))
	assert.Equal(t, "12345678-abcd-efgh", manifest.RunID)
	assert.Contains(t, manifest.Files, "spec.md")
	assert.Contains(t, manifest.Files, "src/handler.go")
	assert.Len(t, manifest.Files["spec.md"], 64)
}

// TestArchiveNameCarriesFeature verifies the directory naming scheme
func TestArchiveNameCarriesFeature(t *testing.T) {
	ws := newArchivableWorkspace(t)
	archiveRoot := filepath.Join(t.TempDir(), "archive")

	dest, err := NewArchiver(archiveRoot).Archive(ws, "deadbeef-0000")
	require.NoError(t, err)

	base := filepath.Base(dest)
	assert.Contains(t, base, "login-feature-")
	assert.Contains(t, base, "deadbeef")
}

// TestArchiveFailureLeavesLiveIntact verifies the strict
// copy-verify-remove order: when the copy cannot be created, the live
// workspace survives untouched
func TestArchiveFailureLeavesLiveIntact(t *testing.T) {
	ws := newArchivableWorkspace(t)

	// A regular file where the archive root should be makes every copy
	// fail before any removal can happen.
	archiveRoot := filepath.Join(t.TempDir(), "archive")
	require.NoError(t, os.WriteFile(archiveRoot, []byte("not a directory"), 0644))

	_, err := NewArchiver(archiveRoot).Archive(ws, "12345678-abcd")
	require.Error(t, err)

	for _, rel := range []string{"spec.md", "tasks.yaml", "progress.md", "src/handler.go"} {
		_, statErr := os.Stat(filepath.Join(ws.Root, rel))
		assert.NoError(t, statErr, "live %s lost after failed archive", rel)
	}
}

// TestArchiveTruncatedCopyAbortsBeforeRemoval verifies the verification
// gate: a copy that diverges from the source after copying must leave the
// live workspace untouched and remove the partial archive
func TestArchiveTruncatedCopyAbortsBeforeRemoval(t *testing.T) {
	ws := newArchivableWorkspace(t)
	archiveRoot := filepath.Join(t.TempDir(), "archive")

	a := NewArchiver(archiveRoot)
	a.afterCopy = func(dest string) {
		// Truncate one copied file so sizes no longer match the source.
		require.NoError(t, os.WriteFile(filepath.Join(dest, "tasks.yaml"), []byte("t"), 0644))
	}

	_, err := a.Archive(ws, "12345678-abcd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verification failed")

	// The live workspace survives in full.
	for _, rel := range []string{"spec.md", "tasks.yaml", "progress.md", "src/handler.go"} {
		_, statErr := os.Stat(filepath.Join(ws.Root, rel))
		assert.NoError(t, statErr, "live %s lost after failed verification", rel)
	}

	// The partial archive is cleaned up.
	entries, err := os.ReadDir(archiveRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial archive must be removed")
}

// TestArchiveGeneratesRunID verifies an empty run id is filled in
func TestArchiveGeneratesRunID(t *testing.T) {
	ws := newArchivableWorkspace(t)
	archiveRoot := filepath.Join(t.TempDir(), "archive")

	dest, err := NewArchiver(archiveRoot).Archive(ws, "")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dest, "manifest.yaml"))
	require.NoError(t, err)
	var manifest Manifest
	require.NoError(t, yaml.Unmarshal(data, &manifest))
	assert.NotEmpty(t, manifest.RunID)
}
