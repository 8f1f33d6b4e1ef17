// Package archive moves a completed feature workspace into immutable,
// timestamped storage. The order is strict: copy, verify, then remove.
// The live workspace is never touched until verification passes.
package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/krazyuniks/ralph-hybrid-sub003/internal/filelock"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/workspace"
)

// Manifest records what was archived and the digest of every file, so an
// archive can be audited later.
type Manifest struct {
	RunID      string            `yaml:"run_id"`
	Source     string            `yaml:"source"`
	ArchivedAt time.Time         `yaml:"archived_at"`
	Files      map[string]string `yaml:"files"` // relative path -> sha256
}

// Archiver copies workspaces into an archive root.
type Archiver struct {
	Root string // Archive root directory

	// afterCopy runs between copy and verification when set. Tests use
	// it to corrupt the copy and exercise the verification gate.
	afterCopy func(dest string)
}

// NewArchiver creates an archiver storing under root.
func NewArchiver(root string) *Archiver {
	return &Archiver{Root: root}
}

// Archive copies the workspace into a fresh timestamped directory under
// the archive root, verifies every copied file against the source, writes
// a manifest, and only then removes the live workspace. If verification
// fails the live workspace is left untouched and the partial archive is
// removed. Returns the archive directory path.
func (a *Archiver) Archive(ws *workspace.Workspace, runID string) (string, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	feature := filepath.Base(filepath.Clean(ws.Root))
	dest := filepath.Join(a.Root,
		fmt.Sprintf("%s-%s-%s", feature, time.Now().Format("20060102-150405"), runID[:8]))

	if _, err := os.Stat(dest); err == nil {
		return "", fmt.Errorf("archive destination %s already exists", dest)
	}

	files, err := a.copyTree(ws.Root, dest)
	if err != nil {
		os.RemoveAll(dest)
		return "", fmt.Errorf("archive copy failed: %w", err)
	}

	if a.afterCopy != nil {
		a.afterCopy(dest)
	}

	digests, err := a.verifyTree(ws.Root, dest, files)
	if err != nil {
		os.RemoveAll(dest)
		return "", fmt.Errorf("archive verification failed, live workspace untouched: %w", err)
	}

	manifest := Manifest{
		RunID:      runID,
		Source:     ws.Root,
		ArchivedAt: time.Now().UTC(),
		Files:      digests,
	}
	data, err := yaml.Marshal(&manifest)
	if err != nil {
		os.RemoveAll(dest)
		return "", fmt.Errorf("failed to marshal archive manifest: %w", err)
	}
	if err := filelock.AtomicWrite(filepath.Join(dest, "manifest.yaml"), data); err != nil {
		os.RemoveAll(dest)
		return "", fmt.Errorf("failed to write archive manifest: %w", err)
	}

	// Copy verified: the live workspace may now be removed.
	if err := os.RemoveAll(ws.Root); err != nil {
		return dest, fmt.Errorf("archive complete at %s but failed to remove live workspace: %w", dest, err)
	}
	return dest, nil
}

// copyTree copies every regular file under src to dest, skipping transient
// run state. Returns the relative paths copied, sorted.
func (a *Archiver) copyTree(src, dest string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if workspace.ArchiveExcluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := copyFile(path, target); err != nil {
			return fmt.Errorf("copy %s: %w", rel, err)
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// verifyTree re-reads both sides and compares sizes and digests. Returns
// the digest map on success.
func (a *Archiver) verifyTree(src, dest string, files []string) (map[string]string, error) {
	digests := make(map[string]string, len(files))
	for _, rel := range files {
		srcInfo, err := os.Stat(filepath.Join(src, rel))
		if err != nil {
			return nil, fmt.Errorf("stat source %s: %w", rel, err)
		}
		destInfo, err := os.Stat(filepath.Join(dest, rel))
		if err != nil {
			return nil, fmt.Errorf("stat copy %s: %w", rel, err)
		}
		if srcInfo.Size() != destInfo.Size() {
			return nil, fmt.Errorf("size mismatch for %s: source %d bytes, copy %d bytes",
				rel, srcInfo.Size(), destInfo.Size())
		}

		srcSum, err := fileDigest(filepath.Join(src, rel))
		if err != nil {
			return nil, err
		}
		destSum, err := fileDigest(filepath.Join(dest, rel))
		if err != nil {
			return nil, err
		}
		if srcSum != destSum {
			return nil, fmt.Errorf("digest mismatch for %s", rel)
		}
		digests[filepath.ToSlash(rel)] = srcSum
	}
	return digests, nil
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s for digest: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
