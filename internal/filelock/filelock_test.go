package filelock

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestAtomicWrite verifies basic write and overwrite behavior
func TestAtomicWrite(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "state", "tasks.yaml")

	if err := AtomicWrite(path, []byte("first")); err != nil {
		t.Fatalf("AtomicWrite() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "first" {
		t.Errorf("content = %q, want %q", data, "first")
	}

	if err := AtomicWrite(path, []byte("second")); err != nil {
		t.Fatalf("AtomicWrite() overwrite error = %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "second" {
		t.Errorf("content after overwrite = %q, want %q", data, "second")
	}
}

// TestAtomicWriteNoTempLeftovers verifies temp files do not accumulate
func TestAtomicWriteNoTempLeftovers(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "file.txt")

	for i := 0; i < 5; i++ {
		if err := AtomicWrite(path, []byte("data")); err != nil {
			t.Fatalf("AtomicWrite() error = %v", err)
		}
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

// TestLeaseAcquireRelease verifies the basic lease lifecycle
func TestLeaseAcquireRelease(t *testing.T) {
	tmpDir := t.TempDir()
	lockPath := filepath.Join(tmpDir, "loop.lock")

	lease := NewLease(lockPath)
	if lease.Held() {
		t.Fatal("new lease reports held")
	}

	if err := lease.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !lease.Held() {
		t.Error("Held() = false after Acquire")
	}
	if lease.RunID == "" {
		t.Error("RunID empty after Acquire")
	}

	// Holder metadata is written next to the lock.
	meta, err := os.ReadFile(lockPath + ".holder")
	if err != nil {
		t.Fatalf("holder metadata missing: %v", err)
	}
	if !strings.Contains(string(meta), lease.RunID) {
		t.Errorf("holder metadata does not mention run id:\n%s", meta)
	}

	if err := lease.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if lease.Held() {
		t.Error("Held() = true after Release")
	}
	if _, err := os.Stat(lockPath + ".holder"); !os.IsNotExist(err) {
		t.Error("holder metadata survived Release")
	}
}

// TestLeaseReleaseIdempotent verifies double release is safe
func TestLeaseReleaseIdempotent(t *testing.T) {
	lease := NewLease(filepath.Join(t.TempDir(), "loop.lock"))
	if err := lease.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := lease.Release(); err != nil {
		t.Fatalf("first Release() error = %v", err)
	}
	if err := lease.Release(); err != nil {
		t.Errorf("second Release() error = %v, want nil", err)
	}
}

// TestLeaseContention verifies a second acquisition fails fast
func TestLeaseContention(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "loop.lock")

	holder := NewLease(lockPath)
	if err := holder.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer holder.Release()

	contender := NewLease(lockPath)
	err := contender.Acquire()
	if !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("contending Acquire() error = %v, want ErrLeaseHeld", err)
	}
	if contender.Held() {
		t.Error("contender reports held after failed Acquire")
	}
}

// TestLeaseReacquireAfterRelease verifies the lock file is reusable
func TestLeaseReacquireAfterRelease(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "loop.lock")

	first := NewLease(lockPath)
	if err := first.Acquire(); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	firstRun := first.RunID
	if err := first.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	second := NewLease(lockPath)
	if err := second.Acquire(); err != nil {
		t.Fatalf("second Acquire() after release error = %v", err)
	}
	defer second.Release()

	if second.RunID == firstRun {
		t.Error("run id reused across acquisitions")
	}
}
