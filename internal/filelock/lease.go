package filelock

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// ErrLeaseHeld indicates another process already holds the run lease.
// Lease contention is fatal by design: two loops against the same task
// set would corrupt the progress log.
var ErrLeaseHeld = errors.New("run lease is held by another process")

// Lease is an exclusive, process-wide claim on a feature workspace, held
// for the lifetime of a run. Acquisition never blocks: contention is
// reported immediately so the operator can decide what to do.
type Lease struct {
	flock *flock.Flock
	path  string

	mu       sync.Mutex
	held     bool
	RunID    string    // Unique id for this run, stamped into history and archives
	Acquired time.Time // When the lease was taken
}

// NewLease creates a lease backed by the lock file at path.
func NewLease(path string) *Lease {
	return &Lease{
		flock: flock.New(path),
		path:  path,
	}
}

// Acquire attempts to take the lease without blocking. Returns ErrLeaseHeld
// if another process holds it. On success the lease records a fresh run id
// and writes holder metadata next to the lock for operator inspection.
func (l *Lease) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to try lock on %s: %w", l.path, err)
	}
	if !acquired {
		return fmt.Errorf("%w (lock file: %s)", ErrLeaseHeld, l.path)
	}

	l.held = true
	l.RunID = uuid.NewString()
	l.Acquired = time.Now()

	// Holder metadata is informational only; the flock is the authority.
	meta := fmt.Sprintf("run_id: %s\npid: %d\nacquired_at: %s\n",
		l.RunID, os.Getpid(), l.Acquired.UTC().Format(time.RFC3339))
	if err := AtomicWrite(l.path+".holder", []byte(meta)); err != nil {
		l.flock.Unlock()
		l.held = false
		return fmt.Errorf("failed to write lease metadata: %w", err)
	}
	return nil
}

// Release frees the lease. Safe to call multiple times and on every exit
// path, including signal handlers.
func (l *Lease) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}
	l.held = false
	os.Remove(l.path + ".holder")
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lease on %s: %w", l.path, err)
	}
	return nil
}

// Held reports whether this process currently holds the lease.
func (l *Lease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
