// Package store loads, validates, and persists the task set and the
// append-only progress log. All writes are atomic; transient I/O failures
// are retried once and then treated as fatal.
package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/krazyuniks/ralph-hybrid-sub003/internal/filelock"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/models"
)

// SchemaError indicates the persisted task set is structurally invalid.
// It is fatal: the operator must fix the persisted state, the loop never
// starts against a malformed set.
type SchemaError struct {
	Path   string
	Reason error
}

// Error implements the error interface for SchemaError.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("task set %s failed schema validation: %v (remediation: regenerate the task list from the specification)", e.Path, e.Reason)
}

// Unwrap returns the underlying validation error.
func (e *SchemaError) Unwrap() error {
	return e.Reason
}

// IsSchemaError checks if the error is or wraps a SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// LoadTaskSet reads and validates the task set at path.
// Returns a SchemaError if the document is malformed.
func LoadTaskSet(path string) (*models.TaskSet, error) {
	data, err := readRetry(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task set: %w", err)
	}

	var ts models.TaskSet
	if err := yaml.Unmarshal(data, &ts); err != nil {
		return nil, &SchemaError{Path: path, Reason: err}
	}
	if err := ts.Validate(); err != nil {
		return nil, &SchemaError{Path: path, Reason: err}
	}
	return &ts, nil
}

// SaveTaskSet persists the task set atomically via temp-file-then-rename.
func SaveTaskSet(path string, ts *models.TaskSet) error {
	data, err := yaml.Marshal(ts)
	if err != nil {
		return fmt.Errorf("failed to marshal task set: %w", err)
	}
	return writeRetry(path, data)
}

// readRetry reads a file, retrying once on failure.
func readRetry(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if os.IsNotExist(err) {
		return nil, err
	}
	time.Sleep(100 * time.Millisecond)
	return os.ReadFile(path)
}

// writeRetry writes atomically, retrying once on failure.
func writeRetry(path string, data []byte) error {
	if err := filelock.AtomicWrite(path, data); err == nil {
		return nil
	}
	time.Sleep(100 * time.Millisecond)
	return filelock.AtomicWrite(path, data)
}
