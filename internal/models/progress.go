package models

import (
	"fmt"
	"strings"
	"time"
)

// IterationStatus is the recorded outcome of a single iteration.
type IterationStatus string

const (
	IterationCompleted    IterationStatus = "completed"
	IterationNoProgress   IterationStatus = "no_progress"
	IterationTimeout      IterationStatus = "timeout"
	IterationVerifyFailed IterationStatus = "verification_failed"
)

// ProgressRecord is one append-only entry in the progress log. The log is
// the only continuity channel between iterations: the agent starts with a
// clean context each time and reads prior records instead of remembering.
type ProgressRecord struct {
	Iteration int             // 1-based iteration number
	Timestamp time.Time       // When the iteration finished
	TaskID    string          // Task the iteration worked on
	Status    IterationStatus // Outcome
	Files     []string        // Files touched during the iteration
	Commit    string          // Commit reference, if any
	Learnings string          // Free-text notes for future iterations
}

// Render formats the record as a markdown block for progress.md.
// The "## Iteration" heading is the block delimiter the store relies on
// for append and last-record rollback.
func (r *ProgressRecord) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Iteration %d — %s\n", r.Iteration, r.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "- Task: %s\n", r.TaskID)
	fmt.Fprintf(&sb, "- Status: %s\n", r.Status)
	if r.Commit != "" {
		fmt.Fprintf(&sb, "- Commit: %s\n", r.Commit)
	}
	if len(r.Files) > 0 {
		sb.WriteString("- Files:\n")
		for _, f := range r.Files {
			fmt.Fprintf(&sb, "  - %s\n", f)
		}
	}
	if r.Learnings != "" {
		fmt.Fprintf(&sb, "Learnings: %s\n", r.Learnings)
	}
	return sb.String()
}
