// Package specdoc parses the human-authored specification into a typed
// document. Detection logic operates on the typed form, never on raw text.
package specdoc

import (
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/models"
)

// TaskBlock is one task section of the specification, extracted by
// structural parsing of its "## Task <id>: <title>" heading.
type TaskBlock struct {
	ID                 string   // Stable id from the heading
	Title              string   // Title from the heading
	Body               string   // Free text between the heading and the criteria list
	AcceptanceCriteria []string // Items under "### Acceptance Criteria"
}

// Document is the typed intermediate representation of a specification:
// a problem statement, success criteria, and an ordered sequence of task
// blocks.
type Document struct {
	Title            string      // Top-level H1, if present
	ProblemStatement string      // Content of "## Problem Statement"
	SuccessCriteria  []string    // Items under "## Success Criteria"
	TaskBlocks       []TaskBlock // Ordered task blocks
}

// HasProblemStatement reports whether the optional problem statement
// section is present and non-empty.
func (d *Document) HasProblemStatement() bool {
	return d.ProblemStatement != ""
}

// HasSuccessCriteria reports whether the optional success criteria
// section has at least one item.
func (d *Document) HasSuccessCriteria() bool {
	return len(d.SuccessCriteria) > 0
}

// Projection returns the canonical task projection derived from the
// specification, for comparison against the task set's projection.
func (d *Document) Projection() []models.ProjectionEntry {
	entries := make([]models.ProjectionEntry, len(d.TaskBlocks))
	for i, b := range d.TaskBlocks {
		crit := make([]string, len(b.AcceptanceCriteria))
		copy(crit, b.AcceptanceCriteria)
		entries[i] = models.ProjectionEntry{
			ID:                 b.ID,
			Title:              b.Title,
			AcceptanceCriteria: crit,
		}
	}
	return entries
}

// FindBlock returns the task block with the given id, or nil.
func (d *Document) FindBlock(id string) *TaskBlock {
	for i := range d.TaskBlocks {
		if d.TaskBlocks[i].ID == id {
			return &d.TaskBlocks[i]
		}
	}
	return nil
}
