package models

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Overrides holds optional per-task execution overrides.
// Zero value means "use the run defaults".
type Overrides struct {
	Model        string   `yaml:"model,omitempty"`         // Preferred model for this task
	AllowedTools []string `yaml:"allowed_tools,omitempty"` // Auxiliary tools the agent may use
}

// Task represents a single unit of agent work with acceptance criteria
// and a completion flag. Tasks are created by a plan-derivation step and
// mutated only by the iteration controller.
type Task struct {
	ID                 string     `yaml:"id"`                  // Stable identifier, unique within a task set
	Title              string     `yaml:"title"`               // Short task title
	Description        string     `yaml:"description"`         // Full task description
	AcceptanceCriteria []string   `yaml:"acceptance_criteria"` // Ordered acceptance criteria
	Priority           int        `yaml:"priority"`            // Lower runs first
	Completed          bool       `yaml:"completed"`           // Flipped by the controller after verified success
	Notes              string     `yaml:"notes"`               // Free-text notes, updated by the controller
	Overrides          *Overrides `yaml:"overrides,omitempty"` // Optional execution overrides
}

// Validate checks that the task has all required fields.
func (t *Task) Validate() error {
	if t.ID == "" {
		return errors.New("task id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("task %s: title is required", t.ID)
	}
	if len(t.AcceptanceCriteria) == 0 {
		return fmt.Errorf("task %s: at least one acceptance criterion is required", t.ID)
	}
	for i, c := range t.AcceptanceCriteria {
		if c == "" {
			return fmt.Errorf("task %s: acceptance criterion %d is empty", t.ID, i+1)
		}
	}
	return nil
}

// TaskSet is the machine-readable, ordered collection of tasks for one
// feature. Its projection onto {id, title, acceptance criteria} must match
// the projection derived from the specification before any iteration runs.
type TaskSet struct {
	Description string    `yaml:"description"`
	CreatedAt   time.Time `yaml:"created_at"`
	Tasks       []Task    `yaml:"tasks"`
}

// Validate checks structural validity: a non-empty task list, unique ids,
// and well-formed tasks.
func (ts *TaskSet) Validate() error {
	if len(ts.Tasks) == 0 {
		return errors.New("task set contains no tasks")
	}
	seen := make(map[string]bool, len(ts.Tasks))
	for i := range ts.Tasks {
		t := &ts.Tasks[i]
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}

// FindTask returns a pointer to the task with the given id, or nil.
func (ts *TaskSet) FindTask(id string) *Task {
	for i := range ts.Tasks {
		if ts.Tasks[i].ID == id {
			return &ts.Tasks[i]
		}
	}
	return nil
}

// CompletionVector returns the completed flags in task order. The circuit
// breaker compares before/after vectors to detect stagnation.
func (ts *TaskSet) CompletionVector() []bool {
	vec := make([]bool, len(ts.Tasks))
	for i := range ts.Tasks {
		vec[i] = ts.Tasks[i].Completed
	}
	return vec
}

// AllCompleted reports whether every task in the set is completed.
func (ts *TaskSet) AllCompleted() bool {
	for i := range ts.Tasks {
		if !ts.Tasks[i].Completed {
			return false
		}
	}
	return len(ts.Tasks) > 0
}

// NextIncomplete returns the incomplete task that should run next:
// lowest priority first, then task-set order. Returns nil when all
// tasks are complete.
func (ts *TaskSet) NextIncomplete() *Task {
	indices := make([]int, 0, len(ts.Tasks))
	for i := range ts.Tasks {
		if !ts.Tasks[i].Completed {
			indices = append(indices, i)
		}
	}
	if len(indices) == 0 {
		return nil
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return ts.Tasks[indices[a]].Priority < ts.Tasks[indices[b]].Priority
	})
	return &ts.Tasks[indices[0]]
}

// ProjectionEntry is a task reduced to the fields shared between the task
// set and the specification.
type ProjectionEntry struct {
	ID                 string
	Title              string
	AcceptanceCriteria []string
}

// Projection returns the task set reduced to {id, title, criteria},
// excluding completion state and notes.
func (ts *TaskSet) Projection() []ProjectionEntry {
	entries := make([]ProjectionEntry, len(ts.Tasks))
	for i := range ts.Tasks {
		t := &ts.Tasks[i]
		crit := make([]string, len(t.AcceptanceCriteria))
		copy(crit, t.AcceptanceCriteria)
		entries[i] = ProjectionEntry{
			ID:                 t.ID,
			Title:              t.Title,
			AcceptanceCriteria: crit,
		}
	}
	return entries
}

// ReconcileCompleted enforces the invariant that acceptance criteria never
// change silently while a task is completed. For every completed task whose
// criteria differ from the specification projection, the completed flag is
// reset to false. Returns the ids of tasks that were reset.
func (ts *TaskSet) ReconcileCompleted(specEntries []ProjectionEntry) []string {
	byID := make(map[string]ProjectionEntry, len(specEntries))
	for _, e := range specEntries {
		byID[e.ID] = e
	}

	var reset []string
	for i := range ts.Tasks {
		t := &ts.Tasks[i]
		if !t.Completed {
			continue
		}
		spec, ok := byID[t.ID]
		if !ok {
			continue // orphan, handled by preflight
		}
		if !criteriaEqual(t.AcceptanceCriteria, spec.AcceptanceCriteria) {
			t.Completed = false
			reset = append(reset, t.ID)
		}
	}
	return reset
}

func criteriaEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
