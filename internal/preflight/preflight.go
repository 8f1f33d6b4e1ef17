// Package preflight cross-checks the specification, task set, and
// execution context before any iteration is allowed to run.
package preflight

import (
	"fmt"
	"os"
	"strings"

	"github.com/krazyuniks/ralph-hybrid-sub003/internal/models"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/specdoc"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/store"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/workspace"
)

// Severity classifies a finding. Errors block the loop; warnings do not.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// Finding codes, stable for tests and operator tooling.
const (
	CodeNoContext       = "NO_EXECUTION_CONTEXT"
	CodeProtectedBranch = "PROTECTED_BRANCH"
	CodeMissingArtifact = "MISSING_ARTIFACT"
	CodeSchema          = "TASKSET_SCHEMA"
	CodeSpecStructure   = "SPEC_STRUCTURE"
	CodeSync            = "SYNC_MISMATCH"
	CodeOrphan          = "ORPHAN_TASK"
	CodeOrphanCompleted = "ORPHAN_COMPLETED_TASK"
)

// Finding is one validation result: which check failed, why, and the
// concrete remediation.
type Finding struct {
	Severity    Severity
	Code        string
	Message     string
	Remediation string
}

// String renders a finding as a single report line.
func (f Finding) String() string {
	s := fmt.Sprintf("[%s] %s: %s", f.Severity, f.Code, f.Message)
	if f.Remediation != "" {
		s += fmt.Sprintf(" (remediation: %s)", f.Remediation)
	}
	return s
}

// Report is the outcome of a preflight pass.
type Report struct {
	Findings []Finding

	// TaskSet and Spec are the successfully loaded artifacts, nil when
	// loading itself produced an error finding. The controller reuses
	// them so the loop starts from exactly the validated state.
	TaskSet *models.TaskSet
	Spec    *specdoc.Document
	Branch  string
}

// Pass reports whether the preflight found no errors.
func (r *Report) Pass() bool {
	return !r.HasErrors()
}

// HasErrors reports whether any finding has ERROR severity.
func (r *Report) HasErrors() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the ERROR findings.
func (r *Report) Errors() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			out = append(out, f)
		}
	}
	return out
}

func (r *Report) add(sev Severity, code, msg, remediation string) {
	r.Findings = append(r.Findings, Finding{Severity: sev, Code: code, Message: msg, Remediation: remediation})
}

// protectedBranches are shared contexts an unattended loop should not
// commit to without a human noticing.
var protectedBranches = map[string]bool{
	"main":   true,
	"master": true,
}

// Validator runs the ordered preflight checks against a workspace.
type Validator struct {
	ws *workspace.Workspace
}

// NewValidator creates a validator for the given workspace.
func NewValidator(ws *workspace.Workspace) *Validator {
	return &Validator{ws: ws}
}

// Run executes all checks in order and returns the report. Later checks
// still run when earlier ones fail, so the operator sees every problem in
// one pass; only checks whose inputs failed to load are skipped.
func (v *Validator) Run() *Report {
	report := &Report{}

	// 1. Execution context must be resolvable.
	git, err := workspace.FindGitState(v.ws.Root)
	if err != nil {
		report.add(SeverityError, CodeNoContext,
			fmt.Sprintf("cannot determine execution context for %s: %v", v.ws.Root, err),
			"run inside a git repository so the loop has a stable workspace identity")
	} else {
		branch, err := git.Branch()
		if err != nil {
			report.add(SeverityError, CodeNoContext,
				fmt.Sprintf("cannot resolve current branch: %v", err),
				"repair the git HEAD reference")
		} else {
			report.Branch = branch
			// 2. Protected context is a warning, never a blocker.
			if protectedBranches[branch] {
				report.add(SeverityWarning, CodeProtectedBranch,
					fmt.Sprintf("running on protected branch %q", branch),
					"switch to a feature branch before an unattended run")
			}
		}
	}

	// 3. Required artifacts.
	missing := false
	for _, artifact := range []struct{ name, path string }{
		{"specification", v.ws.SpecPath()},
		{"task set", v.ws.TaskSetPath()},
		{"progress log", v.ws.ProgressPath()},
	} {
		if _, err := os.Stat(artifact.path); err != nil {
			missing = true
			report.add(SeverityError, CodeMissingArtifact,
				fmt.Sprintf("%s not found at %s", artifact.name, artifact.path),
				"initialise the workspace before running the loop")
		}
	}
	if missing {
		return report
	}

	// 4. Task set schema.
	ts, err := store.LoadTaskSet(v.ws.TaskSetPath())
	if err != nil {
		report.add(SeverityError, CodeSchema, err.Error(),
			"regenerate the task list from the specification")
	} else {
		report.TaskSet = ts
	}

	// 5. Specification structure.
	doc, err := specdoc.NewParser().ParseFile(v.ws.SpecPath())
	if err != nil {
		report.add(SeverityError, CodeSpecStructure,
			fmt.Sprintf("specification is not parseable: %v", err),
			"fix the specification's task headings")
	} else {
		report.Spec = doc
		if !doc.HasProblemStatement() {
			report.add(SeverityWarning, CodeSpecStructure,
				"specification has no Problem Statement section", "")
		}
		if !doc.HasSuccessCriteria() {
			report.add(SeverityWarning, CodeSpecStructure,
				"specification has no Success Criteria section", "")
		}
		if len(doc.TaskBlocks) == 0 {
			report.add(SeverityError, CodeSpecStructure,
				"specification contains no task blocks",
				"add '## Task <id>: <title>' sections to the specification")
		}
	}

	// 6 & 7 need both artifacts.
	if ts == nil || doc == nil {
		return report
	}
	v.checkSync(report, ts, doc)
	v.checkOrphans(report, ts, doc)

	return report
}

// checkSync recomputes the specification's task projection and diffs it
// against the task set's. Any mismatch is an error naming the exact ids.
func (v *Validator) checkSync(report *Report, ts *models.TaskSet, doc *specdoc.Document) {
	setByID := make(map[string]models.ProjectionEntry)
	for _, e := range ts.Projection() {
		setByID[e.ID] = e
	}

	for _, specEntry := range doc.Projection() {
		setEntry, ok := setByID[specEntry.ID]
		if !ok {
			report.add(SeverityError, CodeSync,
				fmt.Sprintf("specification task %q is missing from the task set", specEntry.ID),
				"regenerate the task list from the specification")
			continue
		}
		if setEntry.Title != specEntry.Title {
			report.add(SeverityError, CodeSync,
				fmt.Sprintf("task %q title differs: task set %q vs specification %q",
					specEntry.ID, setEntry.Title, specEntry.Title),
				"regenerate the task list from the specification")
		}
		if !criteriaMatch(setEntry.AcceptanceCriteria, specEntry.AcceptanceCriteria) {
			report.add(SeverityError, CodeSync,
				fmt.Sprintf("task %q acceptance criteria differ between task set and specification", specEntry.ID),
				"regenerate the task list from the specification")
		}
	}
}

// checkOrphans flags tasks present in the task set but absent from the
// specification. Incomplete orphans are safe to drop; completed orphans
// represent finished work that would be silently discarded.
func (v *Validator) checkOrphans(report *Report, ts *models.TaskSet, doc *specdoc.Document) {
	specIDs := make(map[string]bool, len(doc.TaskBlocks))
	for _, b := range doc.TaskBlocks {
		specIDs[b.ID] = true
	}

	for i := range ts.Tasks {
		t := &ts.Tasks[i]
		if specIDs[t.ID] {
			continue
		}
		if t.Completed {
			report.add(SeverityError, CodeOrphanCompleted,
				fmt.Sprintf("completed task %q no longer exists in the specification", t.ID),
				"confirm the completed work can be discarded, then remove the task from the task set")
		} else {
			report.add(SeverityWarning, CodeOrphan,
				fmt.Sprintf("task %q no longer exists in the specification", t.ID),
				"remove the task from the task set")
		}
	}
}

func criteriaMatch(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if strings.TrimSpace(a[i]) != strings.TrimSpace(b[i]) {
			return false
		}
	}
	return true
}
