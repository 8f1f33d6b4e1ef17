package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/krazyuniks/ralph-hybrid-sub003/internal/models"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/specdoc"
)

func promptFixture() PromptInput {
	return PromptInput{
		Spec: &specdoc.Document{
			Title:            "Login Feature",
			ProblemStatement: "Users cannot authenticate.",
			SuccessCriteria:  []string{"Login works end to end"},
			TaskBlocks: []specdoc.TaskBlock{
				{ID: "t1", Title: "Add handler", Body: "Wire POST /login into the router.", AcceptanceCriteria: []string{"returns 200"}},
				{ID: "t2", Title: "Add tests", AcceptanceCriteria: []string{"tests pass"}},
			},
		},
		TaskSet: &models.TaskSet{
			Tasks: []models.Task{
				{ID: "t1", Title: "Add handler", AcceptanceCriteria: []string{"returns 200"}, Completed: true},
				{ID: "t2", Title: "Add tests", AcceptanceCriteria: []string{"tests pass"}, Notes: "fixtures live under testdata/"},
			},
		},
		Task:            nil,
		ProgressExcerpt: "## Iteration 1 — 2026-05-01T10:00:00Z\n- Task: t1\n- Status: completed\n",
	}
}

// TestBuildPromptSections verifies every input surfaces in the payload
func TestBuildPromptSections(t *testing.T) {
	in := promptFixture()
	in.Task = &in.TaskSet.Tasks[1]

	prompt := BuildPrompt(in)

	assert.Contains(t, prompt, "# Problem Statement")
	assert.Contains(t, prompt, "Users cannot authenticate.")
	assert.Contains(t, prompt, "# Success Criteria")
	assert.Contains(t, prompt, "- [x] t1: Add handler")
	assert.Contains(t, prompt, "- [ ] t2: Add tests")
	assert.Contains(t, prompt, "# Current Task: t2 — Add tests")
	assert.Contains(t, prompt, "- tests pass")
	assert.Contains(t, prompt, "fixtures live under testdata/")
	assert.Contains(t, prompt, "# Recent Progress")
	assert.Contains(t, prompt, "RALPH_ALL_TASKS_COMPLETE")
	assert.Contains(t, prompt, "TASK_COMPLETE: <task-id>")
}

// TestBuildPromptTaskBlockBody verifies the spec block body is included
func TestBuildPromptTaskBlockBody(t *testing.T) {
	in := promptFixture()
	in.Task = &in.TaskSet.Tasks[0]

	prompt := BuildPrompt(in)
	assert.Contains(t, prompt, "Wire POST /login into the router.")
}

// TestBuildPromptFeedback verifies injection and the size cap
func TestBuildPromptFeedback(t *testing.T) {
	in := promptFixture()
	in.Task = &in.TaskSet.Tasks[1]
	in.Feedback = "tests failed: expected 200, got 500"

	prompt := BuildPrompt(in)
	assert.Contains(t, prompt, "# Verification Feedback From Previous Iteration")
	assert.Contains(t, prompt, "expected 200, got 500")

	in.Feedback = strings.Repeat("x", maxFeedbackChars+500)
	prompt = BuildPrompt(in)
	assert.Contains(t, prompt, "(truncated)")
	assert.NotContains(t, prompt, strings.Repeat("x", maxFeedbackChars+1))
}

// TestBuildPromptNoFeedback verifies the feedback section is absent when
// there is nothing to inject
func TestBuildPromptNoFeedback(t *testing.T) {
	in := promptFixture()
	in.Task = &in.TaskSet.Tasks[1]

	prompt := BuildPrompt(in)
	assert.NotContains(t, prompt, "Verification Feedback")
}
