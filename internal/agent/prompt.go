package agent

import (
	"fmt"
	"strings"

	"github.com/krazyuniks/ralph-hybrid-sub003/internal/models"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/specdoc"
)

// maxFeedbackChars caps injected verification feedback so one noisy
// failure cannot crowd the rest of the prompt out.
const maxFeedbackChars = 4000

// PromptInput carries everything the prompt assembler needs for one
// iteration.
type PromptInput struct {
	Spec            *specdoc.Document
	TaskSet         *models.TaskSet
	Task            *models.Task // The task to work on this iteration
	ProgressExcerpt string       // Recent progress log records, pre-rendered
	Feedback        string       // Verification feedback from the previous iteration
}

// BuildPrompt assembles the invocation payload: specification excerpts,
// the task list with completion state, recent progress, and any injected
// feedback, followed by the output conventions the exit detector relies
// on.
func BuildPrompt(in PromptInput) string {
	var sb strings.Builder

	sb.WriteString("You are completing one task of a larger feature. Work on exactly one task, then stop.\n\n")

	if in.Spec != nil {
		if in.Spec.HasProblemStatement() {
			sb.WriteString("# Problem Statement\n\n")
			sb.WriteString(in.Spec.ProblemStatement)
			sb.WriteString("\n\n")
		}
		if in.Spec.HasSuccessCriteria() {
			sb.WriteString("# Success Criteria\n\n")
			for _, c := range in.Spec.SuccessCriteria {
				fmt.Fprintf(&sb, "- %s\n", c)
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("# Task List\n\n")
	for i := range in.TaskSet.Tasks {
		t := &in.TaskSet.Tasks[i]
		mark := " "
		if t.Completed {
			mark = "x"
		}
		fmt.Fprintf(&sb, "- [%s] %s: %s\n", mark, t.ID, t.Title)
	}
	sb.WriteString("\n")

	if in.Task != nil {
		fmt.Fprintf(&sb, "# Current Task: %s — %s\n\n", in.Task.ID, in.Task.Title)
		if in.Task.Description != "" {
			sb.WriteString(in.Task.Description)
			sb.WriteString("\n\n")
		}
		if in.Spec != nil {
			if block := in.Spec.FindBlock(in.Task.ID); block != nil && block.Body != "" {
				sb.WriteString(block.Body)
				sb.WriteString("\n\n")
			}
		}
		sb.WriteString("Acceptance criteria:\n")
		for _, c := range in.Task.AcceptanceCriteria {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
		sb.WriteString("\n")
		if in.Task.Notes != "" {
			fmt.Fprintf(&sb, "Notes from previous iterations:\n%s\n\n", in.Task.Notes)
		}
	}

	if in.ProgressExcerpt != "" {
		sb.WriteString("# Recent Progress\n\n")
		sb.WriteString(in.ProgressExcerpt)
		sb.WriteString("\n")
	}

	if in.Feedback != "" {
		feedback := in.Feedback
		if len(feedback) > maxFeedbackChars {
			feedback = feedback[:maxFeedbackChars] + "\n(truncated)"
		}
		sb.WriteString("# Verification Feedback From Previous Iteration\n\n")
		sb.WriteString("The previous attempt failed verification. Address this before anything else:\n\n")
		sb.WriteString(feedback)
		sb.WriteString("\n\n")
	}

	sb.WriteString(outputConventions)
	return sb.String()
}

// outputConventions tells the agent how to narrate so the exit detector
// can tell its own statements apart from echoed content.
const outputConventions = `# Output Conventions

- Wrap any file content or tool output you quote in fenced code blocks.
- Narrate failures on their own lines starting with "ERROR:", "FAILED:", or
  "VERIFICATION_FAILED:" (for quality-gate failures).
- Report each file you create or change on a line "MODIFIED: <path>".
- Record anything future iterations should know on a line "LEARNING: <text>".
- When the current task meets all its acceptance criteria, print a line:
  TASK_COMPLETE: <task-id>
- When every task in the list is genuinely complete, print the single line:
  RALPH_ALL_TASKS_COMPLETE
`
