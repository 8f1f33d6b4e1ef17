// Package exitdetect analyses agent transcripts: per-iteration and overall
// completion signals, narrated failure extraction, and error fingerprints
// for the circuit breaker.
//
// Transcript convention: fenced code blocks (``` ... ```) are echoed file
// or tool-result content and carry no signal. Only narrated lines outside
// fences are inspected, so a quoted snippet containing the word "error"
// never registers as an agent-authored failure.
package exitdetect

import (
	"strings"

	"github.com/krazyuniks/ralph-hybrid-sub003/internal/models"
)

// CompletionMarker is the literal the agent emits when it believes every
// task is done.
const CompletionMarker = "RALPH_ALL_TASKS_COMPLETE"

// Narrated failure prefixes. VERIFICATION_FAILED is the structured
// quality-gate category; ERROR/FAILED cover unhandled process failures the
// agent narrates itself.
const (
	prefixError        = "ERROR:"
	prefixFailed       = "FAILED:"
	prefixVerifyFailed = "VERIFICATION_FAILED:"
	prefixTaskComplete = "TASK_COMPLETE:"
	prefixModified     = "MODIFIED:"
	prefixLearning     = "LEARNING:"
)

// Result is the detector's verdict on one iteration.
type Result struct {
	MarkerPresent  bool     // Literal completion marker seen in narrated output
	CompletedTasks []string // Task ids the agent declared complete
	Fingerprint    string   // Normalised error fingerprint, empty when no failure narrated
	FailureText    string   // The narrated failure lines, verbatim
	Verification   bool     // Failure is the structured VERIFICATION_FAILED category
	Feedback       string   // Text to inject into the next iteration's prompt
	Files          []string // Files the agent declared modified
	Learnings      []string // Free-text learnings for the progress log
}

// Analyze inspects a transcript and returns the iteration verdict.
func Analyze(transcript string) Result {
	narrated := NarratedLines(transcript)

	var res Result
	var failures []string
	var feedback []string

	for _, line := range narrated {
		trimmed := strings.TrimSpace(line)
		if trimmed == CompletionMarker {
			res.MarkerPresent = true
			continue
		}
		switch {
		case strings.HasPrefix(trimmed, prefixTaskComplete):
			id := strings.TrimSpace(strings.TrimPrefix(trimmed, prefixTaskComplete))
			if id != "" {
				res.CompletedTasks = append(res.CompletedTasks, id)
			}
		case strings.HasPrefix(trimmed, prefixVerifyFailed):
			res.Verification = true
			failures = append(failures, trimmed)
			feedback = append(feedback, strings.TrimSpace(strings.TrimPrefix(trimmed, prefixVerifyFailed)))
		case strings.HasPrefix(trimmed, prefixError), strings.HasPrefix(trimmed, prefixFailed):
			failures = append(failures, trimmed)
		case strings.HasPrefix(trimmed, prefixModified):
			if f := strings.TrimSpace(strings.TrimPrefix(trimmed, prefixModified)); f != "" {
				res.Files = append(res.Files, f)
			}
		case strings.HasPrefix(trimmed, prefixLearning):
			if l := strings.TrimSpace(strings.TrimPrefix(trimmed, prefixLearning)); l != "" {
				res.Learnings = append(res.Learnings, l)
			}
		}
	}

	if len(failures) > 0 {
		res.FailureText = strings.Join(failures, "\n")
		res.Fingerprint = Fingerprint(res.FailureText)
	}
	if len(feedback) > 0 {
		res.Feedback = strings.Join(feedback, "\n")
	}
	return res
}

// OverallComplete decides overall completion. Either signal alone is
// sufficient: the literal marker, or every task completed after reload.
func OverallComplete(res Result, ts *models.TaskSet) bool {
	return res.MarkerPresent || ts.AllCompleted()
}

// NarratedLines returns the transcript lines outside fenced code blocks.
func NarratedLines(transcript string) []string {
	var out []string
	inFence := false
	for _, line := range strings.Split(transcript, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if !inFence {
			out = append(out, line)
		}
	}
	return out
}
