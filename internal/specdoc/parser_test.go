package specdoc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSpec = `# Login Feature

## Problem Statement

Users cannot authenticate. We need session-based login backed by the
existing accounts table.

## Success Criteria

- Login succeeds with valid credentials
- Invalid credentials get a 401

## Task auth-1: Add login handler

Wire a POST /login handler into the existing router.

` + "```go" + `
// ERROR: this echoed snippet must stay inside the body
func Login(w http.ResponseWriter, r *http.Request) {}
` + "```" + `

### Acceptance Criteria

- [ ] POST /login returns 200 for valid credentials
- [x] POST /login returns 401 for invalid credentials

## Task auth-2: Add session store

### Acceptance Criteria

- Sessions persist across restarts

## Notes

This section is neither a known section nor a task.
`

// TestParseSections verifies title, problem statement, and success criteria
func TestParseSections(t *testing.T) {
	doc, err := NewParser().Parse(strings.NewReader(sampleSpec))
	require.NoError(t, err)

	assert.Equal(t, "Login Feature", doc.Title)
	assert.True(t, doc.HasProblemStatement())
	assert.Contains(t, doc.ProblemStatement, "session-based login")
	require.True(t, doc.HasSuccessCriteria())
	assert.Equal(t, []string{
		"Login succeeds with valid credentials",
		"Invalid credentials get a 401",
	}, doc.SuccessCriteria)
}

// TestParseTaskBlocks verifies task heading extraction and criteria
func TestParseTaskBlocks(t *testing.T) {
	doc, err := NewParser().Parse(strings.NewReader(sampleSpec))
	require.NoError(t, err)
	require.Len(t, doc.TaskBlocks, 2)

	first := doc.TaskBlocks[0]
	assert.Equal(t, "auth-1", first.ID)
	assert.Equal(t, "Add login handler", first.Title)
	assert.Contains(t, first.Body, "POST /login handler")
	// Fenced content is carried in the body, not parsed as structure.
	assert.Contains(t, first.Body, "ERROR: this echoed snippet")
	// Checkbox markers are stripped so checked and unchecked compare equal.
	assert.Equal(t, []string{
		"POST /login returns 200 for valid credentials",
		"POST /login returns 401 for invalid credentials",
	}, first.AcceptanceCriteria)

	second := doc.TaskBlocks[1]
	assert.Equal(t, "auth-2", second.ID)
	assert.Equal(t, []string{"Sessions persist across restarts"}, second.AcceptanceCriteria)
}

// TestParseDuplicateIDs verifies duplicate task ids are rejected
func TestParseDuplicateIDs(t *testing.T) {
	spec := `# Feature

## Task t1: First

### Acceptance Criteria

- one

## Task t1: Again

### Acceptance Criteria

- two
`
	_, err := NewParser().Parse(strings.NewReader(spec))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate task id")
}

// TestParseNonTaskHeadings verifies unrelated H2 sections are skipped
func TestParseNonTaskHeadings(t *testing.T) {
	doc, err := NewParser().Parse(strings.NewReader(sampleSpec))
	require.NoError(t, err)

	for _, b := range doc.TaskBlocks {
		assert.NotContains(t, b.Body, "neither a known section")
	}
}

// TestProjection verifies the canonical projection shape
func TestProjection(t *testing.T) {
	doc, err := NewParser().Parse(strings.NewReader(sampleSpec))
	require.NoError(t, err)

	proj := doc.Projection()
	require.Len(t, proj, 2)
	assert.Equal(t, "auth-1", proj[0].ID)
	assert.Equal(t, "Add login handler", proj[0].Title)
	assert.Len(t, proj[0].AcceptanceCriteria, 2)
}

// TestFindBlock verifies lookup by id
func TestFindBlock(t *testing.T) {
	doc, err := NewParser().Parse(strings.NewReader(sampleSpec))
	require.NoError(t, err)

	assert.NotNil(t, doc.FindBlock("auth-2"))
	assert.Nil(t, doc.FindBlock("missing"))
}

// TestParseMalformedTaskHeading verifies near-miss headings are not tasks
func TestParseMalformedTaskHeading(t *testing.T) {
	spec := `# Feature

## Task without colon separator

Some text.

## Task x1: Real task

### Acceptance Criteria

- done
`
	doc, err := NewParser().Parse(strings.NewReader(spec))
	require.NoError(t, err)
	require.Len(t, doc.TaskBlocks, 1)
	assert.Equal(t, "x1", doc.TaskBlocks[0].ID)
}
