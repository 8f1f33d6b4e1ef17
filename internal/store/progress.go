package store

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/krazyuniks/ralph-hybrid-sub003/internal/models"
)

// progressHeader is written once when a progress log is created.
const progressHeader = "# Progress Log\n"

// recordHeadingRegex matches the block delimiter of a progress record:
// "## Iteration <n> — <timestamp>".
var recordHeadingRegex = regexp.MustCompile(`^## Iteration (\d+) — (.+)$`)

// InitProgressLog creates an empty progress log at path if one does not
// already exist.
func InitProgressLog(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return writeRetry(path, []byte(progressHeader))
}

// AppendRecord appends one iteration record block to the progress log.
// The log is read back and rewritten atomically so an interrupted append
// never leaves a torn block.
func AppendRecord(path string, rec *models.ProgressRecord) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read progress log: %w", err)
		}
		data = []byte(progressHeader)
	}

	content := string(data)
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += "\n" + rec.Render()

	return writeRetry(path, []byte(content))
}

// RollbackLast removes exactly the final record block from the progress
// log. Used when a completion transition must be undone after failed
// post-hoc verification. Returns an error if the log holds no records.
func RollbackLast(path string) error {
	data, err := readRetry(path)
	if err != nil {
		return fmt.Errorf("failed to read progress log: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	lastStart := -1
	for i, line := range lines {
		if recordHeadingRegex.MatchString(line) {
			lastStart = i
		}
	}
	if lastStart < 0 {
		return fmt.Errorf("progress log %s has no records to roll back", path)
	}

	truncated := strings.TrimRight(strings.Join(lines[:lastStart], "\n"), "\n") + "\n"
	return writeRetry(path, []byte(truncated))
}

// LoadRecords parses the progress log into its ordered records. A missing
// log is treated as empty.
func LoadRecords(path string) ([]models.ProgressRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read progress log: %w", err)
	}

	var records []models.ProgressRecord
	var current *models.ProgressRecord
	inFiles := false

	flush := func() {
		if current != nil {
			records = append(records, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(string(data), "\n") {
		if matches := recordHeadingRegex.FindStringSubmatch(line); len(matches) == 3 {
			flush()
			iter, _ := strconv.Atoi(matches[1])
			ts, _ := time.Parse(time.RFC3339, strings.TrimSpace(matches[2]))
			current = &models.ProgressRecord{Iteration: iter, Timestamp: ts}
			inFiles = false
			continue
		}
		if current == nil {
			continue
		}

		switch {
		case strings.HasPrefix(line, "- Task: "):
			current.TaskID = strings.TrimPrefix(line, "- Task: ")
			inFiles = false
		case strings.HasPrefix(line, "- Status: "):
			current.Status = models.IterationStatus(strings.TrimPrefix(line, "- Status: "))
			inFiles = false
		case strings.HasPrefix(line, "- Commit: "):
			current.Commit = strings.TrimPrefix(line, "- Commit: ")
			inFiles = false
		case line == "- Files:":
			inFiles = true
		case inFiles && strings.HasPrefix(line, "  - "):
			current.Files = append(current.Files, strings.TrimPrefix(line, "  - "))
		case strings.HasPrefix(line, "Learnings: "):
			current.Learnings = strings.TrimPrefix(line, "Learnings: ")
			inFiles = false
		default:
			inFiles = false
		}
	}
	flush()

	return records, nil
}

// LastIteration returns the iteration number of the final record, or 0
// for an empty log.
func LastIteration(path string) (int, error) {
	records, err := LoadRecords(path)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	return records[len(records)-1].Iteration, nil
}

// RenderRecent formats the last n records for inclusion in the agent's
// prompt payload. Older records are summarised by count only, keeping the
// payload bounded.
func RenderRecent(path string, n int) (string, error) {
	records, err := LoadRecords(path)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}

	var sb strings.Builder
	start := 0
	if len(records) > n {
		start = len(records) - n
		fmt.Fprintf(&sb, "(%d earlier iterations omitted)\n\n", start)
	}
	for i := start; i < len(records); i++ {
		sb.WriteString(records[i].Render())
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
