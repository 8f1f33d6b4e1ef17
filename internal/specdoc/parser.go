package specdoc

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// taskHeadingRegex matches the stable task id pattern in level-2 headings:
// "Task <id>: <title>". Ids are alphanumeric with ._- separators.
var taskHeadingRegex = regexp.MustCompile(`^Task\s+([A-Za-z0-9][A-Za-z0-9._-]*):\s+(.+)$`)

// checkboxPrefixRegex strips a leading "[ ]"/"[x]" marker from list items,
// so checked and unchecked criteria compare equal.
var checkboxPrefixRegex = regexp.MustCompile(`^\[[ xX]\]\s+`)

// Parser parses specification markdown into a Document.
type Parser struct {
	markdown goldmark.Markdown
}

// NewParser creates a specification parser.
func NewParser() *Parser {
	return &Parser{
		markdown: goldmark.New(),
	}
}

// ParseFile parses the specification at the given path.
func (p *Parser) ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open specification: %w", err)
	}
	defer f.Close()
	return p.Parse(f)
}

// section identifies which part of the document the walker is inside.
type section int

const (
	sectionNone section = iota
	sectionProblem
	sectionSuccess
	sectionTask
	sectionOther
)

// Parse reads the full specification and walks the markdown AST, mapping
// top-level headings to document sections and task blocks. Content inside
// fenced code blocks is carried verbatim in task bodies and never treated
// as structure.
func (p *Parser) Parse(r io.Reader) (*Document, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read specification: %w", err)
	}

	root := p.markdown.Parser().Parse(text.NewReader(content))

	doc := &Document{}
	current := sectionNone
	var block *TaskBlock
	var bodyBuf strings.Builder
	inCriteria := false

	flushBlock := func() {
		if block == nil {
			return
		}
		block.Body = strings.TrimSpace(bodyBuf.String())
		doc.TaskBlocks = append(doc.TaskBlocks, *block)
		block = nil
		bodyBuf.Reset()
		inCriteria = false
	}

	for node := root.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			headingText := strings.TrimSpace(extractText(n, content))

			switch n.Level {
			case 1:
				if doc.Title == "" {
					doc.Title = headingText
				}
			case 2:
				flushBlock()
				if matches := taskHeadingRegex.FindStringSubmatch(headingText); len(matches) == 3 {
					current = sectionTask
					block = &TaskBlock{
						ID:    matches[1],
						Title: strings.TrimSpace(matches[2]),
					}
				} else {
					switch strings.ToLower(headingText) {
					case "problem statement":
						current = sectionProblem
					case "success criteria":
						current = sectionSuccess
					default:
						current = sectionOther
					}
				}
			case 3:
				if current == sectionTask {
					inCriteria = strings.EqualFold(headingText, "acceptance criteria")
				}
			}

		case *ast.List:
			switch {
			case current == sectionSuccess:
				doc.SuccessCriteria = append(doc.SuccessCriteria, listItems(n, content)...)
			case current == sectionTask && inCriteria && block != nil:
				block.AcceptanceCriteria = append(block.AcceptanceCriteria, listItems(n, content)...)
			case current == sectionTask && block != nil:
				for _, item := range listItems(n, content) {
					bodyBuf.WriteString("- " + item + "\n")
				}
			}

		case *ast.Paragraph:
			paraText := strings.TrimSpace(extractText(n, content))
			switch current {
			case sectionProblem:
				if doc.ProblemStatement != "" {
					doc.ProblemStatement += "\n\n"
				}
				doc.ProblemStatement += paraText
			case sectionTask:
				if block != nil && !inCriteria {
					if bodyBuf.Len() > 0 {
						bodyBuf.WriteString("\n\n")
					}
					bodyBuf.WriteString(paraText)
				}
			}

		case *ast.FencedCodeBlock:
			if current == sectionTask && block != nil && !inCriteria {
				if bodyBuf.Len() > 0 {
					bodyBuf.WriteString("\n")
				}
				bodyBuf.WriteString(rawLines(n, content))
			}
		}
	}
	flushBlock()

	if err := validateBlocks(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// validateBlocks rejects duplicate task ids. Other structural gaps
// (missing sections, empty criteria) are the preflight validator's
// business, reported as findings rather than parse errors.
func validateBlocks(doc *Document) error {
	seen := make(map[string]bool, len(doc.TaskBlocks))
	for _, b := range doc.TaskBlocks {
		if seen[b.ID] {
			return fmt.Errorf("specification contains duplicate task id %q", b.ID)
		}
		seen[b.ID] = true
	}
	return nil
}

// extractText extracts plain text from an AST node's direct children.
func extractText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.CodeSpan:
			buf.WriteString(extractText(t, source))
		case *ast.Emphasis:
			buf.WriteString(extractText(t, source))
		}
	}
	return buf.String()
}

// listItems returns the text of each item in a list, with any checkbox
// marker stripped.
func listItems(list *ast.List, source []byte) []string {
	var items []string
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		var buf bytes.Buffer
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			if buf.Len() > 0 {
				buf.WriteByte(' ')
			}
			buf.WriteString(extractText(c, source))
		}
		itemText := strings.TrimSpace(buf.String())
		itemText = checkboxPrefixRegex.ReplaceAllString(itemText, "")
		if itemText != "" {
			items = append(items, itemText)
		}
	}
	return items
}

// rawLines returns the verbatim source lines of a node, used to carry
// fenced code blocks through into task bodies.
func rawLines(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return buf.String()
}
