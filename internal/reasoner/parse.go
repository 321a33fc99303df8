package reasoner

import (
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var (
	labelPattern  = regexp.MustCompile(`^([A-Z][A-Z0-9 \-]*[A-Z0-9])(?:\s*\([^)]*\))?:\s*(.*)$`)
	numberPrefix  = regexp.MustCompile(`^\d+[.)]\s+`)
	diffLineStart = []string{"diff --git", "--- ", "+++ ", "@@", "+", "-", " ", "index ", "new file mode", "deleted file mode", `\ No newline`}
)

// section collects the content found under one label of a response.
type section struct {
	lines []string    // Free text lines
	items []string    // List items
	code  []codeBlock // Fenced code blocks
}

type codeBlock struct {
	language string
	body     string
}

// sections maps an upper-case label to its content.
type sections map[string]*section

// text returns the free text under label joined by newlines, falling back to its items.
func (s sections) text(label string) string {
	sec, ok := s[label]
	if !ok {
		return ""
	}
	if len(sec.lines) > 0 {
		return strings.TrimSpace(strings.Join(sec.lines, "\n"))
	}
	return strings.TrimSpace(strings.Join(sec.items, "\n"))
}

// entries returns list items under label, or its non-empty text lines when the
// model answered without list markers.
func (s sections) entries(label string) []string {
	sec, ok := s[label]
	if !ok {
		return nil
	}
	if len(sec.items) > 0 {
		return sec.items
	}
	var out []string
	for _, l := range sec.lines {
		l = strings.TrimSpace(numberPrefix.ReplaceAllString(strings.TrimLeft(l, "-* "), ""))
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

var markdown = goldmark.New()

// parseSections splits a markdown reply into labeled sections. Labels are either
// headings or paragraph lines of the form "UPPER CASE LABEL: rest".
func parseSections(reply string) sections {
	source := []byte(reply)
	doc := markdown.Parser().Parse(text.NewReader(source))

	out := sections{}
	current := out.open("")

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			label := strings.TrimSuffix(strings.TrimSpace(headingText(node, source)), ":")
			current = out.open(strings.ToUpper(label))

		case *ast.List:
			for item := node.FirstChild(); item != nil; item = item.NextSibling() {
				if t := strings.TrimSpace(blockText(item, source)); t != "" {
					current.items = append(current.items, t)
				}
			}

		case *ast.FencedCodeBlock:
			current.code = append(current.code, codeBlock{
				language: strings.ToLower(string(node.Language(source))),
				body:     linesText(node.Lines(), source),
			})

		case *ast.CodeBlock:
			current.code = append(current.code, codeBlock{body: linesText(node.Lines(), source)})

		default:
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				line := strings.TrimSpace(string(seg.Value(source)))
				if m := labelPattern.FindStringSubmatch(strings.ReplaceAll(line, "**", "")); m != nil {
					current = out.open(m[1])
					line = m[2]
				}
				if line != "" {
					current.lines = append(current.lines, line)
				}
			}
		}
	}
	return out
}

func (s sections) open(label string) *section {
	if sec, ok := s[label]; ok {
		return sec
	}
	sec := &section{}
	s[label] = sec
	return sec
}

func headingText(n ast.Node, source []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
		} else {
			b.WriteString(headingText(c, source))
		}
	}
	return b.String()
}

// blockText joins the lines of the first-level text blocks under a list item.
func blockText(item ast.Node, source []byte) string {
	var parts []string
	for c := item.FirstChild(); c != nil; c = c.NextSibling() {
		if c.Kind() == ast.KindTextBlock || c.Kind() == ast.KindParagraph {
			parts = append(parts, strings.TrimSpace(linesText(c.Lines(), source)))
		}
	}
	return strings.Join(parts, " ")
}

func linesText(lines *text.Segments, source []byte) string {
	var b strings.Builder
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return b.String()
}

// extractDiff finds the patch in a coding reply. A diff fenced block wins, PATCH
// section first, then any fenced block under PATCH that looks like a diff, then raw
// diff lines found anywhere in the reply.
func extractDiff(reply string, secs sections) string {
	labels := make([]string, 0, len(secs))
	for label := range secs {
		if label != "PATCH" {
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)
	if _, ok := secs["PATCH"]; ok {
		labels = append([]string{"PATCH"}, labels...)
	}

	for _, label := range labels {
		for _, cb := range secs[label].code {
			if cb.language == "diff" || cb.language == "patch" {
				return normalizeDiff(cb.body)
			}
		}
	}
	if patch, ok := secs["PATCH"]; ok {
		for _, cb := range patch.code {
			if looksLikeDiff(cb.body) {
				return normalizeDiff(cb.body)
			}
		}
	}
	return normalizeDiff(rawDiff(reply))
}

// rawDiff scans the unparsed reply for contiguous diff lines.
func rawDiff(reply string) string {
	var out []string
	started := false
	for _, line := range strings.Split(reply, "\n") {
		if !started {
			if strings.HasPrefix(line, "diff --git") || strings.HasPrefix(line, "--- ") {
				started = true
			} else {
				continue
			}
		}
		if !isDiffLine(line) {
			break
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func isDiffLine(line string) bool {
	if line == "" {
		return true
	}
	for _, p := range diffLineStart {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func looksLikeDiff(body string) bool {
	return strings.Contains(body, "@@") && (strings.Contains(body, "+++ ") || strings.Contains(body, "diff --git"))
}

// normalizeDiff trims surrounding blank lines and guarantees a trailing newline,
// which git apply requires.
func normalizeDiff(diff string) string {
	diff = strings.Trim(diff, "\n")
	if strings.TrimSpace(diff) == "" {
		return ""
	}
	return diff + "\n"
}

// filesFromDiff lists the target paths named by "+++ b/" headers.
func filesFromDiff(diff string) []string {
	var files []string
	seen := map[string]bool{}
	for _, line := range strings.Split(diff, "\n") {
		if !strings.HasPrefix(line, "+++ ") {
			continue
		}
		path := strings.TrimSpace(strings.TrimPrefix(line, "+++ "))
		if path == "/dev/null" {
			continue
		}
		path = strings.TrimPrefix(path, "b/")
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}
	return files
}
