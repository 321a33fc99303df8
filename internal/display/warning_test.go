package display

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func withColor(t *testing.T, enabled bool) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = !enabled
	t.Cleanup(func() { color.NoColor = prev })
}

func TestDisplayWarning_TitleOnly(t *testing.T) {
	withColor(t, false)
	var buf bytes.Buffer
	Warning{Title: "Jira not configured"}.Display(&buf)

	if got := buf.String(); got != "Warning: Jira not configured\n" {
		t.Errorf("output = %q", got)
	}
}

func TestDisplayWarning_AllFields(t *testing.T) {
	withColor(t, false)
	var buf bytes.Buffer
	Warning{
		Title:      "Repository has uncommitted changes",
		Message:    "Publishing commits every change in the working tree",
		Details:    []string{"src/app.py", "README.md"},
		Suggestion: "Commit or stash them first",
	}.Display(&buf)

	output := buf.String()
	for _, want := range []string{
		"Warning: Repository has uncommitted changes\n",
		"    Publishing commits every change in the working tree\n",
		"      1. src/app.py\n",
		"      2. README.md\n",
		"    Suggestion: Commit or stash them first\n",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestDisplayWarning_Color(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	withColor(t, true)
	var buf bytes.Buffer
	Warning{Title: "x"}.Display(&buf)

	output := buf.String()
	if !strings.HasPrefix(output, "\x1b[33m") || !strings.HasSuffix(output, "\x1b[0m") {
		t.Errorf("expected yellow ANSI wrapping, got %q", output)
	}
}

func TestWarnings(t *testing.T) {
	withColor(t, false)
	var buf bytes.Buffer
	Warnings(&buf, []Warning{{Title: "a"}, {Title: "b"}})

	if got := buf.String(); got != "Warning: a\n\nWarning: b\n\n" {
		t.Errorf("output = %q", got)
	}
}
