package display

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Warning represents a user-facing warning message
type Warning struct {
	Title      string   // Main warning title
	Message    string   // Detailed explanation (optional)
	Details    []string // Related items, one per line (optional)
	Suggestion string   // Action to take (optional)
}

// Display writes the warning to out, in yellow when color is enabled
func (w Warning) Display(out io.Writer) {
	var b strings.Builder

	b.WriteString("Warning: ")
	b.WriteString(w.Title)
	b.WriteString("\n")

	if w.Message != "" {
		b.WriteString("    ")
		b.WriteString(w.Message)
		b.WriteString("\n")
	}

	for i, d := range w.Details {
		fmt.Fprintf(&b, "      %d. %s\n", i+1, d)
	}

	if w.Suggestion != "" {
		b.WriteString("    Suggestion: ")
		b.WriteString(w.Suggestion)
		b.WriteString("\n")
	}

	color.New(color.FgYellow).Fprint(out, b.String())
}

// Warnings displays each warning followed by a blank line
func Warnings(out io.Writer, warnings []Warning) {
	for _, w := range warnings {
		w.Display(out)
		fmt.Fprintln(out)
	}
}
