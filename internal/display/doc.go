// Package display renders user-facing notices on the terminal.
//
// Warnings are printed in yellow when color output is enabled:
//
//	display.Warning{
//	    Title:      "Jira not configured",
//	    Message:    "Tasks come from the built-in stub source",
//	    Suggestion: "Set JIRA_BASE_URL, JIRA_EMAIL and JIRA_API_TOKEN",
//	}.Display(os.Stderr)
//
// Color follows github.com/fatih/color, which disables itself when stdout is not
// a terminal or NO_COLOR is set.
package display
