package models

import (
	"errors"
	"fmt"
	"strings"
)

// TaskDetails describes the unit of work a run processes, as reported by a task source.
type TaskDetails struct {
	ID                 string   `json:"id"`                  // Ticket key, e.g. "DEMO-001"
	Title              string   `json:"title"`               // One-line summary
	Description        string   `json:"description"`         // Free-form body
	AcceptanceCriteria []string `json:"acceptance_criteria"` // One criterion per entry
	Labels             []string `json:"labels,omitempty"`    // Tracker labels (optional)
	URL                string   `json:"url,omitempty"`       // Link back to the tracker (optional)
}

// Validate checks if the task has all required fields
func (t *TaskDetails) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("task id is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return errors.New("task title is required")
	}
	return nil
}

// Summary returns a one-line description used in run listings and logs.
func (t TaskDetails) Summary() string {
	return fmt.Sprintf("%s: %s (%d acceptance criteria)", t.ID, t.Title, len(t.AcceptanceCriteria))
}

// CriteriaText renders the acceptance criteria as a bulleted block.
func (t TaskDetails) CriteriaText() string {
	if len(t.AcceptanceCriteria) == 0 {
		return "(none provided)"
	}
	var b strings.Builder
	for i, c := range t.AcceptanceCriteria {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(c)
	}
	return b.String()
}
