package jira

import (
	"context"
	"strings"

	"github.com/harrison/codeflow/internal/models"
)

// DemoTaskID is the task the stub source describes in detail.
const DemoTaskID = "DEMO-001"

// StubSource serves canned tasks when Jira is not configured.
type StubSource struct{}

// NewStubSource creates a stub task source.
func NewStubSource() *StubSource {
	return &StubSource{}
}

// Fetch returns the demo task for DemoTaskID and a generic task otherwise.
func (s *StubSource) Fetch(_ context.Context, taskID string) (models.TaskDetails, error) {
	if strings.EqualFold(taskID, DemoTaskID) {
		return models.TaskDetails{
			ID:    DemoTaskID,
			Title: "Add input validation to config loader",
			Description: "The config module currently loads YAML configuration without validating required " +
				"fields or types. Add validation to prevent runtime errors from misconfigured files.\n\n" +
				"The loader should validate that test_command is a non-empty string and that max_retries " +
				"is an integer >= 0.",
			AcceptanceCriteria: []string{
				"Validate that test_command is a non-empty string",
				"Validate that max_retries is an integer >= 0",
				"Raise a descriptive validation error if validation fails",
				"Add unit tests for validation logic",
			},
			Labels: []string{"stub", "demo"},
		}, nil
	}

	return models.TaskDetails{
		ID:          taskID,
		Title:       "[STUB] Implement feature for ticket " + taskID,
		Description: "Jira is not configured. Set JIRA_BASE_URL, JIRA_EMAIL and JIRA_API_TOKEN to fetch live data.",
		AcceptanceCriteria: []string{
			"Implement feature",
			"Add tests",
			"Keep code clean",
		},
		Labels: []string{"stub"},
	}, nil
}

// AddComment is a no-op for the stub source.
func (s *StubSource) AddComment(context.Context, string, string) error {
	return nil
}
