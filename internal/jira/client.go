// Package jira fetches task details from Jira Cloud and posts comments back.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/codeflow/internal/models"
	"github.com/harrison/codeflow/internal/workflow"
)

// DefaultTimeout bounds a single Jira request.
const DefaultTimeout = 30 * time.Second

var (
	criteriaHeading = regexp.MustCompile(`(?i)^#*\s*acceptance criteria:?\s*$`)
	listMarker      = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+`)
)

// Config holds Jira Cloud connection settings.
type Config struct {
	BaseURL  string
	Email    string
	APIToken string
	Timeout  time.Duration
}

// Client talks to the Jira REST API v3 with basic authentication.
type Client struct {
	baseURL    string
	email      string
	token      string
	httpClient *http.Client
}

// NewClient creates a Jira client. Timeout defaults to DefaultTimeout.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		email:      cfg.Email,
		token:      cfg.APIToken,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type issueResponse struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string          `json:"summary"`
		Description json.RawMessage `json:"description"`
		Labels      []string        `json:"labels"`
		Acceptance  json.RawMessage `json:"acceptance"`
		CustomAC    json.RawMessage `json:"customfield_acceptance"`
	} `json:"fields"`
}

// Fetch loads one issue. A missing issue is classified TaskNotFound; transport
// failures and unexpected statuses are IntegrationUnreachable.
func (c *Client) Fetch(ctx context.Context, taskID string) (models.TaskDetails, error) {
	endpoint := fmt.Sprintf("%s/rest/api/3/issue/%s", c.baseURL, url.PathEscape(taskID))
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.TaskDetails{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return models.TaskDetails{}, workflow.NewStageError(models.KindTaskNotFound, "jira issue "+taskID+" not found", nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return models.TaskDetails{}, workflow.NewStageError(models.KindIntegrationUnreachable,
			fmt.Sprintf("jira rejected credentials for %s (HTTP %d)", taskID, resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return models.TaskDetails{}, workflow.NewStageError(models.KindIntegrationUnreachable,
			fmt.Sprintf("jira returned HTTP %d for %s: %s", resp.StatusCode, taskID, readSnippet(resp.Body)), nil)
	}

	var issue issueResponse
	if err := json.NewDecoder(resp.Body).Decode(&issue); err != nil {
		return models.TaskDetails{}, workflow.NewStageError(models.KindIntegrationUnreachable, "decode jira issue "+taskID, err)
	}

	id := issue.Key
	if id == "" {
		id = taskID
	}
	title := strings.TrimSpace(issue.Fields.Summary)
	if title == "" {
		title = "Ticket " + id
	}

	description := flattenText(issue.Fields.Description)
	criteria := splitCriteria(flattenText(issue.Fields.Acceptance))
	if len(criteria) == 0 {
		criteria = splitCriteria(flattenText(issue.Fields.CustomAC))
	}
	if len(criteria) == 0 {
		description, criteria = criteriaFromDescription(description)
	}

	return models.TaskDetails{
		ID:                 id,
		Title:              title,
		Description:        description,
		AcceptanceCriteria: criteria,
		Labels:             issue.Fields.Labels,
		URL:                c.baseURL + "/browse/" + id,
	}, nil
}

// AddComment posts body as a comment on the issue.
func (c *Client) AddComment(ctx context.Context, taskID, body string) error {
	payload, err := json.Marshal(map[string]any{"body": textDocument(body)})
	if err != nil {
		return fmt.Errorf("encode comment: %w", err)
	}

	endpoint := fmt.Sprintf("%s/rest/api/3/issue/%s/comment", c.baseURL, url.PathEscape(taskID))
	resp, err := c.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("jira comment on %s failed with HTTP %d: %s", taskID, resp.StatusCode, readSnippet(resp.Body))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build jira request: %w", err)
	}
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("jira %s %s: %w", method, endpoint, err)
		}
		return nil, workflow.NewStageError(models.KindIntegrationUnreachable, "jira request failed", err)
	}
	return resp, nil
}

func readSnippet(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(data))
}

// splitCriteria turns a criteria block into one entry per non-empty line,
// dropping list markers.
func splitCriteria(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(strings.TrimSpace(line), ""))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// criteriaFromDescription splits an "Acceptance Criteria" section off the end of
// a description.
func criteriaFromDescription(description string) (string, []string) {
	lines := strings.Split(description, "\n")
	for i, line := range lines {
		if criteriaHeading.MatchString(strings.TrimSpace(line)) {
			rest := strings.Join(lines[i+1:], "\n")
			return strings.TrimSpace(strings.Join(lines[:i], "\n")), splitCriteria(rest)
		}
	}
	return description, nil
}
