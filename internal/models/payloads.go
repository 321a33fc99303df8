package models

import (
	"fmt"
	"strings"
)

// RepoSummary describes the target repository as seen by the analyzer.
type RepoSummary struct {
	Path          string   `json:"path"`
	MainLanguage  string   `json:"main_language"`
	TestCommand   string   `json:"test_command"`
	DefaultBranch string   `json:"default_branch"`
	CurrentBranch string   `json:"current_branch,omitempty"`
	HeadCommit    string   `json:"head_commit,omitempty"`
	RemoteURL     string   `json:"remote_url,omitempty"`
	FileCount     int      `json:"file_count"`
	TopFiles      []string `json:"top_files,omitempty"` // Sample of tracked paths for prompt context
}

// Summary returns a one-line description of the repository.
func (r RepoSummary) Summary() string {
	branch := r.CurrentBranch
	if branch == "" {
		branch = r.DefaultBranch
	}
	return fmt.Sprintf("%s (%s, %d files, branch %s)", r.Path, r.MainLanguage, r.FileCount, branch)
}

// DesignPlan is the implementation approach proposed for a task.
type DesignPlan struct {
	ProblemUnderstanding string   `json:"problem_understanding"`
	ProposedApproach     string   `json:"proposed_approach"`
	TargetFiles          []string `json:"target_files"`
	Steps                []string `json:"steps"`
}

// Summary returns a one-line description of the plan.
func (d DesignPlan) Summary() string {
	return fmt.Sprintf("%d steps over %d files: %s", len(d.Steps), len(d.TargetFiles), FirstLine(d.ProposedApproach))
}

// Change is a generated unified diff and whether it was applied to the repository.
type Change struct {
	Diff         string   `json:"diff"`
	FilesChanged []string `json:"files_changed"`
	Explanations []string `json:"explanations,omitempty"`
	Applied      bool     `json:"applied"`   // True once the diff is in the working tree
	Simulated    bool     `json:"simulated"` // True when application was skipped in dry-run
}

// Summary returns a one-line description of the change.
func (c Change) Summary() string {
	state := "applied"
	switch {
	case c.Simulated:
		state = "simulated"
	case !c.Applied:
		state = "not applied"
	}
	return fmt.Sprintf("%d files changed (%s)", len(c.FilesChanged), state)
}

// TestOutcome captures the result of running the repository's test command.
type TestOutcome struct {
	Command   string `json:"command"`
	ExitCode  int    `json:"exit_code"`
	Output    string `json:"output"`
	Passed    bool   `json:"passed"`
	Simulated bool   `json:"simulated"`
}

// Summary returns a one-line description of the test outcome.
func (t TestOutcome) Summary() string {
	status := "failed"
	if t.Passed {
		status = "passed"
	}
	if t.Simulated {
		status += " (simulated)"
	}
	return fmt.Sprintf("%q %s with exit code %d", t.Command, status, t.ExitCode)
}

// ReviewDecision is the reviewer's verdict on a change.
type ReviewDecision struct {
	Approved    bool     `json:"approved"`
	Comments    []string `json:"comments,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Summary returns a one-line description of the decision.
func (r ReviewDecision) Summary() string {
	verdict := "REJECTED"
	if r.Approved {
		verdict = "APPROVED"
	}
	return fmt.Sprintf("%s with %d comments", verdict, len(r.Comments))
}

// Feedback renders the review comments as text for the next generation attempt.
func (r ReviewDecision) Feedback() string {
	lines := append(append([]string{}, r.Comments...), r.Suggestions...)
	return strings.Join(lines, "\n")
}

// PublishedRef describes the branch and pull request a run published.
type PublishedRef struct {
	Branch    string `json:"branch"`
	Base      string `json:"base"`
	CommitSHA string `json:"commit_sha,omitempty"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	PRNumber  int    `json:"pr_number,omitempty"`
	PRURL     string `json:"pr_url,omitempty"`
	Simulated bool   `json:"simulated"`
}

// Summary returns a one-line description of the published reference.
func (p PublishedRef) Summary() string {
	switch {
	case p.Simulated:
		return fmt.Sprintf("would publish %s -> %s", p.Branch, p.Base)
	case p.PRURL != "":
		return fmt.Sprintf("PR #%d %s", p.PRNumber, p.PRURL)
	default:
		return fmt.Sprintf("pushed %s", p.Branch)
	}
}

// Notes records what a run learned.
type Notes struct {
	Summary     []string `json:"summary"`
	Lessons     []string `json:"lessons,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Digest returns a one-line description of the notes.
func (n Notes) Digest() string {
	if len(n.Summary) == 0 {
		return fmt.Sprintf("%d lessons", len(n.Lessons))
	}
	return fmt.Sprintf("%s (+%d lessons)", FirstLine(n.Summary[0]), len(n.Lessons))
}

// FirstLine returns the first line of s, trimmed and capped at 120 bytes.
func FirstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}
