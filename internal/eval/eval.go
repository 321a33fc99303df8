// Package eval runs a batch of tasks through the pipeline and reports how many
// succeeded.
package eval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/harrison/codeflow/internal/models"
)

// timestampLayout names report files, e.g. eval_20260301-090000.json.
const timestampLayout = "20060102-150405"

// Runner executes one task. *workflow.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, taskID string, mode models.Mode) (*models.RunRecord, error)
}

// Result summarizes one task's run.
type Result struct {
	RunID           string   `json:"run_id"`
	TicketID        string   `json:"ticket_id"`
	Status          string   `json:"status"` // "success" or "failed"
	Errors          []string `json:"errors"`
	PRURL           *string  `json:"pr_url"`
	ReviewDecision  *string  `json:"review_decision"`
	TestsPassed     bool     `json:"tests_passed"`
	DurationSeconds *float64 `json:"duration_seconds"`
}

// Report is the aggregated outcome of a batch.
type Report struct {
	StartedAt   string   `json:"started_at"`
	Tickets     []string `json:"tickets"`
	DryRun      bool     `json:"dry_run"`
	Successes   int      `json:"successes"`
	Failures    int      `json:"failures"`
	SuccessRate float64  `json:"success_rate"`
	Results     []Result `json:"results"`

	Path string `json:"-"` // Where the report was written
}

// Harness runs tasks sequentially and writes a JSON report into RunsDir.
type Harness struct {
	Runner  Runner
	RunsDir string
	DryRun  bool
	Fs      afero.Fs // Defaults to the host filesystem

	clock func() time.Time
}

// NewHarness builds a dry-run harness.
func NewHarness(runner Runner, runsDir string) *Harness {
	return &Harness{
		Runner:  runner,
		RunsDir: runsDir,
		DryRun:  true,
		Fs:      afero.NewOsFs(),
		clock:   time.Now,
	}
}

// Run processes tickets in order. A cancelled ctx stops the batch; the report for
// the tickets already processed is still written and ctx's error is returned.
func (h *Harness) Run(ctx context.Context, tickets []string) (*Report, error) {
	if h.Runner == nil {
		return nil, errors.New("eval harness requires a runner")
	}
	if len(tickets) == 0 {
		return nil, errors.New("no tickets to evaluate")
	}
	clock := h.clock
	if clock == nil {
		clock = time.Now
	}
	mode := models.ModeNormal
	if h.DryRun {
		mode = models.ModeDryRun
	}

	report := &Report{
		StartedAt: clock().Format(timestampLayout),
		Tickets:   append([]string(nil), tickets...),
		DryRun:    h.DryRun,
		Results:   []Result{},
	}

	var runErr error
	for _, ticket := range tickets {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		record, err := h.Runner.Run(ctx, ticket, mode)
		report.Results = append(report.Results, summarize(ticket, record, err))
	}

	for _, r := range report.Results {
		if r.Status == "success" {
			report.Successes++
		}
	}
	report.Failures = len(report.Results) - report.Successes
	if len(report.Results) > 0 {
		report.SuccessRate = float64(report.Successes) / float64(len(report.Results))
	}

	path, err := h.write(report)
	if err != nil {
		return report, err
	}
	report.Path = path
	return report, runErr
}

func (h *Harness) write(report *Report) (string, error) {
	fs := h.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(h.RunsDir, 0755); err != nil {
		return "", fmt.Errorf("create runs directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal eval report: %w", err)
	}
	path := filepath.Join(h.RunsDir, fmt.Sprintf("eval_%s.json", report.StartedAt))
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return "", fmt.Errorf("write eval report: %w", err)
	}
	return path, nil
}

func summarize(ticket string, record *models.RunRecord, runErr error) Result {
	res := Result{TicketID: ticket, Status: "failed", Errors: []string{}}
	if runErr != nil {
		res.Errors = append(res.Errors, runErr.Error())
	}
	if record == nil {
		return res
	}

	res.RunID = record.RunID
	if record.Status == models.RunSucceeded && runErr == nil {
		res.Status = "success"
	}
	for _, a := range record.StageResults {
		if a.Outcome != models.OutcomeSuccess {
			res.Errors = append(res.Errors, fmt.Sprintf("%s #%d %s: %s", a.Stage, a.Attempt, a.Kind, models.FirstLine(a.Detail)))
		}
	}
	if record.Failure != nil && !hasFailureAttempt(record) {
		res.Errors = append(res.Errors, record.Failure.String())
	}

	var ref models.PublishedRef
	if ok, _ := record.LastPayload(models.StagePublish, &ref); ok && ref.PRURL != "" {
		res.PRURL = &ref.PRURL
	}
	var review models.ReviewDecision
	if ok, _ := record.LastPayload(models.StageReview, &review); ok {
		decision := "rejected"
		if review.Approved {
			decision = "approved"
		}
		res.ReviewDecision = &decision
	}
	var test models.TestOutcome
	if ok, _ := record.LastPayload(models.StageTest, &test); ok {
		res.TestsPassed = test.Passed
	}
	if !record.FinishedAt.IsZero() {
		d := record.FinishedAt.Sub(record.StartedAt).Seconds()
		res.DurationSeconds = &d
	}
	return res
}

// hasFailureAttempt reports whether the terminal failure already appears as a
// failed attempt. Guardrail denials and cancellations happen between attempts.
func hasFailureAttempt(record *models.RunRecord) bool {
	attempts := record.Attempts(record.Failure.Stage)
	return len(attempts) > 0 && attempts[len(attempts)-1].Outcome != models.OutcomeSuccess
}
