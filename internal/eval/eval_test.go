package eval

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/codeflow/internal/models"
)

var evalStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeRunner struct {
	modes   []models.Mode
	records map[string]*models.RunRecord
	errs    map[string]error
	cancel  context.CancelFunc // Called after the first run when set
}

func (f *fakeRunner) Run(_ context.Context, taskID string, mode models.Mode) (*models.RunRecord, error) {
	f.modes = append(f.modes, mode)
	if f.cancel != nil {
		f.cancel()
	}
	return f.records[taskID], f.errs[taskID]
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func succeeded(t *testing.T, id string) *models.RunRecord {
	return &models.RunRecord{
		RunID:      "run-" + id,
		TaskID:     id,
		Mode:       models.ModeDryRun,
		Status:     models.RunSucceeded,
		StartedAt:  evalStart,
		FinishedAt: evalStart.Add(1500 * time.Millisecond),
		StageResults: []models.StageAttempt{
			{Stage: models.StageTest, Attempt: 1, Outcome: models.OutcomeRecoverable, Kind: models.KindTestFailed, Detail: "FAILED test_x\nmore"},
			{Stage: models.StageTest, Attempt: 2, Outcome: models.OutcomeSuccess, Payload: payload(t, models.TestOutcome{Passed: true})},
			{Stage: models.StageReview, Attempt: 1, Outcome: models.OutcomeSuccess, Payload: payload(t, models.ReviewDecision{Approved: true})},
			{Stage: models.StagePublish, Attempt: 1, Outcome: models.OutcomeSuccess, Payload: payload(t, models.PublishedRef{PRURL: "https://github.com/acme/app/pull/3"})},
		},
	}
}

func newTestHarness(r Runner) (*Harness, afero.Fs) {
	fs := afero.NewMemMapFs()
	h := NewHarness(r, "/home/runs")
	h.Fs = fs
	h.clock = func() time.Time { return evalStart }
	return h, fs
}

func TestHarnessReport(t *testing.T) {
	runner := &fakeRunner{
		records: map[string]*models.RunRecord{
			"EVAL-1": succeeded(t, "EVAL-1"),
			"EVAL-2": {
				RunID: "run-EVAL-2", TaskID: "EVAL-2", Status: models.RunFailed,
				StartedAt: evalStart, FinishedAt: evalStart.Add(time.Second),
				StageResults: []models.StageAttempt{
					{Stage: models.StageFetchTask, Attempt: 1, Outcome: models.OutcomeFatal, Kind: models.KindTaskNotFound, Detail: "no such issue"},
				},
				Failure: &models.Failure{Stage: models.StageFetchTask, Kind: models.KindTaskNotFound, Message: "no such issue", Attempts: 1},
			},
		},
	}
	h, fs := newTestHarness(runner)

	report, err := h.Run(context.Background(), []string{"EVAL-1", "EVAL-2"})
	require.NoError(t, err)

	assert.Equal(t, []models.Mode{models.ModeDryRun, models.ModeDryRun}, runner.modes)
	assert.Equal(t, "20260301-090000", report.StartedAt)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Successes)
	assert.Equal(t, 1, report.Failures)
	assert.InDelta(t, 0.5, report.SuccessRate, 1e-9)

	ok := report.Results[0]
	assert.Equal(t, "success", ok.Status)
	assert.Equal(t, "run-EVAL-1", ok.RunID)
	require.NotNil(t, ok.PRURL)
	assert.Equal(t, "https://github.com/acme/app/pull/3", *ok.PRURL)
	require.NotNil(t, ok.ReviewDecision)
	assert.Equal(t, "approved", *ok.ReviewDecision)
	assert.True(t, ok.TestsPassed)
	require.NotNil(t, ok.DurationSeconds)
	assert.InDelta(t, 1.5, *ok.DurationSeconds, 1e-9)
	assert.Equal(t, []string{"test #1 test_failed: FAILED test_x"}, ok.Errors)

	failed := report.Results[1]
	assert.Equal(t, "failed", failed.Status)
	assert.Nil(t, failed.PRURL)
	assert.Nil(t, failed.ReviewDecision)
	assert.Equal(t, []string{"fetch_task #1 task_not_found: no such issue"}, failed.Errors)

	assert.Equal(t, "/home/runs/eval_20260301-090000.json", report.Path)
	data, err := afero.ReadFile(fs, report.Path)
	require.NoError(t, err)
	var onDisk map[string]any
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, 1.0, onDisk["successes"])
	assert.Contains(t, onDisk, "results")
	assert.NotContains(t, onDisk, "Path")
}

func TestHarnessRecordsRunnerErrors(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{"EVAL-1": errors.New("persist run: disk full")}}
	h, _ := newTestHarness(runner)

	report, err := h.Run(context.Background(), []string{"EVAL-1"})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Successes)
	assert.Equal(t, []string{"persist run: disk full"}, report.Results[0].Errors)
}

func TestHarnessGuardrailFailureListed(t *testing.T) {
	record := &models.RunRecord{
		RunID: "r", Status: models.RunAborted,
		Failure: &models.Failure{Stage: models.StagePublish, Kind: models.KindGuardrailDenied, Message: "confirmation denied"},
	}
	res := summarize("EVAL-9", record, nil)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "guardrail_denied")
	assert.Nil(t, res.DurationSeconds)
}

func TestHarnessStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &fakeRunner{
		records: map[string]*models.RunRecord{"EVAL-1": succeeded(t, "EVAL-1")},
		cancel:  cancel,
	}
	h, fs := newTestHarness(runner)

	report, err := h.Run(ctx, []string{"EVAL-1", "EVAL-2", "EVAL-3"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, report.Results, 1)
	assert.Equal(t, []string{"EVAL-1", "EVAL-2", "EVAL-3"}, report.Tickets)

	exists, _ := afero.Exists(fs, report.Path)
	assert.True(t, exists, "partial report is still written")
}

func TestHarnessValidation(t *testing.T) {
	h, _ := newTestHarness(&fakeRunner{})
	_, err := h.Run(context.Background(), nil)
	assert.Error(t, err)

	_, err = (&Harness{}).Run(context.Background(), []string{"X"})
	assert.Error(t, err)
}
