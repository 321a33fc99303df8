package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harrison/codeflow/internal/models"
)

// RunContext is the in-progress state of one run. It is owned by a single Engine.Run
// call; stages only ever see RunView snapshots.
type RunContext struct {
	RunID       string
	TaskID      string
	Mode        models.Mode
	Status      models.RunStatus
	Failure     *models.Failure
	RetryCounts map[models.StageName]int
	StartedAt   time.Time
	FinishedAt  time.Time

	attempts []models.StageAttempt
	latest   RunView
}

func newRunContext(runID, taskID string, mode models.Mode, now time.Time) *RunContext {
	return &RunContext{
		RunID:       runID,
		TaskID:      taskID,
		Mode:        mode,
		Status:      models.RunRunning,
		RetryCounts: make(map[models.StageName]int),
		StartedAt:   now,
	}
}

// attemptCount returns how many attempts of stage have been recorded.
func (rc *RunContext) attemptCount(stage models.StageName) int {
	n := 0
	for _, a := range rc.attempts {
		if a.Stage == stage {
			n++
		}
	}
	return n
}

// appendAttempt records an attempt. Attempts are never rewritten once appended.
func (rc *RunContext) appendAttempt(stage models.StageName, out Outcome, started, finished time.Time) models.StageAttempt {
	attempt := models.StageAttempt{
		Stage:          stage,
		Attempt:        rc.attemptCount(stage) + 1,
		Outcome:        out.attemptOutcome(),
		PayloadSummary: out.Summary,
		StartedAt:      started,
		FinishedAt:     finished,
	}
	if out.Class != ClassSuccess {
		attempt.Kind = out.Kind
		attempt.Detail = out.Detail
	}
	if out.Payload != nil {
		raw, err := json.Marshal(out.Payload)
		if err != nil {
			attempt.Detail = appendDetail(attempt.Detail, fmt.Sprintf("payload not serializable: %v", err))
		} else {
			attempt.Payload = raw
		}
	}
	rc.attempts = append(rc.attempts, attempt)
	if out.Class == ClassSuccess {
		rc.absorb(out.Payload)
	}
	return attempt
}

// absorb makes a successful payload visible to later stages.
func (rc *RunContext) absorb(payload any) {
	switch p := payload.(type) {
	case models.TaskDetails:
		rc.latest.Task = &p
	case *models.TaskDetails:
		c := *p
		rc.latest.Task = &c
	case models.RepoSummary:
		rc.latest.Repo = &p
	case *models.RepoSummary:
		c := *p
		rc.latest.Repo = &c
	case models.DesignPlan:
		rc.latest.Design = &p
	case *models.DesignPlan:
		c := *p
		rc.latest.Design = &c
	case models.Change:
		rc.latest.Change = &p
	case *models.Change:
		c := *p
		rc.latest.Change = &c
	case models.TestOutcome:
		rc.latest.Test = &p
	case *models.TestOutcome:
		c := *p
		rc.latest.Test = &c
	case models.ReviewDecision:
		rc.latest.Review = &p
	case *models.ReviewDecision:
		c := *p
		rc.latest.Review = &c
	case models.PublishedRef:
		rc.latest.Publish = &p
	case *models.PublishedRef:
		c := *p
		rc.latest.Publish = &c
	case models.Notes:
		rc.latest.Notes = &p
	case *models.Notes:
		c := *p
		rc.latest.Notes = &c
	}
}

// View returns a snapshot safe to hand to a stage.
func (rc *RunContext) View() RunView {
	v := RunView{Attempts: append([]models.StageAttempt(nil), rc.attempts...)}
	if rc.latest.Task != nil {
		c := *rc.latest.Task
		v.Task = &c
	}
	if rc.latest.Repo != nil {
		c := *rc.latest.Repo
		v.Repo = &c
	}
	if rc.latest.Design != nil {
		c := *rc.latest.Design
		v.Design = &c
	}
	if rc.latest.Change != nil {
		c := *rc.latest.Change
		v.Change = &c
	}
	if rc.latest.Test != nil {
		c := *rc.latest.Test
		v.Test = &c
	}
	if rc.latest.Review != nil {
		c := *rc.latest.Review
		v.Review = &c
	}
	if rc.latest.Publish != nil {
		c := *rc.latest.Publish
		v.Publish = &c
	}
	if rc.latest.Notes != nil {
		c := *rc.latest.Notes
		v.Notes = &c
	}
	return v
}

func (rc *RunContext) succeed(now time.Time) {
	rc.Status = models.RunSucceeded
	rc.Failure = nil
	rc.FinishedAt = now
}

func (rc *RunContext) terminate(status models.RunStatus, stage models.StageName, kind models.FailureKind, msg string, now time.Time) {
	rc.Status = status
	rc.Failure = &models.Failure{
		Stage:    stage,
		Kind:     kind,
		Message:  msg,
		Attempts: rc.attemptCount(stage),
	}
	rc.FinishedAt = now
}

func (rc *RunContext) fail(stage models.StageName, kind models.FailureKind, msg string, now time.Time) {
	rc.terminate(models.RunFailed, stage, kind, msg, now)
}

func (rc *RunContext) abort(stage models.StageName, kind models.FailureKind, msg string, now time.Time) {
	rc.terminate(models.RunAborted, stage, kind, msg, now)
}

// Record builds the immutable persisted form. The record shares no memory with rc.
func (rc *RunContext) Record(decisions []models.GuardrailDecision) *models.RunRecord {
	rec := &models.RunRecord{
		RunID:              rc.RunID,
		TaskID:             rc.TaskID,
		Mode:               rc.Mode,
		Status:             rc.Status,
		StartedAt:          rc.StartedAt,
		FinishedAt:         rc.FinishedAt,
		StageResults:       make([]models.StageAttempt, len(rc.attempts)),
		RetryCounts:        make(map[models.StageName]int, len(rc.RetryCounts)),
		GuardrailDecisions: append([]models.GuardrailDecision{}, decisions...),
	}
	for i, a := range rc.attempts {
		if a.Payload != nil {
			a.Payload = append(json.RawMessage(nil), a.Payload...)
		}
		rec.StageResults[i] = a
	}
	for k, v := range rc.RetryCounts {
		rec.RetryCounts[k] = v
	}
	if rc.Failure != nil {
		f := *rc.Failure
		rec.Failure = &f
	}
	return rec
}

func appendDetail(detail, extra string) string {
	if detail == "" {
		return extra
	}
	return detail + "; " + extra
}
