package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Mode selects whether side-effecting stages perform real work.
type Mode string

// Run modes
const (
	ModeNormal Mode = "normal"
	ModeDryRun Mode = "dry_run"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run status constants
const (
	RunRunning   RunStatus = "running"   // Run is executing
	RunSucceeded RunStatus = "succeeded" // Every stage completed
	RunAborted   RunStatus = "aborted"   // Stopped by a guardrail denial or cancellation
	RunFailed    RunStatus = "failed"    // Stopped by a fatal or exhausted failure
)

// IsTerminal reports whether the status is final.
func (s RunStatus) IsTerminal() bool {
	return s == RunSucceeded || s == RunAborted || s == RunFailed
}

// FailureKind classifies why a stage or run failed.
type FailureKind string

// Failure kinds
const (
	KindTestFailed             FailureKind = "test_failed"
	KindReviewRejected         FailureKind = "review_rejected"
	KindTaskNotFound           FailureKind = "task_not_found"
	KindPatchFailed            FailureKind = "patch_failed"
	KindIntegrationUnreachable FailureKind = "integration_unreachable"
	KindPublishFailed          FailureKind = "publish_failed"
	KindStageTimeout           FailureKind = "stage_timeout"
	KindGuardrailDenied        FailureKind = "guardrail_denied"
	KindUserCancelled          FailureKind = "user_cancelled"
	KindStageError             FailureKind = "stage_error"
	KindPolicyViolation        FailureKind = "policy_violation"
)

// AttemptOutcome is the classified result of one stage attempt.
type AttemptOutcome string

// Attempt outcomes
const (
	OutcomeSuccess     AttemptOutcome = "success"
	OutcomeRecoverable AttemptOutcome = "recoverable_failure"
	OutcomeFatal       AttemptOutcome = "fatal_failure"
)

// Failure describes what terminated a run.
type Failure struct {
	Stage    StageName   `json:"stage"`
	Kind     FailureKind `json:"kind"`
	Message  string      `json:"message"`
	Attempts int         `json:"attempts"` // Attempts consumed by the failing stage
}

// String formats the failure for CLI output.
func (f Failure) String() string {
	return fmt.Sprintf("%s failed at %s after %d attempt(s): %s", f.Kind, f.Stage, f.Attempts, f.Message)
}

// StageAttempt records one execution of a stage.
type StageAttempt struct {
	Stage          StageName       `json:"stage"`
	Attempt        int             `json:"attempt"` // 1-based, per stage
	Outcome        AttemptOutcome  `json:"outcome"`
	Kind           FailureKind     `json:"kind,omitempty"`
	Detail         string          `json:"detail,omitempty"`
	PayloadSummary string          `json:"payload_summary,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
}

// Duration returns how long the attempt ran.
func (a StageAttempt) Duration() time.Duration {
	return a.FinishedAt.Sub(a.StartedAt)
}

// GuardrailSource records how a guardrail decision was reached.
type GuardrailSource string

// Guardrail decision sources
const (
	SourceAutoConfirmFlag   GuardrailSource = "auto_confirm_flag"
	SourceInteractivePrompt GuardrailSource = "interactive_prompt"
	SourceDryRunSkip        GuardrailSource = "dry_run_skip"
)

// GuardrailDecision is the audited authorization for one side-effecting stage.
type GuardrailDecision struct {
	Stage       StageName       `json:"stage"`
	Requested   bool            `json:"requested"`
	Granted     bool            `json:"granted"`
	Source      GuardrailSource `json:"source"`
	Description string          `json:"description,omitempty"`
	DecidedAt   time.Time       `json:"decided_at"`
}

// RunRecord is the persisted snapshot of a terminal run.
type RunRecord struct {
	RunID              string              `json:"run_id"`
	TaskID             string              `json:"task_id"`
	Mode               Mode                `json:"mode"`
	Status             RunStatus           `json:"status"`
	StartedAt          time.Time           `json:"started_at"`
	FinishedAt         time.Time           `json:"finished_at"`
	StageResults       []StageAttempt      `json:"stage_results"`
	RetryCounts        map[StageName]int   `json:"retry_counts"`
	GuardrailDecisions []GuardrailDecision `json:"guardrail_decisions"`
	Failure            *Failure            `json:"failure,omitempty"`
}

// Validate checks the record is terminal and internally consistent.
func (r *RunRecord) Validate() error {
	if r.RunID == "" {
		return fmt.Errorf("run record has no run id")
	}
	if !r.Status.IsTerminal() {
		return fmt.Errorf("run %s is not terminal (status %q)", r.RunID, r.Status)
	}
	if r.Status == RunSucceeded && r.Failure != nil {
		return fmt.Errorf("run %s succeeded but carries a failure", r.RunID)
	}
	if r.Status != RunSucceeded && r.Failure == nil {
		return fmt.Errorf("run %s is %s without a failure record", r.RunID, r.Status)
	}
	return nil
}

// Attempts returns the attempts recorded for one stage, in execution order.
func (r *RunRecord) Attempts(stage StageName) []StageAttempt {
	var out []StageAttempt
	for _, a := range r.StageResults {
		if a.Stage == stage {
			out = append(out, a)
		}
	}
	return out
}

// Decision returns the guardrail decision recorded for a stage, if any.
func (r *RunRecord) Decision(stage StageName) (GuardrailDecision, bool) {
	for _, d := range r.GuardrailDecisions {
		if d.Stage == stage {
			return d, true
		}
	}
	return GuardrailDecision{}, false
}

// LastPayload decodes the payload of the stage's most recent attempt into v. It
// reports false when the stage never recorded a payload.
func (r *RunRecord) LastPayload(stage StageName, v any) (bool, error) {
	for i := len(r.StageResults) - 1; i >= 0; i-- {
		a := r.StageResults[i]
		if a.Stage != stage {
			continue
		}
		if len(a.Payload) == 0 || string(a.Payload) == "null" {
			return false, nil
		}
		if err := json.Unmarshal(a.Payload, v); err != nil {
			return false, fmt.Errorf("decode %s payload: %w", stage, err)
		}
		return true, nil
	}
	return false, nil
}

// Summary derives the listing form of the record.
func (r *RunRecord) Summary() RunSummary {
	s := RunSummary{
		RunID:      r.RunID,
		TaskID:     r.TaskID,
		Mode:       r.Mode,
		Status:     r.Status,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Attempts:   len(r.StageResults),
	}
	if r.Failure != nil {
		s.FailureKind = r.Failure.Kind
		s.FailureStage = r.Failure.Stage
	}
	return s
}

// RunSummary is the compact form of a run returned by listings.
type RunSummary struct {
	RunID        string      `json:"run_id"`
	TaskID       string      `json:"task_id"`
	Mode         Mode        `json:"mode"`
	Status       RunStatus   `json:"status"`
	StartedAt    time.Time   `json:"started_at"`
	FinishedAt   time.Time   `json:"finished_at"`
	Attempts     int         `json:"attempts"`
	FailureKind  FailureKind `json:"failure_kind,omitempty"`
	FailureStage StageName   `json:"failure_stage,omitempty"`
}

// Duration returns the wall-clock time of the run.
func (s RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
