package workflow

import (
	"context"

	"github.com/harrison/codeflow/internal/models"
)

// Stage is one unit of pipeline work. Execute must convert every error it sees into
// a classified Outcome; the engine decides what happens next.
type Stage interface {
	Name() models.StageName
	Execute(ctx context.Context, in Input) Outcome
}

// Describer is implemented by side-effecting stages to explain, for the confirmation
// prompt, what they are about to do.
type Describer interface {
	Describe(in Input) string
}

// Input is everything a stage may read for one attempt.
type Input struct {
	RunID    string
	TaskID   string
	Mode     models.Mode
	Attempt  int       // 1-based attempt number for this stage
	Simulate bool      // Side effects must be computed but not performed
	View     RunView   // Snapshot of earlier results
	Feedback *Feedback // Failure that caused the pipeline to re-enter, nil on first pass
}

// Feedback carries a recoverable failure forward to the stage the pipeline re-enters at.
type Feedback struct {
	Stage   models.StageName
	Kind    models.FailureKind
	Detail  string
	Attempt int // Attempt of the failed stage that produced this feedback
}

// RunView is a read-only snapshot of the latest successful payload of each stage.
// Pointers refer to copies owned by the view.
type RunView struct {
	Task     *models.TaskDetails
	Repo     *models.RepoSummary
	Design   *models.DesignPlan
	Change   *models.Change
	Test     *models.TestOutcome
	Review   *models.ReviewDecision
	Publish  *models.PublishedRef
	Notes    *models.Notes
	Attempts []models.StageAttempt // Attempt history so far, oldest first
}

// OutcomeClass tells the engine how to proceed after a stage attempt.
type OutcomeClass int

const (
	// ClassSuccess means the payload is recorded and the pipeline advances.
	ClassSuccess OutcomeClass = iota
	// ClassRecoverable means the retry policy for Kind is consulted.
	ClassRecoverable
	// ClassFatal means the run fails immediately.
	ClassFatal
)

// String returns the string representation of OutcomeClass.
func (c OutcomeClass) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassRecoverable:
		return "recoverable"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of a stage attempt.
type Outcome struct {
	Class   OutcomeClass
	Payload any    // Stage-specific payload, recorded even on failure when non-nil
	Summary string // One-line description of the payload
	Kind    models.FailureKind
	Detail  string
}

// Success builds a successful outcome.
func Success(payload any, summary string) Outcome {
	return Outcome{Class: ClassSuccess, Payload: payload, Summary: summary}
}

// Recoverable builds a failure the retry policy may act on.
func Recoverable(kind models.FailureKind, detail string) Outcome {
	return Outcome{Class: ClassRecoverable, Kind: kind, Detail: detail}
}

// Fatal builds a failure that ends the run.
func Fatal(kind models.FailureKind, detail string) Outcome {
	return Outcome{Class: ClassFatal, Kind: kind, Detail: detail}
}

// FromError classifies err as a fatal outcome using the kind it carries.
func FromError(err error, fallback models.FailureKind) Outcome {
	return Fatal(KindOf(err, fallback), err.Error())
}

// WithPayload attaches a payload to a failure so the attempt record keeps it.
func (o Outcome) WithPayload(payload any, summary string) Outcome {
	o.Payload = payload
	o.Summary = summary
	return o
}

func (o Outcome) attemptOutcome() models.AttemptOutcome {
	switch o.Class {
	case ClassSuccess:
		return models.OutcomeSuccess
	case ClassRecoverable:
		return models.OutcomeRecoverable
	default:
		return models.OutcomeFatal
	}
}
