package workflow

import (
	"fmt"

	"github.com/harrison/codeflow/internal/models"
)

// DefaultMaxAttempts is the attempt budget, including the first, for each recoverable class.
const DefaultMaxAttempts = 2

// RetryPolicy is one row of the retry table.
type RetryPolicy struct {
	Kind        models.FailureKind // Recoverable failure class
	Stage       models.StageName   // Stage that reports this class
	RestartAt   models.StageName   // Stage the pipeline re-enters at
	MaxAttempts int                // Attempts allowed for Stage, including the first
}

// RetryState is the derived budget of one stage.
type RetryState struct {
	Stage           models.StageName
	AttemptsUsed    int
	AttemptsAllowed int
}

// Exhausted reports whether no further attempt is allowed.
func (s RetryState) Exhausted() bool {
	return s.AttemptsUsed >= s.AttemptsAllowed
}

// RetryTable maps recoverable failure classes to their policy.
type RetryTable map[models.FailureKind]RetryPolicy

// DefaultRetryTable returns the standard policies: test failures and review rejections
// both restart at Code.
func DefaultRetryTable() RetryTable {
	return RetryTable{
		models.KindTestFailed: {
			Kind:        models.KindTestFailed,
			Stage:       models.StageTest,
			RestartAt:   models.StageCode,
			MaxAttempts: DefaultMaxAttempts,
		},
		models.KindReviewRejected: {
			Kind:        models.KindReviewRejected,
			Stage:       models.StageReview,
			RestartAt:   models.StageCode,
			MaxAttempts: DefaultMaxAttempts,
		},
	}
}

// WithMaxAttempts returns a copy of the table with the budget for kind replaced.
// Unknown kinds are ignored.
func (t RetryTable) WithMaxAttempts(kind models.FailureKind, maxAttempts int) RetryTable {
	out := make(RetryTable, len(t))
	for k, p := range t {
		out[k] = p
	}
	if p, ok := out[kind]; ok {
		p.MaxAttempts = maxAttempts
		out[kind] = p
	}
	return out
}

// Validate checks every policy is usable.
func (t RetryTable) Validate() error {
	for kind, p := range t {
		if p.Kind != kind {
			return fmt.Errorf("retry policy for %s is keyed as %s", p.Kind, kind)
		}
		if !p.Stage.Valid() || !p.RestartAt.Valid() {
			return fmt.Errorf("retry policy for %s names an unknown stage", kind)
		}
		if p.RestartAt.Index() > p.Stage.Index() {
			return fmt.Errorf("retry policy for %s restarts at %s, after %s", kind, p.RestartAt, p.Stage)
		}
		if p.MaxAttempts < 1 {
			return fmt.Errorf("retry policy for %s must allow at least 1 attempt, got %d", kind, p.MaxAttempts)
		}
	}
	return nil
}

// Resolve finds the policy that governs a recoverable failure of kind at stage.
// A timeout resolves to the policy of the stage it happened in.
func (t RetryTable) Resolve(stage models.StageName, kind models.FailureKind) (RetryPolicy, bool) {
	if p, ok := t[kind]; ok && p.Stage == stage {
		return p, true
	}
	if kind == models.KindStageTimeout {
		for _, p := range t {
			if p.Stage == stage {
				return p, true
			}
		}
	}
	return RetryPolicy{}, false
}

// Retryable reports whether any policy covers the stage.
func (t RetryTable) Retryable(stage models.StageName) bool {
	_, ok := t.Resolve(stage, models.KindStageTimeout)
	return ok
}

// State derives the retry budget of p after retriesUsed retries.
func (p RetryPolicy) State(retriesUsed int) RetryState {
	return RetryState{
		Stage:           p.Stage,
		AttemptsUsed:    retriesUsed + 1,
		AttemptsAllowed: p.MaxAttempts,
	}
}
