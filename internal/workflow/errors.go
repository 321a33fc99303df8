package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harrison/codeflow/internal/models"
)

// StageError is a classified failure raised by a stage or by a collaborator it calls.
// Collaborators return it so the stage can turn it into an Outcome without string matching.
type StageError struct {
	Stage     models.StageName   // Stage that failed (may be empty when raised by a collaborator)
	Kind      models.FailureKind // Failure classification
	Message   string             // Human-readable error message
	Err       error              // Underlying error (optional)
	Timestamp time.Time          // When the error occurred
}

// NewStageError creates a new StageError with the current timestamp.
func NewStageError(kind models.FailureKind, msg string, err error) *StageError {
	return &StageError{
		Kind:      kind,
		Message:   msg,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface for StageError.
func (e *StageError) Error() string {
	var sb strings.Builder
	if e.Stage != "" {
		sb.WriteString(fmt.Sprintf("stage %s: ", e.Stage))
	}
	sb.WriteString(fmt.Sprintf("%s: %s", e.Kind, e.Message))
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error wrapping support.
func (e *StageError) Unwrap() error {
	return e.Err
}

// PolicyViolationError reports a programming or configuration error in the pipeline:
// a retry requested where no policy exists, or a guardrail consulted twice.
type PolicyViolationError struct {
	Stage  models.StageName
	Reason string
}

// Error implements the error interface for PolicyViolationError.
func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy violation at stage %s: %s", e.Stage, e.Reason)
}

// IsStageError checks if an error is a StageError.
func IsStageError(err error) bool {
	var se *StageError
	return errors.As(err, &se)
}

// IsPolicyViolation checks if an error is a PolicyViolationError.
func IsPolicyViolation(err error) bool {
	var pv *PolicyViolationError
	return errors.As(err, &pv)
}

// KindOf returns the failure kind carried by err, falling back to fallback when err
// is not classified. Deadline errors classify as StageTimeout.
func KindOf(err error, fallback models.FailureKind) models.FailureKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.KindStageTimeout
	}
	return fallback
}
