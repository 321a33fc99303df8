package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harrison/codeflow/internal/models"
)

// ConfirmationPrompt asks a human whether a side-effecting action may proceed.
type ConfirmationPrompt interface {
	Ask(ctx context.Context, description string) (bool, error)
}

// ConfirmationFunc adapts a function to ConfirmationPrompt.
type ConfirmationFunc func(ctx context.Context, description string) (bool, error)

// Ask implements ConfirmationPrompt.
func (f ConfirmationFunc) Ask(ctx context.Context, description string) (bool, error) {
	return f(ctx, description)
}

// Gate authorizes side-effecting stages for a single run. It records exactly one
// decision per stage; consulting it twice for the same stage is a policy violation.
type Gate struct {
	mode        models.Mode
	autoConfirm bool
	prompt      ConfirmationPrompt
	clock       func() time.Time

	mu        sync.Mutex
	decisions []models.GuardrailDecision
}

// NewGate creates a gate for one run. prompt may be nil when the gate can never
// need it (dry-run or auto-confirm); an interactive consultation without a prompt
// is denied.
func NewGate(mode models.Mode, autoConfirm bool, prompt ConfirmationPrompt) *Gate {
	return &Gate{
		mode:        mode,
		autoConfirm: autoConfirm,
		prompt:      prompt,
		clock:       time.Now,
	}
}

// Authorize decides whether stage may run. A denial is returned as a decision with
// Granted=false and a nil error. A prompt failure also denies, and the error is
// returned alongside the recorded decision.
func (g *Gate) Authorize(ctx context.Context, stage models.StageName, description string) (models.GuardrailDecision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, d := range g.decisions {
		if d.Stage == stage {
			return d, &PolicyViolationError{Stage: stage, Reason: "guardrail consulted twice in one run"}
		}
	}

	decision := models.GuardrailDecision{
		Stage:       stage,
		Requested:   true,
		Description: description,
	}

	var promptErr error
	switch {
	case g.mode == models.ModeDryRun:
		decision.Granted = true
		decision.Source = models.SourceDryRunSkip
	case g.autoConfirm:
		decision.Granted = true
		decision.Source = models.SourceAutoConfirmFlag
	default:
		decision.Source = models.SourceInteractivePrompt
		if g.prompt == nil {
			promptErr = fmt.Errorf("no confirmation prompt available for %s", stage)
			break
		}
		granted, err := g.prompt.Ask(ctx, description)
		if err != nil {
			promptErr = fmt.Errorf("confirmation for %s: %w", stage, err)
			break
		}
		decision.Granted = granted
	}

	decision.DecidedAt = g.clock()
	g.decisions = append(g.decisions, decision)
	return decision, promptErr
}

// Decision returns the recorded decision for stage, if any.
func (g *Gate) Decision(stage models.StageName) (models.GuardrailDecision, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, d := range g.decisions {
		if d.Stage == stage {
			return d, true
		}
	}
	return models.GuardrailDecision{}, false
}

// Decisions returns a copy of every decision in the order they were made.
func (g *Gate) Decisions() []models.GuardrailDecision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.GuardrailDecision(nil), g.decisions...)
}
