// Package reasoner turns task context into designs, patches, reviews and run
// notes. The LLM implementation prompts a Completer and parses its markdown
// answer; Stub produces deterministic output for offline runs.
package reasoner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/harrison/codeflow/internal/models"
)

// ErrMalformedResponse indicates the completer answered but the answer could not
// be parsed into the expected structure.
var ErrMalformedResponse = errors.New("malformed reasoner response")

// Completer sends a system and user prompt to a language model and returns its reply.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// WithTimeout bounds every completion by d. A non-positive d returns c unchanged.
func WithTimeout(c Completer, d time.Duration) Completer {
	if d <= 0 {
		return c
	}
	return timeoutCompleter{next: c, timeout: d}
}

type timeoutCompleter struct {
	next    Completer
	timeout time.Duration
}

func (t timeoutCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Complete(ctx, system, user)
}

// DesignRequest is the input for drafting an implementation plan.
type DesignRequest struct {
	Task models.TaskDetails
	Repo models.RepoSummary
}

// CodeRequest is the input for generating a patch.
type CodeRequest struct {
	Task         models.TaskDetails
	Repo         models.RepoSummary
	Design       models.DesignPlan
	CodeContext  map[string]string // Path to (possibly truncated) file content
	Feedback     string            // Failure detail from the previous attempt, empty on first pass
	PreviousDiff string            // Patch produced by the previous attempt
}

// ReviewRequest is the input for reviewing a tested change.
type ReviewRequest struct {
	Task   models.TaskDetails
	Design models.DesignPlan
	Change models.Change
	Test   models.TestOutcome
}

// NotesRequest is the input for summarizing a finished run.
type NotesRequest struct {
	Task     models.TaskDetails
	Repo     models.RepoSummary
	Design   models.DesignPlan
	Change   models.Change
	Test     models.TestOutcome
	Review   models.ReviewDecision
	Publish  *models.PublishedRef // Nil when nothing was published
	Attempts []models.StageAttempt
}

// LLM implements the reasoning operations on top of a Completer.
type LLM struct {
	completer Completer
}

// NewLLM creates a reasoner backed by completer.
func NewLLM(completer Completer) *LLM {
	return &LLM{completer: completer}
}

// Design drafts an implementation plan.
func (l *LLM) Design(ctx context.Context, req DesignRequest) (models.DesignPlan, error) {
	reply, err := l.completer.Complete(ctx, designSystemPrompt, formatDesignPrompt(req))
	if err != nil {
		return models.DesignPlan{}, fmt.Errorf("design completion: %w", err)
	}

	sections := parseSections(reply)
	plan := models.DesignPlan{
		ProblemUnderstanding: sections.text("PROBLEM UNDERSTANDING"),
		ProposedApproach:     sections.text("PROPOSED APPROACH"),
		TargetFiles:          sections.entries("TARGET FILES"),
		Steps:                sections.entries("STEP-BY-STEP PLAN"),
	}
	if plan.ProposedApproach == "" && len(plan.Steps) == 0 {
		return plan, fmt.Errorf("%w: design has neither an approach nor steps", ErrMalformedResponse)
	}
	return plan, nil
}

// Code generates a unified diff implementing the design.
func (l *LLM) Code(ctx context.Context, req CodeRequest) (models.Change, error) {
	reply, err := l.completer.Complete(ctx, codingSystemPrompt, formatCodingPrompt(req))
	if err != nil {
		return models.Change{}, fmt.Errorf("coding completion: %w", err)
	}

	sections := parseSections(reply)
	diff := extractDiff(reply, sections)
	if diff == "" {
		return models.Change{}, fmt.Errorf("%w: no patch found in coding response", ErrMalformedResponse)
	}

	files := sections.entries("FILES CHANGED")
	if len(files) == 0 {
		files = filesFromDiff(diff)
	}
	if len(files) == 0 {
		files = append([]string(nil), req.Design.TargetFiles...)
	}
	return models.Change{
		Diff:         diff,
		FilesChanged: files,
		Explanations: sections.entries("EXPLANATIONS"),
	}, nil
}

// Review decides whether the change satisfies the task.
func (l *LLM) Review(ctx context.Context, req ReviewRequest) (models.ReviewDecision, error) {
	reply, err := l.completer.Complete(ctx, reviewSystemPrompt, formatReviewPrompt(req))
	if err != nil {
		return models.ReviewDecision{}, fmt.Errorf("review completion: %w", err)
	}

	sections := parseSections(reply)
	decision := strings.ToUpper(sections.text("DECISION"))
	if decision == "" {
		return models.ReviewDecision{}, fmt.Errorf("%w: review has no decision", ErrMalformedResponse)
	}
	return models.ReviewDecision{
		Approved:    decisionWord(decision) == "APPROVED",
		Comments:    sections.entries("REVIEW COMMENTS"),
		Suggestions: sections.entries("SUGGESTIONS"),
	}, nil
}

// decisionWord returns the first word of a decision line, ignoring markdown
// emphasis and punctuation. Anything but APPROVED counts as a rejection.
func decisionWord(decision string) string {
	words := strings.FieldsFunc(decision, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) == 0 {
		return ""
	}
	return words[0]
}

// Summarize records what the run learned.
func (l *LLM) Summarize(ctx context.Context, req NotesRequest) (models.Notes, error) {
	reply, err := l.completer.Complete(ctx, notesSystemPrompt, formatNotesPrompt(req))
	if err != nil {
		return models.Notes{}, fmt.Errorf("notes completion: %w", err)
	}

	sections := parseSections(reply)
	notes := models.Notes{
		Summary:     sections.entries("SUMMARY"),
		Lessons:     sections.entries("LESSONS"),
		Suggestions: sections.entries("SUGGESTIONS"),
		Tags:        sections.entries("TAGS"),
	}
	if len(notes.Summary) == 0 {
		notes.Summary = []string{strings.TrimSpace(reply)}
	}
	return notes, nil
}
