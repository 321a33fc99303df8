// Package stages implements the eight pipeline stages on top of swappable
// collaborators: a task source, a repository analyzer, a reasoner, a change
// applier, a test runner and a publisher.
package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/afero"

	"github.com/harrison/codeflow/internal/models"
	"github.com/harrison/codeflow/internal/publisher"
	"github.com/harrison/codeflow/internal/reasoner"
	"github.com/harrison/codeflow/internal/workflow"
)

// TaskSource loads the unit of work a run processes.
type TaskSource interface {
	Fetch(ctx context.Context, taskID string) (models.TaskDetails, error)
}

// TaskCommenter posts a comment back to the task tracker.
type TaskCommenter interface {
	AddComment(ctx context.Context, taskID, body string) error
}

// TargetAnalyzer summarizes the repository a run changes.
type TargetAnalyzer interface {
	Summarize(ctx context.Context, repoPath string) (models.RepoSummary, error)
}

// Reasoner produces designs, patches, reviews and notes.
type Reasoner interface {
	Design(ctx context.Context, req reasoner.DesignRequest) (models.DesignPlan, error)
	Code(ctx context.Context, req reasoner.CodeRequest) (models.Change, error)
	Review(ctx context.Context, req reasoner.ReviewRequest) (models.ReviewDecision, error)
	Summarize(ctx context.Context, req reasoner.NotesRequest) (models.Notes, error)
}

// ChangeApplier applies and reverts unified diffs in a working tree.
type ChangeApplier interface {
	Apply(ctx context.Context, diff, repoPath string) error
	Revert(ctx context.Context, diff, repoPath string) error
}

// TestRunner runs the repository's test command. A failing command is reported
// through the outcome; the error is for commands that could not run.
type TestRunner interface {
	Run(ctx context.Context, command, repoPath string) (models.TestOutcome, error)
}

// Publisher commits, pushes and opens the pull request for a change.
type Publisher interface {
	Publish(ctx context.Context, req publisher.Request) (models.PublishedRef, error)
}

// Deps wires the stages to their collaborators. Comments and Fs are optional.
type Deps struct {
	Tasks     TaskSource
	Comments  TaskCommenter
	Analyzer  TargetAnalyzer
	Reasoner  Reasoner
	Applier   ChangeApplier
	Tests     TestRunner
	Publisher Publisher
	RepoPath  string
	Fs        afero.Fs // Reads code context; defaults to the host filesystem
}

// New builds the full pipeline in execution order.
func New(deps Deps) ([]workflow.Stage, error) {
	switch {
	case deps.Tasks == nil:
		return nil, fmt.Errorf("stages: task source is required")
	case deps.Analyzer == nil:
		return nil, fmt.Errorf("stages: analyzer is required")
	case deps.Reasoner == nil:
		return nil, fmt.Errorf("stages: reasoner is required")
	case deps.Applier == nil:
		return nil, fmt.Errorf("stages: change applier is required")
	case deps.Tests == nil:
		return nil, fmt.Errorf("stages: test runner is required")
	case deps.Publisher == nil:
		return nil, fmt.Errorf("stages: publisher is required")
	case deps.RepoPath == "":
		return nil, fmt.Errorf("stages: repository path is required")
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}

	return []workflow.Stage{
		&FetchTask{source: deps.Tasks},
		&AnalyzeTarget{analyzer: deps.Analyzer, repoPath: deps.RepoPath},
		&Design{reasoner: deps.Reasoner},
		&Code{reasoner: deps.Reasoner, applier: deps.Applier, fs: deps.Fs},
		&Test{runner: deps.Tests},
		&Review{reasoner: deps.Reasoner},
		&Publish{publisher: deps.Publisher, comments: deps.Comments},
		&Notes{reasoner: deps.Reasoner},
	}, nil
}

// reasonerFailure classifies a reasoner error: unparseable answers are stage
// errors, anything else means the model could not be reached.
func reasonerFailure(err error) workflow.Outcome {
	if errors.Is(err, reasoner.ErrMalformedResponse) {
		return workflow.Fatal(models.KindStageError, err.Error())
	}
	return workflow.FromError(err, models.KindIntegrationUnreachable)
}

func missing(stage models.StageName, what string) workflow.Outcome {
	return workflow.Fatal(models.KindStageError, fmt.Sprintf("%s requires %s from an earlier stage", stage, what))
}
