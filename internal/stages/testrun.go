package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/harrison/codeflow/internal/models"
	"github.com/harrison/codeflow/internal/reasoner"
	"github.com/harrison/codeflow/internal/workflow"
)

// failureTailLines is how much test output travels back to the Code stage.
const failureTailLines = 40

// Test runs the repository's test command against the applied change. In dry-run
// the patch is never applied, so tests are skipped and reported as a simulated pass.
type Test struct {
	runner TestRunner
}

// Name implements workflow.Stage.
func (s *Test) Name() models.StageName { return models.StageTest }

// Execute implements workflow.Stage.
func (s *Test) Execute(ctx context.Context, in workflow.Input) workflow.Outcome {
	if in.View.Repo == nil {
		return missing(models.StageTest, "the repository summary")
	}
	command := in.View.Repo.TestCommand

	if in.Mode == models.ModeDryRun {
		outcome := models.TestOutcome{
			Command:   command,
			Output:    fmt.Sprintf("[DRY RUN] Skipped tests (%s)", command),
			Passed:    true,
			Simulated: true,
		}
		return workflow.Success(outcome, outcome.Summary())
	}

	outcome, err := s.runner.Run(ctx, command, in.View.Repo.Path)
	if err != nil {
		return workflow.FromError(err, models.KindStageError).WithPayload(outcome, outcome.Summary())
	}
	if !outcome.Passed {
		detail := fmt.Sprintf("%q exited with code %d\n%s", command, outcome.ExitCode, lastLines(outcome.Output, failureTailLines))
		return workflow.Recoverable(models.KindTestFailed, strings.TrimSpace(detail)).WithPayload(outcome, outcome.Summary())
	}
	return workflow.Success(outcome, outcome.Summary())
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Review asks the reasoner to approve or reject the tested change.
type Review struct {
	reasoner Reasoner
}

// Name implements workflow.Stage.
func (s *Review) Name() models.StageName { return models.StageReview }

// Execute implements workflow.Stage.
func (s *Review) Execute(ctx context.Context, in workflow.Input) workflow.Outcome {
	view := in.View
	if view.Task == nil || view.Design == nil || view.Change == nil || view.Test == nil {
		return missing(models.StageReview, "the task, design, change and test outcome")
	}

	decision, err := s.reasoner.Review(ctx, reasoner.ReviewRequest{
		Task:   *view.Task,
		Design: *view.Design,
		Change: *view.Change,
		Test:   *view.Test,
	})
	if err != nil {
		return reasonerFailure(err)
	}
	if !decision.Approved {
		detail := "review rejected the change"
		if fb := decision.Feedback(); fb != "" {
			detail += ":\n" + fb
		}
		return workflow.Recoverable(models.KindReviewRejected, detail).WithPayload(decision, decision.Summary())
	}
	return workflow.Success(decision, decision.Summary())
}
