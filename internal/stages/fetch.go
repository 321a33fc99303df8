package stages

import (
	"context"

	"github.com/harrison/codeflow/internal/models"
	"github.com/harrison/codeflow/internal/workflow"
)

// FetchTask loads the task description.
type FetchTask struct {
	source TaskSource
}

// Name implements workflow.Stage.
func (s *FetchTask) Name() models.StageName { return models.StageFetchTask }

// Execute implements workflow.Stage.
func (s *FetchTask) Execute(ctx context.Context, in workflow.Input) workflow.Outcome {
	task, err := s.source.Fetch(ctx, in.TaskID)
	if err != nil {
		return workflow.FromError(err, models.KindIntegrationUnreachable)
	}
	if err := task.Validate(); err != nil {
		return workflow.Fatal(models.KindStageError, "task source returned an unusable task: "+err.Error()).
			WithPayload(task, task.Summary())
	}
	return workflow.Success(task, task.Summary())
}

// AnalyzeTarget summarizes the repository the run will change.
type AnalyzeTarget struct {
	analyzer TargetAnalyzer
	repoPath string
}

// Name implements workflow.Stage.
func (s *AnalyzeTarget) Name() models.StageName { return models.StageAnalyzeTarget }

// Execute implements workflow.Stage.
func (s *AnalyzeTarget) Execute(ctx context.Context, _ workflow.Input) workflow.Outcome {
	summary, err := s.analyzer.Summarize(ctx, s.repoPath)
	if err != nil {
		return workflow.FromError(err, models.KindStageError)
	}
	return workflow.Success(summary, summary.Summary())
}
