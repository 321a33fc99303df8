package stages

import (
	"context"

	"github.com/harrison/codeflow/internal/models"
	"github.com/harrison/codeflow/internal/reasoner"
	"github.com/harrison/codeflow/internal/workflow"
)

// Design drafts the implementation plan.
type Design struct {
	reasoner Reasoner
}

// Name implements workflow.Stage.
func (s *Design) Name() models.StageName { return models.StageDesign }

// Execute implements workflow.Stage.
func (s *Design) Execute(ctx context.Context, in workflow.Input) workflow.Outcome {
	if in.View.Task == nil || in.View.Repo == nil {
		return missing(models.StageDesign, "the task and repository summary")
	}

	plan, err := s.reasoner.Design(ctx, reasoner.DesignRequest{Task: *in.View.Task, Repo: *in.View.Repo})
	if err != nil {
		return reasonerFailure(err)
	}
	return workflow.Success(plan, plan.Summary())
}
