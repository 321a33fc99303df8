package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/harrison/codeflow/internal/models"
	"github.com/harrison/codeflow/internal/publisher"
	"github.com/harrison/codeflow/internal/reasoner"
	"github.com/harrison/codeflow/internal/workflow"
)

// BranchPrefix prefixes every branch a run publishes.
const BranchPrefix = "feature/"

// Publish commits the approved change to a feature branch and opens a pull request.
// A configured task commenter gets the pull request link, best effort.
type Publish struct {
	publisher Publisher
	comments  TaskCommenter
}

// Name implements workflow.Stage.
func (s *Publish) Name() models.StageName { return models.StagePublish }

// Describe implements workflow.Describer.
func (s *Publish) Describe(in workflow.Input) string {
	req := buildPublishRequest(in)
	verb := "publish"
	if in.Simulate {
		verb = "simulate publishing"
	}
	return fmt.Sprintf("%s branch %s -> %s with title %q", verb, req.Branch, req.Base, req.Title)
}

// Execute implements workflow.Stage.
func (s *Publish) Execute(ctx context.Context, in workflow.Input) workflow.Outcome {
	view := in.View
	if view.Task == nil || view.Repo == nil || view.Change == nil {
		return missing(models.StagePublish, "the task, repository summary and change")
	}
	req := buildPublishRequest(in)

	if in.Simulate {
		ref := models.PublishedRef{
			Branch:    req.Branch,
			Base:      req.Base,
			Title:     req.Title,
			Body:      req.Body,
			Simulated: true,
		}
		return workflow.Success(ref, ref.Summary())
	}

	ref, err := s.publisher.Publish(ctx, req)
	if err != nil {
		return workflow.FromError(err, models.KindPublishFailed).WithPayload(ref, ref.Summary())
	}

	summary := ref.Summary()
	if s.comments != nil && ref.PRURL != "" {
		comment := fmt.Sprintf("Pull request opened by codeflow run %s: %s", in.RunID, ref.PRURL)
		if err := s.comments.AddComment(ctx, in.TaskID, comment); err != nil {
			summary += fmt.Sprintf(" (task comment failed: %v)", err)
		}
	}
	return workflow.Success(ref, summary)
}

// buildPublishRequest derives branch, title, commit message and body from the run.
func buildPublishRequest(in workflow.Input) publisher.Request {
	view := in.View
	req := publisher.Request{
		Branch: BranchPrefix + models.Slugify(in.TaskID, "task"),
		Base:   "main",
	}
	if view.Repo != nil {
		req.RepoPath = view.Repo.Path
		if view.Repo.DefaultBranch != "" {
			req.Base = view.Repo.DefaultBranch
		}
	}

	title := in.TaskID
	if view.Task != nil {
		title = fmt.Sprintf("%s: %s", view.Task.ID, view.Task.Title)
	}
	req.Title = title

	approach := "No design recorded."
	if view.Design != nil && view.Design.ProposedApproach != "" {
		approach = view.Design.ProposedApproach
	}
	testLine := "Tests not run"
	if view.Test != nil {
		testLine = view.Test.Summary()
	}

	var body strings.Builder
	fmt.Fprintf(&body, "## Summary\n%s\n\n## Testing\n%s\n", approach, testLine)
	if view.Task != nil && view.Task.URL != "" {
		fmt.Fprintf(&body, "\nTask: %s\n", view.Task.URL)
	}
	req.Body = body.String()

	req.CommitMessage = title
	if view.Change != nil && len(view.Change.Explanations) > 0 {
		req.CommitMessage += "\n\n" + strings.Join(view.Change.Explanations, "\n")
	}
	return req
}

// Notes records what the run learned.
type Notes struct {
	reasoner Reasoner
}

// Name implements workflow.Stage.
func (s *Notes) Name() models.StageName { return models.StageNotes }

// Execute implements workflow.Stage.
func (s *Notes) Execute(ctx context.Context, in workflow.Input) workflow.Outcome {
	view := in.View
	if view.Task == nil {
		return missing(models.StageNotes, "the task")
	}

	req := reasoner.NotesRequest{
		Task:     *view.Task,
		Publish:  view.Publish,
		Attempts: view.Attempts,
	}
	if view.Repo != nil {
		req.Repo = *view.Repo
	}
	if view.Design != nil {
		req.Design = *view.Design
	}
	if view.Change != nil {
		req.Change = *view.Change
	}
	if view.Test != nil {
		req.Test = *view.Test
	}
	if view.Review != nil {
		req.Review = *view.Review
	}

	notes, err := s.reasoner.Summarize(ctx, req)
	if err != nil {
		return reasonerFailure(err)
	}
	return workflow.Success(notes, notes.Digest())
}
