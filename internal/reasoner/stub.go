package reasoner

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/harrison/codeflow/internal/models"
)

// StubDocsDir is where the stub reasoner places the files its patches create.
const StubDocsDir = "docs/codeflow"

// Stub is a deterministic reasoner for offline runs and tests. Its patches only
// add a markdown note, so they apply cleanly to any repository.
type Stub struct{}

// NewStub creates a stub reasoner.
func NewStub() *Stub {
	return &Stub{}
}

// Design returns a plan that documents the task in a single new file.
func (s *Stub) Design(_ context.Context, req DesignRequest) (models.DesignPlan, error) {
	target := stubTarget(req.Task)
	steps := []string{fmt.Sprintf("Create %s describing %s", target, req.Task.ID)}
	for _, c := range req.Task.AcceptanceCriteria {
		steps = append(steps, "Cover: "+c)
	}
	steps = append(steps, fmt.Sprintf("Run %s", req.Repo.TestCommand))

	return models.DesignPlan{
		ProblemUnderstanding: fmt.Sprintf("%s asks to %s.", req.Task.ID, lowerFirst(req.Task.Title)),
		ProposedApproach:     fmt.Sprintf("Record the change plan for %s in %s and keep the %s code untouched.", req.Task.ID, target, req.Repo.MainLanguage),
		TargetFiles:          []string{target},
		Steps:                steps,
	}, nil
}

// Code returns a patch creating the design's first target file.
func (s *Stub) Code(_ context.Context, req CodeRequest) (models.Change, error) {
	target := stubTarget(req.Task)
	if len(req.Design.TargetFiles) > 0 && strings.HasPrefix(req.Design.TargetFiles[0], StubDocsDir+"/") {
		target = req.Design.TargetFiles[0]
	}

	body := []string{
		fmt.Sprintf("# %s: %s", req.Task.ID, req.Task.Title),
		"",
		req.Design.ProposedApproach,
		"",
		"## Acceptance criteria",
	}
	for _, c := range req.Task.AcceptanceCriteria {
		body = append(body, "- "+c)
	}
	if len(req.Task.AcceptanceCriteria) == 0 {
		body = append(body, "- (none provided)")
	}
	if req.Feedback != "" {
		body = append(body, "", "## Revision", "Addressed: "+models.FirstLine(req.Feedback))
	}

	explanations := []string{"Documentation-only change generated offline"}
	if req.Feedback != "" {
		explanations = append(explanations, "Revised after: "+models.FirstLine(req.Feedback))
	}
	return models.Change{
		Diff:         newFileDiff(target, body),
		FilesChanged: []string{target},
		Explanations: explanations,
	}, nil
}

// Review approves exactly when the tests passed.
func (s *Stub) Review(_ context.Context, req ReviewRequest) (models.ReviewDecision, error) {
	if req.Test.Passed {
		return models.ReviewDecision{
			Approved: true,
			Comments: []string{fmt.Sprintf("Tests passed (%s)", req.Test.Command)},
		}, nil
	}
	return models.ReviewDecision{
		Approved:    false,
		Comments:    []string{fmt.Sprintf("Tests failed with exit code %d: %s", req.Test.ExitCode, models.FirstLine(req.Test.Output))},
		Suggestions: []string{"Fix the failing tests before resubmitting"},
	}, nil
}

// Summarize reports the run outcome and how many code attempts it took.
func (s *Stub) Summarize(_ context.Context, req NotesRequest) (models.Notes, error) {
	codeAttempts := 0
	for _, a := range req.Attempts {
		if a.Stage == models.StageCode {
			codeAttempts++
		}
	}

	lesson := "Completed on the first code attempt"
	if codeAttempts > 1 {
		lesson = fmt.Sprintf("Needed %d code attempts before review approval", codeAttempts)
	}

	pr := "Nothing published"
	if req.Publish != nil {
		pr = req.Publish.Summary()
	}

	tags := []string{"feature", "success"}
	if lang := strings.ToLower(strings.TrimSpace(req.Repo.MainLanguage)); lang != "" {
		tags = append(tags, lang)
	}
	return models.Notes{
		Summary: []string{
			fmt.Sprintf("Implemented %s: %s", req.Task.ID, req.Task.Title),
			req.Change.Summary(),
			req.Test.Summary(),
			pr,
		},
		Lessons:     []string{lesson},
		Suggestions: []string{"Replace the stub reasoner with a model-backed provider for real changes"},
		Tags:        tags,
	}, nil
}

func stubTarget(task models.TaskDetails) string {
	return path.Join(StubDocsDir, models.Slugify(task.ID, "task")+".md")
}

// newFileDiff builds a git patch creating path with lines as its content.
func newFileDiff(path string, lines []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "diff --git a/%s b/%s\n", path, path)
	b.WriteString("new file mode 100644\n")
	b.WriteString("--- /dev/null\n")
	fmt.Fprintf(&b, "+++ b/%s\n", path)
	fmt.Fprintf(&b, "@@ -0,0 +1,%d @@\n", len(lines))
	for _, l := range lines {
		b.WriteString("+" + l + "\n")
	}
	return b.String()
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
