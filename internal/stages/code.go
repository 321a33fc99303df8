package stages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/harrison/codeflow/internal/models"
	"github.com/harrison/codeflow/internal/reasoner"
	"github.com/harrison/codeflow/internal/workflow"
)

// maxContextChars bounds how much of each target file is sent as prompt context.
const maxContextChars = 5000

const truncatedMarker = "\n... [truncated]"

// Code generates a patch and applies it to the working tree. On re-entry after a
// failed test or review it reverts the previous patch first and passes the failure
// to the reasoner as feedback.
type Code struct {
	reasoner Reasoner
	applier  ChangeApplier
	fs       afero.Fs
}

// Name implements workflow.Stage.
func (s *Code) Name() models.StageName { return models.StageCode }

// Describe implements workflow.Describer.
func (s *Code) Describe(in workflow.Input) string {
	repo := "the repository"
	if in.View.Repo != nil {
		repo = in.View.Repo.Path
	}
	if in.Simulate {
		return fmt.Sprintf("simulate applying a generated patch for %s to %s", in.TaskID, repo)
	}
	return fmt.Sprintf("apply a generated patch for %s to %s", in.TaskID, repo)
}

// Execute implements workflow.Stage.
func (s *Code) Execute(ctx context.Context, in workflow.Input) workflow.Outcome {
	view := in.View
	if view.Task == nil || view.Repo == nil || view.Design == nil {
		return missing(models.StageCode, "the task, repository summary and design")
	}
	repoPath := view.Repo.Path

	req := reasoner.CodeRequest{
		Task:        *view.Task,
		Repo:        *view.Repo,
		Design:      *view.Design,
		CodeContext: s.loadContext(repoPath, view.Design.TargetFiles),
	}
	if in.Feedback != nil {
		req.Feedback = feedbackText(in.Feedback)
		if view.Change != nil {
			req.PreviousDiff = view.Change.Diff
		}
	}

	change, err := s.reasoner.Code(ctx, req)
	if err != nil {
		return reasonerFailure(err)
	}
	if strings.TrimSpace(change.Diff) == "" {
		return workflow.Fatal(models.KindPatchFailed, "reasoner produced an empty patch")
	}
	if len(change.FilesChanged) == 0 {
		change.FilesChanged = append([]string(nil), view.Design.TargetFiles...)
	}
	change.Applied = false

	if in.Simulate {
		change.Simulated = true
		return workflow.Success(change, change.Summary())
	}

	if prev := view.Change; prev != nil && prev.Applied {
		if err := s.applier.Revert(ctx, prev.Diff, repoPath); err != nil {
			return workflow.FromError(fmt.Errorf("revert previous attempt: %w", err), models.KindPatchFailed).
				WithPayload(change, change.Summary())
		}
	}

	if err := s.applier.Apply(ctx, change.Diff, repoPath); err != nil {
		return workflow.FromError(err, models.KindPatchFailed).WithPayload(change, change.Summary())
	}
	change.Applied = true
	return workflow.Success(change, change.Summary())
}

// loadContext reads the design's target files under repoPath. Missing files are
// skipped since the plan may create them; paths escaping the repository are ignored.
func (s *Code) loadContext(repoPath string, targets []string) map[string]string {
	out := make(map[string]string, len(targets))
	for _, rel := range targets {
		clean := filepath.Clean(filepath.FromSlash(rel))
		if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			continue
		}
		content, err := readPrefix(s.fs, filepath.Join(repoPath, clean), maxContextChars)
		if err != nil {
			continue
		}
		out[rel] = content
	}
	return out
}

func readPrefix(fs afero.Fs, path string, limit int) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.IsDir() {
		return "", &os.PathError{Op: "read", Path: path, Err: errors.New("is a directory")}
	}

	data, err := io.ReadAll(io.LimitReader(f, int64(limit)+1))
	if err != nil {
		return "", err
	}
	if len(data) > limit {
		return string(data[:limit]) + truncatedMarker, nil
	}
	return string(data), nil
}

func feedbackText(fb *workflow.Feedback) string {
	return fmt.Sprintf("%s attempt %d failed (%s):\n%s", fb.Stage, fb.Attempt, fb.Kind, fb.Detail)
}
