package vcs

import (
	"context"
	"fmt"
	"strings"

	"github.com/harrison/codeflow/internal/models"
	"github.com/harrison/codeflow/internal/workflow"
)

const (
	applyCommand  = "git apply --whitespace=nowarn -"
	revertCommand = "git apply -R --whitespace=nowarn -"
)

// GitApplier applies unified diffs with git apply.
type GitApplier struct {
	runner CommandRunner
}

// NewGitApplier creates an applier that runs git through runner.
func NewGitApplier(runner CommandRunner) *GitApplier {
	return &GitApplier{runner: runner}
}

// Apply applies diff to the working tree at repoPath. Rejections are classified
// as PatchFailed.
func (a *GitApplier) Apply(ctx context.Context, diff, repoPath string) error {
	return a.run(ctx, applyCommand, diff, repoPath, "apply")
}

// Revert removes a previously applied diff from the working tree.
func (a *GitApplier) Revert(ctx context.Context, diff, repoPath string) error {
	return a.run(ctx, revertCommand, diff, repoPath, "revert")
}

func (a *GitApplier) run(ctx context.Context, command, diff, repoPath, verb string) error {
	if strings.TrimSpace(diff) == "" {
		return workflow.NewStageError(models.KindPatchFailed, verb+" patch", fmt.Errorf("%w: empty diff", ErrPatchFailed))
	}

	output, err := a.runner.Run(ctx, repoPath, command, diff)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s patch: %w", verb, ctx.Err())
	}
	return workflow.NewStageError(models.KindPatchFailed, verb+" patch in "+repoPath,
		fmt.Errorf("%w: %s", ErrPatchFailed, strings.TrimSpace(output)))
}
