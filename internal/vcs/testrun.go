package vcs

import (
	"context"
	"fmt"

	"github.com/harrison/codeflow/internal/models"
)

// maxTestOutput bounds the test output kept in the run record; the tail is kept
// because failures are reported last.
const maxTestOutput = 16 * 1024

// ShellTestRunner runs the repository's test command through a shell.
type ShellTestRunner struct {
	runner CommandRunner
}

// NewShellTestRunner creates a TestRunner backed by runner.
func NewShellTestRunner(runner CommandRunner) *ShellTestRunner {
	return &ShellTestRunner{runner: runner}
}

// Run executes command in repoPath. A non-zero exit is reported in the outcome,
// not as an error; the error is reserved for commands that could not run.
func (r *ShellTestRunner) Run(ctx context.Context, command, repoPath string) (models.TestOutcome, error) {
	output, err := r.runner.Run(ctx, repoPath, command, "")
	outcome := models.TestOutcome{
		Command: command,
		Output:  tail(output, maxTestOutput),
	}

	if ctx.Err() != nil {
		outcome.ExitCode = -1
		return outcome, fmt.Errorf("run %q: %w", command, ctx.Err())
	}

	code, ok := exitCode(err)
	if !ok {
		outcome.ExitCode = -1
		return outcome, fmt.Errorf("%w: %q: %v", ErrTestCommandFailed, command, err)
	}
	outcome.ExitCode = code
	outcome.Passed = code == 0
	return outcome, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "... [truncated]\n" + s[len(s)-n:]
}
