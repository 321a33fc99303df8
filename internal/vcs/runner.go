// Package vcs applies patches to the target repository, runs its tests and
// summarizes it for prompts.
package vcs

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

var (
	// ErrPatchFailed indicates git apply rejected a patch.
	ErrPatchFailed = errors.New("patch failed")
	// ErrTestCommandFailed indicates the test command could not be run at all.
	ErrTestCommandFailed = errors.New("test command failed")
)

const waitDelay = 2 * time.Second

// CommandRunner abstracts shell command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir, command, stdin string) (output string, err error)
}

// ShellCommandRunner executes commands via the system shell.
type ShellCommandRunner struct{}

// NewShellCommandRunner creates a CommandRunner that executes real shell commands.
func NewShellCommandRunner() *ShellCommandRunner {
	return &ShellCommandRunner{}
}

// Run executes command via sh -c in dir and returns combined stdout/stderr.
// stdin is fed to the command when non-empty.
func (r *ShellCommandRunner) Run(ctx context.Context, dir, command, stdin string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	output, err := cmd.CombinedOutput()
	return string(output), err
}

// exitCode extracts the process exit status from a command error.
// ok is false when the command did not run to completion.
func exitCode(err error) (code int, ok bool) {
	if err == nil {
		return 0, true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return exitErr.ExitCode(), true
	}
	return -1, false
}
