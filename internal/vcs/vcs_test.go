package vcs

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/codeflow/internal/models"
	"github.com/harrison/codeflow/internal/workflow"
)

// recordingRunner is a CommandRunner stub that records every call.
type recordingRunner struct {
	mu     sync.Mutex
	calls  []string
	stdins []string
	output string
	err    error
}

func (r *recordingRunner) Run(_ context.Context, dir, command, stdin string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, dir+": "+command)
	r.stdins = append(r.stdins, stdin)
	return r.output, r.err
}

const newFilePatch = `diff --git a/notes.md b/notes.md
new file mode 100644
--- /dev/null
+++ b/notes.md
@@ -0,0 +1,2 @@
+# Notes
+hello
`

func TestGitApplierCommands(t *testing.T) {
	r := &recordingRunner{}
	a := NewGitApplier(r)

	require.NoError(t, a.Apply(context.Background(), newFilePatch, "/repo"))
	require.NoError(t, a.Revert(context.Background(), newFilePatch, "/repo"))

	assert.Equal(t, []string{
		"/repo: git apply --whitespace=nowarn -",
		"/repo: git apply -R --whitespace=nowarn -",
	}, r.calls)
	assert.Equal(t, newFilePatch, r.stdins[0])
}

func TestGitApplierClassifiesRejection(t *testing.T) {
	r := &recordingRunner{output: "error: patch failed: notes.md:1\n", err: errors.New("exit status 1")}
	err := NewGitApplier(r).Apply(context.Background(), newFilePatch, "/repo")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPatchFailed)
	assert.Equal(t, models.KindPatchFailed, workflow.KindOf(err, models.KindStageError))
	assert.Contains(t, err.Error(), "patch failed: notes.md:1")
}

func TestGitApplierRejectsEmptyDiff(t *testing.T) {
	r := &recordingRunner{}
	err := NewGitApplier(r).Apply(context.Background(), " \n", "/repo")
	assert.ErrorIs(t, err, ErrPatchFailed)
	assert.Empty(t, r.calls, "git must not run for an empty diff")
}

func TestGitApplierWithGit(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	a := NewGitApplier(NewShellCommandRunner())
	ctx := context.Background()

	require.NoError(t, a.Apply(ctx, newFilePatch, dir))
	data, err := os.ReadFile(filepath.Join(dir, "notes.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Notes\nhello\n", string(data))

	// Applying the same new-file patch twice must fail
	assert.ErrorIs(t, a.Apply(ctx, newFilePatch, dir), ErrPatchFailed)

	require.NoError(t, a.Revert(ctx, newFilePatch, dir))
	assert.NoFileExists(t, filepath.Join(dir, "notes.md"))
}

func TestShellTestRunner(t *testing.T) {
	dir := t.TempDir()
	runner := NewShellTestRunner(NewShellCommandRunner())
	ctx := context.Background()

	pass, err := runner.Run(ctx, "echo ok; pwd", dir)
	require.NoError(t, err)
	assert.True(t, pass.Passed)
	assert.Equal(t, 0, pass.ExitCode)
	assert.Contains(t, pass.Output, "ok")
	assert.Contains(t, pass.Output, filepath.Base(dir))

	fail, err := runner.Run(ctx, "echo 'FAILED test_x' >&2; exit 3", dir)
	require.NoError(t, err, "a failing test command is an outcome, not an error")
	assert.False(t, fail.Passed)
	assert.Equal(t, 3, fail.ExitCode)
	assert.Contains(t, fail.Output, "FAILED test_x")
}

func TestShellTestRunnerTimeout(t *testing.T) {
	runner := NewShellTestRunner(NewShellCommandRunner())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	outcome, err := runner.Run(ctx, "sleep 5", t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, outcome.Passed)
}

func TestShellTestRunnerStartFailure(t *testing.T) {
	r := &recordingRunner{err: errors.New("fork/exec /bin/sh: no such file")}
	_, err := NewShellTestRunner(r).Run(context.Background(), "pytest", "/repo")
	assert.ErrorIs(t, err, ErrTestCommandFailed)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "short", tail("short", 10))
	got := tail(strings.Repeat("a", 5)+"END", 3)
	assert.Equal(t, "... [truncated]\nEND", got)
}

// initRepo creates a git repository with one commit containing files.
func initRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)
	for name, content := range files {
		full := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
		_, err := wt.Add(name)
		require.NoError(t, err)
	}
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	_, err = repo.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{"https://github.com/acme/app.git"}})
	require.NoError(t, err)
	return dir
}

func TestAnalyzerGitRepository(t *testing.T) {
	dir := initRepo(t, map[string]string{
		"main.go":         "package main\n",
		"pkg/util.go":     "package pkg\n",
		"scripts/tool.py": "print()\n",
		"README.md":       "# app\n",
	})
	// Untracked files are not part of the summary
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch.go"), []byte("package main\n"), 0644))

	summary, err := NewAnalyzer(RepoDefaults{TestCommand: "go test ./...", DefaultBranch: "main"}).Summarize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "Go", summary.MainLanguage)
	assert.Equal(t, 4, summary.FileCount)
	assert.Equal(t, []string{"README.md", "main.go", "pkg/util.go", "scripts/tool.py"}, summary.TopFiles)
	assert.Equal(t, "https://github.com/acme/app.git", summary.RemoteURL)
	assert.NotEmpty(t, summary.CurrentBranch)
	assert.Len(t, summary.HeadCommit, 40)
	assert.Equal(t, "go test ./...", summary.TestCommand)
}

func TestAnalyzerConfiguredLanguageWins(t *testing.T) {
	dir := initRepo(t, map[string]string{"a.go": "package a\n"})
	summary, err := NewAnalyzer(RepoDefaults{MainLanguage: "Python"}).Summarize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "Python", summary.MainLanguage)
}

func TestAnalyzerPlainDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".venv"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "app.py"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".venv", "lib.py"), nil, 0644))

	summary, err := NewAnalyzer(RepoDefaults{RemoteURL: "git@example.com:x.git"}).Summarize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/app.py"}, summary.TopFiles)
	assert.Equal(t, "Python", summary.MainLanguage)
	assert.Empty(t, summary.HeadCommit)
	assert.Equal(t, "git@example.com:x.git", summary.RemoteURL)
}

func TestAnalyzerMissingPath(t *testing.T) {
	_, err := NewAnalyzer(RepoDefaults{}).Summarize(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, workflow.IsStageError(err))
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "unknown", detectLanguage([]string{"README.md"}))
	assert.Equal(t, "TypeScript", detectLanguage([]string{"a.ts", "b.tsx", "c.js"}))
}
