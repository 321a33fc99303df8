package reasoner

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/codeflow/internal/models"
)

// scriptedCompleter replays fixed replies and records the prompts it received.
type scriptedCompleter struct {
	mu      sync.Mutex
	replies []string
	err     error
	systems []string
	users   []string
}

func (c *scriptedCompleter) Complete(_ context.Context, system, user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systems = append(c.systems, system)
	c.users = append(c.users, user)
	if c.err != nil {
		return "", c.err
	}
	reply := c.replies[0]
	c.replies = c.replies[1:]
	return reply, nil
}

var demoTask = models.TaskDetails{
	ID:                 "DEMO-001",
	Title:              "Add input validation to config loader",
	Description:        "Validate test_command and max_retries.",
	AcceptanceCriteria: []string{"Empty test_command is rejected", "Negative max_retries is rejected"},
}

var demoRepo = models.RepoSummary{Path: "/src/app", MainLanguage: "Python", TestCommand: "pytest"}

func TestLLMDesign(t *testing.T) {
	c := &scriptedCompleter{replies: []string{
		"PROBLEM UNDERSTANDING:\nConfig is unchecked.\n\nPROPOSED APPROACH:\nAdd validation.\n\nTARGET FILES:\n- src/config.py\n\nSTEP-BY-STEP PLAN:\n1. Validate\n2. Test\n",
	}}
	plan, err := NewLLM(c).Design(context.Background(), DesignRequest{Task: demoTask, Repo: demoRepo})
	require.NoError(t, err)

	assert.Equal(t, "Config is unchecked.", plan.ProblemUnderstanding)
	assert.Equal(t, []string{"src/config.py"}, plan.TargetFiles)
	assert.Equal(t, []string{"Validate", "Test"}, plan.Steps)

	require.Len(t, c.users, 1)
	assert.Contains(t, c.users[0], "Ticket ID: DEMO-001")
	assert.Contains(t, c.users[0], "- Negative max_retries is rejected")
	assert.Contains(t, c.users[0], "Test Command: pytest")
	assert.Equal(t, designSystemPrompt, c.systems[0])
}

func TestLLMDesignMalformed(t *testing.T) {
	c := &scriptedCompleter{replies: []string{"Sure, I can help with that."}}
	_, err := NewLLM(c).Design(context.Background(), DesignRequest{Task: demoTask, Repo: demoRepo})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestLLMCompleterError(t *testing.T) {
	boom := errors.New("connection refused")
	llm := NewLLM(&scriptedCompleter{err: boom})
	ctx := context.Background()

	_, err := llm.Design(ctx, DesignRequest{})
	assert.ErrorIs(t, err, boom)
	_, err = llm.Code(ctx, CodeRequest{})
	assert.ErrorIs(t, err, boom)
	_, err = llm.Review(ctx, ReviewRequest{})
	assert.ErrorIs(t, err, boom)
	_, err = llm.Summarize(ctx, NotesRequest{})
	assert.ErrorIs(t, err, boom)
}

func TestLLMCode(t *testing.T) {
	patch := "--- a/src/config.py\n+++ b/src/config.py\n@@ -1 +1,2 @@\n x = 1\n+y = 2\n"

	t.Run("files from list", func(t *testing.T) {
		c := &scriptedCompleter{replies: []string{"PATCH:\n```diff\n" + patch + "```\n\nFILES CHANGED:\n- src/config.py\n\nEXPLANATIONS:\n- add y\n"}}
		change, err := NewLLM(c).Code(context.Background(), CodeRequest{
			Task:         demoTask,
			Repo:         demoRepo,
			CodeContext:  map[string]string{"src/b.py": "B", "src/a.py": "A"},
			Feedback:     "test_config.py::test_empty FAILED",
			PreviousDiff: "+old attempt\n",
		})
		require.NoError(t, err)
		assert.Equal(t, patch, change.Diff)
		assert.Equal(t, []string{"src/config.py"}, change.FilesChanged)
		assert.Equal(t, []string{"add y"}, change.Explanations)
		assert.False(t, change.Applied)

		prompt := c.users[0]
		assert.Contains(t, prompt, "# File: src/a.py\nA\n\n# File: src/b.py\nB")
		assert.Contains(t, prompt, "PREVIOUS ATTEMPT FAILED")
		assert.Contains(t, prompt, "test_config.py::test_empty FAILED")
		assert.Contains(t, prompt, "+old attempt")
	})

	t.Run("files from headers", func(t *testing.T) {
		c := &scriptedCompleter{replies: []string{"```diff\n" + patch + "```\n"}}
		change, err := NewLLM(c).Code(context.Background(), CodeRequest{Task: demoTask})
		require.NoError(t, err)
		assert.Equal(t, []string{"src/config.py"}, change.FilesChanged)
	})

	t.Run("files from design", func(t *testing.T) {
		bare := "@@ -1 +1 @@\n-a\n+b\n"
		c := &scriptedCompleter{replies: []string{"PATCH:\n```diff\n" + bare + "```\n"}}
		change, err := NewLLM(c).Code(context.Background(), CodeRequest{
			Design: models.DesignPlan{TargetFiles: []string{"x.py"}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"x.py"}, change.FilesChanged)
	})

	t.Run("no patch", func(t *testing.T) {
		c := &scriptedCompleter{replies: []string{"FILES CHANGED:\n- a.py\n"}}
		_, err := NewLLM(c).Code(context.Background(), CodeRequest{})
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})
}

func TestLLMReview(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		approved bool
		wantErr  bool
	}{
		{"approved", "DECISION: APPROVED\n\nREVIEW COMMENTS:\n- Looks good\n", true, false},
		{"rejected", "DECISION: REJECTED\n\nREVIEW COMMENTS:\n- Missing tests\n", false, false},
		{"not approved", "DECISION: NOT APPROVED\n", false, false},
		{"disapproved", "DECISION: DISAPPROVED\n", false, false},
		{"unapproved", "DECISION: UNAPPROVED\n", false, false},
		{"emphasized approval", "DECISION: **APPROVED**.\n", true, false},
		{"lowercase approval", "DECISION: approved\n", true, false},
		{"missing decision", "REVIEW COMMENTS:\n- hmm\n", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &scriptedCompleter{replies: []string{tt.reply}}
			decision, err := NewLLM(c).Review(context.Background(), ReviewRequest{
				Task:   demoTask,
				Change: models.Change{Diff: "+x\n"},
				Test:   models.TestOutcome{Command: "pytest", Passed: true, Output: "1 passed"},
			})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.approved, decision.Approved)
			assert.Contains(t, c.users[0], "Status: PASS")
		})
	}
}

func TestLLMSummarize(t *testing.T) {
	c := &scriptedCompleter{replies: []string{"SUMMARY:\n- Added validation\n\nLESSONS:\n- Tests were flaky\n\nTAGS:\n- config\n- python\n"}}
	notes, err := NewLLM(c).Summarize(context.Background(), NotesRequest{
		Task:     demoTask,
		Attempts: []models.StageAttempt{{Stage: models.StageTest, Attempt: 1, Outcome: models.OutcomeRecoverable, Kind: models.KindTestFailed}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Added validation"}, notes.Summary)
	assert.Equal(t, []string{"Tests were flaky"}, notes.Lessons)
	assert.Equal(t, []string{"config", "python"}, notes.Tags)
	assert.Contains(t, c.users[0], "- test #1 recoverable_failure (test_failed)")
	assert.Contains(t, c.users[0], "PR:\nNot published")

	c = &scriptedCompleter{replies: []string{"Everything went fine."}}
	notes, err = NewLLM(c).Summarize(context.Background(), NotesRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Everything went fine."}, notes.Summary, "unstructured reply becomes the summary")
}

func TestStubIsConsistent(t *testing.T) {
	ctx := context.Background()
	s := NewStub()

	plan, err := s.Design(ctx, DesignRequest{Task: demoTask, Repo: demoRepo})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/codeflow/demo-001.md"}, plan.TargetFiles)
	assert.Len(t, plan.Steps, 4)

	change, err := s.Code(ctx, CodeRequest{Task: demoTask, Repo: demoRepo, Design: plan})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/codeflow/demo-001.md"}, change.FilesChanged)
	assert.Equal(t, change.FilesChanged, filesFromDiff(change.Diff))
	assert.True(t, strings.HasSuffix(change.Diff, "\n"))

	// Hunk header must count the added lines exactly or git apply rejects the patch.
	added := 0
	for _, line := range strings.Split(change.Diff, "\n") {
		if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
			added++
		}
	}
	assert.Contains(t, change.Diff, "@@ -0,0 +1,"+strconv.Itoa(added)+" @@")

	again, err := s.Code(ctx, CodeRequest{Task: demoTask, Repo: demoRepo, Design: plan, Feedback: "FAILED test_x\nmore"})
	require.NoError(t, err)
	assert.Contains(t, again.Diff, "+Addressed: FAILED test_x\n")
	assert.NotEqual(t, change.Diff, again.Diff)
}

func TestStubReviewAndNotes(t *testing.T) {
	ctx := context.Background()
	s := NewStub()

	ok, err := s.Review(ctx, ReviewRequest{Test: models.TestOutcome{Command: "pytest", Passed: true}})
	require.NoError(t, err)
	assert.True(t, ok.Approved)

	rejected, err := s.Review(ctx, ReviewRequest{Test: models.TestOutcome{ExitCode: 1, Output: "E assert 1 == 2\n..."}})
	require.NoError(t, err)
	assert.False(t, rejected.Approved)
	assert.Contains(t, rejected.Feedback(), "E assert 1 == 2")

	notes, err := s.Summarize(ctx, NotesRequest{
		Task: demoTask,
		Repo: demoRepo,
		Attempts: []models.StageAttempt{
			{Stage: models.StageCode, Attempt: 1},
			{Stage: models.StageCode, Attempt: 2},
		},
		Publish: &models.PublishedRef{Branch: "feature/demo-001", Base: "main", Simulated: true},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"feature", "success", "python"}, notes.Tags)
	assert.Equal(t, "Needed 2 code attempts before review approval", notes.Lessons[0])
	assert.Contains(t, notes.Summary, "would publish feature/demo-001 -> main")
}

type blockingCompleter struct{}

func (blockingCompleter) Complete(ctx context.Context, _, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestWithTimeout(t *testing.T) {
	c := &scriptedCompleter{}
	assert.Same(t, Completer(c), WithTimeout(c, 0))

	_, err := WithTimeout(blockingCompleter{}, 10*time.Millisecond).Complete(context.Background(), "s", "u")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
