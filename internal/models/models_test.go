package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTaskDetailsValidation(t *testing.T) {
	tests := []struct {
		name    string
		task    TaskDetails
		wantErr bool
	}{
		{
			name:    "valid task",
			task:    TaskDetails{ID: "DEMO-001", Title: "Add greeting"},
			wantErr: false,
		},
		{
			name:    "missing id",
			task:    TaskDetails{Title: "Add greeting"},
			wantErr: true,
		},
		{
			name:    "blank title",
			task:    TaskDetails{ID: "DEMO-001", Title: "   "},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTaskDetailsCriteriaText(t *testing.T) {
	task := TaskDetails{ID: "A-1", Title: "t"}
	if got := task.CriteriaText(); got != "(none provided)" {
		t.Errorf("empty criteria rendered as %q", got)
	}

	task.AcceptanceCriteria = []string{"returns 200", "logs request"}
	want := "- returns 200\n- logs request"
	if got := task.CriteriaText(); got != want {
		t.Errorf("CriteriaText() = %q, want %q", got, want)
	}
	if !strings.Contains(task.Summary(), "2 acceptance criteria") {
		t.Errorf("Summary() = %q", task.Summary())
	}
}

func TestPipelineOrder(t *testing.T) {
	want := []StageName{
		StageFetchTask, StageAnalyzeTarget, StageDesign, StageCode,
		StageTest, StageReview, StagePublish, StageNotes,
	}
	got := Pipeline()
	if len(got) != len(want) {
		t.Fatalf("pipeline has %d stages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stage %d = %s, want %s", i, got[i], want[i])
		}
		if got[i].Index() != i {
			t.Errorf("%s.Index() = %d, want %d", got[i], got[i].Index(), i)
		}
	}

	got[0] = "mutated"
	if Pipeline()[0] != StageFetchTask {
		t.Error("Pipeline() must return a fresh copy")
	}
}

func TestStageNameProperties(t *testing.T) {
	for _, s := range Pipeline() {
		want := s == StageCode || s == StagePublish
		if s.IsSideEffecting() != want {
			t.Errorf("%s.IsSideEffecting() = %v, want %v", s, s.IsSideEffecting(), want)
		}
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if StageName("deploy").Valid() {
		t.Error("unknown stage reported valid")
	}
	if StageName("deploy").Index() != -1 {
		t.Error("unknown stage should have index -1")
	}
}

func TestRunStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   bool
	}{
		{RunRunning, false},
		{RunSucceeded, true},
		{RunAborted, true},
		{RunFailed, true},
		{RunStatus(""), false},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("%q.IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestRunRecordValidate(t *testing.T) {
	failure := &Failure{Stage: StageTest, Kind: KindTestFailed, Message: "boom", Attempts: 2}
	tests := []struct {
		name    string
		record  RunRecord
		wantErr bool
	}{
		{"succeeded", RunRecord{RunID: "r", Status: RunSucceeded}, false},
		{"failed with failure", RunRecord{RunID: "r", Status: RunFailed, Failure: failure}, false},
		{"aborted with failure", RunRecord{RunID: "r", Status: RunAborted, Failure: failure}, false},
		{"missing id", RunRecord{Status: RunSucceeded}, true},
		{"running", RunRecord{RunID: "r", Status: RunRunning}, true},
		{"succeeded with failure", RunRecord{RunID: "r", Status: RunSucceeded, Failure: failure}, true},
		{"failed without failure", RunRecord{RunID: "r", Status: RunFailed}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunRecordQueries(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := RunRecord{
		RunID:      "r1",
		TaskID:     "DEMO-001",
		Mode:       ModeNormal,
		Status:     RunFailed,
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
		StageResults: []StageAttempt{
			{Stage: StageCode, Attempt: 1, Outcome: OutcomeSuccess},
			{Stage: StageTest, Attempt: 1, Outcome: OutcomeRecoverable, Kind: KindTestFailed},
			{Stage: StageCode, Attempt: 2, Outcome: OutcomeSuccess},
			{Stage: StageTest, Attempt: 2, Outcome: OutcomeRecoverable, Kind: KindTestFailed},
		},
		GuardrailDecisions: []GuardrailDecision{{Stage: StageCode, Requested: true, Granted: true, Source: SourceAutoConfirmFlag}},
		Failure:            &Failure{Stage: StageTest, Kind: KindTestFailed, Attempts: 2},
	}

	if n := len(rec.Attempts(StageCode)); n != 2 {
		t.Errorf("Attempts(code) = %d, want 2", n)
	}
	if n := len(rec.Attempts(StagePublish)); n != 0 {
		t.Errorf("Attempts(publish) = %d, want 0", n)
	}
	if _, ok := rec.Decision(StageCode); !ok {
		t.Error("expected a code decision")
	}
	if _, ok := rec.Decision(StagePublish); ok {
		t.Error("unexpected publish decision")
	}

	sum := rec.Summary()
	if sum.Attempts != 4 || sum.FailureKind != KindTestFailed || sum.FailureStage != StageTest {
		t.Errorf("unexpected summary %+v", sum)
	}
	if sum.Duration() != time.Minute {
		t.Errorf("Duration() = %v", sum.Duration())
	}
}

func TestRunRecordJSONShape(t *testing.T) {
	rec := RunRecord{
		RunID:       "r1",
		Status:      RunSucceeded,
		RetryCounts: map[StageName]int{StageTest: 1},
	}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	text := string(data)
	for _, key := range []string{`"run_id":"r1"`, `"status":"succeeded"`, `"retry_counts":{"test":1}`} {
		if !strings.Contains(text, key) {
			t.Errorf("JSON %s missing %s", text, key)
		}
	}
	if strings.Contains(text, `"failure"`) {
		t.Errorf("succeeded record should omit failure: %s", text)
	}
}

func TestPayloadSummaries(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"repo", RepoSummary{Path: "/r", MainLanguage: "Go", FileCount: 3, DefaultBranch: "main"}.Summary(), "/r (Go, 3 files, branch main)"},
		{"design", DesignPlan{ProposedApproach: "edit a\nthen b", TargetFiles: []string{"a"}, Steps: []string{"1", "2"}}.Summary(), "2 steps over 1 files: edit a"},
		{"change simulated", Change{FilesChanged: []string{"a"}, Simulated: true}.Summary(), "1 files changed (simulated)"},
		{"change applied", Change{FilesChanged: []string{"a", "b"}, Applied: true}.Summary(), "2 files changed (applied)"},
		{"change pending", Change{}.Summary(), "0 files changed (not applied)"},
		{"test passed", TestOutcome{Command: "go test", Passed: true}.Summary(), `"go test" passed with exit code 0`},
		{"test simulated", TestOutcome{Command: "go test", Passed: true, Simulated: true}.Summary(), `"go test" passed (simulated) with exit code 0`},
		{"review", ReviewDecision{Approved: false, Comments: []string{"x"}}.Summary(), "REJECTED with 1 comments"},
		{"publish simulated", PublishedRef{Branch: "feature/x", Base: "main", Simulated: true}.Summary(), "would publish feature/x -> main"},
		{"publish pr", PublishedRef{PRNumber: 7, PRURL: "https://example.com/pr/7"}.Summary(), "PR #7 https://example.com/pr/7"},
		{"notes", Notes{Summary: []string{"did it"}, Lessons: []string{"a"}}.Digest(), "did it (+1 lessons)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestReviewFeedback(t *testing.T) {
	r := ReviewDecision{Comments: []string{"missing test"}, Suggestions: []string{"add TestGreet"}}
	if got := r.Feedback(); got != "missing test\nadd TestGreet" {
		t.Errorf("Feedback() = %q", got)
	}
}

func TestFirstLineTruncates(t *testing.T) {
	long := strings.Repeat("x", 200)
	got := FirstLine(long)
	if len(got) != 120 || !strings.HasSuffix(got, "...") {
		t.Errorf("firstLine did not truncate: len=%d", len(got))
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"DEMO-001", "demo-001"},
		{"Add input validation to config loader", "add-input-validation-to-config-loader"},
		{"  Crème brûlée!! ", "creme-brulee"},
		{"ＡＢＣ １２３", "abc-123"},
		{"日本語", "task"},
		{"", "task"},
		{strings.Repeat("ab ", 40), strings.TrimRight(strings.Repeat("ab-", 20), "-")},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in, "task"); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRunRecordLastPayload(t *testing.T) {
	r := &RunRecord{StageResults: []StageAttempt{
		{Stage: StageTest, Attempt: 1, Payload: []byte(`{"command":"pytest","passed":false,"exit_code":1}`)},
		{Stage: StageCode, Attempt: 2},
		{Stage: StageTest, Attempt: 2, Payload: []byte(`{"command":"pytest","passed":true,"exit_code":0}`)},
	}}

	var test TestOutcome
	ok, err := r.LastPayload(StageTest, &test)
	if err != nil || !ok {
		t.Fatalf("LastPayload(test) = %v, %v", ok, err)
	}
	if !test.Passed {
		t.Error("expected the latest test attempt")
	}

	var change Change
	if ok, _ := r.LastPayload(StageCode, &change); ok {
		t.Error("attempt without payload reported as present")
	}
	var ref PublishedRef
	if ok, _ := r.LastPayload(StagePublish, &ref); ok {
		t.Error("missing stage reported as present")
	}

	r.StageResults[2].Payload = []byte(`{"passed":"yes"}`)
	if _, err := r.LastPayload(StageTest, &test); err == nil {
		t.Error("expected decode error")
	}
}
