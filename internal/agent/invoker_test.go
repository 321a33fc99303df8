package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeFakeAgent creates an executable script standing in for the agent CLI.
func writeFakeAgent(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewInvoker(t *testing.T) {
	if got := NewInvoker("").AgentPath; got != "claude" {
		t.Errorf("AgentPath = %s, want claude", got)
	}
	if got := NewInvoker("/usr/local/bin/agent").AgentPath; got != "/usr/local/bin/agent" {
		t.Errorf("AgentPath = %s", got)
	}
}

func TestBuildCommandArgs(t *testing.T) {
	inv := NewInvoker("")
	inv.ExtraArgs = []string{"--model", "sonnet"}

	args := inv.BuildCommandArgs("be terse", "write a patch")
	joined := strings.Join(args, " ")

	checks := []struct {
		flag, value string
	}{
		{"-p", "write a patch"},
		{"--append-system-prompt", "be terse"},
		{"--output-format", "json"},
		{"--model", "sonnet"},
	}
	for _, c := range checks {
		found := false
		for i, a := range args {
			if a == c.flag && i+1 < len(args) && args[i+1] == c.value {
				found = true
			}
		}
		if !found {
			t.Errorf("args missing %s %q: %s", c.flag, c.value, joined)
		}
	}
	if !strings.Contains(joined, "disableAllHooks") {
		t.Error("args should disable hooks")
	}

	for _, a := range inv.BuildCommandArgs("", "x") {
		if a == "--append-system-prompt" {
			t.Error("empty system prompt should be omitted")
		}
	}
}

func TestParseAgentOutput(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		wantText string
		wantErr  string
	}{
		{"result field", `{"result":"PATCH:","is_error":false}`, "PATCH:", ""},
		{"content field", `{"content":"hello","error":""}`, "hello", ""},
		{"error field", `{"content":"","error":"rate limited"}`, "", "rate limited"},
		{"plain text", "not json at all", "not json at all", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ParseAgentOutput(tt.output)
			if out.Text() != tt.wantText {
				t.Errorf("Text() = %q, want %q", out.Text(), tt.wantText)
			}
			if out.Error != tt.wantErr {
				t.Errorf("Error = %q, want %q", out.Error, tt.wantErr)
			}
		})
	}
}

func TestComplete(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		want    string
		wantErr string
	}{
		{
			name:   "json reply",
			script: `echo '{"result":"DECISION: APPROVED"}'`,
			want:   "DECISION: APPROVED",
		},
		{
			name:   "prompt is passed through",
			script: `echo "$2"`,
			want:   "hello agent\n",
		},
		{
			name:    "non-zero exit",
			script:  "echo 'boom' >&2\nexit 3",
			wantErr: "exited with code 3: boom",
		},
		{
			name:    "reported error",
			script:  `echo '{"is_error":true,"result":"quota exceeded"}'`,
			wantErr: "quota exceeded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := NewInvoker(writeFakeAgent(t, tt.script))
			got, err := inv.Complete(context.Background(), "", "hello agent")
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Complete() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Complete() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Complete() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompleteMissingBinary(t *testing.T) {
	inv := NewInvoker(filepath.Join(t.TempDir(), "does-not-exist"))
	if _, err := inv.Complete(context.Background(), "", "x"); err == nil || !strings.Contains(err.Error(), "start agent") {
		t.Fatalf("Complete() error = %v, want start failure", err)
	}
}

func TestCompleteHonorsContext(t *testing.T) {
	inv := NewInvoker(writeFakeAgent(t, "sleep 5"))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := inv.Complete(ctx, "", "x")
	if err == nil {
		t.Fatal("Complete() should fail when the context expires")
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("Complete() ignored the deadline, took %v", time.Since(start))
	}
}
