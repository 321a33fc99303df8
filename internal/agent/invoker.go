// Package agent runs prompts through an agent CLI in non-interactive print mode.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const waitDelay = time.Second

// Invoker manages execution of agent CLI commands
type Invoker struct {
	AgentPath string
	ExtraArgs []string // Appended after the generated arguments
}

// InvocationResult captures the result of invoking the agent CLI
type InvocationResult struct {
	Output   string
	ExitCode int
	Duration time.Duration
	Error    error
}

// AgentOutput represents the JSON output structure from the agent CLI
type AgentOutput struct {
	Result  string `json:"result"`
	Content string `json:"content"`
	Error   string `json:"error"`
	IsError bool   `json:"is_error"`
}

// Text returns the reply, preferring result over content.
func (o *AgentOutput) Text() string {
	if o.Result != "" {
		return o.Result
	}
	return o.Content
}

// NewInvoker creates a new Invoker for the CLI at agentPath ("claude" when empty)
func NewInvoker(agentPath string) *Invoker {
	if agentPath == "" {
		agentPath = "claude"
	}
	return &Invoker{AgentPath: agentPath}
}

// BuildCommandArgs constructs the command-line arguments for one prompt
func (inv *Invoker) BuildCommandArgs(system, user string) []string {
	args := []string{}

	// -p for non-interactive print mode
	args = append(args, "-p", user)

	if system != "" {
		args = append(args, "--append-system-prompt", system)
	}

	// Disable hooks for automation
	args = append(args, "--settings", `{"disableAllHooks": true}`)

	// JSON output for easier parsing
	args = append(args, "--output-format", "json")

	return append(args, inv.ExtraArgs...)
}

// Invoke executes the agent CLI with the given context
func (inv *Invoker) Invoke(ctx context.Context, system, user string) (*InvocationResult, error) {
	startTime := time.Now()

	cmd := exec.CommandContext(ctx, inv.AgentPath, inv.BuildCommandArgs(system, user)...)
	// Children holding the output pipe must not outlive cancellation for long
	cmd.WaitDelay = waitDelay
	output, err := cmd.CombinedOutput()

	result := &InvocationResult{
		Output:   string(output),
		Duration: time.Since(startTime),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.Error = err
		}
	}

	return result, nil
}

// Complete runs one prompt and returns the agent's reply text.
func (inv *Invoker) Complete(ctx context.Context, system, user string) (string, error) {
	result, err := inv.Invoke(ctx, system, user)
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("agent invocation interrupted after %v: %w", result.Duration.Round(time.Millisecond), ctx.Err())
	}
	if result.Error != nil {
		return "", fmt.Errorf("start agent %s: %w", inv.AgentPath, result.Error)
	}

	out := ParseAgentOutput(result.Output)
	if result.ExitCode != 0 || out.IsError || out.Error != "" {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(out.Text())
		}
		return "", fmt.Errorf("agent exited with code %d: %s", result.ExitCode, msg)
	}
	return out.Text(), nil
}

// ParseAgentOutput parses the JSON output from the agent CLI.
// If the output is not valid JSON, the raw output becomes the content.
func ParseAgentOutput(output string) *AgentOutput {
	var out AgentOutput
	if err := json.Unmarshal([]byte(output), &out); err != nil {
		return &AgentOutput{Content: output}
	}
	return &out
}
