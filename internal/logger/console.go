// Package logger provides logging implementations for workflow runs.
//
// The logger package reports run progress at the stage, retry and run levels.
// Implementations are thread-safe and support various output destinations
// (console, file, etc.).
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/harrison/codeflow/internal/models"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// ConsoleLogger logs run progress to a writer with timestamps and thread safety.
// All output is prefixed with [HH:MM:SS] timestamps for tracking execution flow.
// It supports log level filtering to control message verbosity.
// Color output is automatically enabled for terminal output (os.Stdout/os.Stderr).
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
	scheme      *colorScheme
	now         func() time.Time
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded.
// logLevel determines the minimum log level for messages to be output.
// Valid levels: trace, debug, info, warn, error (case-insensitive).
// If logLevel is empty or invalid, defaults to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
		scheme:      newColorScheme(),
		now:         time.Now,
	}
}

// isTerminal checks if the writer is a terminal that supports colors.
// Returns true for os.Stdout and os.Stderr when they are TTYs.
func isTerminal(w io.Writer) bool {
	if w == nil {
		return false
	}

	if w == os.Stdout || w == os.Stderr {
		// color.NoColor is true when stdout is not a TTY or NO_COLOR is set
		return !color.NoColor
	}

	return false
}

// normalizeLogLevel converts a log level string to lowercase and validates it.
// Returns "info" as default for empty or invalid levels.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))

	switch normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	}
	return "info"
}

// ValidLevel reports whether level names a supported log level.
func ValidLevel(level string) bool {
	l := strings.ToLower(strings.TrimSpace(level))
	return l != "" && normalizeLogLevel(l) == l
}

// shouldLog checks if a message at the given level should be logged.
func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// logLevelToInt converts a log level string to its numeric value.
func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// LogDebug logs a debug-level message.
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogWarn logs a warning-level message.
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil || !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := cl.timestamp()
	if cl.colorOutput {
		fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", ts, colorLevel(level), message)
		return
	}
	fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", ts, level, message)
}

func colorLevel(level string) string {
	switch level {
	case "DEBUG":
		return color.New(color.FgCyan).Sprint(level)
	case "WARN":
		return color.New(color.FgYellow).Sprint(level)
	default:
		return level
	}
}

// write emits one timestamped line at the given level, colorizing with c when enabled.
func (cl *ConsoleLogger) write(level string, c *color.Color, format string, args ...any) {
	if cl.writer == nil || !cl.shouldLog(level) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	msg := fmt.Sprintf(format, args...)
	if cl.colorOutput && c != nil {
		msg = c.Sprint(msg)
	}
	fmt.Fprintf(cl.writer, "[%s] %s\n", cl.timestamp(), msg)
}

// LogRunStart logs the beginning of a run at INFO level.
// Format: "[HH:MM:SS] Run <id> started for <task> (<mode>)"
func (cl *ConsoleLogger) LogRunStart(runID, taskID string, mode models.Mode) {
	var c *color.Color
	if mode == models.ModeDryRun {
		c = cl.scheme.warn
	} else {
		c = cl.scheme.header
	}
	cl.write("info", c, "Run %s started for %s (%s)", runID, taskID, mode)
}

// LogStageStart logs a stage attempt beginning at DEBUG level.
func (cl *ConsoleLogger) LogStageStart(stage models.StageName, attempt int) {
	cl.write("debug", cl.scheme.label, "-> %s (attempt %d)", stage, attempt)
}

// LogStageResult logs the outcome of an attempt. Successes are INFO, recoverable
// failures WARN, fatal failures ERROR.
// Format: "[HH:MM:SS] <stage> #<n> <OUTCOME> (<duration>): <detail>"
func (cl *ConsoleLogger) LogStageResult(attempt models.StageAttempt) {
	duration := formatDuration(attempt.Duration())
	switch attempt.Outcome {
	case models.OutcomeSuccess:
		cl.write("info", cl.scheme.success, "%s #%d OK (%s): %s", attempt.Stage, attempt.Attempt, duration, attempt.PayloadSummary)
	case models.OutcomeRecoverable:
		cl.write("warn", cl.scheme.warn, "%s #%d %s (%s): %s", attempt.Stage, attempt.Attempt, attempt.Kind, duration, truncate(attempt.Detail, 200))
	default:
		cl.write("error", cl.scheme.fail, "%s #%d %s (%s): %s", attempt.Stage, attempt.Attempt, attempt.Kind, duration, truncate(attempt.Detail, 200))
	}
}

// LogRetry logs a retry decision at WARN level.
func (cl *ConsoleLogger) LogRetry(stage, restartAt models.StageName, attemptsUsed, attemptsAllowed int) {
	cl.write("warn", cl.scheme.warn, "Retrying from %s after %s failure (attempt %d/%d)", restartAt, stage, attemptsUsed, attemptsAllowed)
}

// LogGuardrail logs a guardrail decision. Denials are WARN, grants INFO.
func (cl *ConsoleLogger) LogGuardrail(decision models.GuardrailDecision) {
	if decision.Granted {
		cl.write("info", cl.scheme.label, "Guardrail granted %s via %s", decision.Stage, decision.Source)
		return
	}
	cl.write("warn", cl.scheme.fail, "Guardrail denied %s via %s", decision.Stage, decision.Source)
}

// LogRunComplete logs the run summary at INFO level.
func (cl *ConsoleLogger) LogRunComplete(record *models.RunRecord) {
	if record == nil || cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := cl.timestamp()
	header := "=== Run Summary ==="
	status := strings.ToUpper(string(record.Status))
	if cl.colorOutput {
		header = color.New(color.Bold).Sprint(header)
		status = cl.scheme.forStatus(record.Status).Sprint(status)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", ts, header)
	fmt.Fprintf(&b, "[%s] Run:      %s\n", ts, record.RunID)
	fmt.Fprintf(&b, "[%s] Task:     %s\n", ts, record.TaskID)
	fmt.Fprintf(&b, "[%s] Mode:     %s\n", ts, record.Mode)
	fmt.Fprintf(&b, "[%s] Status:   %s\n", ts, status)
	fmt.Fprintf(&b, "[%s] Attempts: %d\n", ts, len(record.StageResults))
	fmt.Fprintf(&b, "[%s] Duration: %s\n", ts, formatDuration(record.FinishedAt.Sub(record.StartedAt)))
	if record.Failure != nil {
		fmt.Fprintf(&b, "[%s] Failure:  %s\n", ts, record.Failure.String())
	}
	io.WriteString(cl.writer, b.String())
}

func (cl *ConsoleLogger) timestamp() string {
	return cl.now().Format("15:04:05")
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		remainder := d % time.Hour
		if remainder == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		minutes := remainder / time.Minute
		remainder = remainder % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case d >= time.Minute:
		minutes := d / time.Minute
		remainder := d % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	}
}

// NoOpLogger discards all run events. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) LogRunStart(string, string, models.Mode) {}
func (n *NoOpLogger) LogStageStart(models.StageName, int) {}
func (n *NoOpLogger) LogStageResult(models.StageAttempt) {}
func (n *NoOpLogger) LogRetry(models.StageName, models.StageName, int, int) {}
func (n *NoOpLogger) LogGuardrail(models.GuardrailDecision) {}
func (n *NoOpLogger) LogRunComplete(*models.RunRecord) {}
