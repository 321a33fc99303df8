package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/codeflow/internal/models"
)

// FileLogger logs run events to files in a log directory. It creates a
// timestamped log per process, a detail file per failed stage attempt, and
// maintains a latest.log symlink pointing to the most recent log.
// It is thread-safe and implements the workflow Logger interface.
type FileLogger struct {
	logDir    string
	runLog    *os.File
	runFile   string
	stagesDir string
	logLevel  string
	runID     string
	mu        sync.Mutex
}

// NewFileLogger creates a FileLogger writing under logDir at "info" level.
func NewFileLogger(logDir string) (*FileLogger, error) {
	return NewFileLoggerWithLevel(logDir, "info")
}

// NewFileLoggerWithLevel creates a FileLogger with a custom log level.
func NewFileLoggerWithLevel(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	stagesDir := filepath.Join(logDir, "stages")
	if err := os.MkdirAll(stagesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create stages directory: %w", err)
	}

	// run-YYYYMMDD-HHMMSS.log
	timestamp := time.Now().Format("20060102-150405")
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", timestamp))

	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	logger := &FileLogger{
		logDir:    logDir,
		runLog:    file,
		runFile:   runFile,
		stagesDir: stagesDir,
		logLevel:  normalizeLogLevel(logLevel),
	}

	logger.writeRunLog("=== Codeflow Run Log ===\n")
	logger.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	return logger, nil
}

// Path returns the run log file path.
func (fl *FileLogger) Path() string {
	return fl.runFile
}

func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(fl.logLevel)
}

func (fl *FileLogger) logf(level string, format string, args ...any) {
	if !fl.shouldLog(level) {
		return
	}
	line := fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format("15:04:05"), strings.ToUpper(level), fmt.Sprintf(format, args...))
	fl.writeRunLog(line)
}

// LogRunStart records the run header.
func (fl *FileLogger) LogRunStart(runID, taskID string, mode models.Mode) {
	fl.mu.Lock()
	fl.runID = runID
	fl.mu.Unlock()
	fl.logf("info", "run %s started: task=%s mode=%s", runID, taskID, mode)
}

// LogStageStart records an attempt starting.
func (fl *FileLogger) LogStageStart(stage models.StageName, attempt int) {
	fl.logf("debug", "stage %s attempt %d started", stage, attempt)
}

// LogStageResult records an attempt outcome. The full detail of a failed
// attempt goes to its own file in the stages/ subdirectory.
func (fl *FileLogger) LogStageResult(attempt models.StageAttempt) {
	if attempt.Outcome == models.OutcomeSuccess {
		fl.logf("info", "stage %s attempt %d succeeded in %.1fs: %s",
			attempt.Stage, attempt.Attempt, attempt.Duration().Seconds(), attempt.PayloadSummary)
		return
	}

	level := "warn"
	if attempt.Outcome == models.OutcomeFatal {
		level = "error"
	}
	fl.logf(level, "stage %s attempt %d %s (%s) in %.1fs",
		attempt.Stage, attempt.Attempt, attempt.Outcome, attempt.Kind, attempt.Duration().Seconds())

	if err := fl.writeStageDetail(attempt); err != nil {
		fl.logf("error", "write stage detail: %v", err)
	}
}

func (fl *FileLogger) writeStageDetail(attempt models.StageAttempt) error {
	fl.mu.Lock()
	runID := fl.runID
	fl.mu.Unlock()
	if runID == "" {
		runID = "unknown"
	}

	name := fmt.Sprintf("%s-%s-%d.log", runID, attempt.Stage, attempt.Attempt)
	var b strings.Builder
	fmt.Fprintf(&b, "Run:      %s\n", runID)
	fmt.Fprintf(&b, "Stage:    %s\n", attempt.Stage)
	fmt.Fprintf(&b, "Attempt:  %d\n", attempt.Attempt)
	fmt.Fprintf(&b, "Outcome:  %s\n", attempt.Outcome)
	fmt.Fprintf(&b, "Kind:     %s\n", attempt.Kind)
	fmt.Fprintf(&b, "Started:  %s\n", attempt.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Finished: %s\n\n", attempt.FinishedAt.Format(time.RFC3339))
	b.WriteString(attempt.Detail)
	b.WriteString("\n")

	return os.WriteFile(filepath.Join(fl.stagesDir, name), []byte(b.String()), 0644)
}

// LogRetry records a retry decision.
func (fl *FileLogger) LogRetry(stage, restartAt models.StageName, attemptsUsed, attemptsAllowed int) {
	fl.logf("warn", "retry: %s failed, restarting at %s (%d/%d attempts used)", stage, restartAt, attemptsUsed, attemptsAllowed)
}

// LogGuardrail records a guardrail decision.
func (fl *FileLogger) LogGuardrail(decision models.GuardrailDecision) {
	verdict := "granted"
	level := "info"
	if !decision.Granted {
		verdict, level = "denied", "warn"
	}
	fl.logf(level, "guardrail %s for %s via %s: %s", verdict, decision.Stage, decision.Source, decision.Description)
}

// LogRunComplete writes the run summary block.
func (fl *FileLogger) LogRunComplete(record *models.RunRecord) {
	if record == nil || !fl.shouldLog("info") {
		return
	}

	ts := time.Now().Format("15:04:05")
	failure := "none"
	if record.Failure != nil {
		failure = record.Failure.String()
	}

	message := fmt.Sprintf(
		"\n[%s] === RUN SUMMARY ===\n"+
			"[%s] Run:          %s\n"+
			"[%s] Task:         %s\n"+
			"[%s] Mode:         %s\n"+
			"[%s] Status:       %s\n"+
			"[%s] Attempts:     %d\n"+
			"[%s] Total time:   %.1fs\n"+
			"[%s] Failure:      %s\n"+
			"[%s] Completed at: %s\n",
		ts,
		ts, record.RunID,
		ts, record.TaskID,
		ts, record.Mode,
		ts, strings.ToUpper(string(record.Status)),
		ts, len(record.StageResults),
		ts, record.FinishedAt.Sub(record.StartedAt).Seconds(),
		ts, failure,
		ts, record.FinishedAt.Format(time.RFC3339),
	)
	fl.writeRunLog(message)
}

// Close flushes and closes the run log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		if err := fl.runLog.Sync(); err != nil {
			return fmt.Errorf("failed to sync run log: %w", err)
		}
		if err := fl.runLog.Close(); err != nil {
			return fmt.Errorf("failed to close run log: %w", err)
		}
		fl.runLog = nil
	}
	return nil
}

func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		// Flush after each write for real-time logging
		fl.runLog.Sync()
	}
}
