// Package workflow sequences the run pipeline: it executes stages in their fixed
// order, applies the retry table to recoverable failures, consults the guardrail
// before side-effecting stages, and persists exactly one record per run.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harrison/codeflow/internal/models"
)

// DefaultStageTimeout bounds a single stage attempt when no override is configured.
const DefaultStageTimeout = 10 * time.Minute

// Logger receives run progress events.
type Logger interface {
	LogRunStart(runID, taskID string, mode models.Mode)
	LogStageStart(stage models.StageName, attempt int)
	LogStageResult(attempt models.StageAttempt)
	LogRetry(stage, restartAt models.StageName, attemptsUsed, attemptsAllowed int)
	LogGuardrail(decision models.GuardrailDecision)
	LogRunComplete(record *models.RunRecord)
}

// Recorder receives the same events for metrics.
type Recorder interface {
	ObserveAttempt(attempt models.StageAttempt)
	ObserveRetry(stage models.StageName, kind models.FailureKind)
	ObserveGuardrail(decision models.GuardrailDecision)
	ObserveRun(record *models.RunRecord)
}

// RunSaver persists terminal run records.
type RunSaver interface {
	Save(ctx context.Context, record *models.RunRecord) error
}

// Config wires an Engine. Stages must cover the whole pipeline.
type Config struct {
	Stages        []Stage
	Store         RunSaver
	Prompt        ConfirmationPrompt // Optional when AutoConfirm is set or only dry-runs are executed
	AutoConfirm   bool
	Retry         RetryTable // Defaults to DefaultRetryTable()
	StageTimeout  time.Duration
	StageTimeouts map[models.StageName]time.Duration // Per-stage overrides
	Logger        Logger                             // Optional
	Recorder      Recorder                           // Optional
}

// Engine runs tasks through the pipeline. An Engine holds no per-run state and may
// be reused for sequential or concurrent runs.
type Engine struct {
	stages        map[models.StageName]Stage
	store         RunSaver
	prompt        ConfirmationPrompt
	autoConfirm   bool
	retry         RetryTable
	stageTimeout  time.Duration
	stageTimeouts map[models.StageName]time.Duration
	logger        Logger
	recorder      Recorder
	clock         func() time.Time
	newID         IDGenerator
}

// NewEngine validates cfg and constructs an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine requires a run store")
	}

	stages := make(map[models.StageName]Stage, len(cfg.Stages))
	for _, s := range cfg.Stages {
		if s == nil {
			return nil, fmt.Errorf("engine received a nil stage")
		}
		name := s.Name()
		if !name.Valid() {
			return nil, fmt.Errorf("unknown stage %q", name)
		}
		if _, dup := stages[name]; dup {
			return nil, fmt.Errorf("stage %s registered twice", name)
		}
		stages[name] = s
	}
	for _, name := range models.Pipeline() {
		if _, ok := stages[name]; !ok {
			return nil, fmt.Errorf("no implementation for stage %s", name)
		}
	}

	retry := cfg.Retry
	if retry == nil {
		retry = DefaultRetryTable()
	}
	if err := retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry table: %w", err)
	}

	timeout := cfg.StageTimeout
	if timeout <= 0 {
		timeout = DefaultStageTimeout
	}

	e := &Engine{
		stages:        stages,
		store:         cfg.Store,
		prompt:        cfg.Prompt,
		autoConfirm:   cfg.AutoConfirm,
		retry:         retry,
		stageTimeout:  timeout,
		stageTimeouts: make(map[models.StageName]time.Duration, len(cfg.StageTimeouts)),
		logger:        cfg.Logger,
		recorder:      cfg.Recorder,
		clock:         time.Now,
		newID:         NewRunID,
	}
	for name, d := range cfg.StageTimeouts {
		if d > 0 {
			e.stageTimeouts[name] = d
		}
	}
	if e.logger == nil {
		e.logger = noopLogger{}
	}
	if e.recorder == nil {
		e.recorder = noopRecorder{}
	}
	return e, nil
}

// Run executes taskID through the pipeline and always persists the terminal record,
// including when ctx is cancelled. The returned error is non-nil only for policy
// violations and persistence failures; stage failures are reported in the record.
func (e *Engine) Run(ctx context.Context, taskID string, mode models.Mode) (*models.RunRecord, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, fmt.Errorf("task id is required")
	}
	if mode != models.ModeNormal && mode != models.ModeDryRun {
		return nil, fmt.Errorf("unknown run mode %q", mode)
	}

	now := e.clock()
	rc := newRunContext(e.newID(now), taskID, mode, now)
	gate := NewGate(mode, e.autoConfirm, e.prompt)
	gate.clock = e.clock

	e.logger.LogRunStart(rc.RunID, rc.TaskID, rc.Mode)
	runErr := e.drive(ctx, rc, gate)

	record := rc.Record(gate.Decisions())
	if err := e.store.Save(context.WithoutCancel(ctx), record); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("save run %s: %w", record.RunID, err))
	}

	e.logger.LogRunComplete(record)
	e.recorder.ObserveRun(record)
	return record, runErr
}

// drive iterates the pipeline until rc is terminal.
func (e *Engine) drive(ctx context.Context, rc *RunContext, gate *Gate) error {
	pipeline := models.Pipeline()
	var feedback *Feedback
	var restartAt models.StageName
	rootCause := make(map[models.StageName]models.FailureKind)

	for i := 0; i < len(pipeline); {
		name := pipeline[i]
		if err := ctx.Err(); err != nil {
			rc.abort(name, models.KindUserCancelled, fmt.Sprintf("run cancelled before %s: %v", name, err), e.clock())
			return nil
		}

		stage := e.stages[name]
		if name.IsSideEffecting() {
			granted, err := e.authorize(ctx, rc, gate, stage)
			if err != nil || !granted {
				return err
			}
		}

		in := Input{
			RunID:    rc.RunID,
			TaskID:   rc.TaskID,
			Mode:     rc.Mode,
			Attempt:  rc.attemptCount(name) + 1,
			Simulate: rc.Mode == models.ModeDryRun && name.IsSideEffecting(),
			View:     rc.View(),
			Feedback: feedback,
		}

		e.logger.LogStageStart(name, in.Attempt)
		started := e.clock()
		out := e.invoke(ctx, stage, in)
		attempt := rc.appendAttempt(name, out, started, e.clock())
		e.logger.LogStageResult(attempt)
		e.recorder.ObserveAttempt(attempt)

		switch out.Class {
		case ClassSuccess:
			if name == restartAt {
				feedback = nil
				restartAt = ""
			}
			i++

		case ClassRecoverable:
			policy, ok := e.retry.Resolve(name, out.Kind)
			if !ok {
				pv := &PolicyViolationError{Stage: name, Reason: fmt.Sprintf("retry requested for %s but no policy covers it", out.Kind)}
				rc.fail(name, models.KindPolicyViolation, pv.Error(), e.clock())
				return pv
			}
			state := policy.State(rc.RetryCounts[name])
			if _, ok := rootCause[name]; !ok {
				rootCause[name] = out.Kind
			}
			if state.Exhausted() {
				kind, detail := rootCause[name], out.Detail
				if kind != out.Kind {
					detail = appendDetail(detail, fmt.Sprintf("last attempt: %s", out.Kind))
				}
				rc.fail(name, kind, detail, e.clock())
				return nil
			}
			rc.RetryCounts[name]++
			e.logger.LogRetry(name, policy.RestartAt, state.AttemptsUsed, state.AttemptsAllowed)
			e.recorder.ObserveRetry(name, out.Kind)
			feedback = &Feedback{Stage: name, Kind: out.Kind, Detail: out.Detail, Attempt: attempt.Attempt}
			restartAt = policy.RestartAt
			i = policy.RestartAt.Index()

		default:
			if out.Kind == models.KindUserCancelled {
				rc.abort(name, out.Kind, out.Detail, e.clock())
			} else {
				rc.fail(name, out.Kind, out.Detail, e.clock())
			}
			return nil
		}
	}

	rc.succeed(e.clock())
	return nil
}

// authorize consults the gate for a side-effecting stage. A stage re-entered on retry
// reuses its recorded grant. It returns false when rc has been made terminal.
func (e *Engine) authorize(ctx context.Context, rc *RunContext, gate *Gate, stage Stage) (bool, error) {
	name := stage.Name()
	if d, ok := gate.Decision(name); ok && d.Granted {
		return true, nil
	}

	description := fmt.Sprintf("run %s for %s", name, rc.TaskID)
	if d, ok := stage.(Describer); ok {
		description = d.Describe(Input{
			RunID:    rc.RunID,
			TaskID:   rc.TaskID,
			Mode:     rc.Mode,
			Simulate: rc.Mode == models.ModeDryRun,
			View:     rc.View(),
		})
	}

	decision, err := gate.Authorize(ctx, name, description)
	var pv *PolicyViolationError
	if errors.As(err, &pv) {
		rc.fail(name, models.KindPolicyViolation, pv.Error(), e.clock())
		return false, pv
	}

	e.logger.LogGuardrail(decision)
	e.recorder.ObserveGuardrail(decision)

	if err != nil && ctx.Err() != nil {
		rc.abort(name, models.KindUserCancelled, err.Error(), e.clock())
		return false, nil
	}
	if !decision.Granted {
		msg := "confirmation denied: " + description
		if err != nil {
			msg = err.Error()
		}
		rc.abort(name, models.KindGuardrailDenied, msg, e.clock())
		return false, nil
	}
	return true, nil
}

// invoke runs one attempt under the stage timeout, converting panics, deadlines and
// cancellation into classified outcomes. A stage that ignores its context is abandoned
// once the deadline passes; its late result is discarded.
func (e *Engine) invoke(ctx context.Context, stage Stage, in Input) Outcome {
	name := stage.Name()
	timeout := e.timeoutFor(name)
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Fatal(models.KindStageError, fmt.Sprintf("stage %s panicked: %v", name, r))
			}
		}()
		done <- stage.Execute(stageCtx, in)
	}()

	var out Outcome
	select {
	case out = <-done:
	case <-stageCtx.Done():
		select {
		case out = <-done:
		default:
			if ctx.Err() != nil {
				return Fatal(models.KindUserCancelled, "run cancelled during stage")
			}
			return e.timedOut(name, timeout, Outcome{Detail: "stage did not return"})
		}
	}

	if ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		return e.timedOut(name, timeout, out)
	}
	if out.Class == ClassSuccess {
		return out
	}
	if out.Class != ClassRecoverable && out.Class != ClassFatal {
		return Fatal(models.KindStageError, fmt.Sprintf("stage %s returned unknown outcome class %d", name, out.Class))
	}
	if out.Kind == "" {
		out.Kind = models.KindStageError
	}

	if ctx.Err() != nil {
		return Fatal(models.KindUserCancelled, appendDetail("run cancelled during stage", out.Detail)).
			WithPayload(out.Payload, out.Summary)
	}
	if out.Kind == models.KindStageTimeout {
		return e.timedOut(name, timeout, out)
	}
	return out
}

// timedOut classifies an attempt that overran its deadline: recoverable for stages
// with a retry budget, fatal otherwise.
func (e *Engine) timedOut(name models.StageName, timeout time.Duration, out Outcome) Outcome {
	detail := appendDetail(fmt.Sprintf("stage exceeded timeout of %s", timeout), out.Detail)
	if e.retry.Retryable(name) {
		return Recoverable(models.KindStageTimeout, detail).WithPayload(out.Payload, out.Summary)
	}
	return Fatal(models.KindStageTimeout, detail).WithPayload(out.Payload, out.Summary)
}

func (e *Engine) timeoutFor(name models.StageName) time.Duration {
	if d, ok := e.stageTimeouts[name]; ok {
		return d
	}
	return e.stageTimeout
}

type noopLogger struct{}

func (noopLogger) LogRunStart(string, string, models.Mode) {}
func (noopLogger) LogStageStart(models.StageName, int) {}
func (noopLogger) LogStageResult(models.StageAttempt) {}
func (noopLogger) LogRetry(models.StageName, models.StageName, int, int) {}
func (noopLogger) LogGuardrail(models.GuardrailDecision) {}
func (noopLogger) LogRunComplete(*models.RunRecord) {}

type noopRecorder struct{}

func (noopRecorder) ObserveAttempt(models.StageAttempt) {}
func (noopRecorder) ObserveRetry(models.StageName, models.FailureKind) {}
func (noopRecorder) ObserveGuardrail(models.GuardrailDecision) {}
func (noopRecorder) ObserveRun(*models.RunRecord) {}
