package cmd

import (
	"github.com/harrison/codeflow/internal/models"
	"github.com/harrison/codeflow/internal/workflow"
)

// multiLogger fans every event out to several loggers
type multiLogger []workflow.Logger

func (m multiLogger) LogRunStart(runID, taskID string, mode models.Mode) {
	for _, l := range m {
		l.LogRunStart(runID, taskID, mode)
	}
}

func (m multiLogger) LogStageStart(stage models.StageName, attempt int) {
	for _, l := range m {
		l.LogStageStart(stage, attempt)
	}
}

func (m multiLogger) LogStageResult(attempt models.StageAttempt) {
	for _, l := range m {
		l.LogStageResult(attempt)
	}
}

func (m multiLogger) LogRetry(stage, restartAt models.StageName, attemptsUsed, attemptsAllowed int) {
	for _, l := range m {
		l.LogRetry(stage, restartAt, attemptsUsed, attemptsAllowed)
	}
}

func (m multiLogger) LogGuardrail(decision models.GuardrailDecision) {
	for _, l := range m {
		l.LogGuardrail(decision)
	}
}

func (m multiLogger) LogRunComplete(record *models.RunRecord) {
	for _, l := range m {
		l.LogRunComplete(record)
	}
}
