package logger

import (
	"github.com/fatih/color"

	"github.com/harrison/codeflow/internal/models"
)

// colorScheme defines consistent colors for run output.
// Green: success
// Red: failure or denial
// Yellow: retries and dry runs
// Cyan: stage labels
type colorScheme struct {
	success *color.Color
	fail    *color.Color
	warn    *color.Color
	label   *color.Color
	header  *color.Color
}

func newColorScheme() *colorScheme {
	return &colorScheme{
		success: color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		warn:    color.New(color.FgYellow),
		label:   color.New(color.FgCyan),
		header:  color.New(color.Bold),
	}
}

// forStatus picks the color for a run status.
func (s *colorScheme) forStatus(status models.RunStatus) *color.Color {
	switch status {
	case models.RunSucceeded:
		return s.success
	case models.RunAborted:
		return s.warn
	case models.RunFailed:
		return s.fail
	default:
		return s.label
	}
}
