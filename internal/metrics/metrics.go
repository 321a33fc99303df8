// Package metrics exports run statistics in the Prometheus text format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/harrison/codeflow/internal/models"
)

const namespace = "codeflow"

// Recorder implements workflow.Recorder on a private registry, so a process can
// hold several recorders and tests never touch the global registry.
type Recorder struct {
	registry *prometheus.Registry

	RunsTotal         *prometheus.CounterVec
	RunDuration       *prometheus.HistogramVec
	StageAttempts     *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	RetriesTotal      *prometheus.CounterVec
	GuardrailDecision *prometheus.CounterVec
}

// NewRecorder registers every collector on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Terminal runs by mode and status",
			},
			[]string{"mode", "status"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of terminal runs",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"status"},
		),
		StageAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_attempts_total",
				Help:      "Stage attempts by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of individual stage attempts",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"stage"},
		),
		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Retries scheduled by failing stage and failure kind",
			},
			[]string{"stage", "kind"},
		),
		GuardrailDecision: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guardrail_decisions_total",
				Help:      "Guardrail decisions by stage, result and source",
			},
			[]string{"stage", "granted", "source"},
		),
	}
}

// Registry exposes the underlying registry for custom gathering.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveAttempt implements workflow.Recorder.
func (r *Recorder) ObserveAttempt(a models.StageAttempt) {
	r.StageAttempts.WithLabelValues(string(a.Stage), string(a.Outcome)).Inc()
	if d := a.Duration(); d >= 0 {
		r.StageDuration.WithLabelValues(string(a.Stage)).Observe(d.Seconds())
	}
}

// ObserveRetry implements workflow.Recorder.
func (r *Recorder) ObserveRetry(stage models.StageName, kind models.FailureKind) {
	r.RetriesTotal.WithLabelValues(string(stage), string(kind)).Inc()
}

// ObserveGuardrail implements workflow.Recorder.
func (r *Recorder) ObserveGuardrail(d models.GuardrailDecision) {
	r.GuardrailDecision.WithLabelValues(string(d.Stage), fmt.Sprint(d.Granted), string(d.Source)).Inc()
}

// ObserveRun implements workflow.Recorder.
func (r *Recorder) ObserveRun(record *models.RunRecord) {
	r.RunsTotal.WithLabelValues(string(record.Mode), string(record.Status)).Inc()
	if d := record.FinishedAt.Sub(record.StartedAt); d >= 0 {
		r.RunDuration.WithLabelValues(string(record.Status)).Observe(d.Seconds())
	}
}

// WriteTextfile atomically writes every metric to path for node_exporter's
// textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
