// Package metrics exposes Prometheus collectors for step attempts, document
// outcomes, and discovery. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sfcfetch"

// Outcome labels.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	stepAttempts     *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	stepOutcomes     *prometheus.CounterVec
	documentOutcomes *prometheus.CounterVec
	discovered       *prometheus.CounterVec
	activeRuns       prometheus.Gauge
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stepAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_attempts_total",
				Help:      "Step handler invocations by step and result",
			},
			[]string{"step", "result"}, // result: success, error
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_attempt_duration_seconds",
				Help:      "Duration of individual step attempts in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"step"},
		),
		stepOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_outcomes_total",
				Help:      "Final step outcomes by step",
			},
			[]string{"step", "outcome"}, // outcome: completed, skipped, failed
		),
		documentOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_processed_total",
				Help:      "Documents finished by workflow type and outcome",
			},
			[]string{"workflow_type", "outcome"}, // outcome: completed, failed
		),
		discovered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_discovered_total",
				Help:      "Discovery results by workflow type; existing counts duplicates that were skipped",
			},
			[]string{"workflow_type", "result"}, // result: new, existing
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workflow_runs_active",
				Help:      "Workflow driver loops currently running",
			},
		),
	}
	m.registry.MustRegister(
		m.stepAttempts,
		m.stepDuration,
		m.stepOutcomes,
		m.documentOutcomes,
		m.discovered,
		m.activeRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveStepAttempt records one handler invocation.
func (m *Metrics) ObserveStepAttempt(step string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := OutcomeSuccess
	if err != nil {
		result = OutcomeError
	}
	m.stepAttempts.WithLabelValues(step, result).Inc()
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordStepOutcome records the final outcome of a step for one document.
func (m *Metrics) RecordStepOutcome(step, outcome string) {
	if m == nil {
		return
	}
	m.stepOutcomes.WithLabelValues(step, outcome).Inc()
}

// RecordDocument records a finished document.
func (m *Metrics) RecordDocument(workflowType, outcome string) {
	if m == nil {
		return
	}
	m.documentOutcomes.WithLabelValues(workflowType, outcome).Inc()
}

// RecordDiscovery records the result of a discovery pass.
func (m *Metrics) RecordDiscovery(workflowType string, discovered, existing int) {
	if m == nil {
		return
	}
	m.discovered.WithLabelValues(workflowType, "new").Add(float64(discovered))
	m.discovered.WithLabelValues(workflowType, "existing").Add(float64(existing))
}

// RunStarted increments the active run gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

// RunFinished decrements the active run gauge.
func (m *Metrics) RunFinished() {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
}
