// Package metrics exposes Prometheus metrics for orchestrated procedure runs.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/voxelops/internal/validation"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Rule check outcomes.
const (
	OutcomePassed  = "passed"
	OutcomeError   = "error"
	OutcomeWarning = "warning"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	RuleChecksTotal    *prometheus.CounterVec
	AuditWriteFailures *prometheus.CounterVec
}

// NewMetrics registers the collectors with the default registry once and
// returns the shared instance.
//
// Metrics:
//   - voxelops_procedure_runs_total{procedure,status}
//   - voxelops_procedure_duration_seconds{procedure}
//   - voxelops_rule_checks_total{procedure,phase,rule,outcome}
//   - voxelops_audit_write_failures_total{procedure}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "voxelops_procedure_runs_total",
					Help: "Total number of orchestrated procedure runs by terminal status",
				},
				[]string{"procedure", "status"},
			),

			RunDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "voxelops_procedure_duration_seconds",
					Help:    "Wall time of orchestrated procedure runs in seconds",
					Buckets: prometheus.ExponentialBuckets(1, 4, 10), // 1s to ~3d
				},
				[]string{"procedure"},
			),

			RuleChecksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "voxelops_rule_checks_total",
					Help: "Total number of validation rule checks by outcome",
				},
				[]string{"procedure", "phase", "rule", "outcome"},
			),

			AuditWriteFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "voxelops_audit_write_failures_total",
					Help: "Total number of audit events that could not be written",
				},
				[]string{"procedure"},
			),
		}
	})

	return globalMetrics
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(procedure, status string, durationSeconds float64) {
	m.RunsTotal.WithLabelValues(procedure, status).Inc()
	m.RunDuration.WithLabelValues(procedure).Observe(durationSeconds)
}

// ObserveReport counts every rule result in a report.
func (m *Metrics) ObserveReport(r *validation.Report) {
	if r == nil {
		return
	}
	for _, res := range r.Results {
		m.RuleChecksTotal.WithLabelValues(r.Procedure, string(r.Phase), res.RuleName, Outcome(res)).Inc()
	}
}

// RecordAuditFailure records an audit event that was not written.
func (m *Metrics) RecordAuditFailure(procedure string) {
	m.AuditWriteFailures.WithLabelValues(procedure).Inc()
}

// Outcome maps a rule result to its outcome label.
func Outcome(res validation.Result) string {
	switch {
	case res.Passed:
		return OutcomePassed
	case res.Severity == validation.SeverityWarning:
		return OutcomeWarning
	default:
		return OutcomeError
	}
}
