package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerMetrics records event processing outcomes.
type WorkerMetrics struct {
	outcomes    *prometheus.CounterVec
	deadLetters *prometheus.CounterVec
	duration    prometheus.Histogram
	reconciled  *prometheus.CounterVec
}

// NewWorkerMetrics registers the worker metrics on the provided registerer.
func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	if reg == nil {
		return &WorkerMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "event_processing_outcomes_total",
		Help: "Inbound event processing results by outcome.",
	}, []string{"outcome"})
	deadLetters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "event_dead_letters_total",
		Help: "Events moved to the dead letter channel by reason.",
	}, []string{"reason"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "event_processing_duration_seconds",
		Help:    "Time spent processing one claimed event.",
		Buckets: prometheus.DefBuckets,
	})
	reconciled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_results_total",
		Help: "Reconciliation checks by result.",
	}, []string{"result"})
	reg.MustRegister(outcomes, deadLetters, duration, reconciled)
	return &WorkerMetrics{
		outcomes:    outcomes,
		deadLetters: deadLetters,
		duration:    duration,
		reconciled:  reconciled,
	}
}

func (m *WorkerMetrics) IncOutcome(outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *WorkerMetrics) IncDeadLetter(reason string) {
	if m == nil || m.deadLetters == nil {
		return
	}
	m.deadLetters.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *WorkerMetrics) ObserveDuration(d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}

// IncReconciled counts a reconciliation result (in_sync, corrected, skipped, error).
func (m *WorkerMetrics) IncReconciled(result string) {
	if m == nil || m.reconciled == nil {
		return
	}
	m.reconciled.WithLabelValues(normalizeLabel(result)).Inc()
}
