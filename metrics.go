package polywrite

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for saga execution. A nil *Metrics
// is valid and records nothing, so instrumentation stays optional.
type Metrics struct {
	sagasStarted       prometheus.Counter
	sagasCompleted     prometheus.Counter
	sagasFailed        prometheus.Counter
	sagasCompensated   prometheus.Counter
	compensationFailed prometheus.Counter

	sagaDuration prometheus.Histogram
	stepDuration *prometheus.HistogramVec

	compensationErrors prometheus.Counter
}

// NewMetrics creates the saga collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sagasStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saga_started_total",
			Help: "Total saga transactions started.",
		}),
		sagasCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saga_completed_total",
			Help: "Total saga transactions that completed successfully.",
		}),
		sagasFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saga_failed_total",
			Help: "Total saga transactions that failed at a step.",
		}),
		sagasCompensated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saga_compensated_total",
			Help: "Total failed sagas whose compensation fully succeeded.",
		}),
		compensationFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saga_compensation_failed_total",
			Help: "Total failed sagas whose compensation itself failed.",
		}),
		sagaDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "saga_duration_seconds",
			Help:    "Saga transaction duration.",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "saga_step_duration_seconds",
			Help:    "Step execution duration by step name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step"}),
		compensationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saga_step_compensation_errors_total",
			Help: "Total per-step compensation failures.",
		}),
	}

	reg.MustRegister(
		m.sagasStarted,
		m.sagasCompleted,
		m.sagasFailed,
		m.sagasCompensated,
		m.compensationFailed,
		m.sagaDuration,
		m.stepDuration,
		m.compensationErrors,
	)

	return m
}

func (m *Metrics) observeStarted() {
	if m == nil {
		return
	}
	m.sagasStarted.Inc()
}

func (m *Metrics) observeStep(name StepName, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(name.String()).Observe(d.Seconds())
}

func (m *Metrics) observeOutcome(status Status, d time.Duration) {
	if m == nil {
		return
	}
	switch status {
	case StatusCompleted:
		m.sagasCompleted.Inc()
	case StatusCompensated:
		m.sagasFailed.Inc()
		m.sagasCompensated.Inc()
	case StatusCompensationFailed:
		m.sagasFailed.Inc()
		m.compensationFailed.Inc()
	}
	m.sagaDuration.Observe(d.Seconds())
}

func (m *Metrics) observeCompensationError() {
	if m == nil {
		return
	}
	m.compensationErrors.Inc()
}
