package polywrite

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsObserveOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.observeStarted()
	m.observeStarted()
	m.observeStep("db_insert", 10*time.Millisecond)
	m.observeOutcome(StatusCompleted, time.Second)
	m.observeOutcome(StatusCompensated, time.Second)
	m.observeOutcome(StatusCompensationFailed, time.Second)
	m.observeCompensationError()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sagasStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sagasCompleted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sagasFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sagasCompensated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compensationFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compensationErrors))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.observeStarted()
		m.observeStep("db_insert", time.Millisecond)
		m.observeOutcome(StatusCompleted, time.Second)
		m.observeCompensationError()
	})
}
