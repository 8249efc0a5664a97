package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg))
}

func TestRecorders(t *testing.T) {
	m := New()
	require.NoError(t, m.Register(prometheus.NewRegistry()))

	m.EventRecorded("HIGH")
	m.EventRecorded("HIGH")
	m.SweepFinished(SweepSuccess, 20*time.Millisecond)
	m.SweepEvent(EventNotified)
	m.Dispatch("email", DispatchFailed)
	m.BlacklistCheck(CheckHit)
	m.BlacklistPurged(3)
	m.BlacklistPurged(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsRecorded.WithLabelValues("HIGH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepRuns.WithLabelValues(SweepSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatch.WithLabelValues("email", DispatchFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blacklistChecks.WithLabelValues(CheckHit)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.blacklistPurged))
	assert.Equal(t, 1, testutil.CollectAndCount(m.sweepDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventRecorded("LOW")
		m.SweepFinished(SweepEmpty, time.Second)
		m.SweepEvent(EventFailed)
		m.Dispatch("push", DispatchDelivered)
		m.BlacklistCheck(CheckMiss)
		m.BlacklistPurged(1)
	})
}
