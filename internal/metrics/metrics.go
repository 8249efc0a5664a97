// Package metrics holds the Prometheus collectors of the audit and alert pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricEventsRecordedTotal  = "monev_activity_events_recorded_total"
	MetricSweepRunsTotal       = "monev_notification_sweep_runs_total"
	MetricSweepDuration        = "monev_notification_sweep_duration_seconds"
	MetricSweepEventsTotal     = "monev_notification_sweep_events_total"
	MetricDispatchTotal        = "monev_notification_dispatch_total"
	MetricBlacklistChecksTotal = "monev_token_blacklist_checks_total"
	MetricBlacklistPurgedTotal = "monev_token_blacklist_purged_total"
)

// Sweep outcomes.
const (
	SweepSuccess = "success"
	SweepEmpty   = "empty"
	SweepFailure = "failure"
)

// Per-event sweep outcomes.
const (
	EventNotified = "notified"
	EventFailed   = "failed"
)

// Dispatch outcomes.
const (
	DispatchDelivered = "delivered"
	DispatchFailed    = "failed"
	DispatchSkipped   = "skipped"
)

// Blacklist check outcomes.
const (
	CheckHit   = "hit"
	CheckMiss  = "miss"
	CheckError = "error"
)

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	eventsRecorded  *prometheus.CounterVec
	sweepRuns       *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
	sweepEvents     *prometheus.CounterVec
	dispatch        *prometheus.CounterVec
	blacklistChecks *prometheus.CounterVec
	blacklistPurged prometheus.Counter
}

// New creates the collectors without registering them; call Register.
func New() *Metrics {
	return &Metrics{
		eventsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricEventsRecordedTotal,
				Help: "Activity events durably recorded, by severity",
			},
			[]string{"severity"},
		),
		sweepRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSweepRunsTotal,
				Help: "Notification sweep runs by result",
			},
			[]string{"result"},
		),
		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricSweepDuration,
				Help:    "Duration of notification sweeps in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		sweepEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSweepEventsTotal,
				Help: "Events processed by the notification sweep, by outcome",
			},
			[]string{"outcome"},
		),
		dispatch: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricDispatchTotal,
				Help: "Notification deliveries by channel and result",
			},
			[]string{"channel", "result"},
		),
		blacklistChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBlacklistChecksTotal,
				Help: "Token blacklist lookups by result",
			},
			[]string{"result"},
		),
		blacklistPurged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricBlacklistPurgedTotal,
				Help: "Expired token blacklist entries removed by the sweep",
			},
		),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.eventsRecorded,
		m.sweepRuns,
		m.sweepDuration,
		m.sweepEvents,
		m.dispatch,
		m.blacklistChecks,
		m.blacklistPurged,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) EventRecorded(severity string) {
	if m == nil {
		return
	}
	m.eventsRecorded.WithLabelValues(severity).Inc()
}

func (m *Metrics) SweepFinished(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	m.sweepDuration.Observe(duration.Seconds())
}

func (m *Metrics) SweepEvent(outcome string) {
	if m == nil {
		return
	}
	m.sweepEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Dispatch(channel, result string) {
	if m == nil {
		return
	}
	m.dispatch.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) BlacklistCheck(result string) {
	if m == nil {
		return
	}
	m.blacklistChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) BlacklistPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.blacklistPurged.Add(float64(n))
}
