package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stanstork/monev-api/internal/alert"
	"github.com/stanstork/monev-api/internal/metrics"
	"github.com/stanstork/monev-api/internal/models"
	"github.com/stanstork/monev-api/internal/notification"
)

type State string

const (
	StateIdle        State = "IDLE"
	StateScanning    State = "SCANNING"
	StateDispatching State = "DISPATCHING"
)

const (
	DefaultSweepConcurrency = 8
	DefaultSweepBatchSize   = 500
)

// EventStore is the part of the activity service the sweeper needs.
type EventStore interface {
	FindPendingNotification(ctx context.Context, limit int) ([]models.ActivityEvent, error)
	Record(ctx context.Context, event models.ActivityEvent) (models.ActivityEvent, error)
	MarkNotified(ctx context.Context, id string) (int64, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, event models.ActivityEvent, res alert.Resolution) notification.DispatchReport
}

type SweeperConfig struct {
	Concurrency int
	// BatchSize caps the events taken per sweep; the rest wait for the next one.
	BatchSize int
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Pending    int `json:"pending"`
	Notified   int `json:"notified"`
	Failed     int `json:"failed"`
	Monitoring int `json:"monitoring"`
}

// NotificationSweeper finds events not yet notified, dispatches them and marks them.
// Timer ticks and manual triggers share Sweep and never overlap.
type NotificationSweeper struct {
	store      EventStore
	directory  alert.Directory
	dispatcher Dispatcher
	cfg        SweeperConfig
	wake       *Signal
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	run   sync.Mutex
	state atomic.Value
}

func NewNotificationSweeper(
	store EventStore,
	directory alert.Directory,
	dispatcher Dispatcher,
	cfg SweeperConfig,
	wake *Signal,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *NotificationSweeper {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultSweepConcurrency
	}
	if cfg.BatchSize < 0 {
		cfg.BatchSize = DefaultSweepBatchSize
	}
	s := &NotificationSweeper{
		store:      store,
		directory:  directory,
		dispatcher: dispatcher,
		cfg:        cfg,
		wake:       wake,
		metrics:    m,
		logger:     logger.With().Str("component", "notification_sweeper").Logger(),
	}
	s.state.Store(StateIdle)
	return s
}

func (s *NotificationSweeper) State() State {
	return s.state.Load().(State)
}

// Nudge asks for an early sweep without waiting for it.
func (s *NotificationSweeper) Nudge() {
	s.wake.Nudge()
}

// Trigger runs a sweep now, for operator-initiated processing.
func (s *NotificationSweeper) Trigger(ctx context.Context) (SweepResult, error) {
	return s.Sweep(ctx)
}

// Task adapts Sweep to the periodic runner.
func (s *NotificationSweeper) Task() Task {
	return func(ctx context.Context) error {
		_, err := s.Sweep(ctx)
		return err
	}
}

func (s *NotificationSweeper) Sweep(ctx context.Context) (SweepResult, error) {
	s.run.Lock()
	defer s.run.Unlock()

	start := time.Now()
	defer s.state.Store(StateIdle)

	result, err := s.sweep(ctx)

	outcome := metrics.SweepSuccess
	switch {
	case err != nil:
		outcome = metrics.SweepFailure
	case result.Pending == 0:
		outcome = metrics.SweepEmpty
	}
	s.metrics.SweepFinished(outcome, time.Since(start))

	if err == nil && result.Pending > 0 {
		s.logger.Info().
			Int("pending", result.Pending).
			Int("notified", result.Notified).
			Int("failed", result.Failed).
			Int("monitoring", result.Monitoring).
			Dur("took", time.Since(start)).
			Msg("notification sweep finished")
	}
	return result, err
}

func (s *NotificationSweeper) sweep(ctx context.Context) (SweepResult, error) {
	s.state.Store(StateScanning)

	events, err := s.store.FindPendingNotification(ctx, s.cfg.BatchSize)
	if err != nil {
		return SweepResult{}, errors.Wrap(err, "failed to read pending events")
	}
	result := SweepResult{Pending: len(events)}
	if len(events) == 0 {
		return result, nil
	}

	admins, err := s.admins(ctx, events)
	if err != nil {
		return result, err
	}

	s.state.Store(StateDispatching)

	var (
		notified, failed, monitoring atomic.Int64
		g                            errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)
	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		event := event
		g.Go(func() error {
			recordedMonitor, err := s.process(ctx, event, admins)
			if recordedMonitor {
				monitoring.Add(1)
			}
			if err != nil {
				failed.Add(1)
				s.metrics.SweepEvent(metrics.EventFailed)
				s.logger.Error().Err(err).Str("event_id", event.ID).Msg("failed to process pending event")
				return nil
			}
			notified.Add(1)
			s.metrics.SweepEvent(metrics.EventNotified)
			return nil
		})
	}
	_ = g.Wait()

	result.Notified = int(notified.Load())
	result.Failed = int(failed.Load())
	result.Monitoring = int(monitoring.Load())
	if err := ctx.Err(); err != nil {
		return result, errors.Wrap(err, "sweep interrupted")
	}
	return result, nil
}

// admins queries the directory once per sweep, and only when some event needs it.
func (s *NotificationSweeper) admins(ctx context.Context, events []models.ActivityEvent) ([]models.ActorRef, error) {
	for _, event := range events {
		if !alert.NeedsAdmins(event.Severity) {
			continue
		}
		admins, err := s.directory.ListAdminActors(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to resolve admin actors")
		}
		return admins, nil
	}
	return nil, nil
}

// process dispatches first and marks afterwards, so a crash in between re-sends
// rather than loses the notification. The monitoring record follows the first
// successful mark, so an event that keeps failing to mark is monitored once.
func (s *NotificationSweeper) process(ctx context.Context, event models.ActivityEvent, admins []models.ActorRef) (bool, error) {
	res := alert.Resolve(event, admins)

	if !res.Empty() {
		report := s.dispatcher.Dispatch(ctx, event, res)
		s.logger.Debug().
			Str("event_id", event.ID).
			Str("severity", string(event.Severity)).
			Int("attempted", report.Attempted).
			Int("failed", report.Failed).
			Msg("event dispatched")
	}

	rows, err := s.store.MarkNotified(ctx, event.ID)
	if err != nil {
		return false, errors.Wrapf(err, "failed to mark event %s notified", event.ID)
	}

	if !res.Monitor || rows == 0 || alert.IsMonitoringEvent(event) {
		return false, nil
	}
	if _, err := s.store.Record(ctx, alert.MonitoringEvent(event)); err != nil {
		s.logger.Warn().Err(err).Str("event_id", event.ID).Msg("failed to record monitoring event")
		return false, nil
	}
	return true, nil
}
