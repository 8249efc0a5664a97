package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stanstork/monev-api/internal/alert"
	"github.com/stanstork/monev-api/internal/metrics"
	"github.com/stanstork/monev-api/internal/models"
	"github.com/stanstork/monev-api/internal/repository"
)

const (
	DefaultChannelTimeout = 10 * time.Second
	// DefaultMaxInFlight caps concurrent deliveries for one Dispatch call.
	DefaultMaxInFlight = 16
)

// DispatchReport summarizes one Dispatch call. It exists for metrics and tests;
// callers never act on delivery outcomes.
type DispatchReport struct {
	Attempted int
	Delivered int
	Failed    int
	Skipped   int
}

type DispatcherOption func(*Dispatcher)

func WithEmailSender(s EmailSender) DispatcherOption {
	return func(d *Dispatcher) { d.email = s }
}

func WithPushSender(s PushSender) DispatcherOption {
	return func(d *Dispatcher) { d.push = s }
}

func WithLiveSocket(l LiveSocket) DispatcherOption {
	return func(d *Dispatcher) { d.live = l }
}

func WithChannelTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithMaxInFlight bounds how many (recipient, channel) deliveries one Dispatch runs at once.
func WithMaxInFlight(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxInFlight = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher delivers one event to its resolved recipients. Each (recipient, channel)
// pair runs under its own timeout, at most maxInFlight at a time, and failures never escape.
type Dispatcher struct {
	inbox       repository.NotificationRepository
	email       EmailSender
	push        PushSender
	live        LiveSocket
	timeout     time.Duration
	maxInFlight int
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

func NewDispatcher(inbox repository.NotificationRepository, logger zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		inbox:       inbox,
		timeout:     DefaultChannelTimeout,
		maxInFlight: DefaultMaxInFlight,
		logger:      logger.With().Str("component", "notification_dispatcher").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) SendEmail(ctx context.Context, actor models.ActorRef, event models.ActivityEvent, priority string) error {
	if d.email == nil {
		return ErrChannelDisabled
	}
	if actor.Email == "" {
		return ErrNoAddress
	}
	return d.email.Send(ctx, actor.Email, emailSubject(event, priority), emailBody(event, priority))
}

func (d *Dispatcher) SendPush(ctx context.Context, actor models.ActorRef, event models.ActivityEvent) error {
	if d.push == nil {
		return ErrChannelDisabled
	}
	if actor.ID == "" {
		return ErrNoAddress
	}
	return d.push.Send(ctx, actor.ID, titleFor(event), event.Description)
}

// SendInApp stores the notification, then tries the live socket. An actor without an
// open connection still has the stored notification, so that case is not an error.
func (d *Dispatcher) SendInApp(ctx context.Context, actor models.ActorRef, event models.ActivityEvent) error {
	if d.inbox == nil {
		return ErrChannelDisabled
	}
	if actor.ID == "" {
		return ErrNoAddress
	}
	notif, err := d.inbox.Create(ctx, repository.CreateNotificationParams{
		UserID:     actor.ID,
		ActivityID: event.ID,
		Severity:   event.Severity,
		Title:      titleFor(event),
		Message:    event.Description,
	})
	if err != nil {
		return err
	}

	if d.live == nil {
		return nil
	}
	payload, err := json.Marshal(liveMessage{Type: "notification", Notification: notif})
	if err != nil {
		d.logger.Warn().Err(err).Str("notification_id", notif.ID).Msg("failed to encode live notification")
		return nil
	}
	if !d.live.TryPush(actor.ID, payload) {
		d.logger.Debug().Str("actor_id", actor.ID).Str("notification_id", notif.ID).Msg("no live connection")
	}
	return nil
}

type liveMessage struct {
	Type         string              `json:"type"`
	Notification models.Notification `json:"notification"`
}

// Dispatch blocks until every delivery attempt has finished or timed out.
// The group has no shared context, so one failed pair never cancels the others.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.ActivityEvent, res alert.Resolution) DispatchReport {
	var (
		mu     sync.Mutex
		g      errgroup.Group
		report DispatchReport
	)
	g.SetLimit(d.maxInFlight)

	for _, recipient := range res.Recipients {
		for _, channel := range res.Channels {
			recipient, channel := recipient, channel
			g.Go(func() error {
				err := d.call(ctx, func(ctx context.Context) error {
					return d.send(ctx, channel, recipient, event, res.Priority)
				})

				result := metrics.DispatchDelivered
				switch {
				case errors.Is(err, ErrChannelDisabled), errors.Is(err, ErrNoAddress):
					result = metrics.DispatchSkipped
				case err != nil:
					result = metrics.DispatchFailed
					logDeliveryError(d.logger, err, string(channel), recipient, event)
				}
				d.metrics.Dispatch(string(channel), result)

				mu.Lock()
				report.Attempted++
				switch result {
				case metrics.DispatchDelivered:
					report.Delivered++
				case metrics.DispatchSkipped:
					report.Skipped++
				default:
					report.Failed++
				}
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()
	return report
}

func (d *Dispatcher) send(ctx context.Context, channel alert.Channel, actor models.ActorRef, event models.ActivityEvent, priority string) error {
	switch channel {
	case alert.ChannelEmail:
		return d.SendEmail(ctx, actor, event, priority)
	case alert.ChannelPush:
		return d.SendPush(ctx, actor, event)
	case alert.ChannelInApp:
		return d.SendInApp(ctx, actor, event)
	}
	return ErrChannelDisabled
}

// call returns when fn does or when the channel timeout expires, whichever comes first.
// A sender that ignores ctx keeps running in the background but no longer holds up the sweep.
func (d *Dispatcher) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrSenderPanic, r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
