// Package activity is the event store: it records audit events, serves dashboard reads
// and applies the read, notification and retention mutations.
package activity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/monev-api/internal/metrics"
	"github.com/stanstork/monev-api/internal/models"
	"github.com/stanstork/monev-api/internal/repository"
)

var (
	ErrInvalidEvent = errors.New("invalid activity event")
	ErrNotFound     = errors.New("activity event not found")

	// ErrInvalidRetention rejects retention windows outside [1, MaxRetentionDays].
	ErrInvalidRetention = errors.New("invalid retention window")
)

// MaxRetentionDays keeps the prune cutoff representable.
const MaxRetentionDays = 36500

// Nudger is told when an event worth alerting about has been recorded.
// Implementations must not block.
type Nudger interface {
	Nudge()
}

type Service interface {
	Record(ctx context.Context, event models.ActivityEvent) (models.ActivityEvent, error)
	RecordSafely(ctx context.Context, event models.ActivityEvent) (models.ActivityEvent, bool)

	LogCreate(ctx context.Context, actor models.ActorRef, origin Origin, subject Subject, description string)
	LogUpdate(ctx context.Context, actor models.ActorRef, origin Origin, subject Subject, description string)
	LogDelete(ctx context.Context, actor models.ActorRef, origin Origin, subject Subject, description string)
	LogLogin(ctx context.Context, actor models.ActorRef, origin Origin)
	LogLogout(ctx context.Context, actor models.ActorRef, origin Origin)
	LogLoginFailed(ctx context.Context, email string, origin Origin, reason string)
	LogSecurityEvent(ctx context.Context, origin Origin, subject Subject, description, details string)

	Get(ctx context.Context, id string) (models.ActivityEvent, error)
	Query(ctx context.Context, filter models.ActivityFilter, page models.Page) models.ActivityPage
	FindPendingNotification(ctx context.Context, limit int) ([]models.ActivityEvent, error)

	MarkRead(ctx context.Context, id string) (int64, error)
	MarkAllReadForActor(ctx context.Context, actorID string) (int64, error)
	MarkNotified(ctx context.Context, id string) (int64, error)
	MarkNotifiedBatch(ctx context.Context, ids []string) (int64, error)

	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	PruneOlderThanDays(ctx context.Context, days int) (int64, error)
	Delete(ctx context.Context, id string) (int64, error)
	DeleteBatch(ctx context.Context, ids []string) (int64, error)

	CountByKind(ctx context.Context) map[models.ActivityKind]int64
	CountBySubject(ctx context.Context) map[models.SubjectKind]int64
	CountBySeverity(ctx context.Context) map[models.Severity]int64
	CountUnread(ctx context.Context, actorID string) int64
	CountSince(ctx context.Context, since time.Time) int64
	DailyHistogram(ctx context.Context, days int) []models.ActivityStatDay
	Summary(ctx context.Context, days int) models.ActivitySummary
}

type Option func(*service)

func WithClock(clock func() time.Time) Option {
	return func(s *service) {
		if clock != nil {
			s.now = clock
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *service) { s.metrics = m }
}

// WithNudger wires the sweeper so HIGH and CRITICAL events are processed early.
func WithNudger(n Nudger) Option {
	return func(s *service) { s.nudger = n }
}

type service struct {
	repo    repository.ActivityRepository
	logger  zerolog.Logger
	metrics *metrics.Metrics
	nudger  Nudger
	now     func() time.Time
}

func NewService(repo repository.ActivityRepository, logger zerolog.Logger, opts ...Option) Service {
	s := &service{
		repo:   repo,
		logger: logger.With().Str("component", "activity_service").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks the fields every event must carry.
func Validate(event models.ActivityEvent) error {
	switch {
	case !event.ActivityKind.IsValid():
		return fmt.Errorf("%w: unknown activity kind %q", ErrInvalidEvent, event.ActivityKind)
	case !event.SubjectKind.IsValid():
		return fmt.Errorf("%w: unknown subject kind %q", ErrInvalidEvent, event.SubjectKind)
	case !event.Severity.IsValid():
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidEvent, event.Severity)
	case strings.TrimSpace(event.Description) == "":
		return fmt.Errorf("%w: description is required", ErrInvalidEvent)
	}
	return nil
}

func (s *service) Record(ctx context.Context, event models.ActivityEvent) (models.ActivityEvent, error) {
	event.Description = strings.TrimSpace(event.Description)
	if err := Validate(event); err != nil {
		return models.ActivityEvent{}, err
	}

	saved, err := s.repo.Create(ctx, event)
	if err != nil {
		return models.ActivityEvent{}, fmt.Errorf("record activity: %w", err)
	}
	s.metrics.EventRecorded(string(saved.Severity))

	if !saved.NotificationSent && saved.Severity.AtLeast(models.SeverityHigh) && s.nudger != nil {
		s.nudger.Nudge()
	}
	return saved, nil
}

func (s *service) RecordSafely(ctx context.Context, event models.ActivityEvent) (models.ActivityEvent, bool) {
	saved, err := s.Record(ctx, event)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("activity_kind", string(event.ActivityKind)).
			Str("subject_kind", string(event.SubjectKind)).
			Str("actor_id", event.ActorID).
			Msg("failed to record activity")
		return models.ActivityEvent{}, false
	}
	return saved, true
}

func (s *service) Get(ctx context.Context, id string) (models.ActivityEvent, error) {
	event, err := s.repo.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ActivityEvent{}, ErrNotFound
	}
	return event, err
}

// Query never fails: dashboards get an empty page when storage is unavailable.
func (s *service) Query(ctx context.Context, filter models.ActivityFilter, page models.Page) models.ActivityPage {
	page = page.Normalize()
	result, err := s.repo.Query(ctx, filter, page)
	if err != nil {
		s.logger.Warn().Err(err).Msg("activity query failed")
		return models.ActivityPage{Items: []models.ActivityEvent{}, Limit: page.Limit, Offset: page.Offset}
	}
	if result.Items == nil {
		result.Items = []models.ActivityEvent{}
	}
	return result
}

func (s *service) FindPendingNotification(ctx context.Context, limit int) ([]models.ActivityEvent, error) {
	return s.repo.ListPendingNotification(ctx, limit)
}

func (s *service) MarkRead(ctx context.Context, id string) (int64, error) {
	return s.repo.MarkRead(ctx, id)
}

func (s *service) MarkAllReadForActor(ctx context.Context, actorID string) (int64, error) {
	if strings.TrimSpace(actorID) == "" {
		return 0, fmt.Errorf("%w: actor id is required", ErrInvalidEvent)
	}
	return s.repo.MarkAllReadForActor(ctx, actorID)
}

func (s *service) MarkNotified(ctx context.Context, id string) (int64, error) {
	return s.repo.MarkNotified(ctx, id)
}

func (s *service) MarkNotifiedBatch(ctx context.Context, ids []string) (int64, error) {
	return s.repo.MarkNotifiedBatch(ctx, ids)
}

func (s *service) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune activities: %w", err)
	}
	s.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("pruned activity log")
	return deleted, nil
}

func (s *service) PruneOlderThanDays(ctx context.Context, days int) (int64, error) {
	if days < 1 || days > MaxRetentionDays {
		return 0, fmt.Errorf("%w: must be between 1 and %d days, got %d", ErrInvalidRetention, MaxRetentionDays, days)
	}
	return s.PruneOlderThan(ctx, s.now().UTC().AddDate(0, 0, -days))
}

func (s *service) Delete(ctx context.Context, id string) (int64, error) {
	return s.repo.Delete(ctx, id)
}

func (s *service) DeleteBatch(ctx context.Context, ids []string) (int64, error) {
	return s.repo.DeleteBatch(ctx, ids)
}
