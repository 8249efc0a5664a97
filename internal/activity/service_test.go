package activity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/stanstork/monev-api/internal/metrics"
	"github.com/stanstork/monev-api/internal/models"
	"github.com/stanstork/monev-api/internal/repository"
)

type countingNudger struct{ n atomic.Int32 }

func (c *countingNudger) Nudge() { c.n.Add(1) }

// brokenRepository fails every call.
type brokenRepository struct {
	repository.ActivityRepository
}

var errStorage = errors.New("storage down")

func (brokenRepository) Create(context.Context, models.ActivityEvent) (models.ActivityEvent, error) {
	return models.ActivityEvent{}, errStorage
}

func (brokenRepository) Query(context.Context, models.ActivityFilter, models.Page) (models.ActivityPage, error) {
	return models.ActivityPage{}, errStorage
}

func (brokenRepository) CountByKind(context.Context) (map[models.ActivityKind]int64, error) {
	return nil, errStorage
}

func (brokenRepository) CountBySubject(context.Context) (map[models.SubjectKind]int64, error) {
	return nil, errStorage
}

func (brokenRepository) CountBySeverity(context.Context) (map[models.Severity]int64, error) {
	return nil, errStorage
}

func (brokenRepository) CountUnread(context.Context, string) (int64, error) { return 0, errStorage }

func (brokenRepository) CountSince(context.Context, time.Time) (int64, error) { return 0, errStorage }

func (brokenRepository) DailyHistogram(context.Context, int, time.Time) ([]models.ActivityStatDay, error) {
	return nil, errStorage
}

func (brokenRepository) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, errStorage
}

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	now     time.Time
	repo    *repository.InMemoryActivityRepository
	nudger  *countingNudger
	metrics *metrics.Metrics
	svc     Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s.repo = repository.NewInMemoryActivityRepository(repository.WithActivityClock(s.clock))
	s.nudger = &countingNudger{}
	s.metrics = metrics.New()
	s.Require().NoError(s.metrics.Register(prometheus.NewRegistry()))
	s.svc = NewService(s.repo, zerolog.Nop(),
		WithClock(s.clock),
		WithMetrics(s.metrics),
		WithNudger(s.nudger),
	)
}

func (s *ServiceSuite) clock() time.Time { return s.now }

func (s *ServiceSuite) event(severity models.Severity, description string) models.ActivityEvent {
	return models.ActivityEvent{
		ActivityKind: models.ActivityUpdate,
		SubjectKind:  models.SubjectProgram,
		Description:  description,
		Severity:     severity,
	}
}

func (s *ServiceSuite) record(event models.ActivityEvent) models.ActivityEvent {
	saved, err := s.svc.Record(s.ctx, event)
	s.Require().NoError(err)
	return saved
}

func (s *ServiceSuite) TestRecord() {
	s.Run("assigns id and created_at", func() {
		saved := s.record(s.event(models.SeverityLow, "  program renamed  "))
		s.NotEmpty(saved.ID)
		s.Equal(s.now, saved.CreatedAt)
		s.Equal("program renamed", saved.Description)
		s.False(saved.IsRead)
		s.False(saved.NotificationSent)

		got, err := s.svc.Get(s.ctx, saved.ID)
		s.Require().NoError(err)
		s.Equal(saved, got)
	})

	s.Run("ids are unique", func() {
		a := s.record(s.event(models.SeverityLow, "a"))
		b := s.record(s.event(models.SeverityLow, "b"))
		s.NotEqual(a.ID, b.ID)
	})
}

func (s *ServiceSuite) TestRecordValidation() {
	cases := map[string]func(*models.ActivityEvent){
		"missing activity kind": func(e *models.ActivityEvent) { e.ActivityKind = "" },
		"unknown activity kind": func(e *models.ActivityEvent) { e.ActivityKind = "TELEPORT" },
		"missing subject kind":  func(e *models.ActivityEvent) { e.SubjectKind = "" },
		"unknown severity":      func(e *models.ActivityEvent) { e.Severity = "URGENT" },
		"blank description":     func(e *models.ActivityEvent) { e.Description = "   " },
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			e := s.event(models.SeverityLow, "valid")
			mutate(&e)
			_, err := s.svc.Record(s.ctx, e)
			s.Require().ErrorIs(err, ErrInvalidEvent)
		})
	}
	page := s.svc.Query(s.ctx, models.ActivityFilter{}, models.Page{})
	s.Zero(page.Total)
}

func (s *ServiceSuite) TestRecordSurfacesStorageErrors() {
	svc := NewService(brokenRepository{}, zerolog.Nop())
	_, err := svc.Record(s.ctx, s.event(models.SeverityLow, "x"))
	s.Require().ErrorIs(err, errStorage)

	_, ok := svc.RecordSafely(s.ctx, s.event(models.SeverityLow, "x"))
	s.False(ok)
}

func (s *ServiceSuite) TestRecordNudgesOnlyForHighSignal() {
	s.record(s.event(models.SeverityLow, "low"))
	s.record(s.event(models.SeverityMedium, "medium"))
	s.Equal(int32(0), s.nudger.n.Load())

	s.record(s.event(models.SeverityHigh, "high"))
	s.record(s.event(models.SeverityCritical, "critical"))
	s.Equal(int32(2), s.nudger.n.Load())

	side := s.event(models.SeverityCritical, "already handled")
	side.NotificationSent = true
	s.record(side)
	s.Equal(int32(2), s.nudger.n.Load())
}

func (s *ServiceSuite) TestGetMissing() {
	_, err := s.svc.Get(s.ctx, "0195d1a0-0000-7000-8000-000000000000")
	s.Require().ErrorIs(err, ErrNotFound)
}

func (s *ServiceSuite) TestQuery() {
	alice := models.ActorRef{ID: "u-alice", Email: "alice@example.org"}
	for i, sev := range []models.Severity{models.SeverityLow, models.SeverityHigh, models.SeverityLow} {
		e := s.event(sev, "Budget report exported")
		if i == 1 {
			e = e.WithActor(alice)
			e.Description = "Stage approved"
		}
		s.record(e)
		s.now = s.now.Add(time.Minute)
	}

	s.Run("empty filter returns everything newest first", func() {
		page := s.svc.Query(s.ctx, models.ActivityFilter{}, models.Page{Limit: 2})
		s.Equal(int64(3), page.Total)
		s.Require().Len(page.Items, 2)
		s.True(page.Items[0].CreatedAt.After(page.Items[1].CreatedAt))
	})

	s.Run("filters combine", func() {
		page := s.svc.Query(s.ctx, models.ActivityFilter{Severity: models.SeverityHigh, ActorID: "u-alice"}, models.Page{})
		s.Require().Len(page.Items, 1)
		s.Equal("Stage approved", page.Items[0].Description)
	})

	s.Run("search is case-insensitive", func() {
		page := s.svc.Query(s.ctx, models.ActivityFilter{Search: "BUDGET"}, models.Page{})
		s.Equal(int64(2), page.Total)
	})

	s.Run("storage failure degrades to an empty page", func() {
		svc := NewService(brokenRepository{}, zerolog.Nop())
		page := svc.Query(s.ctx, models.ActivityFilter{}, models.Page{})
		s.NotNil(page.Items)
		s.Empty(page.Items)
		s.Equal(models.DefaultPageLimit, page.Limit)
	})
}

func (s *ServiceSuite) TestMarkReadIsIdempotent() {
	saved := s.record(s.event(models.SeverityLow, "x"))

	n, err := s.svc.MarkRead(s.ctx, saved.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	n, err = s.svc.MarkRead(s.ctx, saved.ID)
	s.Require().NoError(err)
	s.Zero(n)

	got, err := s.svc.Get(s.ctx, saved.ID)
	s.Require().NoError(err)
	s.True(got.IsRead)
}

func (s *ServiceSuite) TestMarkAllReadForActor() {
	bob := models.ActorRef{ID: "u-bob"}
	s.record(s.event(models.SeverityLow, "1").WithActor(bob))
	s.record(s.event(models.SeverityLow, "2").WithActor(bob))
	s.record(s.event(models.SeverityLow, "3"))

	n, err := s.svc.MarkAllReadForActor(s.ctx, "u-bob")
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	n, err = s.svc.MarkAllReadForActor(s.ctx, "u-bob")
	s.Require().NoError(err)
	s.Zero(n)

	s.Equal(int64(1), s.svc.CountUnread(s.ctx, ""))
	s.Zero(s.svc.CountUnread(s.ctx, "u-bob"))

	_, err = s.svc.MarkAllReadForActor(s.ctx, " ")
	s.ErrorIs(err, ErrInvalidEvent)
}

func (s *ServiceSuite) TestPendingNotificationOrderAndMarking() {
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, s.record(s.event(models.SeverityLow, "e")).ID)
	}

	pending, err := s.svc.FindPendingNotification(s.ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(pending, 5)
	for i, e := range pending {
		s.Equal(ids[i], e.ID)
	}

	n, err := s.svc.MarkNotified(s.ctx, ids[0])
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	n, err = s.svc.MarkNotifiedBatch(s.ctx, ids)
	s.Require().NoError(err)
	s.Equal(int64(4), n)

	n, err = s.svc.MarkNotifiedBatch(s.ctx, ids)
	s.Require().NoError(err)
	s.Zero(n)

	pending, err = s.svc.FindPendingNotification(s.ctx, 0)
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *ServiceSuite) TestPruneBoundary() {
	cutoff := s.now
	s.now = cutoff.Add(-time.Second)
	old := s.record(s.event(models.SeverityLow, "old"))
	s.now = cutoff
	atCutoff := s.record(s.event(models.SeverityLow, "at cutoff"))
	s.now = cutoff.Add(time.Second)
	newer := s.record(s.event(models.SeverityLow, "newer"))

	deleted, err := s.svc.PruneOlderThan(s.ctx, cutoff)
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)

	_, err = s.svc.Get(s.ctx, old.ID)
	s.ErrorIs(err, ErrNotFound)
	for _, id := range []string{atCutoff.ID, newer.ID} {
		_, err := s.svc.Get(s.ctx, id)
		s.NoError(err)
	}
}

func (s *ServiceSuite) TestPruneOlderThanDays() {
	s.now = s.now.AddDate(0, 0, -40)
	s.record(s.event(models.SeverityLow, "ancient"))
	s.now = s.now.AddDate(0, 0, 40)
	s.record(s.event(models.SeverityLow, "fresh"))

	deleted, err := s.svc.PruneOlderThanDays(s.ctx, 30)
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)

	_, err = s.svc.PruneOlderThanDays(s.ctx, 0)
	s.ErrorIs(err, ErrInvalidRetention)
	_, err = s.svc.PruneOlderThanDays(s.ctx, 1<<50)
	s.ErrorIs(err, ErrInvalidRetention)
	s.Equal(int64(1), s.svc.CountUnread(s.ctx, ""))

	_, err = NewService(brokenRepository{}, zerolog.Nop()).PruneOlderThan(s.ctx, s.now)
	s.ErrorIs(err, errStorage)
}

func (s *ServiceSuite) TestDelete() {
	a := s.record(s.event(models.SeverityLow, "a"))
	b := s.record(s.event(models.SeverityLow, "b"))
	c := s.record(s.event(models.SeverityLow, "c"))

	n, err := s.svc.Delete(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	n, err = s.svc.DeleteBatch(s.ctx, []string{a.ID, b.ID, c.ID, ""})
	s.Require().NoError(err)
	s.Equal(int64(2), n)
}

func (s *ServiceSuite) TestStatistics() {
	s.record(s.event(models.SeverityCritical, "c"))
	s.record(s.event(models.SeverityHigh, "h"))
	s.now = s.now.AddDate(0, 0, -2)
	s.record(s.event(models.SeverityLow, "l"))
	s.now = s.now.AddDate(0, 0, 2)

	sum := s.svc.Summary(s.ctx, 3)
	s.Equal(int64(3), sum.Total)
	s.Equal(int64(3), sum.Unread)
	s.Equal(int64(2), sum.Last24Hours)
	s.Equal(int64(3), sum.ByKind[models.ActivityUpdate])
	s.Equal(int64(3), sum.BySubject[models.SubjectProgram])
	s.Equal(int64(1), sum.BySeverity[models.SeverityCritical])

	s.Require().Len(sum.PerDay, 3)
	s.Equal(int64(1), sum.PerDay[0].Total)
	s.Zero(sum.PerDay[1].Total)
	s.Equal(int64(2), sum.PerDay[2].Total)
	s.Equal(int64(1), sum.PerDay[2].Critical)
	s.Equal(int64(1), sum.PerDay[2].High)
}

func (s *ServiceSuite) TestHistogramWindowIsClamped() {
	s.record(s.event(models.SeverityLow, "l"))

	var sum models.ActivitySummary
	s.Require().NotPanics(func() { sum = s.svc.Summary(s.ctx, 1<<50) })
	s.Len(sum.PerDay, MaxHistogramDays)
	s.Equal(int64(1), sum.PerDay[MaxHistogramDays-1].Total)

	broken := NewService(brokenRepository{}, zerolog.Nop(), WithClock(s.clock))
	s.Require().NotPanics(func() { s.Len(broken.DailyHistogram(s.ctx, 1<<50), MaxHistogramDays) })
}

func (s *ServiceSuite) TestStatisticsDegrade() {
	svc := NewService(brokenRepository{}, zerolog.Nop(), WithClock(s.clock))
	sum := svc.Summary(s.ctx, 5)

	s.Zero(sum.Total)
	s.Zero(sum.Unread)
	s.Empty(sum.ByKind)
	s.Require().Len(sum.PerDay, 5)
	s.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), sum.PerDay[4].Day)
	for _, day := range sum.PerDay {
		s.Zero(day.Total)
	}
}

func (s *ServiceSuite) TestConvenienceLoggers() {
	actor := models.ActorRef{ID: "u-1", Email: "op@example.org", Name: "Operator"}
	origin := Origin{SourceAddress: "192.0.2.10", UserAgent: "curl/8"}
	subject := Subject{Kind: models.SubjectOutput, ID: "out-9", Name: "Output 9"}

	s.svc.LogCreate(s.ctx, actor, origin, subject, "output created")
	s.svc.LogDelete(s.ctx, actor, origin, subject, "output deleted")
	s.svc.LogLogin(s.ctx, actor, origin)
	s.svc.LogLoginFailed(s.ctx, "intruder@example.org", origin, "bad password")
	s.svc.LogSecurityEvent(s.ctx, origin, Subject{}, "token replay detected", "")

	page := s.svc.Query(s.ctx, models.ActivityFilter{}, models.Page{})
	s.Require().Len(page.Items, 5)

	byKind := make(map[models.ActivityKind]models.ActivityEvent)
	for _, e := range page.Items {
		byKind[e.ActivityKind] = e
	}
	s.Equal(models.SeverityMedium, byKind[models.ActivityDelete].Severity)
	s.Equal("192.0.2.10", byKind[models.ActivityCreate].SourceAddress)
	s.Equal("u-1", byKind[models.ActivityLogin].ActorID)

	failed := byKind[models.ActivityLoginFailed]
	s.Equal(models.SeverityHigh, failed.Severity)
	s.False(failed.HasActor())
	s.Equal(models.SubjectAuth, failed.SubjectKind)

	security := byKind[models.ActivityView]
	s.Equal(models.SeverityCritical, security.Severity)
	s.Equal(models.SubjectSystem, security.SubjectKind)
	s.False(security.HasActor())
}
