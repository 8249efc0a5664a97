package activity

import (
	"context"
	"time"

	"github.com/stanstork/monev-api/internal/models"
)

// Statistics back dashboards only; every getter logs and returns zero values on error.

const (
	defaultHistogramDays = 7
	// MaxHistogramDays caps the histogram window; larger requests are clamped.
	MaxHistogramDays = 366
)

func (s *service) CountByKind(ctx context.Context) map[models.ActivityKind]int64 {
	counts, err := s.repo.CountByKind(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("count by kind failed")
		return map[models.ActivityKind]int64{}
	}
	return counts
}

func (s *service) CountBySubject(ctx context.Context) map[models.SubjectKind]int64 {
	counts, err := s.repo.CountBySubject(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("count by subject failed")
		return map[models.SubjectKind]int64{}
	}
	return counts
}

func (s *service) CountBySeverity(ctx context.Context) map[models.Severity]int64 {
	counts, err := s.repo.CountBySeverity(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("count by severity failed")
		return map[models.Severity]int64{}
	}
	return counts
}

// CountUnread counts globally when actorID is empty.
func (s *service) CountUnread(ctx context.Context, actorID string) int64 {
	count, err := s.repo.CountUnread(ctx, actorID)
	if err != nil {
		s.logger.Warn().Err(err).Str("actor_id", actorID).Msg("count unread failed")
		return 0
	}
	return count
}

func (s *service) CountSince(ctx context.Context, since time.Time) int64 {
	count, err := s.repo.CountSince(ctx, since)
	if err != nil {
		s.logger.Warn().Err(err).Time("since", since).Msg("count since failed")
		return 0
	}
	return count
}

// DailyHistogram returns one bucket per UTC day, oldest first, including empty days.
func (s *service) DailyHistogram(ctx context.Context, days int) []models.ActivityStatDay {
	switch {
	case days <= 0:
		days = defaultHistogramDays
	case days > MaxHistogramDays:
		days = MaxHistogramDays
	}
	now := s.now().UTC()
	histogram, err := s.repo.DailyHistogram(ctx, days, now)
	if err != nil {
		s.logger.Warn().Err(err).Int("days", days).Msg("daily histogram failed")
		return emptyHistogram(days, now)
	}
	return histogram
}

func emptyHistogram(days int, now time.Time) []models.ActivityStatDay {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	histogram := make([]models.ActivityStatDay, days)
	for i := range histogram {
		histogram[i].Day = today.AddDate(0, 0, i-(days-1))
	}
	return histogram
}

func (s *service) Summary(ctx context.Context, days int) models.ActivitySummary {
	bySeverity := s.CountBySeverity(ctx)
	var total int64
	for _, n := range bySeverity {
		total += n
	}
	return models.ActivitySummary{
		Total:       total,
		Unread:      s.CountUnread(ctx, ""),
		Last24Hours: s.CountSince(ctx, s.now().Add(-24*time.Hour)),
		ByKind:      s.CountByKind(ctx),
		BySubject:   s.CountBySubject(ctx),
		BySeverity:  bySeverity,
		PerDay:      s.DailyHistogram(ctx, days),
	}
}
