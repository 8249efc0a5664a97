package repository

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stanstork/monev-api/internal/models"
)

// Clock returns the current time; injected so tests control created_at.
type Clock func() time.Time

// InMemoryActivityRepository keeps events in insertion order. Used for tests and
// the memory storage driver. Thread-safe via RWMutex.
type InMemoryActivityRepository struct {
	mu     sync.RWMutex
	events map[string]*models.ActivityEvent
	order  []string
	clock  Clock
}

type InMemoryActivityOption func(*InMemoryActivityRepository)

func WithActivityClock(clock Clock) InMemoryActivityOption {
	return func(r *InMemoryActivityRepository) {
		if clock != nil {
			r.clock = clock
		}
	}
}

func NewInMemoryActivityRepository(opts ...InMemoryActivityOption) *InMemoryActivityRepository {
	r := &InMemoryActivityRepository{
		events: make(map[string]*models.ActivityEvent),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *InMemoryActivityRepository) Create(_ context.Context, event models.ActivityEvent) (models.ActivityEvent, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return models.ActivityEvent{}, err
	}
	event.ID = id.String()
	event.CreatedAt = r.clock().UTC()
	event.IsRead = false

	r.mu.Lock()
	r.events[event.ID] = &event
	r.order = append(r.order, event.ID)
	r.mu.Unlock()

	return event, nil
}

func (r *InMemoryActivityRepository) Get(_ context.Context, id string) (models.ActivityEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	event, ok := r.events[strings.TrimSpace(id)]
	if !ok {
		return models.ActivityEvent{}, sql.ErrNoRows
	}
	return *event, nil
}

// Query returns newest first, matching the postgres ordering.
func (r *InMemoryActivityRepository) Query(_ context.Context, filter models.ActivityFilter, page models.Page) (models.ActivityPage, error) {
	page = page.Normalize()

	r.mu.RLock()
	var matched []models.ActivityEvent
	for i := len(r.order) - 1; i >= 0; i-- {
		event := r.events[r.order[i]]
		if filter.Matches(*event) {
			matched = append(matched, *event)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	result := models.ActivityPage{Total: int64(len(matched)), Limit: page.Limit, Offset: page.Offset}
	if page.Offset >= len(matched) {
		return result, nil
	}
	end := page.Offset + page.Limit
	if end > len(matched) {
		end = len(matched)
	}
	result.Items = matched[page.Offset:end]
	return result, nil
}

func (r *InMemoryActivityRepository) ListPendingNotification(_ context.Context, limit int) ([]models.ActivityEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pending []models.ActivityEvent
	for _, id := range r.order {
		event := r.events[id]
		if event.NotificationSent {
			continue
		}
		pending = append(pending, *event)
		if limit > 0 && len(pending) >= limit {
			break
		}
	}
	return pending, nil
}

func (r *InMemoryActivityRepository) MarkRead(_ context.Context, id string) (int64, error) {
	id = strings.TrimSpace(id)
	return r.update(func(e *models.ActivityEvent) bool {
		if e.ID != id || e.IsRead {
			return false
		}
		e.IsRead = true
		return true
	}), nil
}

func (r *InMemoryActivityRepository) MarkAllReadForActor(_ context.Context, actorID string) (int64, error) {
	actorID = strings.TrimSpace(actorID)
	return r.update(func(e *models.ActivityEvent) bool {
		if actorID == "" || e.ActorID != actorID || e.IsRead {
			return false
		}
		e.IsRead = true
		return true
	}), nil
}

func (r *InMemoryActivityRepository) MarkNotified(ctx context.Context, id string) (int64, error) {
	return r.MarkNotifiedBatch(ctx, []string{id})
}

func (r *InMemoryActivityRepository) MarkNotifiedBatch(_ context.Context, ids []string) (int64, error) {
	set := idSet(ids)
	return r.update(func(e *models.ActivityEvent) bool {
		if _, ok := set[e.ID]; !ok || e.NotificationSent {
			return false
		}
		e.NotificationSent = true
		return true
	}), nil
}

func (r *InMemoryActivityRepository) update(apply func(*models.ActivityEvent) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changed int64
	for _, id := range r.order {
		if apply(r.events[id]) {
			changed++
		}
	}
	return changed
}

func (r *InMemoryActivityRepository) Delete(ctx context.Context, id string) (int64, error) {
	return r.DeleteBatch(ctx, []string{id})
}

func (r *InMemoryActivityRepository) DeleteBatch(_ context.Context, ids []string) (int64, error) {
	set := idSet(ids)
	return r.remove(func(e *models.ActivityEvent) bool {
		_, ok := set[e.ID]
		return ok
	}), nil
}

func (r *InMemoryActivityRepository) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	return r.remove(func(e *models.ActivityEvent) bool {
		return e.CreatedAt.Before(cutoff)
	}), nil
}

func (r *InMemoryActivityRepository) remove(match func(*models.ActivityEvent) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	kept := r.order[:0]
	for _, id := range r.order {
		if match(r.events[id]) {
			delete(r.events, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	return removed
}

func (r *InMemoryActivityRepository) CountByKind(_ context.Context) (map[models.ActivityKind]int64, error) {
	counts := make(map[models.ActivityKind]int64)
	r.each(func(e models.ActivityEvent) { counts[e.ActivityKind]++ })
	return counts, nil
}

func (r *InMemoryActivityRepository) CountBySubject(_ context.Context) (map[models.SubjectKind]int64, error) {
	counts := make(map[models.SubjectKind]int64)
	r.each(func(e models.ActivityEvent) { counts[e.SubjectKind]++ })
	return counts, nil
}

func (r *InMemoryActivityRepository) CountBySeverity(_ context.Context) (map[models.Severity]int64, error) {
	counts := make(map[models.Severity]int64)
	r.each(func(e models.ActivityEvent) { counts[e.Severity]++ })
	return counts, nil
}

func (r *InMemoryActivityRepository) CountUnread(_ context.Context, actorID string) (int64, error) {
	actorID = strings.TrimSpace(actorID)
	var count int64
	r.each(func(e models.ActivityEvent) {
		if !e.IsRead && (actorID == "" || e.ActorID == actorID) {
			count++
		}
	})
	return count, nil
}

func (r *InMemoryActivityRepository) CountSince(_ context.Context, since time.Time) (int64, error) {
	var count int64
	r.each(func(e models.ActivityEvent) {
		if !e.CreatedAt.Before(since) {
			count++
		}
	})
	return count, nil
}

func (r *InMemoryActivityRepository) DailyHistogram(_ context.Context, days int, now time.Time) ([]models.ActivityStatDay, error) {
	if days <= 0 {
		days = 7
	}
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	first := today.AddDate(0, 0, -(days - 1))

	histogram := make([]models.ActivityStatDay, days)
	for i := range histogram {
		histogram[i].Day = first.AddDate(0, 0, i)
	}
	r.each(func(e models.ActivityEvent) {
		created := e.CreatedAt.UTC()
		day := time.Date(created.Year(), created.Month(), created.Day(), 0, 0, 0, 0, time.UTC)
		idx := int(day.Sub(first).Hours() / 24)
		if idx < 0 || idx >= days {
			return
		}
		histogram[idx].Total++
		switch e.Severity {
		case models.SeverityCritical:
			histogram[idx].Critical++
		case models.SeverityHigh:
			histogram[idx].High++
		}
	})
	return histogram, nil
}

func (r *InMemoryActivityRepository) each(fn func(models.ActivityEvent)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		fn(*r.events[id])
	}
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range cleanIDs(ids) {
		set[id] = struct{}{}
	}
	return set
}
