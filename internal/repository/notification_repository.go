package repository

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stanstork/monev-api/internal/models"
)

type NotificationRepository interface {
	Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, notificationID string) (models.Notification, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
}

type notificationRepository struct {
	db *sql.DB
}

type CreateNotificationParams struct {
	UserID     string
	ActivityID string
	Severity   models.Severity
	Title      string
	Message    string
}

func NewNotificationRepository(db *sql.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error) {
	const query = `
		INSERT INTO monev.notifications (id, user_id, activity_id, severity, title, message)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, user_id, activity_id, severity, title, message, created_at, read_at
	`
	row := r.db.QueryRowContext(ctx, query,
		uuid.New(),
		strings.TrimSpace(params.UserID),
		nullString(params.ActivityID),
		params.Severity,
		params.Title,
		params.Message,
	)
	return scanNotification(row)
}

func (r *notificationRepository) ListRecent(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	const query = `
		SELECT id, user_id, activity_id, severity, title, message, created_at, read_at
		FROM monev.notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, strings.TrimSpace(userID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, notif)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

// MarkRead keeps the first read_at; re-marking returns the unchanged row.
func (r *notificationRepository) MarkRead(ctx context.Context, userID, notificationID string) (models.Notification, error) {
	if !isUUID(notificationID) {
		return models.Notification{}, sql.ErrNoRows
	}
	const query = `
		UPDATE monev.notifications
		SET read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, activity_id, severity, title, message, created_at, read_at
	`
	row := r.db.QueryRowContext(ctx, query, strings.TrimSpace(notificationID), strings.TrimSpace(userID))
	return scanNotification(row)
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM monev.notifications WHERE user_id = $1 AND read_at IS NULL`,
		strings.TrimSpace(userID),
	).Scan(&count)
	return count, err
}

func scanNotification(scanner interface {
	Scan(dest ...interface{}) error
}) (models.Notification, error) {
	var (
		notif      models.Notification
		activityID sql.NullString
		readAt     sql.NullTime
	)

	if err := scanner.Scan(
		&notif.ID,
		&notif.UserID,
		&activityID,
		&notif.Severity,
		&notif.Title,
		&notif.Message,
		&notif.CreatedAt,
		&readAt,
	); err != nil {
		return models.Notification{}, err
	}

	notif.ActivityID = activityID.String
	if readAt.Valid {
		t := readAt.Time
		notif.ReadAt = &t
	}

	return notif, nil
}

// InMemoryNotificationRepository backs the in-app inbox for tests and the memory driver.
type InMemoryNotificationRepository struct {
	mu            sync.RWMutex
	notifications []models.Notification
}

func NewInMemoryNotificationRepository() *InMemoryNotificationRepository {
	return &InMemoryNotificationRepository{}
}

func (r *InMemoryNotificationRepository) Create(_ context.Context, params CreateNotificationParams) (models.Notification, error) {
	notif := models.Notification{
		ID:         uuid.NewString(),
		UserID:     strings.TrimSpace(params.UserID),
		ActivityID: strings.TrimSpace(params.ActivityID),
		Severity:   params.Severity,
		Title:      params.Title,
		Message:    params.Message,
		CreatedAt:  time.Now().UTC(),
	}
	r.mu.Lock()
	r.notifications = append(r.notifications, notif)
	r.mu.Unlock()
	return notif, nil
}

func (r *InMemoryNotificationRepository) ListRecent(_ context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []models.Notification
	for i := len(r.notifications) - 1; i >= 0 && len(result) < limit; i-- {
		if r.notifications[i].UserID == userID {
			result = append(result, r.notifications[i])
		}
	}
	return result, nil
}

func (r *InMemoryNotificationRepository) MarkRead(_ context.Context, userID, notificationID string) (models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.notifications {
		n := &r.notifications[i]
		if n.ID != notificationID || n.UserID != userID {
			continue
		}
		if n.ReadAt == nil {
			now := time.Now().UTC()
			n.ReadAt = &now
		}
		return *n, nil
	}
	return models.Notification{}, sql.ErrNoRows
}

func (r *InMemoryNotificationRepository) CountUnread(_ context.Context, userID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var count int64
	for _, n := range r.notifications {
		if n.UserID == userID && n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

// Len reports how many notifications were stored.
func (r *InMemoryNotificationRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.notifications)
}
