package notification

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/monev-api/internal/models"
	"github.com/stanstork/monev-api/internal/repository"
)

var ErrNotificationNotFound = errors.New("notification not found")

// Inbox is the recipient's view of in-app notifications.
type Inbox interface {
	ListRecent(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, notificationID string) (models.Notification, error)
	CountUnread(ctx context.Context, userID string) int64
}

type inbox struct {
	repo   repository.NotificationRepository
	logger zerolog.Logger
}

func NewInbox(repo repository.NotificationRepository, logger zerolog.Logger) Inbox {
	return &inbox{
		repo:   repo,
		logger: logger.With().Str("component", "notification_inbox").Logger(),
	}
}

func (s *inbox) ListRecent(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	notifications, err := s.repo.ListRecent(ctx, strings.TrimSpace(userID), limit)
	if err != nil {
		return nil, err
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	return notifications, nil
}

func (s *inbox) MarkRead(ctx context.Context, userID, notificationID string) (models.Notification, error) {
	notif, err := s.repo.MarkRead(ctx, strings.TrimSpace(userID), strings.TrimSpace(notificationID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Notification{}, ErrNotificationNotFound
	}
	return notif, err
}

func (s *inbox) CountUnread(ctx context.Context, userID string) int64 {
	count, err := s.repo.CountUnread(ctx, strings.TrimSpace(userID))
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("count unread notifications failed")
		return 0
	}
	return count
}
