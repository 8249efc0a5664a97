package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stanstork/monev-api/internal/notification"
)

type NotificationHandler struct {
	inbox  notification.Inbox
	logger zerolog.Logger
}

func NewNotificationHandler(inbox notification.Inbox, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{
		inbox:  inbox,
		logger: logger.With().Str("handler", "notification").Logger(),
	}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 25)
	if limit <= 0 {
		limit = 25
	}

	notifications, err := h.inbox.ListRecent(r.Context(), id.ActorID, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("actor_id", id.ActorID).Msg("failed to list notifications")
		http.Error(w, "Failed to list notifications", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notifications,
		"unread":        h.inbox.CountUnread(r.Context(), id.ActorID),
	})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	notifID := strings.TrimSpace(mux.Vars(r)["notificationID"])
	if notifID == "" {
		http.Error(w, "Notification ID is required", http.StatusBadRequest)
		return
	}

	notif, err := h.inbox.MarkRead(r.Context(), id.ActorID, notifID)
	if err != nil {
		if errors.Is(err, notification.ErrNotificationNotFound) {
			http.Error(w, "Notification not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("notification_id", notifID).Msg("failed to mark notification as read")
		http.Error(w, "Failed to update notification", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, notif)
}
