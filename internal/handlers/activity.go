package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stanstork/monev-api/internal/activity"
	"github.com/stanstork/monev-api/internal/middleware"
	"github.com/stanstork/monev-api/internal/models"
	"github.com/stanstork/monev-api/internal/worker"
)

// SweepTrigger runs a notification sweep on demand.
type SweepTrigger interface {
	Trigger(ctx context.Context) (worker.SweepResult, error)
}

type ActivityHandler struct {
	events  activity.Service
	sweeper SweepTrigger
	logger  zerolog.Logger
}

type batchDeleteRequest struct {
	IDs []string `json:"ids"`
}

func NewActivityHandler(events activity.Service, sweeper SweepTrigger, logger zerolog.Logger) *ActivityHandler {
	return &ActivityHandler{
		events:  events,
		sweeper: sweeper,
		logger:  logger.With().Str("handler", "activity").Logger(),
	}
}

// List serves the filtered, paginated activity log. Storage failures yield an empty page.
func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("mine") == "true" {
		filter.ActorID = id.ActorID
	}

	page := models.Page{
		Limit:  queryInt(r, "limit", models.DefaultPageLimit),
		Offset: queryInt(r, "offset", 0),
	}
	writeJSON(w, http.StatusOK, h.events.Query(r.Context(), filter, page))
}

func parseFilter(r *http.Request) (models.ActivityFilter, error) {
	q := r.URL.Query()
	filter := models.ActivityFilter{
		ActivityKind: models.ActivityKind(strings.ToUpper(strings.TrimSpace(q.Get("kind")))),
		SubjectKind:  models.SubjectKind(strings.ToUpper(strings.TrimSpace(q.Get("subject")))),
		ActorID:      strings.TrimSpace(q.Get("actor_id")),
		Search:       strings.TrimSpace(q.Get("q")),
	}
	if filter.ActivityKind != "" && !filter.ActivityKind.IsValid() {
		return filter, errors.New("unknown activity kind")
	}
	if filter.SubjectKind != "" && !filter.SubjectKind.IsValid() {
		return filter, errors.New("unknown subject kind")
	}
	if raw := strings.TrimSpace(q.Get("severity")); raw != "" {
		severity, ok := models.ParseSeverity(raw)
		if !ok {
			return filter, errors.New("unknown severity")
		}
		filter.Severity = severity
	}

	var err error
	if filter.From, err = queryTime(r, "from"); err != nil {
		return filter, errors.New("from must be an RFC 3339 timestamp")
	}
	if filter.To, err = queryTime(r, "to"); err != nil {
		return filter, errors.New("to must be an RFC 3339 timestamp")
	}
	return filter, nil
}

func (h *ActivityHandler) Get(w http.ResponseWriter, r *http.Request) {
	eventID := strings.TrimSpace(mux.Vars(r)["activityID"])

	event, err := h.events.Get(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, activity.ErrNotFound) {
			http.Error(w, "Activity not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("event_id", eventID).Msg("failed to get activity")
		http.Error(w, "Failed to get activity", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *ActivityHandler) Stats(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	if days > activity.MaxHistogramDays {
		days = activity.MaxHistogramDays
	}
	writeJSON(w, http.StatusOK, h.events.Summary(r.Context(), days))
}

func (h *ActivityHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	eventID := strings.TrimSpace(mux.Vars(r)["activityID"])

	rows, err := h.events.MarkRead(r.Context(), eventID)
	if err != nil {
		h.logger.Error().Err(err).Str("event_id", eventID).Msg("failed to mark activity as read")
		http.Error(w, "Failed to update activity", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": rows})
}

func (h *ActivityHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	rows, err := h.events.MarkAllReadForActor(r.Context(), id.ActorID)
	if err != nil {
		h.logger.Error().Err(err).Str("actor_id", id.ActorID).Msg("failed to mark activities as read")
		http.Error(w, "Failed to update activities", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": rows})
}

func (h *ActivityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromRequest(w, r)
	if !ok {
		return
	}
	eventID := strings.TrimSpace(mux.Vars(r)["activityID"])

	rows, err := h.events.Delete(r.Context(), eventID)
	if err != nil {
		h.logger.Error().Err(err).Str("event_id", eventID).Msg("failed to delete activity")
		http.Error(w, "Failed to delete activity", http.StatusInternalServerError)
		return
	}
	if rows == 0 {
		http.Error(w, "Activity not found", http.StatusNotFound)
		return
	}

	h.events.LogDelete(r.Context(), id.Actor(), middleware.OriginFromRequest(r),
		activity.Subject{Kind: models.SubjectSystem, ID: eventID}, "deleted activity log entry")
	w.WriteHeader(http.StatusNoContent)
}

func (h *ActivityHandler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	var req batchDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 {
		http.Error(w, "ids must not be empty", http.StatusBadRequest)
		return
	}

	rows, err := h.events.DeleteBatch(r.Context(), req.IDs)
	if err != nil {
		h.logger.Error().Err(err).Int("count", len(req.IDs)).Msg("failed to delete activities")
		http.Error(w, "Failed to delete activities", http.StatusInternalServerError)
		return
	}

	if rows > 0 {
		h.events.LogDelete(r.Context(), id.Actor(), middleware.OriginFromRequest(r),
			activity.Subject{Kind: models.SubjectSystem}, "deleted activity log entries in batch")
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": rows})
}

// Prune deletes events older than ?days=N.
func (h *ActivityHandler) Prune(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromRequest(w, r)
	if !ok {
		return
	}
	days := queryInt(r, "days", 0)

	rows, err := h.events.PruneOlderThanDays(r.Context(), days)
	if err != nil {
		if errors.Is(err, activity.ErrInvalidRetention) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error().Err(err).Int("days", days).Msg("failed to prune activities")
		http.Error(w, "Failed to prune activities", http.StatusInternalServerError)
		return
	}

	h.events.LogDelete(r.Context(), id.Actor(), middleware.OriginFromRequest(r),
		activity.Subject{Kind: models.SubjectSystem}, "pruned activity log")
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": rows})
}

// TriggerSweep processes pending notifications now instead of at the next tick.
func (h *ActivityHandler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweeper.Trigger(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("manual notification sweep failed")
		http.Error(w, "Notification sweep failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
