package alert

import (
	"context"
	"strings"

	"github.com/stanstork/monev-api/internal/models"
)

// Directory looks up actors to notify. The user repository implements it.
type Directory interface {
	ListAdminActors(ctx context.Context) ([]models.ActorRef, error)
	ListActorsByRole(ctx context.Context, role models.UserRole) ([]models.ActorRef, error)
	FindActorByID(ctx context.Context, userID string) (models.ActorRef, error)
}

const monitoringPrefix = "system monitoring: "

// MonitoringEvent builds the side record kept for every CRITICAL event. It is created
// already marked as notified so the sweep never picks it up again.
func MonitoringEvent(event models.ActivityEvent) models.ActivityEvent {
	description := strings.TrimSpace(event.Description)
	if event.ID != "" {
		description += " (event " + event.ID + ")"
	}
	return models.ActivityEvent{
		ActivityKind:     models.ActivityView,
		SubjectKind:      models.SubjectSystem,
		SubjectID:        event.ID,
		SubjectName:      string(event.SubjectKind),
		Description:      monitoringPrefix + description,
		Details:          event.Details,
		Severity:         models.SeverityCritical,
		SourceAddress:    event.SourceAddress,
		UserAgent:        event.UserAgent,
		NotificationSent: true,
	}
}

// IsMonitoringEvent reports whether event was produced by MonitoringEvent.
func IsMonitoringEvent(event models.ActivityEvent) bool {
	return event.SubjectKind == models.SubjectSystem &&
		event.ActivityKind == models.ActivityView &&
		strings.HasPrefix(event.Description, monitoringPrefix)
}
