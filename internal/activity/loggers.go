package activity

import (
	"context"
	"fmt"
	"strings"

	"github.com/stanstork/monev-api/internal/models"
)

// Origin is the network context of the request that caused an event.
type Origin struct {
	SourceAddress string
	UserAgent     string
}

// Subject names the entity an event is about.
type Subject struct {
	Kind models.SubjectKind
	ID   string
	Name string
}

func newEvent(kind models.ActivityKind, severity models.Severity, actor models.ActorRef, origin Origin, subject Subject, description string) models.ActivityEvent {
	return models.ActivityEvent{
		ActivityKind:  kind,
		SubjectKind:   subject.Kind,
		SubjectID:     subject.ID,
		SubjectName:   subject.Name,
		Description:   description,
		Severity:      severity,
		SourceAddress: origin.SourceAddress,
		UserAgent:     origin.UserAgent,
	}.WithActor(actor)
}

func (s *service) LogCreate(ctx context.Context, actor models.ActorRef, origin Origin, subject Subject, description string) {
	s.RecordSafely(ctx, newEvent(models.ActivityCreate, models.SeverityLow, actor, origin, subject, description))
}

func (s *service) LogUpdate(ctx context.Context, actor models.ActorRef, origin Origin, subject Subject, description string) {
	s.RecordSafely(ctx, newEvent(models.ActivityUpdate, models.SeverityLow, actor, origin, subject, description))
}

func (s *service) LogDelete(ctx context.Context, actor models.ActorRef, origin Origin, subject Subject, description string) {
	s.RecordSafely(ctx, newEvent(models.ActivityDelete, models.SeverityMedium, actor, origin, subject, description))
}

func (s *service) LogLogin(ctx context.Context, actor models.ActorRef, origin Origin) {
	subject := Subject{Kind: models.SubjectAuth, ID: actor.ID, Name: actor.Email}
	s.RecordSafely(ctx, newEvent(models.ActivityLogin, models.SeverityLow, actor, origin, subject,
		fmt.Sprintf("%s signed in", displayName(actor))))
}

func (s *service) LogLogout(ctx context.Context, actor models.ActorRef, origin Origin) {
	subject := Subject{Kind: models.SubjectAuth, ID: actor.ID, Name: actor.Email}
	s.RecordSafely(ctx, newEvent(models.ActivityLogout, models.SeverityLow, actor, origin, subject,
		fmt.Sprintf("%s signed out", displayName(actor))))
}

// LogLoginFailed records a system event: the caller is not authenticated.
func (s *service) LogLoginFailed(ctx context.Context, email string, origin Origin, reason string) {
	email = strings.TrimSpace(email)
	event := newEvent(models.ActivityLoginFailed, models.SeverityHigh, models.ActorRef{}, origin,
		Subject{Kind: models.SubjectAuth, Name: email},
		fmt.Sprintf("failed sign-in attempt for %q", email))
	event.Details = reason
	s.RecordSafely(ctx, event)
}

func (s *service) LogSecurityEvent(ctx context.Context, origin Origin, subject Subject, description, details string) {
	if subject.Kind == "" {
		subject.Kind = models.SubjectSystem
	}
	event := newEvent(models.ActivityView, models.SeverityCritical, models.ActorRef{}, origin, subject, description)
	event.Details = details
	s.RecordSafely(ctx, event)
}

func displayName(actor models.ActorRef) string {
	if name := strings.TrimSpace(actor.Name); name != "" {
		return name
	}
	if actor.Email != "" {
		return actor.Email
	}
	return actor.ID
}
