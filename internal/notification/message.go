package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/monev-api/internal/models"
)

var (
	// ErrChannelDisabled means no transport is configured for the channel.
	ErrChannelDisabled = errors.New("notification channel disabled")
	// ErrNoAddress means the recipient cannot be reached on the channel.
	ErrNoAddress = errors.New("recipient has no address for channel")
	// ErrSenderPanic wraps a panic recovered from a sender.
	ErrSenderPanic = errors.New("notification sender panicked")
)

var headerBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// headerSafe folds line breaks so caller-supplied text cannot start a new mail header.
func headerSafe(s string) string {
	return headerBreaks.Replace(s)
}

// EmailSender delivers a plain-text email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// PushSender delivers a push notification to an actor's devices.
type PushSender interface {
	Send(ctx context.Context, actorID, title, message string) error
}

// LiveSocket pushes to an actor's open connections. It reports false when none took the payload.
type LiveSocket interface {
	TryPush(actorID string, payload []byte) bool
}

func titleFor(event models.ActivityEvent) string {
	subject := string(event.SubjectKind)
	if name := strings.TrimSpace(event.SubjectName); name != "" {
		subject += " " + name
	}
	return headerSafe(fmt.Sprintf("%s %s", event.ActivityKind, subject))
}

func emailSubject(event models.ActivityEvent, priority string) string {
	return headerSafe(fmt.Sprintf("[Monev][%s] %s", priority, titleFor(event)))
}

func emailBody(event models.ActivityEvent, priority string) string {
	body := strings.Builder{}
	body.WriteString(strings.TrimSpace(event.Description))
	body.WriteString("\n\n")
	if details := strings.TrimSpace(event.Details); details != "" {
		body.WriteString(details)
		body.WriteString("\n\n")
	}
	body.WriteString(fmt.Sprintf("Priority: %s\n", priority))
	body.WriteString(fmt.Sprintf("Severity: %s\n", event.Severity))
	body.WriteString(fmt.Sprintf("Activity: %s\n", event.ActivityKind))
	body.WriteString(fmt.Sprintf("Subject: %s %s\n", event.SubjectKind, strings.TrimSpace(event.SubjectID)))
	if actor, ok := event.Actor(); ok {
		body.WriteString(fmt.Sprintf("Actor: %s <%s>\n", actor.Name, actor.Email))
	} else {
		body.WriteString("Actor: system\n")
	}
	if event.SourceAddress != "" {
		body.WriteString(fmt.Sprintf("Source: %s\n", event.SourceAddress))
	}
	body.WriteString(fmt.Sprintf("Created: %s\n", event.CreatedAt.Format("2006-01-02 15:04:05 MST")))
	body.WriteString(fmt.Sprintf("Event ID: %s\n", event.ID))
	return body.String()
}

func logDeliveryError(logger zerolog.Logger, err error, channel string, actor models.ActorRef, event models.ActivityEvent) {
	if err == nil {
		return
	}
	logger.Warn().
		Err(err).
		Str("event_id", event.ID).
		Str("actor_id", actor.ID).
		Str("actor_email", actor.Email).
		Str("severity", string(event.Severity)).
		Str("channel", channel).
		Msg("failed to deliver notification")
}
