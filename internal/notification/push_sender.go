package notification

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stanstork/monev-api/internal/config"
)

// FirebasePushSender logs pushes instead of calling FCM.
type FirebasePushSender struct {
	enabled   bool
	projectID string
	topic     string
	logger    zerolog.Logger
}

func NewFirebasePushSender(cfg config.PushConfig, logger zerolog.Logger) *FirebasePushSender {
	enabled := cfg.Enabled && cfg.ProjectID != "" && cfg.Topic != ""
	return &FirebasePushSender{
		enabled:   enabled,
		projectID: cfg.ProjectID,
		topic:     cfg.Topic,
		logger:    logger.With().Str("sender", "firebase").Logger(),
	}
}

func (s *FirebasePushSender) Enabled() bool {
	return s.enabled
}

func (s *FirebasePushSender) Send(ctx context.Context, actorID, title, message string) error {
	if !s.enabled {
		return ErrChannelDisabled
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if actorID == "" {
		return ErrNoAddress
	}
	s.logger.Info().
		Str("actor_id", actorID).
		Str("topic", s.topic).
		Str("title", title).
		Int("message_len", len(message)).
		Msg("push notification dispatched (mock)")
	return nil
}

func (s *FirebasePushSender) String() string {
	if !s.enabled {
		return "FirebasePushSender(disabled)"
	}
	return fmt.Sprintf("FirebasePushSender(project=%s, topic=%s)", s.projectID, s.topic)
}
