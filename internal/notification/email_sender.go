package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/monev-api/internal/config"
)

type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
	logger   zerolog.Logger
}

func NewSMTPSender(cfg config.EmailConfig, logger zerolog.Logger) (*SMTPSender, error) {
	host := strings.TrimSpace(cfg.SMTPHost)
	from := strings.TrimSpace(cfg.From)
	if host == "" {
		return nil, fmt.Errorf("smtp_host is required for email notifications")
	}
	if from == "" {
		return nil, fmt.Errorf("from is required for email notifications")
	}
	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}

	return &SMTPSender{
		host:     host,
		port:     port,
		username: strings.TrimSpace(cfg.Username),
		password: cfg.Password,
		from:     from,
		logger:   logger.With().Str("sender", "smtp").Logger(),
	}, nil
}

// Send does not observe ctx once the SMTP exchange has started; the dispatcher
// abandons the call when its channel timeout fires.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to = strings.TrimSpace(headerSafe(to))
	subject = headerSafe(subject)
	if to == "" {
		return ErrNoAddress
	}

	headers := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n",
		s.from, to, subject)
	message := []byte(headers + body)
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	if err := smtp.SendMail(addr, auth, s.from, []string{to}, message); err != nil {
		return err
	}

	s.logger.Info().Str("to", to).Str("subject", subject).Msg("email notification sent")
	return nil
}

func (s *SMTPSender) String() string {
	return fmt.Sprintf("SMTPSender(%s:%d)", s.host, s.port)
}
