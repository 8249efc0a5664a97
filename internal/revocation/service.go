// Package revocation keeps the set of tokens revoked before their natural expiry.
package revocation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"

	"github.com/stanstork/monev-api/internal/metrics"
	"github.com/stanstork/monev-api/internal/models"
	"github.com/stanstork/monev-api/internal/repository"
)

var errNoExpiry = errors.New("token has no exp claim")

type Option func(*Service)

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service moves tokens through ACTIVE -> BLACKLISTED -> PURGED. Entries never outlive
// the token they block.
type Service struct {
	repo    repository.TokenBlacklistRepository
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	parser  *jwt.Parser
}

func NewService(repo repository.TokenBlacklistRepository, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		logger: logger.With().Str("component", "token_revocation").Logger(),
		now:    time.Now,
		parser: jwt.NewParser(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Digest is the stored identity of a raw token.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(normalize(token)))
	return hex.EncodeToString(sum[:])
}

func normalize(token string) string {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}

// expiry reads exp without verifying the signature; the token may already be invalid.
func (s *Service) expiry(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := s.parser.ParseUnverified(normalize(token), claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}

// Blacklist revokes token until its own expiry. Malformed tokens are logged and
// ignored so logout never fails on them. An already expired token is still stored;
// the next SweepExpired purges it. Storage errors are returned.
func (s *Service) Blacklist(ctx context.Context, token string) error {
	expiresAt, err := s.expiry(token)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cannot blacklist token without a readable expiry")
		return nil
	}
	now := s.now().UTC()

	hash := Digest(token)
	exists, err := s.repo.Exists(ctx, hash, now)
	if err != nil {
		return fmt.Errorf("check token blacklist: %w", err)
	}
	if exists {
		return nil
	}

	inserted, err := s.repo.Insert(ctx, models.BlacklistedToken{
		TokenHash:     hash,
		BlacklistedAt: now,
		ExpiresAt:     expiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	if inserted {
		s.logger.Info().Time("expires_at", expiresAt).Msg("token blacklisted")
	}
	return nil
}

// IsBlacklisted fails open: a storage error reports false so authentication keeps working.
func (s *Service) IsBlacklisted(ctx context.Context, token string) bool {
	if normalize(token) == "" {
		return false
	}
	blacklisted, err := s.repo.Exists(ctx, Digest(token), s.now().UTC())
	if err != nil {
		s.metrics.BlacklistCheck(metrics.CheckError)
		s.logger.Error().Err(err).Msg("token blacklist check failed, allowing request")
		return false
	}
	if blacklisted {
		s.metrics.BlacklistCheck(metrics.CheckHit)
	} else {
		s.metrics.BlacklistCheck(metrics.CheckMiss)
	}
	return blacklisted
}

// SweepExpired deletes entries whose expiry is before now.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	removed, err := s.repo.DeleteExpired(ctx, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep expired tokens: %w", err)
	}
	s.metrics.BlacklistPurged(removed)
	if removed > 0 {
		s.logger.Info().Int64("removed", removed).Msg("expired blacklist entries purged")
	}
	return removed, nil
}

// SweepTask runs SweepExpired against the service clock, for the periodic runner.
func (s *Service) SweepTask() func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := s.SweepExpired(ctx, s.now())
		return err
	}
}
