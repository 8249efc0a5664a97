package models

import "time"

// BlacklistedToken is a revoked token kept until its own expiry passes.
// TokenHash is the hex SHA-256 digest of the raw token.
type BlacklistedToken struct {
	TokenHash     string    `json:"token_hash" db:"token_hash"`
	BlacklistedAt time.Time `json:"blacklisted_at" db:"blacklisted_at"`
	ExpiresAt     time.Time `json:"expires_at" db:"expires_at"`
}

func (t BlacklistedToken) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
