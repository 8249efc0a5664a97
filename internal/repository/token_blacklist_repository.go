package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/stanstork/monev-api/internal/models"
)

// TokenBlacklistRepository persists revoked tokens keyed by their digest.
type TokenBlacklistRepository interface {
	// Exists reports whether an entry for the digest is present and not yet expired at now.
	Exists(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	// Insert stores the entry unless one already exists; inserted is false for duplicates.
	Insert(ctx context.Context, token models.BlacklistedToken) (inserted bool, err error)
	// DeleteExpired removes every entry whose expires_at is before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type tokenBlacklistRepository struct {
	db *sql.DB
}

func NewTokenBlacklistRepository(db *sql.DB) TokenBlacklistRepository {
	return &tokenBlacklistRepository{db: db}
}

func (r *tokenBlacklistRepository) Exists(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM monev.token_blacklist
			WHERE token_hash = $1 AND expires_at > $2
		)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, tokenHash, now).Scan(&exists); err != nil {
		return false, fmt.Errorf("check token blacklist: %w", err)
	}
	return exists, nil
}

func (r *tokenBlacklistRepository) Insert(ctx context.Context, token models.BlacklistedToken) (bool, error) {
	const query = `
		INSERT INTO monev.token_blacklist (token_hash, blacklisted_at, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO NOTHING`
	result, err := r.db.ExecContext(ctx, query, token.TokenHash, token.BlacklistedAt, token.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("blacklist token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *tokenBlacklistRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM monev.token_blacklist WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired tokens: %w", err)
	}
	return result.RowsAffected()
}

// InMemoryTokenBlacklistRepository is a map-backed blacklist for tests and the memory driver.
type InMemoryTokenBlacklistRepository struct {
	mu      sync.RWMutex
	entries map[string]models.BlacklistedToken
}

func NewInMemoryTokenBlacklistRepository() *InMemoryTokenBlacklistRepository {
	return &InMemoryTokenBlacklistRepository{entries: make(map[string]models.BlacklistedToken)}
}

func (r *InMemoryTokenBlacklistRepository) Exists(_ context.Context, tokenHash string, now time.Time) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[tokenHash]
	return ok && !entry.ExpiredAt(now), nil
}

func (r *InMemoryTokenBlacklistRepository) Insert(_ context.Context, token models.BlacklistedToken) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[token.TokenHash]; ok {
		return false, nil
	}
	r.entries[token.TokenHash] = token
	return true, nil
}

func (r *InMemoryTokenBlacklistRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for hash, entry := range r.entries {
		if entry.ExpiresAt.Before(now) {
			delete(r.entries, hash)
			removed++
		}
	}
	return removed, nil
}

func (r *InMemoryTokenBlacklistRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
