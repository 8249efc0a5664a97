package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stanstork/monev-api/internal/models"
)

const blacklistKeyPrefix = "monev:blacklist:"

// RedisTokenBlacklistRepository stores one key per revoked token with a TTL equal to the
// token's remaining lifetime, so redis expires entries on its own.
type RedisTokenBlacklistRepository struct {
	client redis.UniversalClient
}

func NewRedisTokenBlacklistRepository(client redis.UniversalClient) *RedisTokenBlacklistRepository {
	return &RedisTokenBlacklistRepository{client: client}
}

func (r *RedisTokenBlacklistRepository) Exists(ctx context.Context, tokenHash string, _ time.Time) (bool, error) {
	n, err := r.client.Exists(ctx, blacklistKeyPrefix+tokenHash).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisTokenBlacklistRepository) Insert(ctx context.Context, token models.BlacklistedToken) (bool, error) {
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return false, nil
	}
	return r.client.SetNX(ctx, blacklistKeyPrefix+token.TokenHash, token.BlacklistedAt.Unix(), ttl).Result()
}

// DeleteExpired is a no-op: keys carry their own TTL.
func (r *RedisTokenBlacklistRepository) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
