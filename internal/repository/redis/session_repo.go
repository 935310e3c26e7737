package redis

import (
	"context"
	"fmt"
	"time"

	"carelink-backend/internal/database"
)

// SessionRepository tracks revoked access tokens in Redis
type SessionRepository struct {
	client *database.RedisClient
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(client *database.RedisClient) *SessionRepository {
	return &SessionRepository{client: client}
}

func blacklistKey(jti string) string {
	return fmt.Sprintf("blacklist:%s", jti)
}

// BlacklistToken revokes a token id until it would have expired anyway
func (r *SessionRepository) BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.SafeSet(ctx, blacklistKey(jti), "revoked", ttl).Err(); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

// IsTokenBlacklisted checks whether a token id was revoked
func (r *SessionRepository) IsTokenBlacklisted(ctx context.Context, jti string) (bool, error) {
	exists, err := r.client.SafeExists(ctx, blacklistKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists > 0, nil
}
