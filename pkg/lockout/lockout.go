package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"carelink-backend/internal/database"
)

// LockoutManager counts failed login attempts per identifier in Redis
type LockoutManager struct {
	client       *database.RedisClient
	maxAttempts  int
	lockDuration time.Duration
}

// NewLockoutManager creates a new lockout manager
func NewLockoutManager(client *database.RedisClient, maxAttempts int, lockDuration time.Duration) *LockoutManager {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if lockDuration <= 0 {
		lockDuration = 15 * time.Minute
	}
	return &LockoutManager{
		client:       client,
		maxAttempts:  maxAttempts,
		lockDuration: lockDuration,
	}
}

func failedKey(identifier string) string {
	return fmt.Sprintf("lockout:failed:%s", identifier)
}

// RecordFailedAttempt records a failed login attempt
func (lm *LockoutManager) RecordFailedAttempt(ctx context.Context, identifier string) error {
	key := failedKey(identifier)
	err := lm.client.SafePipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, lm.lockDuration)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record failed attempt: %w", err)
	}
	return nil
}

// CheckLockout reports whether identifier is locked and how many attempts remain
func (lm *LockoutManager) CheckLockout(ctx context.Context, identifier string) (bool, int, error) {
	count, err := lm.client.SafeGet(ctx, failedKey(identifier)).Int()
	if errors.Is(err, redis.Nil) {
		count = 0
	} else if err != nil {
		return false, 0, fmt.Errorf("failed to check lockout status: %w", err)
	}

	remaining := lm.maxAttempts - count
	if remaining < 0 {
		remaining = 0
	}

	return count >= lm.maxAttempts, remaining, nil
}

// ClearFailedAttempts clears failed attempts after successful login
func (lm *LockoutManager) ClearFailedAttempts(ctx context.Context, identifier string) error {
	if err := lm.client.SafeDel(ctx, failedKey(identifier)).Err(); err != nil {
		return fmt.Errorf("failed to clear failed attempts: %w", err)
	}
	return nil
}
