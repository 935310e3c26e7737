package database

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelink-backend/pkg/config"
)

func TestRedisClient_DegradedModeOnFailedHealthCheck(t *testing.T) {
	// Nothing listens on port 1
	client := NewRedisDB(&config.RedisConfig{
		Host:     "127.0.0.1",
		Port:     1,
		PoolSize: 1,
		Timeout:  200 * time.Millisecond,
	})
	defer client.Close()

	require.False(t, client.IsDegraded())

	err := client.HealthCheck(context.Background())
	require.Error(t, err)
	assert.True(t, client.IsDegraded())

	setErr := client.SafeSet(context.Background(), "presence:x", "online", time.Minute).Err()
	assert.ErrorIs(t, setErr, ErrDegraded)

	exists, existsErr := client.SafeExists(context.Background(), "blacklist:x").Result()
	assert.ErrorIs(t, existsErr, ErrDegraded)
	assert.Zero(t, exists)
}

func TestRedisClient_PipelinesFailFastWhenDegraded(t *testing.T) {
	client := NewRedisDB(&config.RedisConfig{
		Host:     "127.0.0.1",
		Port:     1,
		PoolSize: 1,
		Timeout:  200 * time.Millisecond,
	})
	defer client.Close()
	client.markDegraded(true)

	called := false
	queue := func(redis.Pipeliner) error {
		called = true
		return nil
	}

	assert.ErrorIs(t, client.SafePipelined(context.Background(), queue), ErrDegraded)
	assert.ErrorIs(t, client.SafeTxPipelined(context.Background(), queue), ErrDegraded)
	assert.False(t, called)

	members, err := client.SafeSMembers(context.Background(), "presence:online").Result()
	assert.ErrorIs(t, err, ErrDegraded)
	assert.Empty(t, members)
}
