package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"carelink-backend/pkg/config"
	"carelink-backend/pkg/logger"
)

const pingTimeout = 2 * time.Second

// ErrDegraded is returned by Safe* operations while Redis is unreachable
var ErrDegraded = errors.New("redis is in degraded mode")

// RedisClient is the shared Redis connection. Once a health check fails the
// client is marked degraded and every Safe* call fails fast with ErrDegraded
// until a later check succeeds. Callers fall back to local state meanwhile.
type RedisClient struct {
	Client *redis.Client

	degraded atomic.Bool
	pingMu   sync.Mutex
}

// NewRedisDB creates a client from config. It does not dial; the first
// HealthCheck decides whether the client starts degraded.
func NewRedisDB(cfg *config.RedisConfig) *RedisClient {
	return &RedisClient{
		Client: redis.NewClient(&redis.Options{
			Addr:         cfg.Addr(),
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  cfg.Timeout,
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		}),
	}
}

func (r *RedisClient) Close() error {
	return r.Client.Close()
}

// StartHealthCheck pings Redis every interval until ctx is cancelled
func (r *RedisClient) StartHealthCheck(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = r.HealthCheck(ctx)
			}
		}
	}()
}

// IsDegraded reports whether the last health check failed
func (r *RedisClient) IsDegraded() bool {
	return r.degraded.Load()
}

// HealthCheck pings Redis and flips degraded mode on or off accordingly
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	r.pingMu.Lock()
	defer r.pingMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	err := r.Client.Ping(ctx).Err()
	r.markDegraded(err != nil)
	if err != nil {
		logger.Debug("Redis health check failed", zap.Error(err))
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

func (r *RedisClient) markDegraded(degraded bool) {
	if r.degraded.Swap(degraded) == degraded {
		return
	}
	if degraded {
		logger.Warn("Redis entered degraded mode")
	} else {
		logger.Info("Redis recovered from degraded mode")
	}
}

func (r *RedisClient) SafeGet(ctx context.Context, key string) *redis.StringCmd {
	if r.IsDegraded() {
		return redis.NewStringResult("", ErrDegraded)
	}
	return r.Client.Get(ctx, key)
}

func (r *RedisClient) SafeSet(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if r.IsDegraded() {
		return redis.NewStatusResult("", ErrDegraded)
	}
	return r.Client.Set(ctx, key, value, expiration)
}

func (r *RedisClient) SafeDel(ctx context.Context, keys ...string) *redis.IntCmd {
	if r.IsDegraded() {
		return redis.NewIntResult(0, ErrDegraded)
	}
	return r.Client.Del(ctx, keys...)
}

func (r *RedisClient) SafeExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	if r.IsDegraded() {
		return redis.NewBoolResult(false, ErrDegraded)
	}
	return r.Client.Expire(ctx, key, expiration)
}

func (r *RedisClient) SafeExists(ctx context.Context, keys ...string) *redis.IntCmd {
	if r.IsDegraded() {
		return redis.NewIntResult(0, ErrDegraded)
	}
	return r.Client.Exists(ctx, keys...)
}

func (r *RedisClient) SafeSMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	if r.IsDegraded() {
		return redis.NewStringSliceResult([]string{}, ErrDegraded)
	}
	return r.Client.SMembers(ctx, key)
}

// SafePipelined queues the commands fn adds and sends them in one round trip
func (r *RedisClient) SafePipelined(ctx context.Context, fn func(redis.Pipeliner) error) error {
	if r.IsDegraded() {
		return ErrDegraded
	}
	_, err := r.Client.Pipelined(ctx, fn)
	return err
}

// SafeTxPipelined is SafePipelined wrapped in MULTI/EXEC
func (r *RedisClient) SafeTxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) error {
	if r.IsDegraded() {
		return ErrDegraded
	}
	_, err := r.Client.TxPipelined(ctx, fn)
	return err
}
