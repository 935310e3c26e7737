package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"carelink-backend/internal/database"
)

const (
	onlineSetKey = "presence:online"
	presenceTTL  = 5 * time.Minute
)

// PresenceRepository mirrors relay connection state into Redis so other
// processes (dashboards, jobs) can see who is connected. Each connected user
// has a presence:<id> key holding the connect time, refreshed on every
// inbound frame, plus membership in the presence:online set.
type PresenceRepository struct {
	client *database.RedisClient
	now    func() time.Time
}

func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client, now: time.Now}
}

func presenceKey(userID uuid.UUID) string {
	return "presence:" + userID.String()
}

// SetUserOnline records a new relay connection
func (r *PresenceRepository) SetUserOnline(ctx context.Context, userID uuid.UUID) error {
	connectedAt := r.now().UTC().Format(time.RFC3339)
	err := r.client.SafePipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, presenceKey(userID), connectedAt, presenceTTL)
		pipe.SAdd(ctx, onlineSetKey, userID.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set user online: %w", err)
	}
	return nil
}

// SetUserOffline removes a user's presence
func (r *PresenceRepository) SetUserOffline(ctx context.Context, userID uuid.UUID) error {
	err := r.client.SafePipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, presenceKey(userID))
		pipe.SRem(ctx, onlineSetKey, userID.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set user offline: %w", err)
	}
	return nil
}

// RefreshPresence pushes the presence key's expiry forward
func (r *PresenceRepository) RefreshPresence(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.SafeExpire(ctx, presenceKey(userID), presenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// GetOnlineUsers lists the members of the online set, skipping malformed entries
func (r *PresenceRepository) GetOnlineUsers(ctx context.Context) ([]uuid.UUID, error) {
	members, err := r.client.SafeSMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		if id, err := uuid.Parse(m); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ClearAll drops every presence entry. The server calls it at startup since a
// fresh process holds no connections.
func (r *PresenceRepository) ClearAll(ctx context.Context) error {
	ids, err := r.GetOnlineUsers(ctx)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, presenceKey(id))
	}
	keys = append(keys, onlineSetKey)

	if err := r.client.SafeDel(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}
	return nil
}
