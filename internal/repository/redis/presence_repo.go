package redis

import (
	"context"
	"fmt"
	"time"

	"pulse-backend/internal/database"
)

const (
	onlineSetKey = "presence:online"
	presenceTTL  = 5 * time.Minute
)

// PresenceRepository mirrors gateway online/offline transitions into Redis so
// services that do not own connections can answer presence questions
type PresenceRepository struct {
	client *database.RedisClient
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client}
}

func presenceKey(username string) string {
	return fmt.Sprintf("presence:%s", username)
}

// SetUserOnline marks user as online
func (r *PresenceRepository) SetUserOnline(ctx context.Context, username string) error {
	// Auto-expire if the gateway dies without cleaning up
	if err := r.client.SafeSet(ctx, presenceKey(username), "online", presenceTTL); err != nil {
		return fmt.Errorf("failed to set user online: %w", err)
	}

	if err := r.client.SafeSAdd(ctx, onlineSetKey, username); err != nil {
		return fmt.Errorf("failed to add to online set: %w", err)
	}

	return nil
}

// SetUserOffline marks user as offline
func (r *PresenceRepository) SetUserOffline(ctx context.Context, username string) error {
	if err := r.client.SafeDel(ctx, presenceKey(username)); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}

	if err := r.client.SafeSRem(ctx, onlineSetKey, username); err != nil {
		return fmt.Errorf("failed to remove from online set: %w", err)
	}

	return nil
}

// RefreshPresence keeps user online (heartbeat)
func (r *PresenceRepository) RefreshPresence(ctx context.Context, username string) error {
	if err := r.client.SafeExpire(ctx, presenceKey(username), presenceTTL); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// Reset clears the mirrored online set. The gateway calls it on startup since
// it is the only writer and holds no connections yet.
func (r *PresenceRepository) Reset(ctx context.Context) error {
	if err := r.client.SafeDel(ctx, onlineSetKey); err != nil {
		return fmt.Errorf("failed to reset online set: %w", err)
	}
	return nil
}
