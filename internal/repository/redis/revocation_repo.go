package redis

import (
	"context"
	"fmt"

	"pulse-backend/internal/database"
)

// RevocationRepository reads the token blacklist the auth service writes on logout
type RevocationRepository struct {
	client *database.RedisClient
}

// NewRevocationRepository creates a new RevocationRepository
func NewRevocationRepository(client *database.RedisClient) *RevocationRepository {
	return &RevocationRepository{client: client}
}

func blacklistKey(sessionID string) string {
	return fmt.Sprintf("blacklist:%s", sessionID)
}

// IsRevoked checks whether the session (token jti) has been blacklisted
func (r *RevocationRepository) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}

	exists, err := r.client.SafeExists(ctx, blacklistKey(sessionID))
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist in redis: %w", err)
	}
	return exists > 0, nil
}
