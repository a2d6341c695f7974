package cockroach

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RelationshipRepository answers follow and block questions by username
type RelationshipRepository struct {
	pool *pgxpool.Pool
}

// NewRelationshipRepository creates a new RelationshipRepository
func NewRelationshipRepository(pool *pgxpool.Pool) *RelationshipRepository {
	return &RelationshipRepository{pool: pool}
}

// IsBlocked reports whether either user has blocked the other
func (r *RelationshipRepository) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM blocked_users bu
			INNER JOIN users blocker ON blocker.user_id = bu.blocker_id
			INNER JOIN users blocked ON blocked.user_id = bu.blocked_id
			WHERE (blocker.username = $1 AND blocked.username = $2)
			   OR (blocker.username = $2 AND blocked.username = $1)
		)
	`

	var blocked bool
	if err := r.pool.QueryRow(ctx, query, a, b).Scan(&blocked); err != nil {
		return false, fmt.Errorf("failed to check block: %w", err)
	}
	return blocked, nil
}

// IsFollowing reports whether follower follows followee
func (r *RelationshipRepository) IsFollowing(ctx context.Context, follower, followee string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM follows f
			INNER JOIN users fr ON fr.user_id = f.follower_id
			INNER JOIN users fe ON fe.user_id = f.following_id
			WHERE fr.username = $1 AND fe.username = $2
		)
	`

	var following bool
	if err := r.pool.QueryRow(ctx, query, follower, followee).Scan(&following); err != nil {
		return false, fmt.Errorf("failed to check follow: %w", err)
	}
	return following, nil
}
