package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pulse-backend/internal/domain"
)

const userColumns = `user_id, username, display_name, avatar_url, show_online_status, allow_calls_from, allow_messages_from, created_at`

// UserRepository handles user lookups in CockroachDB
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// FindByUsername retrieves a user by username
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return r.scanOne(ctx, query, username)
}

// FindByID retrieves a user by ID
func (r *UserRepository) FindByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = $1`
	return r.scanOne(ctx, query, userID)
}

// VisibleUsernames filters usernames down to those whose owners allow their
// online status to be shown
func (r *UserRepository) VisibleUsernames(ctx context.Context, usernames []string) ([]string, error) {
	if len(usernames) == 0 {
		return []string{}, nil
	}

	query := `
		SELECT username
		FROM users
		WHERE username = ANY($1) AND show_online_status = true
	`

	rows, err := r.pool.Query(ctx, query, usernames)
	if err != nil {
		return nil, fmt.Errorf("failed to query visible users: %w", err)
	}
	defer rows.Close()

	visible := make([]string, 0, len(usernames))
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, fmt.Errorf("failed to scan username: %w", err)
		}
		visible = append(visible, username)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate visible users: %w", err)
	}

	return visible, nil
}

func (r *UserRepository) scanOne(ctx context.Context, query string, arg interface{}) (*domain.User, error) {
	user := &domain.User{}
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&user.UserID,
		&user.Username,
		&user.DisplayName,
		&user.AvatarURL,
		&user.ShowOnlineStatus,
		&user.AllowCallsFrom,
		&user.AllowMessagesFrom,
		&user.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}
