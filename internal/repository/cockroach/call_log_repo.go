package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"pulse-backend/internal/domain"
)

// CallLogRepository persists terminated call attempts
type CallLogRepository struct {
	pool *pgxpool.Pool
}

// NewCallLogRepository creates a new CallLogRepository
func NewCallLogRepository(pool *pgxpool.Pool) *CallLogRepository {
	return &CallLogRepository{pool: pool}
}

// Insert appends a call log row
func (r *CallLogRepository) Insert(ctx context.Context, log *domain.CallLog) error {
	if log.CallLogID == uuid.Nil {
		log.CallLogID = uuid.New()
	}

	query := `
		INSERT INTO call_logs (
			call_log_id, caller_id, receiver_id, status, duration_sec,
			started_at, ended_at, end_reason, call_type, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING created_at
	`

	err := r.pool.QueryRow(ctx, query,
		log.CallLogID,
		log.CallerID,
		log.ReceiverID,
		log.Status,
		log.DurationSec,
		log.StartedAt,
		log.EndedAt,
		log.EndReason,
		log.CallType,
	).Scan(&log.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert call log: %w", err)
	}

	return nil
}
