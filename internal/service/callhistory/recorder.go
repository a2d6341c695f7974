// Package callhistory persists the outcome of every terminated call attempt.
// Recording is best-effort: failures are logged and never reach signaling.
package callhistory

import (
	"context"
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulse-backend/internal/domain"
	"pulse-backend/pkg/logger"
	"pulse-backend/pkg/metrics"
)

// UserRepository interface
type UserRepository interface {
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
}

// CallHistoryStore interface
type CallHistoryStore interface {
	Insert(ctx context.Context, log *domain.CallLog) error
}

// Notifier interface
type Notifier interface {
	NotifyMissedCall(ctx context.Context, receiverID uuid.UUID, caller, callType string) error
}

// Recorder writes call logs
type Recorder struct {
	userRepo UserRepository
	store    CallHistoryStore
	notifier Notifier
	clock    clock.Clock
}

// NewRecorder creates a new Recorder
func NewRecorder(userRepo UserRepository, store CallHistoryStore, notifier Notifier, clk clock.Clock) *Recorder {
	if clk == nil {
		clk = clock.New()
	}
	return &Recorder{
		userRepo: userRepo,
		store:    store,
		notifier: notifier,
		clock:    clk,
	}
}

// Record resolves both participants and appends the log row. Unknown users
// (deleted accounts) skip the write. A missed call also notifies the receiver.
func (r *Recorder) Record(ctx context.Context, entry domain.CallLogEntry) {
	log := logger.FromContext(ctx).With(
		zap.String("caller", entry.Caller),
		zap.String("receiver", entry.Receiver),
		zap.String("status", entry.Status),
	)

	caller, err := r.resolve(ctx, entry.Caller)
	if err != nil {
		r.skip(log, entry, err)
		return
	}
	receiver, err := r.resolve(ctx, entry.Receiver)
	if err != nil {
		r.skip(log, entry, err)
		return
	}

	endedAt := r.clock.Now()
	if entry.EndedAt != nil {
		endedAt = *entry.EndedAt
	}
	durationSec := entry.DurationSec
	if durationSec < 0 {
		durationSec = 0
	}

	record := &domain.CallLog{
		CallerID:    caller.UserID,
		ReceiverID:  receiver.UserID,
		Status:      entry.Status,
		DurationSec: durationSec,
		StartedAt:   entry.StartedAt,
		EndedAt:     endedAt,
		EndReason:   entry.EndReason,
		CallType:    entry.CallType,
	}

	if err := r.store.Insert(ctx, record); err != nil {
		metrics.CallLogsTotal.WithLabelValues(entry.Status, "failed").Inc()
		log.Error("Failed to write call log", zap.Error(err))
	} else {
		metrics.CallLogsTotal.WithLabelValues(entry.Status, "written").Inc()
		if entry.Status == domain.CallStatusCompleted {
			metrics.CallDurationSeconds.Observe(float64(durationSec))
		}
		log.Info("Call log recorded",
			zap.Int("duration_sec", durationSec),
			zap.String("end_reason", entry.EndReason))
	}

	if entry.Status == domain.CallStatusMissed && caller.UserID != receiver.UserID && r.notifier != nil {
		if err := r.notifier.NotifyMissedCall(ctx, receiver.UserID, caller.Username, entry.CallType); err != nil {
			log.Warn("Failed to create missed call notification", zap.Error(err))
		}
	}
}

func (r *Recorder) resolve(ctx context.Context, username string) (*domain.User, error) {
	if username == "" {
		return nil, domain.ErrUserNotFound
	}
	return r.userRepo.FindByUsername(ctx, username)
}

func (r *Recorder) skip(log *zap.Logger, entry domain.CallLogEntry, err error) {
	metrics.CallLogsTotal.WithLabelValues(entry.Status, "skipped").Inc()
	if errors.Is(err, domain.ErrUserNotFound) {
		log.Debug("Skipping call log for unknown user")
		return
	}
	log.Warn("Skipping call log, user lookup failed", zap.Error(err))
}
