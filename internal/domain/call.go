package domain

import (
	"time"

	"github.com/google/uuid"
)

// Call log statuses
const (
	CallStatusCompleted = "completed"
	CallStatusMissed    = "missed"
	CallStatusRejected  = "rejected"
	CallStatusCancelled = "cancelled"
)

// CallLog is one terminated call attempt
// Maps to CockroachDB call_logs table. Rows are append-only.
type CallLog struct {
	CallLogID   uuid.UUID  `json:"call_log_id" db:"call_log_id"`
	CallerID    uuid.UUID  `json:"caller_id" db:"caller_id"`
	ReceiverID  uuid.UUID  `json:"receiver_id" db:"receiver_id"`
	Status      string     `json:"status" db:"status"` // completed, missed, rejected, cancelled
	DurationSec int        `json:"duration_sec" db:"duration_sec"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt     time.Time  `json:"ended_at" db:"ended_at"`
	EndReason   string     `json:"end_reason,omitempty" db:"end_reason"`
	CallType    string     `json:"call_type" db:"call_type"` // voice, video
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// CallLogEntry is what the signaling layer knows when a call ends. Usernames
// are resolved to ids before the row is written.
type CallLogEntry struct {
	Caller      string
	Receiver    string
	Status      string
	DurationSec int
	StartedAt   *time.Time
	EndedAt     *time.Time
	EndReason   string
	CallType    string
}
