package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents a user entity in the system
// Maps to CockroachDB users table. The gateway only reads the privacy columns.
type User struct {
	UserID            uuid.UUID `json:"user_id" db:"user_id"`
	Username          string    `json:"username" db:"username"`
	DisplayName       string    `json:"display_name" db:"display_name"`
	AvatarURL         *string   `json:"avatar_url,omitempty" db:"avatar_url"`
	ShowOnlineStatus  bool      `json:"show_online_status" db:"show_online_status"`
	AllowCallsFrom    string    `json:"allow_calls_from" db:"allow_calls_from"`       // everyone, followers, following, mutual, nobody
	AllowMessagesFrom string    `json:"allow_messages_from" db:"allow_messages_from"` // everyone, followers, following, mutual, nobody
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// PresenceResponse is returned by the REST presence endpoint
type PresenceResponse struct {
	Online []string `json:"online"`
	Count  int      `json:"count"`
}
