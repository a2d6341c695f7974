// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout bounds a single repository call made from an event handler
	DefaultTimeout = 10 * time.Second

	// WebSocketPongWait is how long a connection may stay silent before it is dropped
	WebSocketPongWait = 60 * time.Second

	// WebSocketPingInterval must be shorter than WebSocketPongWait
	WebSocketPingInterval = 54 * time.Second

	// WebSocketWriteWait is the deadline for a single frame write
	WebSocketWriteWait = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute

	// TokenAudience is the audience every gateway token must carry
	TokenAudience = "pulse-api"

	// TokenIssuer identifies tokens minted by the auth service
	TokenIssuer = "pulse-auth"
)

// Call-related constants
const (
	// CallGracePeriod is how long call state survives a user's last connection dropping
	CallGracePeriod = 4 * time.Second

	// CallTypeVoice indicates an audio-only call
	CallTypeVoice = "voice"

	// CallTypeVideo indicates a video call
	CallTypeVideo = "video"
)

// Message constants
const (
	// MaxMessageLength is the maximum allowed message length in characters
	MaxMessageLength = 10000

	// MessageEditWindow is how long after creation the sender may edit a message
	MessageEditWindow = 15 * time.Minute

	// MessageDeleteWindow is how long after creation the sender may delete a message
	MessageDeleteWindow = 15 * time.Minute

	// MaxEmojiLength caps a single reaction value in bytes
	MaxEmojiLength = 32
)

// Rate limiting constants
const (
	// DefaultMessageRate is the number of chat sends allowed per window
	DefaultMessageRate = 30

	// DefaultRateWindow is the fixed window length
	DefaultRateWindow = time.Minute

	// DefaultMaxRateBuckets caps the in-process limiter table
	DefaultMaxRateBuckets = 10000
)

// Relationship rule values stored on user privacy settings
const (
	RuleEveryone  = "everyone"
	RuleFollowers = "followers"
	RuleFollowing = "following"
	RuleMutual    = "mutual"
	RuleNobody    = "nobody"
)
