package relay

import (
	"time"

	"pulse-backend/internal/domain"
)

// Chat events, client and server share the names
const (
	EventSendMessage   = "sendMessage"
	EventEditMessage   = "editMessage"
	EventDeleteMessage = "deleteMessage"
	EventReactMessage  = "reactMessage"
	EventMessageSeen   = "messageSeen"
	EventTyping        = "typing"

	EventReceiveMessage         = "receiveMessage"
	EventMessageEdited          = "messageEdited"
	EventMessageDeleted         = "messageDeleted"
	EventMessageReactionUpdated = "messageReactionUpdated"
	EventMessageSeenUpdate      = "messageSeenUpdate"
	EventUserTyping             = "userTyping"
)

// SendRequest is the client payload for sendMessage
type SendRequest struct {
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text"`
	Room       string `json:"room"`
	Kind       string `json:"kind,omitempty"`
	MediaURL   string `json:"mediaUrl,omitempty"`
}

// EditRequest is the client payload for editMessage
type EditRequest struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	Room      string `json:"room"`
}

// DeleteRequest is the client payload for deleteMessage
type DeleteRequest struct {
	MessageID string `json:"messageId"`
	Room      string `json:"room"`
}

// ReactRequest is the client payload for reactMessage
type ReactRequest struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	Room      string `json:"room"`
}

// SeenRequest is the client payload for messageSeen
type SeenRequest struct {
	MessageID string `json:"messageId"`
	Room      string `json:"room"`
}

// TypingRequest is the client payload for typing
type TypingRequest struct {
	Room     string `json:"room"`
	IsTyping bool   `json:"isTyping"`
}

// MessageEditedPayload is broadcast after an edit
type MessageEditedPayload struct {
	MessageID string    `json:"messageId"`
	Room      string    `json:"room"`
	Text      string    `json:"text"`
	EditedAt  time.Time `json:"editedAt"`
}

// MessageDeletedPayload is broadcast after a delete
type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
	Room      string `json:"room"`
}

// ReactionUpdatedPayload carries the full reaction list after a change
type ReactionUpdatedPayload struct {
	MessageID string            `json:"messageId"`
	Room      string            `json:"room"`
	Reactions []domain.Reaction `json:"reactions"`
}

// SeenUpdatePayload is broadcast when the receiver reads a message
type SeenUpdatePayload struct {
	MessageID string    `json:"messageId"`
	Room      string    `json:"room"`
	SeenBy    string    `json:"seenBy"`
	SeenAt    time.Time `json:"seenAt"`
}

// TypingPayload is relayed to the rest of the room
type TypingPayload struct {
	From     string `json:"from"`
	Room     string `json:"room"`
	IsTyping bool   `json:"isTyping"`
}
