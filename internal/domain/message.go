package domain

import (
	"sort"
	"time"
)

// Message kinds
const (
	MessageKindText  = "text"
	MessageKindImage = "image"
	MessageKindVideo = "video"
	MessageKindFile  = "file"
)

// IsValidMessageKind reports whether kind is one of the stored message kinds
func IsValidMessageKind(kind string) bool {
	switch kind {
	case MessageKindText, MessageKindImage, MessageKindVideo, MessageKindFile:
		return true
	}
	return false
}

// Message represents a direct message
// Maps to Cassandra direct_messages table
type Message struct {
	MessageID string            `json:"id" cql:"message_id"`
	Room      string            `json:"room" cql:"room"`
	Sender    string            `json:"senderId" cql:"sender"`
	Receiver  string            `json:"receiverId" cql:"receiver"`
	Text      string            `json:"text" cql:"text"`
	Kind      string            `json:"kind" cql:"kind"` // text, image, video, file
	MediaURL  string            `json:"mediaUrl,omitempty" cql:"media_url"`
	Seen      bool              `json:"seen" cql:"seen"`
	SeenAt    *time.Time        `json:"seenAt,omitempty" cql:"seen_at"`
	Reactions map[string]string `json:"-" cql:"reactions"` // username -> emoji
	CreatedAt time.Time         `json:"createdAt" cql:"created_at"`
	EditedAt  *time.Time        `json:"editedAt,omitempty" cql:"edited_at"`
}

// Reaction is one user's emoji on a message
type Reaction struct {
	Username string `json:"username"`
	Emoji    string `json:"emoji"`
}

// ReactionList returns the reactions ordered by username
func (m *Message) ReactionList() []Reaction {
	list := make([]Reaction, 0, len(m.Reactions))
	for username, emoji := range m.Reactions {
		list = append(list, Reaction{Username: username, Emoji: emoji})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Username < list[j].Username })
	return list
}

// MessageResponse is the payload relayed to clients
type MessageResponse struct {
	*Message
	Reactions []Reaction `json:"reactions"`
}

// ToResponse converts Message to its wire form
func (m *Message) ToResponse() *MessageResponse {
	return &MessageResponse{Message: m, Reactions: m.ReactionList()}
}
