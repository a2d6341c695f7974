package cassandra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"pulse-backend/internal/database"
	"pulse-backend/internal/domain"
)

const messageColumns = `message_id, room, sender, receiver, text, kind, media_url, seen, seen_at, reactions, created_at, edited_at`

// MessageRepository handles direct message storage in Cassandra.
// Rows are keyed by message id; reactions live in a map<text,text> column so a
// single user's reaction can be written without rewriting the others.
type MessageRepository struct {
	db *database.CassandraDB
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(db *database.CassandraDB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Insert stores a new message
func (r *MessageRepository) Insert(ctx context.Context, message *domain.Message) error {
	query := `
		INSERT INTO direct_messages (
			message_id, room, sender, receiver, text, kind, media_url, seen, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.db.ExecWithContext(ctx, query,
		message.MessageID,
		message.Room,
		message.Sender,
		message.Receiver,
		message.Text,
		message.Kind,
		message.MediaURL,
		message.Seen,
		message.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	return nil
}

// FindByID loads a message with its current reactions
func (r *MessageRepository) FindByID(ctx context.Context, messageID string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM direct_messages WHERE message_id = ?`

	message := &domain.Message{}
	err := r.db.QueryWithContext(ctx, query, messageID).Scan(
		&message.MessageID,
		&message.Room,
		&message.Sender,
		&message.Receiver,
		&message.Text,
		&message.Kind,
		&message.MediaURL,
		&message.Seen,
		&message.SeenAt,
		&message.Reactions,
		&message.CreatedAt,
		&message.EditedAt,
	)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if message.Reactions == nil {
		message.Reactions = map[string]string{}
	}

	return message, nil
}

// UpdateText replaces the message body and stamps the edit time
func (r *MessageRepository) UpdateText(ctx context.Context, messageID, text string, editedAt time.Time) error {
	query := `UPDATE direct_messages SET text = ?, edited_at = ? WHERE message_id = ? IF EXISTS`

	return r.execIfExists(ctx, "update message", query, text, editedAt, messageID)
}

// Delete removes a message permanently
func (r *MessageRepository) Delete(ctx context.Context, messageID string) error {
	query := `DELETE FROM direct_messages WHERE message_id = ?`

	if err := r.db.ExecWithContext(ctx, query, messageID); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// SetReaction writes one user's reaction
func (r *MessageRepository) SetReaction(ctx context.Context, messageID, username, emoji string) error {
	query := `UPDATE direct_messages SET reactions[?] = ? WHERE message_id = ? IF EXISTS`

	return r.execIfExists(ctx, "set reaction", query, username, emoji, messageID)
}

// RemoveReaction deletes one user's reaction
func (r *MessageRepository) RemoveReaction(ctx context.Context, messageID, username string) error {
	query := `DELETE reactions[?] FROM direct_messages WHERE message_id = ? IF EXISTS`

	return r.execIfExists(ctx, "remove reaction", query, username, messageID)
}

// MarkSeen flags the message as read by its receiver
func (r *MessageRepository) MarkSeen(ctx context.Context, messageID string, seenAt time.Time) error {
	query := `UPDATE direct_messages SET seen = true, seen_at = ? WHERE message_id = ? IF EXISTS`

	return r.execIfExists(ctx, "mark message seen", query, seenAt, messageID)
}

// execIfExists runs a conditional write. UPDATE is an upsert in Cassandra, so
// without IF EXISTS a write racing a Delete would recreate a partial row.
func (r *MessageRepository) execIfExists(ctx context.Context, op, query string, values ...interface{}) error {
	applied, err := r.db.QueryWithContext(ctx, query, values...).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if !applied {
		return domain.ErrMessageNotFound
	}
	return nil
}

// ScanReactions walks every message that carries reactions, page by page.
// fn returning an error stops the scan.
func (r *MessageRepository) ScanReactions(ctx context.Context, pageSize int, fn func(messageID string, reactions map[string]string) error) error {
	query := `SELECT message_id, reactions FROM direct_messages`

	iter := r.db.QueryWithContext(ctx, query).PageSize(pageSize).Iter()

	var (
		messageID string
		reactions map[string]string
	)
	for iter.Scan(&messageID, &reactions) {
		if len(reactions) > 0 {
			if err := fn(messageID, reactions); err != nil {
				_ = iter.Close()
				return err
			}
		}
		reactions = nil
	}

	if err := iter.Close(); err != nil {
		return fmt.Errorf("failed to scan reactions: %w", err)
	}
	return nil
}
