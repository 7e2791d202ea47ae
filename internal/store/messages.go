package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is a persisted conversation message between two users. The
// conversation ID is stable for a user pair regardless of direction.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
	Read           bool
	CreatedAt      time.Time
}

// MessageStore manages conversation messages in PostgreSQL.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore creates a message store backed by the given database handle.
func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Create inserts a message and fills in its generated ID.
func (s *MessageStore) Create(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	const query = `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Content,
	)
	if err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}
	return nil
}

// ListConversation returns the conversation's messages, oldest first.
func (s *MessageStore) ListConversation(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	const query = `
		SELECT id, conversation_id, sender_id, receiver_id, content, read, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.ReceiverID,
			&msg.Content, &msg.Read, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// MarkRead flags a single message as read by its receiver.
func (s *MessageStore) MarkRead(ctx context.Context, messageID, readerID string) error {
	const query = `
		UPDATE messages
		SET read = TRUE
		WHERE id = $1 AND receiver_id = $2`

	if _, err := s.db.ExecContext(ctx, query, messageID, readerID); err != nil {
		return fmt.Errorf("store: mark message read: %w", err)
	}
	return nil
}

// CountUnread returns the number of unread messages addressed to the user.
func (s *MessageStore) CountUnread(ctx context.Context, userID string) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM messages
		WHERE receiver_id = $1 AND read = FALSE`

	var count int
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count unread: %w", err)
	}
	return count, nil
}
