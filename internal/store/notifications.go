package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Notification kinds.
const (
	NotifyPayment = "payment"
	NotifySession = "session"
)

// Notification is a persisted per-user notification. Payload is opaque JSON
// produced by the emitting subsystem and forwarded to clients verbatim.
type Notification struct {
	ID        string
	UserID    string
	Kind      string
	Payload   json.RawMessage
	Read      bool
	CreatedAt time.Time
}

// NotificationStore manages notifications in PostgreSQL.
type NotificationStore struct {
	db *sql.DB
}

// NewNotificationStore creates a notification store backed by the given
// database handle.
func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

// Create inserts a notification and fills in its generated ID.
func (s *NotificationStore) Create(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}

	const query = `
		INSERT INTO notifications (id, user_id, kind, payload)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.db.ExecContext(ctx, query, n.ID, n.UserID, n.Kind, []byte(n.Payload)); err != nil {
		return fmt.Errorf("store: insert notification: %w", err)
	}
	return nil
}

// ListUnread returns the user's unread notifications, newest first.
func (s *NotificationStore) ListUnread(ctx context.Context, userID string, limit int) ([]Notification, error) {
	const query = `
		SELECT id, user_id, kind, payload, read, created_at
		FROM notifications
		WHERE user_id = $1 AND read = FALSE
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list notifications: %w", err)
	}
	defer rows.Close()

	var notifs []Notification
	for rows.Next() {
		var (
			n       Notification
			payload []byte
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &payload, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan notification: %w", err)
		}
		n.Payload = json.RawMessage(payload)
		notifs = append(notifs, n)
	}
	return notifs, rows.Err()
}

// MarkRead flags the user's notifications as read. With no IDs given, all of
// the user's notifications are marked.
func (s *NotificationStore) MarkRead(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		const query = `UPDATE notifications SET read = TRUE WHERE user_id = $1`
		if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
			return fmt.Errorf("store: mark notifications read: %w", err)
		}
		return nil
	}

	const query = `UPDATE notifications SET read = TRUE WHERE user_id = $1 AND id = ANY($2)`
	if _, err := s.db.ExecContext(ctx, query, userID, pq.Array(ids)); err != nil {
		return fmt.Errorf("store: mark notifications read: %w", err)
	}
	return nil
}
