package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tutoring session statuses.
const (
	SessionPending   = "pending"
	SessionConfirmed = "confirmed"
	SessionCompleted = "completed"
	SessionCancelled = "cancelled"
)

// Session is a booked tutoring session between a student and a teacher.
type Session struct {
	ID          string
	StudentID   string
	TeacherID   string
	Subject     string
	Topic       string
	ScheduledAt time.Time
	DurationMin int
	Price       float64
	Status      string
	Paid        bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SessionStore manages tutoring sessions in PostgreSQL.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a session store backed by the given database handle.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create inserts a new pending session booking.
func (s *SessionStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.Status == "" {
		sess.Status = SessionPending
	}

	const query = `
		INSERT INTO sessions (id, student_id, teacher_id, subject, topic, scheduled_at, duration_min, price, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.StudentID, sess.TeacherID, sess.Subject, sess.Topic,
		sess.ScheduledAt, sess.DurationMin, sess.Price, sess.Status,
	)
	if err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}
	return nil
}

// GetByID returns the session with the given ID, or ErrNotFound.
func (s *SessionStore) GetByID(ctx context.Context, id string) (*Session, error) {
	const query = `
		SELECT id, student_id, teacher_id, subject, topic, scheduled_at, duration_min, price, status, paid, created_at, updated_at
		FROM sessions
		WHERE id = $1`

	var sess Session
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sess.ID, &sess.StudentID, &sess.TeacherID, &sess.Subject, &sess.Topic,
		&sess.ScheduledAt, &sess.DurationMin, &sess.Price, &sess.Status, &sess.Paid,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	return &sess, nil
}

// UpdateStatus sets the session status.
func (s *SessionStore) UpdateStatus(ctx context.Context, id, status string) error {
	const query = `
		UPDATE sessions
		SET status = $2, updated_at = NOW()
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("store: update session status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update session status: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPaid flags the session as paid. Called after a verified completed
// payment callback.
func (s *SessionStore) MarkPaid(ctx context.Context, id string) error {
	const query = `
		UPDATE sessions
		SET paid = TRUE, updated_at = NOW()
		WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("store: mark session paid: %w", err)
	}
	return nil
}

// ListByUser returns sessions where the user is the student or the teacher,
// newest first.
func (s *SessionStore) ListByUser(ctx context.Context, userID string, limit int) ([]Session, error) {
	const query = `
		SELECT id, student_id, teacher_id, subject, topic, scheduled_at, duration_min, price, status, paid, created_at, updated_at
		FROM sessions
		WHERE student_id = $1 OR teacher_id = $1
		ORDER BY scheduled_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(
			&sess.ID, &sess.StudentID, &sess.TeacherID, &sess.Subject, &sess.Topic,
			&sess.ScheduledAt, &sess.DurationMin, &sess.Price, &sess.Status, &sess.Paid,
			&sess.CreatedAt, &sess.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
