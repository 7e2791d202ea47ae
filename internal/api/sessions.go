package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/fastclassified/marketplace/internal/store"
)

// createSessionRequest is the body for POST /api/sessions.
type createSessionRequest struct {
	TeacherID   string    `json:"teacher_id"`
	Subject     string    `json:"subject"`
	Topic       string    `json:"topic"`
	ScheduledAt time.Time `json:"scheduled_at"`
	DurationMin int       `json:"duration_min"`
	Price       float64   `json:"price"`
}

// sessionJSON is the client-facing shape of a session.
type sessionJSON struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	TeacherID   string    `json:"teacher_id"`
	Subject     string    `json:"subject"`
	Topic       string    `json:"topic,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
	DurationMin int       `json:"duration_min"`
	Price       float64   `json:"price"`
	Status      string    `json:"status"`
	Paid        bool      `json:"paid"`
	CreatedAt   time.Time `json:"created_at"`
}

func toSessionJSON(sess *store.Session) sessionJSON {
	return sessionJSON{
		ID:          sess.ID,
		StudentID:   sess.StudentID,
		TeacherID:   sess.TeacherID,
		Subject:     sess.Subject,
		Topic:       sess.Topic,
		ScheduledAt: sess.ScheduledAt,
		DurationMin: sess.DurationMin,
		Price:       sess.Price,
		Status:      sess.Status,
		Paid:        sess.Paid,
		CreatedAt:   sess.CreatedAt,
	}
}

// handleSessions creates a booking (POST) or lists the caller's sessions
// (GET).
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createSession(w, r)
	case http.MethodGet:
		s.listSessions(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	user := userID(w, r)
	if user == "" {
		return
	}

	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TeacherID == "" || req.Subject == "" {
		writeError(w, http.StatusBadRequest, "teacher_id and subject are required")
		return
	}
	if req.TeacherID == user {
		writeError(w, http.StatusBadRequest, "cannot book a session with yourself")
		return
	}
	if req.DurationMin <= 0 || req.Price < 0 {
		writeError(w, http.StatusBadRequest, "invalid duration or price")
		return
	}

	sess := &store.Session{
		StudentID:   user,
		TeacherID:   req.TeacherID,
		Subject:     req.Subject,
		Topic:       req.Topic,
		ScheduledAt: req.ScheduledAt,
		DurationMin: req.DurationMin,
		Price:       req.Price,
	}
	if err := s.sessions.Create(r.Context(), sess); err != nil {
		log.Printf("api: create session: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.notifySessionParty(r, sess.TeacherID, sess, "requested")

	log.Printf("api: session booked id=%s student=%s teacher=%s", sess.ID, user, req.TeacherID)
	writeJSON(w, http.StatusCreated, toSessionJSON(sess))
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	user := userID(w, r)
	if user == "" {
		return
	}

	sessions, err := s.sessions.ListByUser(r.Context(), user, 50)
	if err != nil {
		log.Printf("api: list sessions user=%s: %v", user, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]sessionJSON, 0, len(sessions))
	for i := range sessions {
		out = append(out, toSessionJSON(&sessions[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

// sessionStatusRequest is the body for POST /api/sessions/status.
type sessionStatusRequest struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// validStatusTransition enforces who may set which status: the teacher
// confirms or completes, either party cancels.
func validStatusTransition(sess *store.Session, user, status string) bool {
	switch status {
	case store.SessionConfirmed, store.SessionCompleted:
		return user == sess.TeacherID
	case store.SessionCancelled:
		return user == sess.TeacherID || user == sess.StudentID
	}
	return false
}

// handleSessionStatus updates a session's lifecycle status and notifies the
// other party.
func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	user := userID(w, r)
	if user == "" {
		return
	}

	var req sessionStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := s.sessions.GetByID(r.Context(), req.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		log.Printf("api: get session %s: %v", req.SessionID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if !validStatusTransition(sess, user, req.Status) {
		writeError(w, http.StatusForbidden, "not allowed to set this status")
		return
	}

	if err := s.sessions.UpdateStatus(r.Context(), sess.ID, req.Status); err != nil {
		log.Printf("api: update session %s status: %v", sess.ID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	sess.Status = req.Status

	other := sess.StudentID
	if user == sess.StudentID {
		other = sess.TeacherID
	}
	s.notifySessionParty(r, other, sess, req.Status)

	writeJSON(w, http.StatusOK, toSessionJSON(sess))
}

// notifySessionParty persists a session notification for a user and pushes
// the session update over the bus.
func (s *Server) notifySessionParty(r *http.Request, target string, sess *store.Session, event string) {
	payload, _ := json.Marshal(map[string]interface{}{
		"kind":       store.NotifySession,
		"session_id": sess.ID,
		"subject":    sess.Subject,
		"event":      event,
	})

	n := &store.Notification{UserID: target, Kind: store.NotifySession, Payload: payload}
	if err := s.notifs.Create(r.Context(), n); err != nil {
		log.Printf("api: persist session notification user=%s: %v", target, err)
	}

	if s.bus != nil {
		if err := s.bus.PublishSessionUpdate(target, payload); err != nil {
			log.Printf("api: publish session update user=%s: %v", target, err)
		}
	}
}
