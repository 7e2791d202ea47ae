package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// notificationJSON is the client-facing shape of a notification.
type notificationJSON struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"created_at"`
}

// handleNotifications returns the caller's unread notifications along with
// their unread message count, so clients can render both badges in one call.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	user := userID(w, r)
	if user == "" {
		return
	}

	notifs, err := s.notifs.ListUnread(r.Context(), user, 50)
	if err != nil {
		log.Printf("api: list notifications user=%s: %v", user, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	unreadMsgs, err := s.messages.CountUnread(r.Context(), user)
	if err != nil {
		log.Printf("api: count unread messages user=%s: %v", user, err)
		unreadMsgs = 0
	}

	out := make([]notificationJSON, 0, len(notifs))
	for _, n := range notifs {
		out = append(out, notificationJSON{
			ID:        n.ID,
			Kind:      n.Kind,
			Payload:   n.Payload,
			Read:      n.Read,
			CreatedAt: n.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications":   out,
		"unread_messages": unreadMsgs,
	})
}

// notificationsReadRequest is the body for POST /api/notifications/read.
// With no IDs, all of the caller's notifications are marked read.
type notificationsReadRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	user := userID(w, r)
	if user == "" {
		return
	}

	var req notificationsReadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.notifs.MarkRead(r.Context(), user, req.IDs); err != nil {
		log.Printf("api: mark notifications read user=%s: %v", user, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
