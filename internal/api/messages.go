package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/fastclassified/marketplace/internal/ratelimit"
	"github.com/fastclassified/marketplace/internal/store"
)

// ConversationID derives the stable conversation identifier for a user pair.
// The two IDs are ordered lexicographically so both directions map to the
// same conversation.
func ConversationID(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + ":" + b
}

// sendMessageRequest is the body for POST /api/messages.
type sendMessageRequest struct {
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}

// messageJSON is the client-facing shape of a message.
type messageJSON struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Content        string    `json:"content"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}

func toMessageJSON(msg *store.Message) messageJSON {
	return messageJSON{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Content:        msg.Content,
		Read:           msg.Read,
		CreatedAt:      msg.CreatedAt,
	}
}

// handleMessages sends a message (POST) or lists a conversation (GET).
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.sendMessage(w, r)
	case http.MethodGet:
		s.listMessages(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// sendMessage persists the message and publishes it on the push bus so the
// receiver's realtime server can deliver it immediately.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	user := userID(w, r)
	if user == "" {
		return
	}
	if !s.allow(w, r, user, ratelimit.RuleMessage) {
		return
	}

	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ReceiverID == "" || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "receiver_id and content are required")
		return
	}
	if req.ReceiverID == user {
		writeError(w, http.StatusBadRequest, "cannot message yourself")
		return
	}

	msg := &store.Message{
		ConversationID: ConversationID(user, req.ReceiverID),
		SenderID:       user,
		ReceiverID:     req.ReceiverID,
		Content:        req.Content,
	}
	if err := s.messages.Create(r.Context(), msg); err != nil {
		log.Printf("api: persist message: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	msg.CreatedAt = time.Now().UTC()

	if s.bus != nil {
		payload, _ := json.Marshal(toMessageJSON(msg))
		if err := s.bus.PublishMessage(req.ReceiverID, payload); err != nil {
			log.Printf("api: publish message push user=%s: %v", req.ReceiverID, err)
		}
	}

	writeJSON(w, http.StatusCreated, toMessageJSON(msg))
}

// listMessages returns a conversation's messages; the caller must be one of
// the two participants encoded in the conversation ID.
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	user := userID(w, r)
	if user == "" {
		return
	}

	convID := r.URL.Query().Get("conversation_id")
	if convID == "" {
		writeError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}
	parts := strings.SplitN(convID, ":", 2)
	if len(parts) != 2 || (parts[0] != user && parts[1] != user) {
		writeError(w, http.StatusForbidden, "not a participant in this conversation")
		return
	}

	msgs, err := s.messages.ListConversation(r.Context(), convID, 100)
	if err != nil {
		log.Printf("api: list messages conv=%s: %v", convID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]messageJSON, 0, len(msgs))
	for i := range msgs {
		out = append(out, toMessageJSON(&msgs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": out})
}

// messagesReadRequest is the body for POST /api/messages/read.
type messagesReadRequest struct {
	MessageID string `json:"message_id"`
}

// handleMessagesRead marks a message as read by its receiver.
func (s *Server) handleMessagesRead(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	user := userID(w, r)
	if user == "" {
		return
	}

	var req messagesReadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MessageID == "" {
		writeError(w, http.StatusBadRequest, "message_id is required")
		return
	}

	if err := s.messages.MarkRead(r.Context(), req.MessageID, user); err != nil {
		log.Printf("api: mark message read user=%s: %v", user, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
