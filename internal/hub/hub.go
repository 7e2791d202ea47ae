// Package hub implements user-level realtime routing on top of the WebSocket
// layer: it maps users to their live connection, tracks presence, fans out
// online/offline announcements, and pushes server events to individual users.
package hub

import (
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/fastclassified/marketplace/internal/metrics"
	"github.com/fastclassified/marketplace/internal/presence"
	"github.com/fastclassified/marketplace/internal/protocol"
)

// ErrUserOffline is returned when a push targets a user with no live
// connection. Callers fall back to persisted notifications.
var ErrUserOffline = errors.New("hub: user has no active connection")

// Channel is the outbound half of a client connection. ws.Connection
// implements it; tests substitute in-memory pipes.
type Channel interface {
	WriteMessage(data []byte) error
	Close() error
}

// Hub owns the user -> connection registry. Each user has at most one live
// channel; a reconnect replaces the previous entry without closing it, and
// the stale socket is reaped by its own read failure.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]Channel
	presence *presence.Registry
}

// NewHub creates a Hub over the given presence registry.
func NewHub(reg *presence.Registry) *Hub {
	return &Hub{
		channels: make(map[string]Channel),
		presence: reg,
	}
}

// Connect binds a user to a channel. If the user already had a channel, the
// new one replaces it and no announcements fire: the user never appeared
// offline. A genuinely new user is announced to everyone else, and the
// newcomer receives the current online roster.
func (h *Hub) Connect(userID string, ch Channel) {
	// The registry is updated under h.mu so the channel map and presence
	// never disagree for a user caught between a connect and a concurrent
	// disconnect of the same socket.
	h.mu.Lock()
	_, existed := h.channels[userID]
	h.channels[userID] = ch
	h.presence.MarkOnline(userID)
	n := len(h.channels)
	metrics.OnlineUsers.Set(float64(n))
	h.mu.Unlock()

	if !existed {
		h.announceStatus(userID, true)
	}
	h.sendRoster(userID, ch)

	log.Printf("hub: user connected user=%s online=%d", userID, n)
}

// Disconnect removes a user's channel, but only if ch is still the channel
// on record. A stale disconnect (the socket that was replaced by a
// reconnect) is a no-op, which is what guarantees the offline announcement
// fires exactly once per real departure. Returns whether a removal happened.
func (h *Hub) Disconnect(userID string, ch Channel) bool {
	h.mu.Lock()
	current, ok := h.channels[userID]
	if !ok || current != ch {
		h.mu.Unlock()
		return false
	}
	delete(h.channels, userID)
	h.presence.MarkOffline(userID)
	n := len(h.channels)
	metrics.OnlineUsers.Set(float64(n))
	h.mu.Unlock()

	h.announceStatus(userID, false)

	log.Printf("hub: user disconnected user=%s online=%d", userID, n)
	return true
}

// SendToUser delivers raw bytes to a user's live channel. A write failure is
// treated as an implicit disconnect: the channel is removed and the user's
// departure announced, then the write error is returned.
func (h *Hub) SendToUser(userID string, data []byte) error {
	h.mu.RLock()
	ch, ok := h.channels[userID]
	h.mu.RUnlock()

	if !ok {
		metrics.PushesTotal.WithLabelValues("offline").Inc()
		return ErrUserOffline
	}

	if err := ch.WriteMessage(data); err != nil {
		h.Disconnect(userID, ch)
		return err
	}

	metrics.PushesTotal.WithLabelValues("delivered").Inc()
	return nil
}

// Broadcast delivers raw bytes to every connected user except exclude. A
// failed recipient is disconnected and skipped; one dead socket never blocks
// delivery to the rest.
func (h *Hub) Broadcast(data []byte, exclude string) {
	h.mu.RLock()
	targets := make(map[string]Channel, len(h.channels))
	for userID, ch := range h.channels {
		if userID == exclude {
			continue
		}
		targets[userID] = ch
	}
	h.mu.RUnlock()

	for userID, ch := range targets {
		if err := ch.WriteMessage(data); err != nil {
			h.Disconnect(userID, ch)
		}
	}
}

// OnlineUsers returns the IDs of all users currently marked online.
func (h *Hub) OnlineUsers() []string {
	return h.presence.ListOnline()
}

// IsOnline reports whether the user has a live connection.
func (h *Hub) IsOnline(userID string) bool {
	return h.presence.IsOnline(userID)
}

// announceStatus broadcasts an online/offline transition to everyone except
// the user it concerns.
func (h *Hub) announceStatus(userID string, online bool) {
	data, err := protocol.NewServerMessage(protocol.TypeOnlineStatus, protocol.OnlineStatusMsg{
		UserID:   userID,
		IsOnline: online,
	})
	if err != nil {
		log.Printf("hub: failed to build online_status for user %s: %v", userID, err)
		return
	}
	h.Broadcast(data, userID)
}

// sendRoster sends the newcomer one online_status message per user already
// online, so the client can render presence without a separate query.
func (h *Hub) sendRoster(userID string, ch Channel) {
	for _, other := range h.presence.ListOnline() {
		if other == userID {
			continue
		}
		data, err := protocol.NewServerMessage(protocol.TypeOnlineStatus, protocol.OnlineStatusMsg{
			UserID:   other,
			IsOnline: true,
		})
		if err != nil {
			continue
		}
		if err := ch.WriteMessage(data); err != nil {
			return
		}
	}
}

// HandleEvent processes one inbound client frame: typing indicators and read
// receipts are relayed to their peer, pings are answered, and unknown types
// are ignored. Malformed frames are logged and dropped; they never kill the
// connection.
func (h *Hub) HandleEvent(userID string, ch Channel, data []byte) {
	_, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("hub: dropped malformed frame user=%s: %v", userID, err)
		return
	}

	switch m := msg.(type) {
	case protocol.TypingMsg:
		metrics.EventsTotal.WithLabelValues(protocol.TypeTyping).Inc()
		h.presence.SetTyping(m.ConversationID, userID, m.IsTyping)

		out, err := protocol.NewServerMessage(protocol.TypeServerTyping, protocol.ServerTypingMsg{
			ConversationID: m.ConversationID,
			UserID:         userID,
			IsTyping:       m.IsTyping,
		})
		if err != nil {
			log.Printf("hub: failed to build typing relay user=%s: %v", userID, err)
			return
		}
		// Best effort: an offline peer simply misses the indicator.
		if err := h.SendToUser(m.ReceiverID, out); err != nil && !errors.Is(err, ErrUserOffline) {
			log.Printf("hub: typing relay failed user=%s peer=%s: %v", userID, m.ReceiverID, err)
		}

	case protocol.MessageReadMsg:
		metrics.EventsTotal.WithLabelValues(protocol.TypeMessageRead).Inc()

		out, err := protocol.NewServerMessage(protocol.TypeReadReceipt, protocol.ReadReceiptMsg{
			MessageID: m.MessageID,
			ReaderID:  userID,
		})
		if err != nil {
			log.Printf("hub: failed to build read receipt user=%s: %v", userID, err)
			return
		}
		if err := h.SendToUser(m.SenderID, out); err != nil && !errors.Is(err, ErrUserOffline) {
			log.Printf("hub: read receipt relay failed user=%s peer=%s: %v", userID, m.SenderID, err)
		}

	case protocol.PingMsg:
		metrics.EventsTotal.WithLabelValues(protocol.TypePing).Inc()

		out, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
		if err != nil {
			return
		}
		if err := ch.WriteMessage(out); err != nil {
			h.Disconnect(userID, ch)
		}

	default:
		// Unknown or server-only type from a client: ignore.
		metrics.EventsTotal.WithLabelValues("ignored").Inc()
	}
}

// SendNewMessage pushes a chat message payload to the receiver.
func (h *Hub) SendNewMessage(userID string, payload json.RawMessage) error {
	return h.sendData(protocol.TypeNewMessage, userID, payload)
}

// SendNotification pushes a notification payload to the user.
func (h *Hub) SendNotification(userID string, payload json.RawMessage) error {
	return h.sendData(protocol.TypeNotification, userID, payload)
}

// SendSessionUpdate pushes a session state change to the user.
func (h *Hub) SendSessionUpdate(userID string, payload json.RawMessage) error {
	return h.sendData(protocol.TypeSessionUpdate, userID, payload)
}

func (h *Hub) sendData(msgType, userID string, payload json.RawMessage) error {
	data, err := protocol.NewServerMessage(msgType, protocol.DataMsg{Data: payload})
	if err != nil {
		return err
	}
	return h.SendToUser(userID, data)
}
