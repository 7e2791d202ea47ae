// Package protocol defines the WebSocket message types and structures
// exchanged between clients and the real-time server. All messages are
// serialized as JSON and carry a type discriminator plus an RFC3339 UTC
// timestamp stamped by the sender.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeTyping      = "typing"
	TypeMessageRead = "message_read"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeOnlineStatus  = "online_status"
	TypeServerTyping  = "typing"
	TypeNewMessage    = "new_message"
	TypeNotification  = "notification"
	TypeSessionUpdate = "session_update"
	TypeReadReceipt   = "message_read"
	TypePong          = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// TypingMsg is sent by a client to signal that it started or stopped typing
// in a conversation. ReceiverID names the peer that should see the indicator.
type TypingMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
	ReceiverID     string `json:"receiver_id"`
}

// MessageReadMsg acknowledges that the client has read a message. SenderID is
// the original author, who receives the read receipt.
type MessageReadMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
}

// PingMsg is a client-initiated keepalive probe.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// OnlineStatusMsg announces that a user came online or went offline.
type OnlineStatusMsg struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

// ServerTypingMsg relays a peer's typing indicator.
type ServerTypingMsg struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// DataMsg wraps an opaque payload for new_message, notification and
// session_update events. The payload is produced by the API layer and
// forwarded verbatim.
type DataMsg struct {
	Data json.RawMessage `json:"data"`
}

// ReadReceiptMsg tells the original sender that a message has been read.
type ReadReceiptMsg struct {
	MessageID string `json:"message_id"`
	ReaderID  string `json:"reader_id"`
}

// PongMsg is the server's reply to a client ping.
type PongMsg struct{}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. Server-only and unknown types return the type
// string with a nil message and no error; callers are expected to ignore them.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessageRead:
		var m MessageReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, nil
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The payload struct is flattened into a map, then the "type" field and an
// RFC3339 UTC "timestamp" are injected.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}
	if m == nil {
		m = make(map[string]interface{})
	}

	m["type"] = msgType
	m["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
