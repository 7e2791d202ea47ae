package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid typing message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Typing(t *testing.T) {
	input := []byte(`{"type":"typing","conversation_id":"c1","is_typing":true,"receiver_id":"user-b"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeTyping {
		t.Fatalf("expected type %q, got %q", TypeTyping, msgType)
	}

	tm, ok := msg.(TypingMsg)
	if !ok {
		t.Fatalf("expected TypingMsg, got %T", msg)
	}
	if tm.ConversationID != "c1" {
		t.Errorf("expected conversation_id %q, got %q", "c1", tm.ConversationID)
	}
	if !tm.IsTyping {
		t.Error("expected is_typing to be true")
	}
	if tm.ReceiverID != "user-b" {
		t.Errorf("expected receiver_id %q, got %q", "user-b", tm.ReceiverID)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a message_read acknowledgment
// ---------------------------------------------------------------------------

func TestParseClientMessage_MessageRead(t *testing.T) {
	input := []byte(`{"type":"message_read","message_id":"m-42","sender_id":"user-a"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessageRead {
		t.Fatalf("expected type %q, got %q", TypeMessageRead, msgType)
	}

	mr, ok := msg.(MessageReadMsg)
	if !ok {
		t.Fatalf("expected MessageReadMsg, got %T", msg)
	}
	if mr.MessageID != "m-42" {
		t.Errorf("expected message_id %q, got %q", "m-42", mr.MessageID)
	}
	if mr.SenderID != "user-a" {
		t.Errorf("expected sender_id %q, got %q", "user-a", mr.SenderID)
	}
}

func TestParseClientMessage_Ping(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypePing {
		t.Fatalf("expected type %q, got %q", TypePing, msgType)
	}
	if _, ok := msg.(PingMsg); !ok {
		t.Fatalf("expected PingMsg, got %T", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: Unknown client types are not errors — they are ignored upstream
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"selfie","data":"x"}`))
	if err != nil {
		t.Fatalf("unknown type should not produce an error, got: %v", err)
	}
	if msgType != "selfie" {
		t.Errorf("expected type to be passed through, got %q", msgType)
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %T", msg)
	}
}

func TestParseClientMessage_MissingType(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"conversation_id":"c1"}`))
	if err == nil {
		t.Fatal("expected error for missing type field")
	}
}

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// ---------------------------------------------------------------------------
// Test: Building server messages
// ---------------------------------------------------------------------------

func TestNewServerMessage_OnlineStatus(t *testing.T) {
	data, err := NewServerMessage(TypeOnlineStatus, OnlineStatusMsg{
		UserID:   "user-a",
		IsOnline: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeOnlineStatus {
		t.Errorf("expected type %q, got %v", TypeOnlineStatus, result["type"])
	}
	if result["user_id"] != "user-a" {
		t.Errorf("expected user_id %q, got %v", "user-a", result["user_id"])
	}
	if result["is_online"] != true {
		t.Errorf("expected is_online true, got %v", result["is_online"])
	}
}

func TestNewServerMessage_StampsTimestamp(t *testing.T) {
	data, err := NewServerMessage(TypePong, PongMsg{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	ts, ok := result["timestamp"].(string)
	if !ok {
		t.Fatalf("expected timestamp string, got %T", result["timestamp"])
	}
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		t.Errorf("timestamp %q is not RFC3339: %v", ts, err)
	}
}

func TestNewServerMessage_WrapsData(t *testing.T) {
	payload := DataMsg{Data: json.RawMessage(`{"session_id":"s-9","status":"confirmed"}`)}

	data, err := NewServerMessage(TypeSessionUpdate, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Type string `json:"type"`
		Data struct {
			SessionID string `json:"session_id"`
			Status    string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result.Type != TypeSessionUpdate {
		t.Errorf("expected type %q, got %q", TypeSessionUpdate, result.Type)
	}
	if result.Data.SessionID != "s-9" || result.Data.Status != "confirmed" {
		t.Errorf("data payload not preserved: %+v", result.Data)
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope round-trip keeps the raw payload for deferred decoding
// ---------------------------------------------------------------------------

func TestEnvelope_KeepsRawPayload(t *testing.T) {
	input := []byte(`{"type":"typing","conversation_id":"c7","is_typing":false,"receiver_id":"u2"}`)

	var env Envelope
	if err := json.Unmarshal(input, &env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Type != "typing" {
		t.Errorf("expected type %q, got %q", "typing", env.Type)
	}

	var tm TypingMsg
	if err := json.Unmarshal(env.Raw, &tm); err != nil {
		t.Fatalf("failed to decode raw payload: %v", err)
	}
	if tm.ConversationID != "c7" || tm.ReceiverID != "u2" {
		t.Errorf("raw payload not preserved: %+v", tm)
	}
}
