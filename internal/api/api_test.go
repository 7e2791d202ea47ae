package api

import (
	"net/http/httptest"
	"testing"

	"github.com/fastclassified/marketplace/internal/store"
)

func TestConversationID(t *testing.T) {
	a := ConversationID("alice", "bob")
	b := ConversationID("bob", "alice")

	if a != b {
		t.Errorf("conversation ID must be direction-independent: %q vs %q", a, b)
	}
	if a != "alice:bob" {
		t.Errorf("conversation ID = %q, want alice:bob", a)
	}
}

func TestValidStatusTransition(t *testing.T) {
	sess := &store.Session{StudentID: "student-1", TeacherID: "teacher-1"}

	tests := []struct {
		user   string
		status string
		want   bool
	}{
		{"teacher-1", store.SessionConfirmed, true},
		{"teacher-1", store.SessionCompleted, true},
		{"teacher-1", store.SessionCancelled, true},
		{"student-1", store.SessionConfirmed, false},
		{"student-1", store.SessionCompleted, false},
		{"student-1", store.SessionCancelled, true},
		{"stranger", store.SessionCancelled, false},
		{"teacher-1", "paid", false},
	}

	for _, tt := range tests {
		if got := validStatusTransition(sess, tt.user, tt.status); got != tt.want {
			t.Errorf("validStatusTransition(%s, %s) = %v, want %v",
				tt.user, tt.status, got, tt.want)
		}
	}
}

func TestUserIDHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/wallet", nil)
	w := httptest.NewRecorder()

	if got := userID(w, r); got != "" {
		t.Errorf("userID without header = %q, want empty", got)
	}
	if w.Code != 401 {
		t.Errorf("missing identity should write 401, got %d", w.Code)
	}

	r = httptest.NewRequest("GET", "/api/wallet", nil)
	r.Header.Set(userIDHeader, "user-1")
	w = httptest.NewRecorder()

	if got := userID(w, r); got != "user-1" {
		t.Errorf("userID = %q, want user-1", got)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.7:51234"
	if got := clientIP(r); got != "10.0.0.7" {
		t.Errorf("clientIP = %q, want 10.0.0.7", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.5")
	if got := clientIP(r); got != "203.0.113.5" {
		t.Errorf("clientIP with forwarded header = %q, want 203.0.113.5", got)
	}
}
