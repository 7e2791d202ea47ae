package messaging

import "testing"

func TestPushKindFromSubject(t *testing.T) {
	tests := []struct {
		subject string
		kind    PushKind
		ok      bool
	}{
		{"push.message.user-1", PushMessage, true},
		{"push.notification.user-1", PushNotification, true},
		{"push.session.user-1", PushSession, true},
		{"push.unknown.user-1", "", false},
		{"push.message", "", false},
		{"chat.room-1", "", false},
	}

	for _, tt := range tests {
		kind, ok := pushKindFromSubject(tt.subject)
		if kind != tt.kind || ok != tt.ok {
			t.Errorf("pushKindFromSubject(%q) = (%q, %v), want (%q, %v)",
				tt.subject, kind, ok, tt.kind, tt.ok)
		}
	}
}
