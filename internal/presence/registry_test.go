package presence

import (
	"sort"
	"testing"
)

func TestRegistry_OnlineLifecycle(t *testing.T) {
	r := NewRegistry()

	if r.IsOnline("u1") {
		t.Error("u1 should start offline")
	}

	r.MarkOnline("u1")
	if !r.IsOnline("u1") {
		t.Error("u1 should be online after MarkOnline")
	}

	r.MarkOffline("u1")
	if r.IsOnline("u1") {
		t.Error("u1 should be offline after MarkOffline")
	}
}

func TestRegistry_MarkOfflineIdempotent(t *testing.T) {
	r := NewRegistry()

	// Must not panic or corrupt state for a user that was never online.
	r.MarkOffline("ghost")
	r.MarkOffline("ghost")
	if r.IsOnline("ghost") {
		t.Error("ghost should remain offline")
	}
}

func TestRegistry_ListOnline(t *testing.T) {
	r := NewRegistry()
	r.MarkOnline("a")
	r.MarkOnline("b")
	r.MarkOnline("c")
	r.MarkOffline("b")

	got := r.ListOnline()
	sort.Strings(got)
	want := []string{"a", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRegistry_TypingState(t *testing.T) {
	r := NewRegistry()

	r.SetTyping("c1", "u1", true)
	if !r.IsTyping("c1", "u1") {
		t.Error("u1 should be typing in c1")
	}
	if r.IsTyping("c2", "u1") {
		t.Error("u1 should not be typing in c2")
	}

	r.SetTyping("c1", "u1", false)
	if r.IsTyping("c1", "u1") {
		t.Error("u1 should have stopped typing in c1")
	}
}

func TestRegistry_SetTypingFalseOnEmptyConversation(t *testing.T) {
	r := NewRegistry()

	// Clearing typing in a conversation nobody touched must be a no-op.
	r.SetTyping("c1", "u1", false)
	if len(r.TypingIn("c1")) != 0 {
		t.Error("c1 should have no typing users")
	}
}

func TestRegistry_DisconnectPurgesTypingEverywhere(t *testing.T) {
	r := NewRegistry()
	r.MarkOnline("u1")
	r.SetTyping("c1", "u1", true)
	r.SetTyping("c2", "u1", true)
	r.SetTyping("c2", "u2", true)

	r.MarkOffline("u1")

	if r.IsTyping("c1", "u1") || r.IsTyping("c2", "u1") {
		t.Error("u1's typing entries should be purged on disconnect")
	}
	if !r.IsTyping("c2", "u2") {
		t.Error("u2's typing state should be untouched")
	}
}
