package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"

	"github.com/fastclassified/marketplace/internal/presence"
)

// fakeChannel records written frames and can be flipped to fail writes,
// simulating a dead socket.
type fakeChannel struct {
	mu     sync.Mutex
	msgs   [][]byte
	failed bool
	closed bool
}

func (f *fakeChannel) WriteMessage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed {
		return errors.New("broken pipe")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.msgs = append(f.msgs, cp)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) fail() {
	f.mu.Lock()
	f.failed = true
	f.mu.Unlock()
}

// decoded returns each written frame as a decoded JSON object.
func (f *fakeChannel) decoded(t *testing.T) []map[string]interface{} {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]map[string]interface{}, 0, len(f.msgs))
	for _, raw := range f.msgs {
		var m map[string]interface{}
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("invalid frame %q: %v", raw, err)
		}
		out = append(out, m)
	}
	return out
}

// countStatus counts online_status frames for the given user and state.
func (f *fakeChannel) countStatus(t *testing.T, userID string, online bool) int {
	t.Helper()
	n := 0
	for _, m := range f.decoded(t) {
		if m["type"] == "online_status" && m["user_id"] == userID && m["is_online"] == online {
			n++
		}
	}
	return n
}

func newTestHub() *Hub {
	return NewHub(presence.NewRegistry())
}

func TestConnectAnnouncesOnline(t *testing.T) {
	h := newTestHub()
	chA := &fakeChannel{}
	chB := &fakeChannel{}

	h.Connect("alice", chA)
	h.Connect("bob", chB)

	if got := chA.countStatus(t, "bob", true); got != 1 {
		t.Errorf("alice saw %d online announcements for bob, want 1", got)
	}
	// The announcement must not echo back to the user it concerns.
	if got := chB.countStatus(t, "bob", true); got != 0 {
		t.Errorf("bob saw %d announcements about himself, want 0", got)
	}
}

func TestConnectSendsRosterToNewcomer(t *testing.T) {
	h := newTestHub()
	h.Connect("alice", &fakeChannel{})
	chB := &fakeChannel{}

	h.Connect("bob", chB)

	if got := chB.countStatus(t, "alice", true); got != 1 {
		t.Errorf("newcomer saw %d roster entries for alice, want 1", got)
	}
}

func TestDisconnectAnnouncesOffline(t *testing.T) {
	h := newTestHub()
	chA := &fakeChannel{}
	chB := &fakeChannel{}
	h.Connect("alice", chA)
	h.Connect("bob", chB)

	if !h.Disconnect("alice", chA) {
		t.Fatal("disconnect of the current channel should report removal")
	}

	if h.IsOnline("alice") {
		t.Error("alice should be offline")
	}
	if got := chB.countStatus(t, "alice", false); got != 1 {
		t.Errorf("bob saw %d offline announcements for alice, want 1", got)
	}
}

func TestReconnectReplacesWithoutOfflineAnnouncement(t *testing.T) {
	h := newTestHub()
	ch1 := &fakeChannel{}
	ch2 := &fakeChannel{}
	chB := &fakeChannel{}
	h.Connect("bob", chB)

	h.Connect("alice", ch1)
	h.Connect("alice", ch2)

	// The replaced channel must not be closed by the hub; its socket is
	// reaped by its own read path.
	if ch1.closed {
		t.Error("reconnect must not close the replaced channel")
	}

	// The stale socket's disconnect is a no-op.
	if h.Disconnect("alice", ch1) {
		t.Error("stale disconnect should not remove the live channel")
	}
	if !h.IsOnline("alice") {
		t.Error("alice should still be online through the new channel")
	}
	if got := chB.countStatus(t, "alice", false); got != 0 {
		t.Errorf("bob saw %d offline announcements during reconnect, want 0", got)
	}
	if got := chB.countStatus(t, "alice", true); got != 1 {
		t.Errorf("bob saw %d online announcements for alice, want exactly 1", got)
	}

	// Dropping the live channel announces offline exactly once.
	if !h.Disconnect("alice", ch2) {
		t.Fatal("disconnect of the live channel should report removal")
	}
	if got := chB.countStatus(t, "alice", false); got != 1 {
		t.Errorf("bob saw %d offline announcements, want 1", got)
	}
}

func TestSendToUserOffline(t *testing.T) {
	h := newTestHub()

	err := h.SendToUser("ghost", []byte(`{"type":"pong"}`))
	if !errors.Is(err, ErrUserOffline) {
		t.Fatalf("err = %v, want ErrUserOffline", err)
	}
}

func TestSendToUserWriteFailureDisconnects(t *testing.T) {
	h := newTestHub()
	chA := &fakeChannel{}
	chB := &fakeChannel{}
	h.Connect("alice", chA)
	h.Connect("bob", chB)

	chA.fail()

	if err := h.SendToUser("alice", []byte(`{"type":"pong"}`)); err == nil {
		t.Fatal("expected write error")
	}

	if h.IsOnline("alice") {
		t.Error("failed write should disconnect the user")
	}
	if got := chB.countStatus(t, "alice", false); got != 1 {
		t.Errorf("bob saw %d offline announcements for alice, want 1", got)
	}
}

func TestBroadcastIsolatesFailedRecipient(t *testing.T) {
	h := newTestHub()
	channels := map[string]*fakeChannel{}
	for _, user := range []string{"alice", "bob", "carol"} {
		ch := &fakeChannel{}
		channels[user] = ch
		h.Connect(user, ch)
	}

	channels["bob"].fail()

	h.Broadcast([]byte(`{"type":"notification"}`), "")

	for _, user := range []string{"alice", "carol"} {
		got := 0
		for _, m := range channels[user].decoded(t) {
			if m["type"] == "notification" {
				got++
			}
		}
		if got != 1 {
			t.Errorf("%s received %d broadcast frames, want 1", user, got)
		}
	}

	if h.IsOnline("bob") {
		t.Error("failed recipient should be disconnected")
	}
}

func TestHandleEventTypingRelayed(t *testing.T) {
	h := newTestHub()
	chA := &fakeChannel{}
	chB := &fakeChannel{}
	h.Connect("alice", chA)
	h.Connect("bob", chB)

	frame := []byte(`{"type":"typing","conversation_id":"conv-1","is_typing":true,"receiver_id":"bob"}`)
	h.HandleEvent("alice", chA, frame)

	var relayed map[string]interface{}
	for _, m := range chB.decoded(t) {
		if m["type"] == "typing" {
			relayed = m
		}
	}
	if relayed == nil {
		t.Fatal("bob should receive the typing indicator")
	}
	if relayed["user_id"] != "alice" || relayed["conversation_id"] != "conv-1" || relayed["is_typing"] != true {
		t.Errorf("unexpected typing relay: %v", relayed)
	}
	if relayed["timestamp"] == nil {
		t.Error("relayed frame should be timestamped")
	}
}

func TestHandleEventTypingToOfflinePeer(t *testing.T) {
	h := newTestHub()
	chA := &fakeChannel{}
	h.Connect("alice", chA)

	// Must not panic or disconnect the sender.
	frame := []byte(`{"type":"typing","conversation_id":"conv-1","is_typing":true,"receiver_id":"ghost"}`)
	h.HandleEvent("alice", chA, frame)

	if !h.IsOnline("alice") {
		t.Error("sender must stay connected when the peer is offline")
	}
}

func TestHandleEventReadReceiptForwarded(t *testing.T) {
	h := newTestHub()
	chA := &fakeChannel{}
	chB := &fakeChannel{}
	h.Connect("alice", chA)
	h.Connect("bob", chB)

	frame := []byte(`{"type":"message_read","message_id":"msg-9","sender_id":"bob"}`)
	h.HandleEvent("alice", chA, frame)

	var receipt map[string]interface{}
	for _, m := range chB.decoded(t) {
		if m["type"] == "message_read" {
			receipt = m
		}
	}
	if receipt == nil {
		t.Fatal("original sender should receive the read receipt")
	}
	if receipt["message_id"] != "msg-9" || receipt["reader_id"] != "alice" {
		t.Errorf("unexpected receipt: %v", receipt)
	}
}

func TestHandleEventPing(t *testing.T) {
	h := newTestHub()
	chA := &fakeChannel{}
	h.Connect("alice", chA)

	h.HandleEvent("alice", chA, []byte(`{"type":"ping"}`))

	found := false
	for _, m := range chA.decoded(t) {
		if m["type"] == "pong" {
			found = true
		}
	}
	if !found {
		t.Error("ping should be answered with pong")
	}
}

func TestHandleEventUnknownIgnored(t *testing.T) {
	h := newTestHub()
	chA := &fakeChannel{}
	h.Connect("alice", chA)
	before := len(chA.decoded(t))

	h.HandleEvent("alice", chA, []byte(`{"type":"upgrade_to_premium"}`))
	h.HandleEvent("alice", chA, []byte(`not json at all`))

	if got := len(chA.decoded(t)); got != before {
		t.Errorf("unknown and malformed frames should produce no replies, got %d new", got-before)
	}
	if !h.IsOnline("alice") {
		t.Error("unknown frames must not disconnect the sender")
	}
}

func TestSendNotificationWrapsPayload(t *testing.T) {
	h := newTestHub()
	chA := &fakeChannel{}
	h.Connect("alice", chA)

	payload := json.RawMessage(`{"kind":"payment","amount":150.5}`)
	if err := h.SendNotification("alice", payload); err != nil {
		t.Fatalf("SendNotification: %v", err)
	}

	var notif map[string]interface{}
	for _, m := range chA.decoded(t) {
		if m["type"] == "notification" {
			notif = m
		}
	}
	if notif == nil {
		t.Fatal("alice should receive the notification")
	}
	data, ok := notif["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("notification data missing: %v", notif)
	}
	if data["kind"] != "payment" {
		t.Errorf("payload not preserved: %v", data)
	}
	if notif["timestamp"] == nil {
		t.Error("notification should be timestamped")
	}
}

func TestOnlineUsers(t *testing.T) {
	h := newTestHub()
	for i := 0; i < 3; i++ {
		h.Connect(fmt.Sprintf("user-%d", i), &fakeChannel{})
	}

	if got := len(h.OnlineUsers()); got != 3 {
		t.Errorf("online users = %d, want 3", got)
	}
}

func TestDisconnectRaceKeepsPresenceConsistent(t *testing.T) {
	h := newTestHub()

	// A connection can die the instant it is registered: the read-error
	// path races Connect for the same socket. Whatever the interleaving,
	// once the disconnect has won the channel map and the presence
	// registry must agree.
	for i := 0; i < 2000; i++ {
		user := fmt.Sprintf("u%d", i%8)
		ch := &fakeChannel{}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.Connect(user, ch)
		}()
		go func() {
			defer wg.Done()
			for !h.Disconnect(user, ch) {
				runtime.Gosched()
			}
		}()
		wg.Wait()

		if h.IsOnline(user) {
			t.Fatalf("iteration %d: user %s online with no channel", i, user)
		}
		if err := h.SendToUser(user, []byte(`{}`)); !errors.Is(err, ErrUserOffline) {
			t.Fatalf("iteration %d: expected ErrUserOffline, got %v", i, err)
		}
	}
}
