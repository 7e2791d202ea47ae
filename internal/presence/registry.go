// Package presence tracks which users currently hold an open real-time
// channel and who is typing in which conversation. State is process-local
// and in-memory; a restart starts empty and reconnecting clients rebuild it.
package presence

import "sync"

// Registry is a thread-safe presence and typing-state registry. It is owned
// by the real-time hub: all mutations flow through connect/disconnect and
// typing events, never from request handlers directly.
type Registry struct {
	mu     sync.RWMutex
	online map[string]struct{}            // user_id -> online
	typing map[string]map[string]struct{} // conversation_id -> set of typing user_ids
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{
		online: make(map[string]struct{}),
		typing: make(map[string]map[string]struct{}),
	}
}

// MarkOnline records that a user holds an open channel.
func (r *Registry) MarkOnline(userID string) {
	r.mu.Lock()
	r.online[userID] = struct{}{}
	r.mu.Unlock()
}

// MarkOffline removes a user from the online set and purges their typing
// entries from every conversation. Safe to call for a user that is already
// offline.
func (r *Registry) MarkOffline(userID string) {
	r.mu.Lock()
	delete(r.online, userID)
	for convID, users := range r.typing {
		delete(users, userID)
		if len(users) == 0 {
			delete(r.typing, convID)
		}
	}
	r.mu.Unlock()
}

// IsOnline reports whether the user currently holds an open channel.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	_, ok := r.online[userID]
	r.mu.RUnlock()
	return ok
}

// ListOnline returns a snapshot of all online user IDs.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.online))
	for id := range r.online {
		users = append(users, id)
	}
	r.mu.RUnlock()
	return users
}

// SetTyping records or clears a user's typing state in a conversation.
func (r *Registry) SetTyping(conversationID, userID string, isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.typing[conversationID]
	if !ok {
		if !isTyping {
			return
		}
		users = make(map[string]struct{})
		r.typing[conversationID] = users
	}

	if isTyping {
		users[userID] = struct{}{}
	} else {
		delete(users, userID)
		if len(users) == 0 {
			delete(r.typing, conversationID)
		}
	}
}

// IsTyping reports whether the user is currently marked typing in the
// conversation.
func (r *Registry) IsTyping(conversationID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users, ok := r.typing[conversationID]
	if !ok {
		return false
	}
	_, typing := users[userID]
	return typing
}

// TypingIn returns a snapshot of user IDs currently typing in a conversation.
func (r *Registry) TypingIn(conversationID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]string, 0, len(r.typing[conversationID]))
	for id := range r.typing[conversationID] {
		users = append(users, id)
	}
	return users
}
