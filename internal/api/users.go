package api

import (
	"log"
	"net/http"
	"time"
)

// handleLastSeen answers "when was this user last seen": the Redis record
// written by the realtime servers on connect and disconnect. A user never
// seen has known=false.
func (s *Server) handleLastSeen(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if userID(w, r) == "" {
		return
	}

	target := r.URL.Query().Get("user_id")
	if target == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if s.lastSeen == nil {
		writeError(w, http.StatusNotImplemented, "last seen tracking disabled")
		return
	}

	at, known, err := s.lastSeen.Get(r.Context(), target)
	if err != nil {
		log.Printf("api: last seen user=%s: %v", target, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := map[string]interface{}{
		"user_id": target,
		"known":   known,
	}
	if known {
		resp["last_seen"] = at.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}
