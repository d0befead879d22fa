package internal

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"relaychat/internal/storage"
)

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Online   int    `json:"online"`
	Messages int64  `json:"messages"`
}

type onlineResponse struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}

type historyResponse struct {
	Room     string            `json:"room"`
	Messages []storage.Message `json:"messages"`
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	count, err := s.store.CountMessages(r.Context())
	if err != nil {
		s.log.Error("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Version: Version})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Version:  Version,
		Online:   s.hub.registry.Len(),
		Messages: count,
	})
}

func (s *Server) HandleOnline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	users := s.hub.OnlineUsers()
	writeJSON(w, http.StatusOK, onlineResponse{Users: users, Count: len(users)})
}

// HandleHistory serves the public room. Private rooms are only replayed over
// the socket to one of their participants.
func (s *Server) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	limit := s.opts.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		if limit <= 0 || n < limit {
			limit = n
		}
	}
	messages, err := s.store.History(r.Context(), PublicRoom, limit)
	if err != nil {
		s.log.Error("load history", "err", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Room: PublicRoom, Messages: messages})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
