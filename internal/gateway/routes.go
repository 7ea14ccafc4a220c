package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hardspoon/chatsemble/internal/metrics"
	"github.com/hardspoon/chatsemble/internal/version"
)

// registerRoutes wires the HTTP surface.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /chat-rooms", s.handleCreateRoom)
	mux.HandleFunc("POST /chat-rooms/{roomID}/members", s.handleAddMember)
	mux.HandleFunc("DELETE /chat-rooms/{roomID}/members/{memberID}", s.handleRemoveMember)
	mux.HandleFunc("GET /chat-rooms/{roomID}/messages", s.handleMessages)
	mux.HandleFunc("GET /chat-room/ws/{roomID}", s.handleWebSocket)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
}

// handleHealth reports liveness and basic process info.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Version,
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
		"rooms":   s.rooms.Len(),
	})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
