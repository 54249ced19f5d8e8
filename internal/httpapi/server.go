// Package httpapi serves the health and status endpoints used by process
// supervisors and operators: liveness, queue depth, cursor position, and
// connected ops-stream client count.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ndrandal/whalewatch/internal/model"
)

// QueueDepth reports the delivery queue's current length, satisfied by
// *delivery.Queue.
type QueueDepth interface {
	Depth() int
}

// ClientCounter reports the number of connected ops-stream clients,
// satisfied by *ops.Manager.
type ClientCounter interface {
	ClientCount() int
}

// CursorLoader reports the orchestrator's last-processed position,
// satisfied by *store.Store.
type CursorLoader interface {
	LoadCursor(ctx context.Context) (*model.Cursor, error)
}

// Server provides the /health and /status endpoints.
type Server struct {
	store     CursorLoader
	queue     QueueDepth
	ops       ClientCounter
	startedAt time.Time
}

// NewServer creates a Server.
func NewServer(s CursorLoader, queue QueueDepth, ops ClientCounter) *Server {
	return &Server{store: s, queue: queue, ops: ops, startedAt: time.Now()}
}

// Register attaches routes to the given mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Uptime           string `json:"uptime"`
	QueueDepth       int    `json:"queueDepth"`
	OpsClients       int    `json:"opsClients"`
	CursorTimestamp  int64  `json:"cursorTimestamp,omitempty"`
	CursorTxHash     string `json:"cursorTxHash,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := statusResponse{
		Uptime:     time.Since(s.startedAt).Truncate(time.Second).String(),
		QueueDepth: s.queue.Depth(),
		OpsClients: s.ops.ClientCount(),
	}

	if cursor, err := s.store.LoadCursor(ctx); err == nil && cursor != nil {
		resp.CursorTimestamp = cursor.LastTimestamp
		resp.CursorTxHash = cursor.LastTxHash
	}

	writeJSON(w, http.StatusOK, resp)
}
