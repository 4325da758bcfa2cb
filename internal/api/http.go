// Package api exposes the agent's counters over HTTP and serves a gRPC
// health check for orchestration probes.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/nazaninmagharei/bismark-passive/internal/agent"
	"github.com/nazaninmagharei/bismark-passive/internal/query"
)

// Server serves read-only stats about a running agent, and optionally
// archived heavy-hitter history when a query.Querier is configured.
type Server struct {
	httpServer *http.Server
	logger     *log.Logger
}

// NewServer builds an HTTP server exposing a's stats on addr. querier
// may be nil, in which case /history responds 404; it is non-nil only
// when the archive is enabled.
func NewServer(addr string, a *agent.Agent, querier query.Querier, logger *log.Logger) *Server {
	r := mux.NewRouter()
	h := &handler{agent: a, querier: querier, logger: logger}

	r.HandleFunc("/stats", h.stats).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.HandleFunc("/history", h.history).Methods(http.MethodGet)

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: r},
		logger:     logger,
	}
}

// ListenAndServe starts serving HTTP; it blocks until the server stops.
func (s *Server) ListenAndServe() error {
	if s.logger != nil {
		s.logger.Printf("api: http server starting on %s", s.httpServer.Addr)
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type handler struct {
	agent   *agent.Agent
	querier query.Querier
	logger  *log.Logger
}

type statsResponse struct {
	LiveFlows            uint32 `json:"live_flows"`
	ExpiredFlows         int64  `json:"expired_flows"`
	DroppedFlows         int64  `json:"dropped_flows"`
	BaseTimestampSeconds int64  `json:"base_timestamp_seconds"`
	SessionID            uint64 `json:"session_id"`
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.agent.Stats()
	resp := statsResponse{
		LiveFlows:            stats.Live,
		ExpiredFlows:         stats.Expired,
		DroppedFlows:         stats.Dropped,
		BaseTimestampSeconds: stats.BaseTimestampSeconds,
		SessionID:            h.agent.SessionID(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// history serves archived heavy-hitter records for a session, or the
// most recent records across all sessions when session_id is omitted.
func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	if h.querier == nil {
		http.Error(w, "archive not enabled", http.StatusNotFound)
		return
	}

	if sidParam := r.URL.Query().Get("session_id"); sidParam != "" {
		sessionID, err := strconv.ParseUint(sidParam, 10, 64)
		if err != nil {
			http.Error(w, "invalid session_id", http.StatusBadRequest)
			return
		}
		records, err := h.querier.BySession(r.Context(), sessionID)
		if err != nil {
			if h.logger != nil {
				h.logger.Printf("api: history by session failed: %v", err)
			}
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, records)
		return
	}

	records, err := h.querier.Since(r.Context(), time.Now().Add(-24*time.Hour), 100)
	if err != nil {
		if h.logger != nil {
			h.logger.Printf("api: history since failed: %v", err)
		}
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// ShutdownTimeout is the grace period callers should pass to
// context.WithTimeout before calling Shutdown.
const ShutdownTimeout = 5 * time.Second
