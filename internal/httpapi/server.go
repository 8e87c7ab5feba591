// Package httpapi serves the REST façade: health, daily aggregates, recent
// stored trades, and the live WebSocket feed mount.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"flowscope/internal/flow"
	"flowscope/internal/hub"
	"flowscope/internal/ingest"
	"flowscope/internal/metrics"
	"flowscope/internal/store"
)

// Server serves the dashboard-facing HTTP API.
type Server struct {
	store    store.TradeStore
	hub      *hub.Hub
	counters *metrics.Counters
	loc      *time.Location
	origin   string
	log      *slog.Logger

	started time.Time

	// Connected reports whether the ingestion farm is still inside its
	// reconnect budget. Wired by the supervisor.
	Connected func() bool

	// Sessions snapshots per-session farm state. Wired by the supervisor.
	Sessions func() []ingest.SessionState

	// Spots returns the cached underlying closes. Wired by the supervisor.
	Spots func() map[string]float64
}

// NewServer creates the façade over the trade store and the broadcast hub.
func NewServer(st store.TradeStore, h *hub.Hub, counters *metrics.Counters, loc *time.Location, origin string, log *slog.Logger) *Server {
	return &Server{
		store:    st,
		hub:      h,
		counters: counters,
		loc:      loc,
		origin:   origin,
		log:      log,
		started:  time.Now(),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/stats/daily", s.handleDailyStats)
	mux.HandleFunc("GET /api/stats/daily/{date}", s.handleDailyStats)
	mux.HandleFunc("GET /api/trades/recent", s.handleRecentTrades)
	mux.HandleFunc("GET /api/spot", s.handleSpot)
	mux.Handle("GET /ws/flow", s.hub)
}

// Handler returns an http.Handler with CORS middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	origin := s.origin
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HealthResponse is the /api/health payload.
type HealthResponse struct {
	Status      string                `json:"status"`
	Connected   bool                  `json:"connected"`
	Subscribers int                   `json:"subscribers"`
	UptimeSec   int64                 `json:"uptime_sec"`
	Sessions    []ingest.SessionState `json:"sessions,omitempty"`
	Counters    metrics.Snapshot      `json:"counters"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := true
	if s.Connected != nil {
		connected = s.Connected()
	}
	status := "ok"
	if !connected {
		status = "degraded"
	}
	resp := HealthResponse{
		Status:      status,
		Connected:   connected,
		Subscribers: s.hub.SubscriberCount(),
		UptimeSec:   int64(time.Since(s.started).Seconds()),
		Counters:    s.counters.Snapshot(),
	}
	if s.Sessions != nil {
		resp.Sessions = s.Sessions()
	}
	writeJSON(w, resp)
}

func (s *Server) handleSpot(w http.ResponseWriter, r *http.Request) {
	closes := map[string]float64{}
	if s.Spots != nil {
		closes = s.Spots()
	}
	writeJSON(w, closes)
}

func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	if date == "" {
		date = time.Now().In(s.loc).Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	stats, err := s.store.DailyStats(r.Context(), date)
	if err != nil {
		s.log.Error("loading daily stats", "date", date, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleRecentTrades(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be 1-1000")
			return
		}
		limit = n
	}

	trades, err := s.store.RecentTrades(r.Context(), limit)
	if err != nil {
		s.log.Error("loading recent trades", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load trades")
		return
	}
	if trades == nil {
		trades = []flow.ClassifiedTrade{}
	}
	writeJSON(w, trades)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
