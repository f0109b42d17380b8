// Package api exposes the admin surface: stats, sessions, and lock
// diagnostics. Read-only, unauthenticated, meant for localhost or a
// trusted network.
package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/user/convogate/internal/admission"
	"github.com/user/convogate/internal/session"
	"github.com/user/convogate/internal/stats"
)

// defaultStaleAfter flags locks held longer than this as suspect.
const defaultStaleAfter = 5 * time.Minute

// Gateway is the read-only slice of the orchestrator the admin surface
// needs.
type Gateway interface {
	Stats() *stats.Tracker
	Sessions() *session.Store
	Locks() *admission.Controller
}

// Handler serves the admin endpoints.
type Handler struct {
	gw      Gateway
	started time.Time
}

// NewHandler creates an admin handler.
func NewHandler(gw Gateway) *Handler {
	return &Handler{gw: gw, started: time.Now()}
}

// Router builds the chi router with the standard middleware stack.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Heartbeat("/health"))

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.GetStats)
		r.Get("/sessions", h.GetSessions)
		r.Get("/locks", h.GetLocks)
	})
	return r
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

type stageStats struct {
	Count int     `json:"count"`
	AvgMs float64 `json:"avg_ms"`
	MinMs float64 `json:"min_ms"`
	MaxMs float64 `json:"max_ms"`
}

// GetStats returns per-stage latency summaries.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	all := h.gw.Stats().StatsAll()
	out := make(map[string]stageStats, len(all))
	for stage, s := range all {
		out[stage] = stageStats{
			Count: s.Count,
			AvgMs: float64(s.Avg) / float64(time.Millisecond),
			MinMs: float64(s.Min) / float64(time.Millisecond),
			MaxMs: float64(s.Max) / float64(time.Millisecond),
		}
	}
	JSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"stages":         out,
	})
}

type sessionInfo struct {
	Key        string    `json:"key"`
	LastAccess time.Time `json:"last_access"`
}

// GetSessions lists tracked conversations, most recently used first.
func (h *Handler) GetSessions(w http.ResponseWriter, r *http.Request) {
	snap := h.gw.Sessions().Snapshot()
	list := make([]sessionInfo, 0, len(snap))
	for key, at := range snap {
		list = append(list, sessionInfo{Key: string(key), LastAccess: at})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].LastAccess.After(list[j].LastAccess)
	})
	JSON(w, http.StatusOK, map[string]any{
		"count":    len(list),
		"sessions": list,
	})
}

type lockInfo struct {
	Key         string    `json:"key"`
	Since       time.Time `json:"since"`
	HeldSeconds float64   `json:"held_seconds"`
	Stale       bool      `json:"stale"`
}

// GetLocks lists currently held conversation locks. A lock held past the
// staleness bound points at a stuck processing pass; it is reported, not
// broken, because the holder may legitimately still be inside a slow
// inference call.
func (h *Handler) GetLocks(w http.ResponseWriter, r *http.Request) {
	staleAfter := defaultStaleAfter
	if raw := r.URL.Query().Get("stale_after"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			staleAfter = d
		}
	}

	held := h.gw.Locks().Held()
	now := time.Now()
	list := make([]lockInfo, 0, len(held))
	for key, since := range held {
		age := now.Sub(since)
		list = append(list, lockInfo{
			Key:         string(key),
			Since:       since,
			HeldSeconds: age.Seconds(),
			Stale:       age > staleAfter,
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Since.Before(list[j].Since) })
	JSON(w, http.StatusOK, map[string]any{
		"count": len(list),
		"locks": list,
	})
}
