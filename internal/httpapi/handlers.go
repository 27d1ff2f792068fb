// Package httpapi serves the operational surface: liveness, readiness, and
// runtime statistics.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"gridlock/gameserver/internal/logging"
	"gridlock/gameserver/internal/tick"
)

// ReadinessProvider exposes server state required for readiness checks.
type ReadinessProvider interface {
	SessionCount() int
	StartupError() error
	Uptime() time.Duration
}

// StatsProvider returns cumulative engine statistics.
type StatsProvider interface {
	TickCount() uint64
	Broadcasts() uint64
	QueueDepth() int
	SnapshotCount() int
	PlayerCount() int
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Readiness   ReadinessProvider
	Stats       StatsProvider
	TickMetrics *tick.Monitor
	TimeSource  func() time.Time
}

// HandlerSet bundles the server's operational handlers.
type HandlerSet struct {
	logger      *logging.Logger
	readiness   ReadinessProvider
	stats       StatsProvider
	tickMetrics *tick.Monitor
	now         func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		readiness:   opts.Readiness,
		stats:       opts.Stats,
		tickMetrics: opts.TickMetrics,
		now:         now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/healthz", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/stats", h.StatsHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports readiness, including session counts and startup
// status.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string `json:"status"`
		Sessions      int    `json:"sessions"`
		UptimeSeconds int64  `json:"uptime_seconds"`
		Error         string `json:"error,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if h.readiness == nil {
			writeJSON(w, http.StatusServiceUnavailable, response{Status: "unknown"})
			return
		}
		resp := response{
			Status:        "ready",
			Sessions:      h.readiness.SessionCount(),
			UptimeSeconds: int64(h.readiness.Uptime().Seconds()),
		}
		status := http.StatusOK
		if err := h.readiness.StartupError(); err != nil {
			resp.Status = "unavailable"
			resp.Error = err.Error()
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

// StatsHandler reports engine counters and tick timing statistics.
func (h *HandlerSet) StatsHandler() http.HandlerFunc {
	type tickStats struct {
		Samples   int     `json:"samples"`
		AverageMs float64 `json:"average_ms"`
		MaxMs     float64 `json:"max_ms"`
		LastMs    float64 `json:"last_ms"`
	}
	type response struct {
		Timestamp     string    `json:"timestamp"`
		TickCount     uint64    `json:"tick_count"`
		Broadcasts    uint64    `json:"broadcasts"`
		QueueDepth    int       `json:"queue_depth"`
		SnapshotCount int       `json:"snapshot_count"`
		Players       int       `json:"players"`
		Sessions      int       `json:"sessions"`
		Tick          tickStats `json:"tick"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := response{Timestamp: h.now().UTC().Format(time.RFC3339Nano)}
		if h.stats != nil {
			resp.TickCount = h.stats.TickCount()
			resp.Broadcasts = h.stats.Broadcasts()
			resp.QueueDepth = h.stats.QueueDepth()
			resp.SnapshotCount = h.stats.SnapshotCount()
			resp.Players = h.stats.PlayerCount()
		}
		if h.readiness != nil {
			resp.Sessions = h.readiness.SessionCount()
		}
		if h.tickMetrics != nil {
			snapshot := h.tickMetrics.Snapshot()
			resp.Tick = tickStats{
				Samples:   snapshot.Samples,
				AverageMs: float64(snapshot.Average) / float64(time.Millisecond),
				MaxMs:     float64(snapshot.Max) / float64(time.Millisecond),
				LastMs:    float64(snapshot.Last) / float64(time.Millisecond),
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
