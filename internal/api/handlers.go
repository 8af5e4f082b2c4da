package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/easel-labs/easel/backend/internal/db"
	"github.com/easel-labs/easel/backend/internal/metrics"
	"github.com/easel-labs/easel/backend/internal/presence"
	"github.com/easel-labs/easel/backend/internal/ratelimit"
	"github.com/easel-labs/easel/backend/internal/room"
)

type API struct {
	registry *room.Registry
	tracker  *presence.Tracker
	database *db.Database
	log      *slog.Logger
}

func New(registry *room.Registry, tracker *presence.Tracker, database *db.Database, logger *slog.Logger) *API {
	return &API{
		registry: registry,
		tracker:  tracker,
		database: database,
		log:      logger,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("error encoding JSON response", "err", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// RateLimit rejects requests whose client address exceeds the sliding
// window, with the JSON body clients key their backoff on.
func RateLimit(limiter *ratelimit.SlidingWindow, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := remoteIP(r)
		if !limiter.Allow(ip) {
			metrics.RateLimited.WithLabelValues("http").Inc()
			logger.Warn("too many requests", "ip", ip)
			errorResponse(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":            "healthy",
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
		"activeConnections": a.tracker.Count() + a.registry.SyncConnections(),
		"activeRooms":       a.registry.Count(),
	})
}

func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	code, err := a.registry.Create()
	if err != nil {
		if errors.Is(err, room.ErrCodesExhausted) {
			errorResponse(w, http.StatusInternalServerError, "Failed to generate a unique room code")
			return
		}
		errorResponse(w, http.StatusInternalServerError, "Failed to create room")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"roomCode": code})
}

func (a *API) CheckRoomHandler(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("roomCode")
	if code == "" {
		errorResponse(w, http.StatusBadRequest, "roomCode is required")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]bool{"exists": a.registry.Exists(code)})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms": a.registry.Count(),
		"active_users": a.tracker.Count(),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err == nil {
			stats["total_rooms"] = dbStats["room_count"]
			stats["total_updates"] = dbStats["update_count"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}
