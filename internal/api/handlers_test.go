package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/easel-labs/easel/backend/internal/db"
	"github.com/easel-labs/easel/backend/internal/engine"
	"github.com/easel-labs/easel/backend/internal/presence"
	"github.com/easel-labs/easel/backend/internal/ratelimit"
	"github.com/easel-labs/easel/backend/internal/room"
)

func setupTestAPI(t *testing.T) (*API, *room.Registry, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "easel-api-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	database, err := db.New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	relay := engine.NewRelay(database, logger)
	registry := room.NewRegistry(relay, database, logger, time.Minute)
	tracker := presence.NewTracker(registry, logger, presence.DefaultConfig())
	registry.SetOccupancy(tracker.HasUsers)

	api := New(registry, tracker, database, logger)

	cleanup := func() {
		database.Close()
		os.RemoveAll(tmpDir)
	}

	return api, registry, cleanup
}

func TestHealthHandler(t *testing.T) {
	api, _, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	api.HealthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", response["status"])
	}
	for _, key := range []string{"timestamp", "activeConnections", "activeRooms"} {
		if _, ok := response[key]; !ok {
			t.Errorf("Expected %s in health response", key)
		}
	}
}

func TestCreateRoomHandler(t *testing.T) {
	api, registry, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/create-room", nil)
	w := httptest.NewRecorder()

	api.CreateRoomHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	code := response["roomCode"]
	if len(code) != 4 {
		t.Errorf("Expected 4-character room code, got %q", code)
	}
	if !registry.Exists(code) {
		t.Errorf("Created room %q not found in registry", code)
	}
}

func TestCheckRoomHandler(t *testing.T) {
	api, registry, cleanup := setupTestAPI(t)
	defer cleanup()

	code, err := registry.Create()
	if err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantExists bool
	}{
		{"existing room", "?roomCode=" + code, http.StatusOK, true},
		{"unknown room", "?roomCode=ZZZZ", http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/check-room"+tt.query, nil)
			w := httptest.NewRecorder()

			api.CheckRoomHandler(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}

			var response map[string]bool
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if response["exists"] != tt.wantExists {
				t.Errorf("Expected exists=%v, got %v", tt.wantExists, response["exists"])
			}
		})
	}
}

func TestCheckRoomHandlerMissingParam(t *testing.T) {
	api, _, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/check-room", nil)
	w := httptest.NewRecorder()

	api.CheckRoomHandler(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestStatsHandler(t *testing.T) {
	api, registry, cleanup := setupTestAPI(t)
	defer cleanup()

	if _, err := registry.Create(); err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()

	api.StatsHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["active_rooms"] != float64(1) {
		t.Errorf("Expected 1 active room, got %v", response["active_rooms"])
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	api, _, cleanup := setupTestAPI(t)
	defer cleanup()

	limiter := ratelimit.NewSlidingWindow(2, time.Minute)
	defer limiter.Stop()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := RateLimit(limiter, logger, http.HandlerFunc(api.HealthHandler))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/health", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i+1, w.Code)
		}
	}

	req := httptest.NewRequest("GET", "/health", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["error"] != "Too many requests" {
		t.Errorf("Expected 'Too many requests' error, got %q", response["error"])
	}

	// A different address is unaffected
	req = httptest.NewRequest("GET", "/health", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for fresh address, got %d", w.Code)
	}
}
