package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"
)

type Config struct {
	Env    string
	Port   string
	DBPath string

	// HTTP request admission (sliding window)
	HTTPRateMax    int
	HTTPRateWindow time.Duration

	// WebSocket upgrade admission (sliding window)
	WSRateMax    int
	WSRateWindow time.Duration

	// Presence lifecycle
	HeartbeatInterval time.Duration
	InactiveTimeout   time.Duration
	SweepInterval     time.Duration

	// Delay between a room becoming empty and teardown
	RoomGracePeriod time.Duration
}

func Load() Config {
	return Config{
		Env:               getEnv("EASEL_ENV", "dev"),
		Port:              getEnv("PORT", "8080"),
		DBPath:            getEnv("EASEL_DB_PATH", "./data/easel.db"),
		HTTPRateMax:       getEnvInt("EASEL_HTTP_RATE_MAX", 10),
		HTTPRateWindow:    getEnvDuration("EASEL_HTTP_RATE_WINDOW", 5*time.Second),
		WSRateMax:         getEnvInt("EASEL_WS_RATE_MAX", 30),
		WSRateWindow:      getEnvDuration("EASEL_WS_RATE_WINDOW", 5*time.Second),
		HeartbeatInterval: getEnvDuration("EASEL_HEARTBEAT_INTERVAL", 30*time.Second),
		InactiveTimeout:   getEnvDuration("EASEL_INACTIVE_TIMEOUT", 10*time.Minute),
		SweepInterval:     getEnvDuration("EASEL_SWEEP_INTERVAL", time.Minute),
		RoomGracePeriod:   getEnvDuration("EASEL_ROOM_GRACE", 10*time.Minute),
	}
}

// NewLogger returns a slog.Logger for the environment:
// prod gets JSON at INFO, everything else text at DEBUG.
func NewLogger(env string) *slog.Logger {
	var handler slog.Handler
	if env == "prod" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(handler)
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil && i > 0 {
			return i
		}
	}
	return def
}

func getEnvDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
