package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/easel-labs/easel/backend/internal/api"
	"github.com/easel-labs/easel/backend/internal/compaction"
	"github.com/easel-labs/easel/backend/internal/config"
	"github.com/easel-labs/easel/backend/internal/db"
	"github.com/easel-labs/easel/backend/internal/engine"
	"github.com/easel-labs/easel/backend/internal/metrics"
	"github.com/easel-labs/easel/backend/internal/presence"
	"github.com/easel-labs/easel/backend/internal/ratelimit"
	"github.com/easel-labs/easel/backend/internal/room"
	"github.com/easel-labs/easel/backend/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := config.NewLogger(cfg.Env)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Error("failed to initialize database", "err", err)
		os.Exit(1)
	}
	defer database.Close()

	httpLimiter := ratelimit.NewSlidingWindow(cfg.HTTPRateMax, cfg.HTTPRateWindow)
	wsLimiter := ratelimit.NewSlidingWindow(cfg.WSRateMax, cfg.WSRateWindow)

	relay := engine.NewRelay(database, logger)
	registry := room.NewRegistry(relay, database, logger, cfg.RoomGracePeriod)

	tracker := presence.NewTracker(registry, logger, presence.Config{
		InactiveTimeout: cfg.InactiveTimeout,
		SweepInterval:   cfg.SweepInterval,
	})
	registry.SetOccupancy(tracker.HasUsers)
	tracker.Start()

	compactor := compaction.New(database, logger, compaction.DefaultConfig())
	compactor.Start()

	gateway := ws.NewGateway(wsLimiter, registry, tracker, logger, cfg.HeartbeatInterval)
	apiHandler := api.New(registry, tracker, database, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.ServeWS)
	mux.Handle("/health", api.RateLimit(httpLimiter, logger, http.HandlerFunc(apiHandler.HealthHandler)))
	mux.Handle("/create-room", api.RateLimit(httpLimiter, logger, http.HandlerFunc(apiHandler.CreateRoomHandler)))
	mux.Handle("/check-room", api.RateLimit(httpLimiter, logger, http.HandlerFunc(apiHandler.CheckRoomHandler)))
	mux.Handle("/api/stats", api.RateLimit(httpLimiter, logger, http.HandlerFunc(apiHandler.StatsHandler)))
	mux.Handle("/metrics", metrics.Handler())

	// Public collaborative tool, so cross-origin access stays permissive
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With"},
		MaxAge:         86400,
	}).Handler(mux)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		compactor.Stop()
		tracker.Stop()
		registry.Stop()
		httpLimiter.Stop()
		wsLimiter.Stop()
	}()

	logger.Info("easel server starting", "port", cfg.Port, "db", cfg.DBPath, "env", cfg.Env)
	logger.Info("endpoints",
		"websocket", "/ws?room={code}&type={awareness|sync}",
		"health", "GET /health",
		"create_room", "GET /create-room",
		"check_room", "GET /check-room?roomCode={code}",
		"stats", "GET /api/stats",
		"metrics", "GET /metrics")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}
