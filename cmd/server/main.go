package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vedran77/klasa/internal/config"
	"github.com/vedran77/klasa/internal/database"
	"github.com/vedran77/klasa/internal/feed"
	"github.com/vedran77/klasa/internal/migrate"
	postgresrepo "github.com/vedran77/klasa/internal/repository/postgres"
	"github.com/vedran77/klasa/internal/service"
	"github.com/vedran77/klasa/internal/transport/http/handlers"
	"github.com/vedran77/klasa/internal/transport/http/middleware"
	"github.com/vedran77/klasa/internal/transport/ws"
)

func main() {
	cfg := config.Load()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, database.DSN(cfg)); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	// Database
	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("database connect", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to database")

	// Change feed: Postgres NOTIFY -> hub -> conversation subscriptions
	hub := feed.NewHub(logger)
	go hub.Run(ctx)
	listener := feed.NewListener(pool, hub, cfg.FeedChannel, logger)
	go listener.Run(ctx)

	// Repositories
	messageRepo := postgresrepo.NewMessageRepo(pool)

	// Sync core
	badgeBus := service.NewBadgeBus(logger)
	coordinator := service.NewCoordinator(messageRepo, logger, cfg.SendMaxRetries, cfg.SendRetryDelay)
	manager := service.NewManager(hub, logger)
	tracker := service.NewReadTracker(messageRepo, badgeBus, logger)

	go func() {
		if err := service.WatchBadges(ctx, hub, badgeBus, logger); err != nil {
			logger.Warn("badge watcher stopped", zap.Error(err))
		}
	}()

	// Handlers
	messageHandler := handlers.NewMessageHandler(messageRepo, tracker, logger)

	// Auth middleware
	auth := middleware.Auth(cfg.JWTSecret)

	// Routes
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	// Real-time surface
	mux.HandleFunc("GET /ws", ws.ServeWS(&ws.Deps{
		Coordinator: coordinator,
		Manager:     manager,
		Tracker:     tracker,
		Bus:         badgeBus,
		Log:         logger,
	}, cfg.JWTSecret))

	// Protected - Messages
	mux.Handle("GET /api/v1/conversations/{peer}/messages", auth(http.HandlerFunc(messageHandler.List)))
	mux.Handle("POST /api/v1/conversations/{peer}/messages", auth(http.HandlerFunc(messageHandler.Send)))
	mux.Handle("POST /api/v1/conversations/{peer}/read", auth(http.HandlerFunc(messageHandler.MarkRead)))
	mux.Handle("POST /api/v1/messages/read-all", auth(http.HandlerFunc(messageHandler.MarkAllRead)))
	mux.Handle("GET /api/v1/messages/unread", auth(http.HandlerFunc(messageHandler.Unread)))
	mux.Handle("DELETE /api/v1/messages/{id}", auth(http.HandlerFunc(messageHandler.Delete)))

	// Start server with CORS
	addr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    addr,
		Handler: middleware.CORS(mux),
	}

	go func() {
		logger.Info("starting server", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}
