package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	httpAdapter "github.com/teamgrid/realtime-hub/internal/adapters/primary/http"
	mw "github.com/teamgrid/realtime-hub/internal/adapters/primary/http/middleware"
	"github.com/teamgrid/realtime-hub/internal/adapters/primary/websocket"
	"github.com/teamgrid/realtime-hub/internal/adapters/secondary/backplane"
	"github.com/teamgrid/realtime-hub/internal/auth"
	"github.com/teamgrid/realtime-hub/internal/config"
	"github.com/teamgrid/realtime-hub/internal/core/ports"
	"github.com/teamgrid/realtime-hub/internal/infrastructure/logging"
	"github.com/teamgrid/realtime-hub/internal/infrastructure/metrics"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Structured Logger
	logger := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      os.Stdout,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
	})

	logger.Info("starting service",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	// 3. Initialize Metrics
	metrics.Init()

	// 4. Initialize Backplane (optional, multi-node deployments only)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var plane ports.Backplane
	if cfg.Backplane.RedisAddr != "" {
		redisPlane, err := backplane.NewRedis(ctx, backplane.Config{
			Addr:     cfg.Backplane.RedisAddr,
			Password: cfg.Backplane.RedisPassword,
			DB:       cfg.Backplane.RedisDB,
			Channel:  cfg.Backplane.Channel,
		}, logger)
		if err != nil {
			logger.Error("failed to connect backplane", "error", err)
			os.Exit(1)
		}
		plane = redisPlane
		logger.Info("backplane connected", "addr", cfg.Backplane.RedisAddr)
	}

	// 5. Initialize Security & Real-time Components
	tokenManager := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL)

	hub := websocket.NewHub(websocket.Config{
		CommandQueueSize: cfg.Hub.CommandQueueSize,
		SendQueueSize:    cfg.Hub.SendQueueSize,
		PingInterval:     cfg.WebSocket.PingInterval,
		PongWait:         cfg.WebSocket.PongWait,
		MaxMessageSize:   cfg.WebSocket.MaxMessageSize,
		Backplane:        plane,
	}, logger)
	go hub.Run(ctx)

	// 6. Initialize Rate Limiter for the handshake and producer endpoints
	var rateLimiter *mw.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = mw.NewRateLimiter(mw.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.RateLimit.BurstSize,
			CleanupInterval:   time.Minute,
			TTL:               3 * time.Minute,
		})
	}

	// 7. Handlers
	errorHandler := httpAdapter.NewErrorHandler(logger)
	wsHandler := httpAdapter.NewWebSocketHandler(hub, tokenManager, cfg, logger)
	eventsHandler := httpAdapter.NewEventsHandler(hub, errorHandler, logger)
	healthHandler := httpAdapter.NewHealthHandler(hub, cfg.App.Version)

	// 8. Setup Router
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.RequestLogger(logger))
	r.Use(mw.RecoveryLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.WebSocket.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if rateLimiter != nil {
		r.Use(rateLimiter.Middleware)
	}

	// Health check endpoints (outside /api/v1 for standard probe paths)
	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/health/live", healthHandler.HandleLiveness)
	r.Get("/health/ready", healthHandler.HandleReadiness)

	// Prometheus scrape endpoint
	r.Handle("/metrics", metrics.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket handshake (authentication is handled inside the handler)
		r.Get("/ws", wsHandler.ServeHTTP)

		// Internal producer routes
		r.Group(func(r chi.Router) {
			r.Use(mw.JWTMiddleware(tokenManager))
			eventsHandler.RegisterRoutes(r)
		})
	})

	// 9. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("shutdown signal received", "signal", sig.String())

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections, then stop the hub loop
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	cancel()

	logger.Info("server shutdown complete")
}
