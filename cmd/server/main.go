// tojvs - Voice Trading Kanban Server
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
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/kinbanker/tojvs-new/internal/api"
	"github.com/kinbanker/tojvs-new/internal/auth"
	"github.com/kinbanker/tojvs-new/internal/channel"
	"github.com/kinbanker/tojvs-new/internal/config"
	"github.com/kinbanker/tojvs-new/internal/middleware"
	"github.com/kinbanker/tojvs-new/internal/processor"
	"github.com/kinbanker/tojvs-new/internal/registry"
	"github.com/kinbanker/tojvs-new/internal/relay"
	"github.com/kinbanker/tojvs-new/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	// Initialize services.
	tokens := auth.NewService(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTTL)
	reg := registry.New()
	pending := registry.NewPendingTable(cfg.PendingCommandTTL)
	router := relay.NewRouter(reg, pending, repo)
	proc := processor.NewClient(cfg.ProcessorURL, cfg.ProcessorTimeout)
	if proc.Configured() {
		slog.Info("Workflow processor configured", "url", cfg.ProcessorURL)
	} else {
		slog.Warn("Workflow processor not configured, commands fall back to local parsing")
	}

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, tokens, reg, pending, router, cfg)
	wsHandler := channel.NewHandler(repo, reg, pending, proc, router,
		cfg.CommandRateLimit, cfg.AllowedOrigins, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	apiHandler.RegisterAuthRoutes(r)
	apiHandler.RegisterWebhookRoutes(r)
	apiHandler.RegisterStatusRoutes(r)

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(tokens))
		apiHandler.RegisterUserRoutes(r)
		apiHandler.RegisterKanbanRoutes(r)
		r.Get("/ws", wsHandler.ServeHTTP)
	})

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: websocket channels stay open indefinitely.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
