// Termgate - Terminal Session Service
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
	"github.com/okulab/termgate/internal/api"
	"github.com/okulab/termgate/internal/config"
	"github.com/okulab/termgate/internal/middleware"
	"github.com/okulab/termgate/internal/proc"
	"github.com/okulab/termgate/internal/store"
	"github.com/okulab/termgate/internal/terminal"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "backend", cfg.SpawnBackend, "dev", cfg.IsDevelopment())

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

	translog, err := terminal.NewTranscriptLogger(terminal.TranscriptConfig{
		Enabled:   cfg.TranscriptEnabled,
		Dir:       cfg.TranscriptDir,
		QueueSize: cfg.TranscriptQueue,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}

	var spawner proc.Spawner
	switch cfg.SpawnBackend {
	case "docker":
		spawner, err = proc.NewDockerSpawner(cfg.DockerImagePrefix, cfg.DockerImage, cfg.DockerRuntime, logger)
		if err != nil {
			slog.Error("Failed to initialize docker spawner", "error", err)
			os.Exit(1)
		}
		slog.Info("Docker spawner initialized", "default_image", cfg.DockerImage)
	default:
		spawner = proc.NewLocalSpawner(cfg.DefaultDistro, logger)
	}

	mgr := terminal.NewManager(spawner, translog, repo, terminal.ManagerConfig{
		DefaultCols:     cfg.DefaultCols,
		DefaultRows:     cfg.DefaultRows,
		BufferMax:       cfg.OutputBufferMax,
		StartupCleanup:  cfg.StartupCleanup,
		StartupInitWait: time.Second,
		StartupSettle:   100 * time.Millisecond,
	}, logger)

	// Initialize handlers.
	baseHandler := api.NewHandler(mgr, repo)
	sessionHandler := api.NewSessionHandler(baseHandler, cfg.CommandWait, cfg.InputSettle)
	wsHandler := terminal.NewWebSocketHandler(mgr, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{cfg.FrontendURL, "*"}))

	sessionHandler.RegisterRoutes(r)
	r.Get("/ws/sessions/{id}", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // long-polling output reads must not be cut off
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr.StartReaper(ctx, cfg.SessionTTL, cfg.ReapInterval)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	mgr.Shutdown(shutdownCtx)
	if err := translog.Close(); err != nil {
		slog.Error("Failed to close transcript logger", "error", err)
	}

	slog.Info("Server stopped successfully")
}
