package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/p-n-ai/pai-player/internal/course"
	"github.com/p-n-ai/pai-player/internal/platform/config"
	"github.com/p-n-ai/pai-player/internal/platform/database"
	"github.com/p-n-ai/pai-player/internal/player"
	"github.com/p-n-ai/pai-player/internal/progress"
	"github.com/p-n-ai/pai-player/internal/quiz"
	"github.com/p-n-ai/pai-player/internal/server"
)

func main() {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(os.Stdout, cfg.Log))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	courses, err := course.NewLoader(cfg.CoursePath)
	if err != nil {
		slog.Error("failed to load courses", "error", err)
		os.Exit(1)
	}

	backend, closeBackend := openBackend(ctx, cfg)
	defer closeBackend()

	events, closeEvents := openEvents(ctx, cfg)
	defer closeEvents()

	policy, err := quiz.ParsePolicy(cfg.Player.RetakePolicy)
	if err != nil {
		slog.Error("invalid retake policy", "error", err)
		os.Exit(1)
	}

	svc := player.NewService(player.ServiceConfig{
		Courses:   courses,
		Backend:   backend,
		KeyPrefix: cfg.Storage.KeyPrefix,
		Events:    events,
		Policy:    policy,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.New(svc, server.Config{AllowedOrigins: cfg.Player.Origins}).Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting",
			"addr", srv.Addr,
			"storage", cfg.Storage.Backend,
			"courses", len(courses.All()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

// newLogger builds the slog logger selected by LEARN_LOG_LEVEL and
// LEARN_LOG_FORMAT.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// openBackend connects the configured storage backend, falling back to
// in-memory storage when it is unreachable.
func openBackend(ctx context.Context, cfg *config.Config) (progress.Backend, func()) {
	backend, closeFn, err := progress.OpenBackend(ctx, progress.BackendConfig{
		Kind:           cfg.Storage.Backend,
		SQLitePath:     cfg.Storage.SQLitePath,
		DatabaseURL:    cfg.Database.URL,
		MaxConns:       cfg.Database.MaxConns,
		MinConns:       cfg.Database.MinConns,
		CacheURL:       cfg.Cache.URL,
		CacheNamespace: cfg.Cache.Namespace,
	})
	if err != nil {
		slog.Warn("storage backend unavailable, progress will not survive a restart",
			"backend", cfg.Storage.Backend,
			"error", err,
		)
		return progress.NewMemoryBackend(), func() {}
	}
	return backend, func() {
		if err := closeFn(); err != nil {
			slog.Warn("failed to close storage backend", "error", err)
		}
	}
}

// openEvents returns the Postgres event logger when events are enabled, or a
// no-op logger.
func openEvents(ctx context.Context, cfg *config.Config) (player.EventLogger, func()) {
	if !cfg.Events.Enabled {
		return player.NopEventLogger{}, func() {}
	}

	db, err := database.New(ctx, database.Options{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		slog.Warn("event database unavailable, events disabled", "error", err)
		return player.NopEventLogger{}, func() {}
	}

	logger := player.NewPostgresEventLogger(db.Pool)
	if err := logger.EnsureSchema(ctx); err != nil {
		slog.Warn("event schema unavailable, events disabled", "error", err)
		db.Close()
		return player.NopEventLogger{}, func() {}
	}
	return logger, func() { db.Close() }
}
