// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/nudge/internal/api"
	"github.com/starford/nudge/internal/delivery"
	"github.com/starford/nudge/internal/mcpserver"
	"github.com/starford/nudge/internal/scheduler"
	"github.com/starford/nudge/internal/settings"
	"github.com/starford/nudge/internal/sse"
	"github.com/starford/nudge/internal/storage"
	"github.com/starford/nudge/internal/watcher"
)

// Version is reported by the CLI and the MCP server.
const Version = "0.3.0"

var errConfigRequired = errors.New("config is required")

// NewLogger builds the structured JSON logger for cfg.
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.Level(),
	}))
}

// OpenScheduler opens the reminders file and the settings database named in
// cfg and builds a scheduler over them. The returned func closes the
// settings database.
func OpenScheduler(cfg *Config, logger *slog.Logger, svc delivery.Service, opts ...scheduler.Option) (*scheduler.Scheduler, func(), error) {
	for _, p := range []string{cfg.Store.Path, cfg.SQLite.Path} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	store, err := storage.NewFS(cfg.Store.Path, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init storage: %w", err)
	}

	flags, err := settings.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("init settings: %w", err)
	}
	closeFn := func() {
		if err := flags.Close(); err != nil {
			logger.Warn("settings close failed", slog.String("error", err.Error()))
		}
	}

	opts = append([]scheduler.Option{scheduler.WithLogger(logger)}, opts...)
	return scheduler.New(store, svc, flags, opts...), closeFn, nil
}

// Run starts the reminder daemon: delivery, HTTP API, SSE and the store
// watcher. It returns after a shutdown signal, ctx cancellation or a
// hard reset.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = NewLogger(cfg, os.Stdout)
	}
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_path", cfg.Store.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.Level().String()),
		slog.Bool("telegram", cfg.Delivery.Telegram.Enabled))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// SSE broker doubles as a delivery sink.
	broker := sse.NewBroker(cfg.Events.Throttle)
	defer broker.Close()

	sinks := delivery.Fanout{delivery.LogSink{Logger: logger}, broker}
	tg, err := cfg.Delivery.Telegram.Sink()
	if err != nil {
		return fmt.Errorf("init telegram sink: %w", err)
	}
	if tg != nil {
		sinks = append(sinks, tg)
	}
	local := delivery.NewLocal(sinks,
		delivery.WithMinRepeatInterval(cfg.Delivery.MinRepeatInterval),
		delivery.WithLogger(logger))
	defer local.DisarmAll()

	schedOpts := []scheduler.Option{
		scheduler.WithExit(func(code int) {
			logger.Warn("Hard reset finished, shutting down", slog.Int("code", code))
			cancel()
		}),
	}
	if cfg.Store.Watch {
		schedOpts = append(schedOpts, scheduler.WithReloadOnWrite())
	}
	sched, closeFlags, err := OpenScheduler(cfg, logger, local, schedOpts...)
	if err != nil {
		return err
	}
	defer closeFlags()

	local.OnDelivered(sched.HandleDelivered)
	sched.OnChange(broker.Observer())

	if err := sched.Resume(ctx); err != nil {
		logger.Warn("initial resume incomplete", slog.String("error", err.Error()))
	}
	logger.Info("Reminders armed", slog.Int("pending", len(local.Pending())))

	apiRouter := api.NewRouter(sched, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","pending":%d}`, len(local.Pending()))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Re-arm after edits made by the CLI or the MCP server.
	if cfg.Store.Watch {
		g.Go(func() error {
			err := watcher.Watch(gCtx, cfg.Store.Path, logger, func() {
				if err := sched.Resume(gCtx); err != nil {
					logger.Warn("resume after store change incomplete", slog.String("error", err.Error()))
				}
			})
			if err != nil {
				logger.Error("store watcher failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools on stdin/stdout. Logs go to stderr. Reminders
// are only persisted here; a running daemon arms them when it sees the
// store change.
func RunMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}

	logger := app.logger
	if logger == nil {
		logger = NewLogger(app.config, os.Stderr)
	}

	sched, closeFlags, err := OpenScheduler(app.config, logger, delivery.Nop{})
	if err != nil {
		return err
	}
	defer closeFlags()

	logger.Info("MCP server starting", slog.String("store_path", app.config.Store.Path))
	return mcpserver.New(sched, Version).ServeStdio()
}
