// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"github.com/starford/compendium/internal/api"
	"github.com/starford/compendium/internal/models"
	"github.com/starford/compendium/internal/seed"
	"github.com/starford/compendium/internal/sse"
	"github.com/starford/compendium/internal/triggers"
	"github.com/starford/compendium/internal/tweets"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("seed_dir", cfg.Seed.Dir),
		slog.String("log_level", cfg.App.LogLevel.String()))

	svc, err := newServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	// Change feed for browsers.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()
	svc.store.Subscribe(broker.Listener())

	// Store triggers.
	dispatcher := triggers.New(logger,
		triggers.WithWorkers(cfg.Triggers.Workers),
		triggers.WithMaxRedeliveries(cfg.Triggers.MaxRedeliveries),
		triggers.WithMetrics(svc.metrics))
	dispatcher.On(models.CollectionCards, triggers.Written, "linkgraph", svc.links.HandleChange)
	dispatcher.On(models.CollectionCards, triggers.Written, "index", svc.indexer.HandleChange)
	if svc.embeddings != nil {
		dispatcher.On(models.CollectionCards, triggers.Written, "embedding", svc.embeddings.HandleChange)
	}
	dispatcher.On(models.CollectionStars, triggers.Created, "notify.star", svc.notifier.HandleStarCreated)
	dispatcher.On(models.CollectionMessages, triggers.Created, "notify.message", svc.notifier.HandleMessageCreated)
	dispatcher.Attach(svc.store)

	apiRouter := api.NewRouter(api.Deps{
		Cards:       svc.cards,
		Permissions: svc.permissions,
		Verifier:    svc.verifier,
		Embeddings:  svc.embeddings,
		Screenshots: svc.screenshots,
		Tweets:      svc.tweets,
		Proxy:       svc.proxy,
		Chats:       svc.chats,
		Search:      svc.index,
		Events:      broker,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-Match"},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := svc.store.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", svc.metrics.Handler())

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var scheduler *tweets.Scheduler
	if cfg.Social.Enabled {
		scheduler = tweets.NewScheduler(logger, svc.locker())
		if err := scheduler.Add("tweets.autopost", cfg.Social.PostSchedule, func(ctx context.Context) error {
			_, err := svc.tweets.AutoPost(ctx)
			return err
		}); err != nil {
			return err
		}
		if err := scheduler.Add("tweets.engagement", cfg.Social.EngagementSchedule, func(ctx context.Context) error {
			_, err := svc.tweets.RefreshEngagement(ctx)
			return err
		}); err != nil {
			return err
		}
	}

	var syncer *seed.Syncer
	if cfg.Seed.Dir != "" {
		dir, err := seed.NewDir(cfg.Seed.Dir)
		if err != nil {
			return fmt.Errorf("open seed dir: %w", err)
		}
		syncer = seed.NewSyncer(svc.store, svc.cards, dir, logger)
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(gCtx)
	})

	g.Go(func() error {
		if _, err := svc.indexer.Rebuild(gCtx); err != nil {
			logger.Warn("initial index rebuild failed", slog.String("error", err.Error()))
		}
		return nil
	})

	if scheduler != nil {
		g.Go(func() error {
			return scheduler.Run(gCtx)
		})
	}

	if syncer != nil {
		g.Go(func() error {
			if err := seed.Watch(gCtx, syncer, logger); err != nil {
				logger.Error("seed watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
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
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// SSE streams never finish on their own; close them before Shutdown
		// waits for handlers.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so background loops stop with the server.
var errShutdown = errors.New("shutdown")
