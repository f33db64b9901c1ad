// Package main is the entrypoint for the ReID panel server.
package main

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

	"github.com/tercanobre/reidpanel/internal/api"
	"github.com/tercanobre/reidpanel/internal/api/handler"
	mw "github.com/tercanobre/reidpanel/internal/api/middleware"
	"github.com/tercanobre/reidpanel/internal/api/response"
	"github.com/tercanobre/reidpanel/internal/backend"
	"github.com/tercanobre/reidpanel/internal/cache"
	"github.com/tercanobre/reidpanel/internal/config"
	"github.com/tercanobre/reidpanel/internal/coordinator"
	"github.com/tercanobre/reidpanel/internal/store"
	"github.com/tercanobre/reidpanel/pkg/models"
)

const (
	shutdownTimeout = 30 * time.Second
	recoveryTimeout = 15 * time.Second
	healthTimeout   = 3 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "backend", cfg.Backend.BaseURL, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Server.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Backend client and job coordinator
	client := backend.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, cfg.Backend.MaxRPS)
	pgStore := store.NewPostgresStore(pool)

	coord := coordinator.New(client, pgStore, redisCache, coordinatorConfig(cfg))
	defer coord.Close()

	// 6. Adopt jobs the backend is already running
	recoverCtx, cancelRecover := context.WithTimeout(ctx, recoveryTimeout)
	recovered := coord.Recover(recoverCtx)
	cancelRecover()
	slog.Info("recovery check finished", "adopted", len(recovered))

	// 7. Build router with dependencies
	deps := api.Dependencies{
		Auth:           mw.NewAuth(cfg.Auth.OperatorTokenHash),
		RateLimit:      mw.NewRateLimit(redisCache, cfg.RateLimit.PerMinute, cfg.RateLimit.PollPerMinute),
		AllowedOrigins: cfg.Server.AllowedOrigins,

		HealthHandler: healthHandler(pgStore, redisCache, client),

		ListJobs:   handler.NewListViewsHandler(coord),
		SubmitJob:  handler.NewSubmitHandler(coord),
		GetJob:     handler.NewViewHandler(coord),
		CancelJob:  handler.NewCancelHandler(coord),
		PreviewJob: handler.NewPreviewHandler(coord),

		GetReview:       handler.NewReviewHandler(coord),
		ReloadReview:    handler.NewReloadReviewHandler(coord),
		FilterReview:    handler.NewReviewFilterHandler(coord),
		ToggleCandidate: handler.NewToggleCandidateHandler(coord),
		SelectVisible:   handler.NewSelectVisibleHandler(coord),
		ConfirmReview:   handler.NewConfirmReviewHandler(coord),
		DiscardReview:   handler.NewDiscardReviewHandler(coord),

		GetArtifact: handler.NewArtifactHandler(client, redisCache, cfg.Redis.ArtifactCacheTTL),

		ListHistory: handler.NewListHistoryHandler(pgStore),
		GetHistory:  handler.NewGetHistoryHandler(pgStore),

		ListAthletes:   handler.NewListAthletesHandler(client),
		BuildEmbedding: handler.NewBuildEmbeddingHandler(client),
		SaveCrop:       handler.NewSaveCropHandler(client),
		Calibrate:      handler.NewCalibrateHandler(client),
		ExtractFrame:   handler.NewExtractFrameHandler(client),

		GetRoster:    handler.NewGetRosterHandler(client),
		AddPlayer:    handler.NewAddPlayerHandler(client),
		RemovePlayer: handler.NewRemovePlayerHandler(client),
		MovePlayer:   handler.NewMovePlayerHandler(client),

		ListProcesses:    handler.NewListProcessesHandler(client),
		KillProcess:      handler.NewKillProcessHandler(client),
		KillAllProcesses: handler.NewKillAllProcessesHandler(client),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping pollers and draining connections...")
	}

	// Pollers stop first so no session outlives the server.
	coord.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

func coordinatorConfig(cfg *config.Config) coordinator.Config {
	cc := coordinator.DefaultConfig()
	cc.Intervals = map[models.JobKind]time.Duration{
		models.KindAnalysis: cfg.Polling.AnalysisInterval,
		models.KindCapture:  cfg.Polling.CaptureInterval,
		models.KindScript:   cfg.Polling.ScriptInterval,
	}
	cc.PreviewInterval = cfg.Polling.PreviewInterval
	cc.ArtifactRecheckDelay = cfg.Polling.ArtifactRecheckDelay
	cc.SubmitLockTTL = cfg.Polling.SubmitLockTTL
	cc.RequestTimeout = cfg.Backend.Timeout
	return cc
}

type pinger interface {
	Ping(ctx context.Context) error
}

type readier interface {
	Ready(ctx context.Context) error
}

// healthHandler checks database, cache and backend connectivity.
func healthHandler(db pinger, c pinger, b readier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"backend":  "ok",
		}

		if err := db.Ping(ctx); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(ctx); err != nil {
			checks["cache"] = "degraded"
		}
		if err := b.Ready(ctx); err != nil {
			checks["backend"] = "unreachable"
		}

		for _, v := range checks {
			if v != "ok" {
				response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
					"One or more services degraded", checks)
				return
			}
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
