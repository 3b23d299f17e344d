// Package main is the entrypoint for the blind redaction API server.
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

	"github.com/blindreview/redactor/internal/alias"
	"github.com/blindreview/redactor/internal/api"
	"github.com/blindreview/redactor/internal/api/handler"
	mw "github.com/blindreview/redactor/internal/api/middleware"
	"github.com/blindreview/redactor/internal/api/response"
	"github.com/blindreview/redactor/internal/cache"
	"github.com/blindreview/redactor/internal/config"
	"github.com/blindreview/redactor/internal/experiment"
	"github.com/blindreview/redactor/internal/fetch"
	"github.com/blindreview/redactor/internal/job"
	"github.com/blindreview/redactor/internal/pipeline"
	"github.com/blindreview/redactor/internal/queue"
	"github.com/blindreview/redactor/internal/stage"
	"github.com/blindreview/redactor/internal/stage/extract"
	"github.com/blindreview/redactor/internal/stage/inspect"
	"github.com/blindreview/redactor/internal/stage/parse"
	"github.com/blindreview/redactor/internal/stage/redact"
	"github.com/blindreview/redactor/internal/store"
)

const shutdownTimeout = 30 * time.Second

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
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "workers", cfg.Worker.Count)

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
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache and queue
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	jobQueue, err := queue.NewRedisQueue(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create job queue: %w", err)
	}
	defer jobQueue.Close()

	// 5. Build the stage registry and compile the pipeline
	registry := stage.NewRegistry()
	extract.Register(registry)
	parse.Register(registry)
	redact.Register(registry)
	inspect.Register(registry)

	spec, err := pipeline.LoadSpecFile(cfg.Pipeline.SpecPath)
	if err != nil {
		return fmt.Errorf("load pipeline spec: %w", err)
	}
	applyRedactDefaults(spec, cfg.Redact)
	engine, err := pipeline.New(spec, registry)
	if err != nil {
		return fmt.Errorf("compile pipeline: %w", err)
	}
	slog.Info("pipeline compiled", "spec_path", cfg.Pipeline.SpecPath)

	// 6. Create store and services
	pgStore := store.NewPostgresStore(pool)
	aliases := alias.NewService(pgStore, redisCache)
	configs := experiment.NewService(pgStore)
	orchestrator := job.NewOrchestrator(pgStore, jobQueue, redisCache, aliases)

	// 7. Start the worker pool
	callbacks := job.NewCallbackSender(
		&http.Client{Timeout: cfg.Callback.Timeout}, pgStore, cfg.Callback.MaxElapsed)
	uploader := job.NewUploader(nil, cfg.Callback.MaxElapsed)
	pool2 := job.NewPool(job.PoolConfig{
		Workers:        cfg.Worker.Count,
		Lease:          cfg.Worker.Lease,
		MaxAttempts:    cfg.Worker.MaxAttempts,
		ReaperInterval: cfg.Worker.ReaperInterval,
	}, pgStore, jobQueue, redisCache, engine, fetch.New(nil), callbacks, uploader)

	workersDone := make(chan struct{})
	go func() {
		pool2.Run(ctx)
		close(workersDone)
	}()
	slog.Info("worker pool started", "workers", cfg.Worker.Count)

	// 8. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, 60),

		HealthHandler: healthHandler(pgStore, redisCache),

		SubmitRedaction: handler.NewSubmitRedactionHandler(orchestrator),
		RedactionStatus: handler.NewRedactionStatusHandler(orchestrator),

		ListConfigs:     handler.NewListConfigsHandler(configs),
		GetActiveConfig: handler.NewGetActiveConfigHandler(configs),
		GetConfig:       handler.NewGetConfigHandler(configs),
		CreateConfig:    handler.NewCreateConfigHandler(configs),
		ActivateConfig:  handler.NewActivateConfigHandler(configs),

		BlindReviewInfo: handler.NewBlindReviewInfoHandler(aliases, configs),
		RecordExposure:  handler.NewRecordExposureHandler(pgStore),
		RecordOutcome:   handler.NewRecordOutcomeHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

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
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		slog.Warn("workers did not drain before timeout")
	}

	slog.Info("server stopped gracefully")
	return nil
}

// applyRedactDefaults fills env-provided credentials into redact/openai stage
// params that the spec file leaves unset, so secrets stay out of the spec.
func applyRedactDefaults(spec *pipeline.Spec, cfg config.RedactConfig) {
	var walk func(specs []pipeline.StageSpec)
	walk = func(specs []pipeline.StageSpec) {
		for i := range specs {
			s := &specs[i]
			if s.Capability == stage.CapabilityRedact && s.Backend == "openai" {
				if s.Params == nil {
					s.Params = map[string]any{}
				}
				setIfMissing(s.Params, "apiKey", cfg.APIKey)
				setIfMissing(s.Params, "baseUrl", cfg.BaseURL)
				setIfMissing(s.Params, "model", cfg.Model)
				setIfMissing(s.Params, "requestsPerMinute", cfg.RequestsPerMinute)
			}
			walk(s.Children)
		}
	}
	walk(spec.Pipeline)
}

func setIfMissing(params map[string]any, key string, val any) {
	if _, ok := params[key]; ok {
		return
	}
	switch v := val.(type) {
	case string:
		if v == "" {
			return
		}
	case int:
		if v == 0 {
			return
		}
	}
	params[key] = val
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
