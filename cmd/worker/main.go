// Package main provides the worker application entry point. The worker
// claims jobs from the durable queue, extracts content, routes generation
// calls across providers, and reports results to the callback endpoint.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/ai/real"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/ai/stub"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/callback"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/repo/sqlite"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/textextractor"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/config"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/service/providergate"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/service/ratelimiter"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/service/registry"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/service/router"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/service/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.MetricsPort), mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		slog.Error("db open failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	jobRepo := sqlite.NewJobRepo(db)
	regRepo := sqlite.NewRegistryRepo(db)
	counterRepo := sqlite.NewCounterRepo(db)
	backoffRepo := sqlite.NewBackoffRepo(db)

	var modelsFile *registry.ModelsFile
	if cfg.ModelsFile != "" {
		modelsFile, err = registry.LoadModelsFile(cfg.ModelsFile)
		if err != nil {
			slog.Error("models file load failed", slog.String("path", cfg.ModelsFile), slog.Any("error", err))
			os.Exit(1)
		}
	}
	if err := registry.Seed(context.Background(), regRepo, cfg, config.ModelOverrides(os.Environ()), modelsFile); err != nil {
		slog.Error("registry seed failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Optional Redis denial cache in front of the durable counters. The
	// counters table stays the source of truth either way.
	var denialCache *ratelimiter.DenialCache
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("redis url invalid", slog.Any("error", err))
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		defer func() { _ = rdb.Close() }()
		denialCache = ratelimiter.NewDenialCache(rdb)
		slog.Info("rate-limit denial cache enabled")
	}
	limiter := ratelimiter.New(counterRepo, denialCache)

	gate := providergate.New(backoffRepo, providergate.Policy{
		Quota:     cfg.QuotaBackoff,
		Auth:      cfg.AuthBackoff,
		Transient: cfg.TransientBackoff,
	})

	var aiClient domain.AIClient
	if cfg.AIMode == "stub" {
		aiClient = stub.New()
		slog.Info("AI client initialized in stub mode")
	} else {
		aiClient = real.New(map[string]string{
			cfg.PrimaryProvider:   cfg.PrimaryBaseURL,
			cfg.SecondaryProvider: cfg.SecondaryBaseURL,
		}, cfg.UpstreamTimeout, cfg.UpstreamMinDelay)
		slog.Info("AI client initialized")
	}

	rt := router.New(regRepo, jobRepo, limiter, gate, aiClient)
	notifier := callback.New(cfg.CallbackURL, cfg.InternalSecret, cfg.CallbackTimeout)

	w := worker.New(jobRepo, regRepo, rt, textextractor.New(), notifier, tokencount.NewBudgeter(), worker.Options{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.PollInterval(),
		StaleTimeout: cfg.StaleTimeout(),
		SweepEvery:   cfg.SweepInterval,
		MaxTokens:    cfg.MaxSummaryTokens,
	})

	if cfg.DataRetentionDays > 0 {
		cleanupSvc := sqlite.NewCleanupService(db, cfg.DataRetentionDays)
		go cleanupSvc.RunPeriodic(context.Background(), cfg.CleanupInterval)
		slog.Info("cleanup service started",
			slog.Int("retention_days", cfg.DataRetentionDays),
			slog.Duration("interval", cfg.CleanupInterval))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w.Run(ctx)
}
