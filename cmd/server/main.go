// Command server starts the summarization queue HTTP ingress.
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

	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/repo/sqlite"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/config"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/service/registry"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/usecase"
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

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		slog.Error("db open failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	jobRepo := sqlite.NewJobRepo(db)
	regRepo := sqlite.NewRegistryRepo(db)

	// Seed the provider/model registry so the worker has candidates the
	// moment the first job lands.
	var modelsFile *registry.ModelsFile
	if cfg.ModelsFile != "" {
		modelsFile, err = registry.LoadModelsFile(cfg.ModelsFile)
		if err != nil {
			slog.Error("models file load failed", slog.String("path", cfg.ModelsFile), slog.Any("error", err))
			os.Exit(1)
		}
	}
	if err := registry.Seed(ctx, regRepo, cfg, config.ModelOverrides(os.Environ()), modelsFile); err != nil {
		slog.Error("registry seed failed", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.DataRetentionDays > 0 {
		cleanupSvc := sqlite.NewCleanupService(db, cfg.DataRetentionDays)
		go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("cleanup service started",
			slog.Int("retention_days", cfg.DataRetentionDays),
			slog.Duration("interval", cfg.CleanupInterval))
	}

	submitSvc := usecase.NewSubmitService(jobRepo, cfg.DefaultMaxAttempts)
	statusSvc := usecase.NewStatusService(jobRepo)

	srv := httpserver.NewServer(cfg, submitSvc, statusSvc, db.PingContext)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Router(),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownGrace)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
