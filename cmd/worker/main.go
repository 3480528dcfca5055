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

	"github.com/joho/godotenv"

	"github.com/dkorsak/docqa/internal/bootstrap"
	"github.com/dkorsak/docqa/internal/config"
	"github.com/dkorsak/docqa/internal/observability/logging"
	"github.com/dkorsak/docqa/internal/observability/metrics"
)

const serviceName = "worker"

const reindexTimeout = 5 * time.Minute

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		slog.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	// Each subscription blocks until the context is cancelled, so they run
	// on their own goroutines and the main goroutine waits for the signal.
	errCh := make(chan error, 2)

	go func() {
		errCh <- app.Queue.SubscribeIndexRequested(ctx, func(handlerCtx context.Context, documentID string) error {
			workerMetrics.StartReindex()
			start := time.Now()

			reindexCtx, cancel := context.WithTimeout(handlerCtx, reindexTimeout)
			defer cancel()
			err := app.Indexer.ReindexDocument(reindexCtx, documentID)
			workerMetrics.FinishReindex(serviceName, time.Since(start), err)
			return err
		})
	}()

	go func() {
		errCh <- app.Queue.SubscribeSessionClosed(ctx, func(handlerCtx context.Context, sessionID string) error {
			err := app.Indexer.ClearSession(handlerCtx, sessionID)
			workerMetrics.SessionTeardown(serviceName, err)
			return err
		})
	}()

	slog.Info("worker_started")
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			slog.Error("worker_subscription_failed", "error", err)
			stop()
		}
	}
}
