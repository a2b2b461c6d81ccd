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

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/docflow/internal/bootstrap"
	"github.com/kirillkom/docflow/internal/config"
	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/infrastructure/scheduler"
	"github.com/kirillkom/docflow/internal/observability/logging"
	"github.com/kirillkom/docflow/internal/observability/metrics"
)

const serviceName = "worker"

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service:    serviceName,
		Registerer: workerMetrics.Registerer(),
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	group, groupCtx := errgroup.WithContext(ctx)

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	group.Go(func() error {
		logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if app.Subscriber != nil {
		group.Go(func() error {
			logger.Info("worker_subscribed", "subject", cfg.NATSNotificationSubject)
			return app.Subscriber.SubscribeNotifications(groupCtx, func(handlerCtx context.Context, n domain.Notification) error {
				workerMetrics.ObserveQueueLag(time.Since(n.CreatedAt))
				workerMetrics.StartDelivery()
				err := app.Notifications.Deliver(handlerCtx, n)
				workerMetrics.FinishDelivery(err)
				return err
			})
		})
	} else {
		logger.Warn("notification_consumer_disabled", "reason", "NATS_URL is empty")
	}

	if cfg.RedisAddr != "" {
		server := asynq.NewServer(bootstrap.RedisOpt(cfg), asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues:      map[string]int{cfg.ExpiryQueue: 1},
		})
		processor := scheduler.NewProcessor(app.Expiry, workerMetrics)
		group.Go(func() error {
			if err := server.Start(processor.Handler()); err != nil {
				return err
			}
			logger.Info("expiry_worker_started", "queue", cfg.ExpiryQueue, "concurrency", cfg.WorkerConcurrency)
			<-groupCtx.Done()
			server.Shutdown()
			return nil
		})
	} else {
		logger.Warn("expiry_worker_disabled", "reason", "REDIS_ADDR is empty")
	}

	if err := group.Wait(); err != nil {
		logger.Error("worker_stopped", "error", err)
	}
	app.Workflow.Wait()
}
