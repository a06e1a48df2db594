package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ssmspro2025/tms-sub000/internal/app"
	jobmetrics "github.com/ssmspro2025/tms-sub000/internal/jobs"
	"github.com/ssmspro2025/tms-sub000/internal/platform/cache"
	"github.com/ssmspro2025/tms-sub000/internal/platform/db"
	"github.com/ssmspro2025/tms-sub000/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	services, err := app.NewServices(cfg, logger, pool, redisClient, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("init services", slog.Any("error", err))
		os.Exit(1)
	}
	metrics := jobmetrics.NewMetrics(nil)

	generation := jobs.NewInvoiceGenerationJob(services.Finance, jobs.GenerationDefaults{
		DueInDays:     cfg.DefaultDueInDays,
		LateFeePerDay: cfg.DefaultLateFeePerDay,
	}, logger, metrics)
	refresh := jobs.NewStatusRefreshJob(services.Finance, logger, metrics)
	cleanup := &jobs.IdempotencyCleanupJob{Store: services.Idempotency, Logger: logger, Metrics: metrics}

	generateTask, err := jobs.NewInvoiceGenerationTask(jobs.InvoiceGenerationPayload{})
	if err != nil {
		logger.Error("build generation task", slog.Any("error", err))
		os.Exit(1)
	}
	refreshTask, err := jobs.NewStatusRefreshTask("")
	if err != nil {
		logger.Error("build refresh task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskInvoicesGenerate, Handler: generation.Handle},
			{Type: jobs.TaskInvoicesRefreshStatus, Handler: refresh.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanup.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.InvoiceSchedule, Task: generateTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.StatusRefreshSchedule, Task: refreshTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 3 * * *", Task: jobs.NewIdempotencyCleanupTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.String("invoice_schedule", cfg.InvoiceSchedule), slog.String("refresh_schedule", cfg.StatusRefreshSchedule))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
