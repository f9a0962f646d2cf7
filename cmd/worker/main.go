package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/hospital-it/helpdesk/internal/app"
	jobmetrics "github.com/hospital-it/helpdesk/internal/jobs"
	"github.com/hospital-it/helpdesk/internal/platform/cache"
	"github.com/hospital-it/helpdesk/internal/platform/db"
	"github.com/hospital-it/helpdesk/internal/shared"
	"github.com/hospital-it/helpdesk/internal/tasks"
	"github.com/hospital-it/helpdesk/internal/tickets"
	"github.com/hospital-it/helpdesk/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 4})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	mailer, err := jobs.NewMailer(jobs.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, logger)
	if err != nil {
		logger.Error("init mailer", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := jobmetrics.NewMetrics(nil)
	tasksService := tasks.NewService(tasks.NewRepository(pool), shared.NopAudit{}, logger)

	sendEmail := &jobs.SendEmailJob{Mailer: mailer, Logger: logger, Metrics: metrics}
	assigned := &jobs.TicketAssignedJob{
		Notices: tickets.NewRepository(pool),
		Mailer:  mailer,
		Logger:  logger,
		Metrics: metrics,
		BaseURL: cfg.AppBaseURL,
	}
	overdue := &jobs.OverdueScanJob{
		Tasks:   tasksService,
		Mailer:  mailer,
		Lock:    shared.NewRedisLock(redisClient),
		Logger:  logger,
		Metrics: metrics,
		BaseURL: cfg.AppBaseURL,
	}

	cleanup := &jobs.IdempotencyCleanupJob{
		Keys:    shared.NewIdempotencyStore(pool),
		Logger:  logger,
		Metrics: metrics,
	}

	overdueTask, err := jobs.NewOverdueScanTask(jobs.OverdueScanPayload{GraceMinutes: cfg.TaskOverdueGrace})
	if err != nil {
		logger.Error("build overdue scan task", slog.Any("error", err))
		os.Exit(1)
	}

	var cron []jobs.CronRegistration
	if cfg.TaskOverdueCron != "" {
		cron = append(cron, jobs.CronRegistration{
			Spec:    cfg.TaskOverdueCron,
			Task:    overdueTask,
			Options: []asynq.Option{asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3)},
		})
	}

	if cfg.IdempotencyCron != "" {
		cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
		if err != nil {
			logger.Error("build idempotency cleanup task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{
			Spec:    cfg.IdempotencyCron,
			Task:    cleanupTask,
			Options: []asynq.Option{asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(1)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSendEmail, Handler: sendEmail.Handle},
			{Type: jobs.TaskTicketAssigned, Handler: assigned.Handle},
			{Type: jobs.TaskTasksOverdueScan, Handler: overdue.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanup.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("overdue_cron", cfg.TaskOverdueCron))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
