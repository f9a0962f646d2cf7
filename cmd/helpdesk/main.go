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

	"github.com/hospital-it/helpdesk/internal/app"
	"github.com/hospital-it/helpdesk/internal/auth"
	"github.com/hospital-it/helpdesk/internal/dashboard"
	"github.com/hospital-it/helpdesk/internal/equipment"
	"github.com/hospital-it/helpdesk/internal/observability"
	"github.com/hospital-it/helpdesk/internal/platform/cache"
	"github.com/hospital-it/helpdesk/internal/platform/db"
	"github.com/hospital-it/helpdesk/internal/roles"
	"github.com/hospital-it/helpdesk/internal/shared"
	"github.com/hospital-it/helpdesk/internal/tasks"
	"github.com/hospital-it/helpdesk/internal/tickets"
	"github.com/hospital-it/helpdesk/internal/users"
	"github.com/hospital-it/helpdesk/internal/view"
	"github.com/hospital-it/helpdesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if err := db.EnsureSchema(ctx, dbpool); err != nil {
		logger.Error("ensure schema", slog.Any("error", err))
		os.Exit(1)
	}

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

	sessionManager := shared.NewSessionManager(redisClient, "helpdesk_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	guard := app.NewGuard(cfg, logger, metrics, templates)
	apiMiddleware := app.APIMiddleware(guard)
	auditLogger := shared.NewAuditLogger(dbpool)

	authService := auth.NewService(auth.NewRepository(dbpool))
	sessionStore := auth.NewSessionStore(logger, authService, sessionManager, csrfManager)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL, auth.NewDenylist(redisClient))
	resolver := auth.NewResolver(logger, sessionStore, tokens, authService)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	usersService := users.NewService(users.NewRepository(dbpool), auditLogger, logger)
	rolesService := roles.NewService(roles.NewRepository(dbpool))
	ticketsService := tickets.NewService(tickets.NewRepository(dbpool), auditLogger, jobClient, logger)
	tasksService := tasks.NewService(tasks.NewRepository(dbpool), auditLogger, logger)
	equipmentService := equipment.NewService(equipment.NewRepository(dbpool), auditLogger, logger)
	dashboardService := dashboard.NewService(ticketsService, tasksService, equipmentService, redisClient, cfg.DashboardCacheTTL, logger)

	directory := app.Directory{People: usersService, Assets: equipmentService}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Templates:        templates,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		Resolver:         resolver,
		Guard:            guard,
		Metrics:          metrics,
		AuthHandler:      auth.NewHandler(logger, authService, sessionStore, templates, csrfManager),
		AuthAPIHandler:   auth.NewAPIHandler(logger, authService, tokens),
		DashboardHandler: dashboard.NewHandler(logger, dashboardService, templates, csrfManager, guard),
		UsersHandler:     users.NewHandler(logger, usersService, templates, csrfManager, guard),
		RolesHandler:     roles.NewHandler(logger, rolesService, templates, csrfManager, guard),
		TicketsHandler:   tickets.NewHandler(logger, ticketsService, directory, templates, csrfManager, guard),
		TicketsAPI:       tickets.NewAPIHandler(logger, ticketsService, apiMiddleware).WithIdempotency(shared.NewIdempotencyStore(dbpool)),
		TasksHandler:     tasks.NewHandler(logger, tasksService, directory, templates, csrfManager, guard),
		EquipmentHandler: equipment.NewHandler(logger, equipmentService, templates, csrfManager, guard),
		JobHandler:       jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
