package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/evmotors/dms/internal/app"
	"github.com/evmotors/dms/internal/billing"
	"github.com/evmotors/dms/internal/inventory"
	"github.com/evmotors/dms/internal/platform/cache"
	"github.com/evmotors/dms/internal/platform/db"
	"github.com/evmotors/dms/internal/pricing/policy"
	"github.com/evmotors/dms/internal/sales"
	"github.com/evmotors/dms/internal/shared"
	"github.com/evmotors/dms/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, 0)
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

	auditLogger := shared.NewAuditLogger(pool)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger, logger, inventory.ServiceConfig{
		AllowWalkInSale: cfg.AllowWalkInSale,
		DefaultTTL:      cfg.ReservationTTL,
	})

	policyRepo := policy.NewRepository(pool)
	policyService := policy.NewService(policyRepo, redisClient, cfg.PolicyCacheTTL, logger)

	salesRepo := sales.NewRepository(pool)
	salesService := sales.NewService(salesRepo, inventoryService, policyService, approvalRecorder, auditLogger, logger, sales.ServiceConfig{
		OrderHoldTTL: cfg.OrderHoldTTL,
	})

	billingRepo := billing.NewRepository(pool)
	billingService := billing.NewService(billingRepo, salesService, auditLogger, logger)

	sweeper := jobs.NewSweeper(inventoryService, salesService, billingService, logger)

	sweepTask, err := jobs.NewExpirySweepTask(time.Time{})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskExpirySweep, Handler: sweeper.HandleExpirySweepTask},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
