package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/evmotors/dms/internal/app"
	"github.com/evmotors/dms/internal/billing"
	"github.com/evmotors/dms/internal/delivery"
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

	pool, err := db.New(ctx, cfg.PGDSN, 0)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
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

	deliveryRepo := delivery.NewRepository(pool)
	deliveryService := delivery.NewService(deliveryRepo, inventoryService, salesService, auditLogger, logger)

	sweeper := jobs.NewSweeper(inventoryService, salesService, billingService, logger)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryService: inventoryService,
		SalesService:     salesService,
		BillingService:   billingService,
		DeliveryService:  deliveryService,
		PolicyService:    policyService,
		Sweeper:          sweeper,
		JobClient:        jobClient,
		JobHandler:       jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
