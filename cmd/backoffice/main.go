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

	"github.com/odyssey-erp/backoffice/internal/app"
	"github.com/odyssey-erp/backoffice/internal/approval"
	"github.com/odyssey-erp/backoffice/internal/ar"
	"github.com/odyssey-erp/backoffice/internal/delivery"
	"github.com/odyssey-erp/backoffice/internal/identity"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/items"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/platform/cache"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/pricing"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/sales"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	locks := shared.NewSoftLocker(redisClient, cfg.SoftLockTTL)
	numbers := numbering.NewGenerator(nil)

	permissions := rbac.NewService(dbpool)
	rbacMiddleware := rbac.Middleware{Service: permissions, Logger: logger}

	jobClient := jobs.NewClient(cfg.Redis().Asynq())
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	approvalService := approval.NewService(approval.NewRepository(dbpool), jobClient, metrics, logger)
	priceResolver := pricing.NewResolver(pricing.NewRepository(dbpool), logger)

	inventoryRepo := inventory.NewRepository(dbpool)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger, inventory.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeStock,
	}, logger)
	itemService := items.NewService(items.NewRepository(dbpool), inventoryRepo, auditLogger, logger)

	salesService := sales.NewService(sales.Deps{
		Repo:    sales.NewRepository(dbpool),
		Prices:  priceResolver,
		Numbers: numbers,
		Checker: rbac.Checker{Source: permissions},
		Audit:   auditLogger,
		Metrics: metrics,
		Logger:  logger,
	})
	deliveryService := delivery.NewService(delivery.Deps{
		Repo:    delivery.NewRepository(dbpool),
		Numbers: numbers,
		Ledger:  inventory.Ledger{AllowNegative: cfg.AllowNegativeStock},
		Audit:   auditLogger,
		Metrics: metrics,
		Logger:  logger,
	})
	invoiceService := ar.NewService(ar.Deps{
		Repo:      ar.NewRepository(dbpool),
		Prices:    priceResolver,
		Approvals: approvalService,
		Numbers:   numbers,
		Audit:     auditLogger,
		Metrics:   metrics,
		Logger:    logger,
	})

	inspector := asynq.NewInspector(cfg.Redis().Asynq())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:   logger,
		Config:   cfg,
		Identity: identity.NewRedisResolver(redisClient),
		Metrics:  metrics,
		Health: func(r *http.Request) error {
			if err := dbpool.Ping(r.Context()); err != nil {
				return err
			}
			return redisClient.Ping(r.Context()).Err()
		},
		SalesHandler:     sales.NewHandler(logger, salesService, rbacMiddleware),
		DeliveryHandler:  delivery.NewHandler(logger, deliveryService, rbacMiddleware, locks),
		InvoiceHandler:   ar.NewHandler(logger, invoiceService, rbacMiddleware, locks),
		ApprovalHandler:  approval.NewHandler(logger, approvalService, rbacMiddleware),
		ItemsHandler:     items.NewHandler(logger, itemService, rbacMiddleware),
		InventoryHandler: inventory.NewHandler(logger, inventoryService, rbacMiddleware),
		JobHandler:       jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server starting", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}
}
