package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/scm-platform/notification-service/internal/config"
	"github.com/scm-platform/notification-service/internal/dispatch"
	"github.com/scm-platform/notification-service/internal/handler"
	"github.com/scm-platform/notification-service/internal/infra/postgresql"
	"github.com/scm-platform/notification-service/internal/infra/postgresql/migrations"
	infraredis "github.com/scm-platform/notification-service/internal/infra/redis"
	"github.com/scm-platform/notification-service/internal/observability"
	"github.com/scm-platform/notification-service/internal/provider"
	"github.com/scm-platform/notification-service/internal/repository"
	"github.com/scm-platform/notification-service/internal/service"
	"github.com/scm-platform/notification-service/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownGracePeriod = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	notificationRepo := repository.NewGormNotificationRepo(db)
	auditRepo := repository.NewGormAuditLogRepo(db)

	registry, err := buildProviderRegistry(cfg)
	if err != nil {
		return fmt.Errorf("provider registry initialization failed: %w", err)
	}

	metrics := observability.NewMetrics()

	processor, err := service.NewProcessor(notificationRepo, auditRepo, registry, rateLimiter, logger)
	if err != nil {
		return fmt.Errorf("processor initialization failed: %w", err)
	}
	processor.SetMetrics(metrics)

	pool, err := dispatch.NewPool(dispatch.PoolConfig{
		CoreWorkers: cfg.DispatchCoreWorkers,
		MaxWorkers:  cfg.DispatchMaxWorkers,
		QueueSize:   cfg.DispatchQueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("dispatch pool initialization failed: %w", err)
	}

	trigger, err := dispatch.NewTrigger(pool, processor.Process, logger)
	if err != nil {
		return fmt.Errorf("dispatch trigger initialization failed: %w", err)
	}

	notificationService, err := service.NewNotificationService(notificationRepo, auditRepo, trigger, logger)
	if err != nil {
		return fmt.Errorf("notification service initialization failed: %w", err)
	}

	reconciler, err := service.NewReconciler(
		notificationRepo,
		auditRepo,
		processor,
		pool,
		cfg.ReconcileInterval(),
		cfg.StalenessThreshold(),
		logger,
	)
	if err != nil {
		return fmt.Errorf("reconciler initialization failed: %w", err)
	}
	reconciler.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterNotificationRoutes(app.Group("/api"), notificationService); err != nil {
		return fmt.Errorf("route registration failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("notification service api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		return reconciler.Start(groupCtx)
	})

	g.Go(func() error {
		<-groupCtx.Done()

		// Shutdown order: stop intake, stop the sweep (ctx), then let
		// in-flight deliveries finish within the grace period.
		if err := app.Shutdown(); err != nil {
			logger.Error("http server shutdown failed", zap.Error(err))
		}
		pool.Shutdown(shutdownGracePeriod)
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	logger.Info("notification service stopped")
	return nil
}

func buildProviderRegistry(cfg *config.Config) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	email, err := provider.NewEmailProvider(
		cfg.PostmarkServerToken,
		cfg.PostmarkAccountToken,
		cfg.EmailFrom,
		cfg.EmailCompanyName,
	)
	if err != nil {
		return nil, err
	}
	if err := registry.Register(email); err != nil {
		return nil, err
	}

	sms, err := provider.NewSMSProvider(cfg.SMSGatewayURL)
	if err != nil {
		return nil, err
	}
	if err := registry.Register(sms); err != nil {
		return nil, err
	}

	whatsapp, err := provider.NewWhatsAppProvider(cfg.WhatsAppGatewayURL)
	if err != nil {
		return nil, err
	}
	if err := registry.Register(whatsapp); err != nil {
		return nil, err
	}

	push, err := provider.NewPushProvider(cfg.PushGatewayURL)
	if err != nil {
		return nil, err
	}
	if err := registry.Register(push); err != nil {
		return nil, err
	}

	return registry, nil
}
