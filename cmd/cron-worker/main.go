package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trgnguyen/remarket-backend/internal/cron"
	internalescrow "github.com/trgnguyen/remarket-backend/internal/escrow"
	internallogistics "github.com/trgnguyen/remarket-backend/internal/logistics"
	internalorders "github.com/trgnguyen/remarket-backend/internal/orders"
	"github.com/trgnguyen/remarket-backend/pkg/config"
	"github.com/trgnguyen/remarket-backend/pkg/db"
	"github.com/trgnguyen/remarket-backend/pkg/logger"
	"github.com/trgnguyen/remarket-backend/pkg/metrics"
	"github.com/trgnguyen/remarket-backend/pkg/migrate"
	"github.com/trgnguyen/remarket-backend/pkg/outbox"
	"github.com/trgnguyen/remarket-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	ordersRepo := internalorders.NewRepository(dbClient.DB())
	escrowRepo := internalescrow.NewRepository(dbClient.DB())
	logisticsRepo := internallogistics.NewRepository(dbClient.DB())

	escrowSvc, err := internalescrow.NewService(escrowRepo, dbClient, outboxSvc)
	if err != nil {
		logg.Error(context.Background(), "failed to create escrow service", err)
		os.Exit(1)
	}

	ordersSvc, err := internalorders.NewService(ordersRepo, dbClient, outboxSvc, escrowSvc, cfg.Orders.FeePercentage)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	qrIssuer, err := internallogistics.NewQRIssuer(cfg.JWT, cfg.Logistics.PickupTokenTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create qr issuer", err)
		os.Exit(1)
	}

	logisticsSvc, err := internallogistics.NewService(internallogistics.ServiceParams{
		Repository:        logisticsRepo,
		OrdersRepository:  ordersRepo,
		Tx:                dbClient,
		Outbox:            outboxSvc,
		Escrow:            escrowSvc,
		QRIssuer:          qrIssuer,
		Logger:            logg,
		MinPickupPhotos:   cfg.Logistics.MinPickupPhotos,
		MinDeliveryPhotos: cfg.Logistics.MinDeliveryPhotos,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create logistics service", err)
		os.Exit(1)
	}

	orderExpiry, err := cron.NewOrderExpiryJob(ordersSvc, logg, cfg.Orders.ExpiryTTL, cfg.Orders.ExpiryBatch)
	if err != nil {
		logg.Error(context.Background(), "failed to create order expiry job", err)
		os.Exit(1)
	}
	escrowRelease, err := cron.NewEscrowReleaseJob(escrowSvc, logg, cfg.Escrow.GraceWindow, cfg.Escrow.SweepBatch)
	if err != nil {
		logg.Error(context.Background(), "failed to create escrow release job", err)
		os.Exit(1)
	}
	logisticsExpiry, err := cron.NewLogisticsExpiryJob(logisticsSvc, logg, cfg.Logistics.InactivityWindow, cfg.Logistics.ExpiryBatch)
	if err != nil {
		logg.Error(context.Background(), "failed to create logistics expiry job", err)
		os.Exit(1)
	}
	escrowSafety, err := cron.NewEscrowSafetyJob(escrowSvc, logg, cfg.Escrow.SweepBatch)
	if err != nil {
		logg.Error(context.Background(), "failed to create escrow safety job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(orderExpiry, escrowRelease, logisticsExpiry, escrowSafety)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf("cron-worker:%s", env)
}
