package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/trgnguyen/remarket-backend/api/routes"
	internaladmin "github.com/trgnguyen/remarket-backend/internal/admin"
	internalescrow "github.com/trgnguyen/remarket-backend/internal/escrow"
	internallogistics "github.com/trgnguyen/remarket-backend/internal/logistics"
	internalorders "github.com/trgnguyen/remarket-backend/internal/orders"
	internalpayments "github.com/trgnguyen/remarket-backend/internal/payments"
	"github.com/trgnguyen/remarket-backend/pkg/config"
	"github.com/trgnguyen/remarket-backend/pkg/db"
	"github.com/trgnguyen/remarket-backend/pkg/logger"
	"github.com/trgnguyen/remarket-backend/pkg/migrate"
	"github.com/trgnguyen/remarket-backend/pkg/outbox"
	"github.com/trgnguyen/remarket-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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
	adminRepo := internaladmin.NewRepository(dbClient.DB())

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

	paymentsSvc, err := internalpayments.NewService(ordersRepo, dbClient, outboxSvc, escrowSvc, logg, cfg.Gateway.SuccessCode)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
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

	adminSvc, err := internaladmin.NewService(adminRepo, ordersRepo, logisticsRepo, dbClient, escrowSvc)
	if err != nil {
		logg.Error(context.Background(), "failed to create admin service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, ordersSvc, paymentsSvc, logisticsSvc, adminSvc),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
