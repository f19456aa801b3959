package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/tradewell/marketplace-backend/api/routes"
	"github.com/tradewell/marketplace-backend/internal/address"
	"github.com/tradewell/marketplace-backend/internal/cart"
	"github.com/tradewell/marketplace-backend/internal/checkout"
	"github.com/tradewell/marketplace-backend/internal/inventory"
	"github.com/tradewell/marketplace-backend/internal/orders"
	"github.com/tradewell/marketplace-backend/internal/payments"
	"github.com/tradewell/marketplace-backend/pkg/config"
	"github.com/tradewell/marketplace-backend/pkg/db"
	"github.com/tradewell/marketplace-backend/pkg/gateway"
	"github.com/tradewell/marketplace-backend/pkg/logger"
	"github.com/tradewell/marketplace-backend/pkg/migrate"
	"github.com/tradewell/marketplace-backend/pkg/outbox"
	"github.com/tradewell/marketplace-backend/pkg/redis"
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

	gatewayClient, err := gateway.NewClient(context.Background(), cfg.Gateway, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway client", err)
		os.Exit(1)
	}

	conn := dbClient.DB()
	outboxService := outbox.NewService(outbox.NewRepository(conn), logg)
	cartRepo := cart.NewRepository(conn)

	cartValidator, err := cart.NewValidator(cartRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create cart validator", err)
		os.Exit(1)
	}

	deliveryFee, err := cfg.Checkout.DeliveryFeeAmount()
	if err != nil {
		logg.Error(context.Background(), "failed to parse delivery fee", err)
		os.Exit(1)
	}

	inventoryService, err := inventory.NewService(inventory.ServiceParams{
		DB:     dbClient,
		Repo:   inventory.NewRepository(conn),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		DB:          dbClient,
		CartRepo:    cartRepo,
		AddressRepo: address.NewRepository(conn),
		Inventory:   inventoryService,
		Outbox:      outboxService,
		DeliveryFee: func() decimal.Decimal { return deliveryFee },
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	ordersRepo := orders.NewRepository(conn)
	ordersService, err := orders.NewService(orders.ServiceParams{
		DB:           dbClient,
		Repo:         ordersRepo,
		Outbox:       outboxService,
		Logger:       logg,
		CancelWindow: cfg.Orders.CancelWindow,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	paymentsService, err := payments.NewService(payments.ServiceParams{
		DB:          dbClient,
		Repo:        payments.NewRepository(conn),
		Gateway:     gatewayClient,
		Outbox:      outboxService,
		Logger:      logg,
		CallbackURL: cfg.Gateway.CallbackURL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
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
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:        cfg,
			Logger:        logg,
			DB:            dbClient,
			Redis:         redisClient,
			CartRepo:      cartRepo,
			CartValidator: cartValidator,
			Checkout:      checkoutService,
			Orders:        ordersService,
			OrdersRepo:    ordersRepo,
			Payments:      paymentsService,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
