package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"delivery-escrow-system/config"
	"delivery-escrow-system/handlers"
	"delivery-escrow-system/middleware"
	"delivery-escrow-system/models"
	"delivery-escrow-system/services"
	"delivery-escrow-system/utils"
	"delivery-escrow-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}
	if err := utils.InitLogger(cfg.LogLevel); err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer utils.SyncLogger()

	db, err := utils.OpenDatabase(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		utils.Log.Fatalf("failed to connect to database: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		utils.Log.Fatalf("failed to migrate database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Badge metadata publisher (optional) ---
	var publisher services.MetadataPublisher
	if cfg.R2.Enabled() {
		r2, err := utils.NewR2Publisher(ctx, cfg.R2.AccountID, cfg.R2.AccessKeyID, cfg.R2.AccessKeySecret, cfg.R2.Bucket, cfg.R2.CDNBaseURL)
		if err != nil {
			utils.Log.Fatalf("failed to initialize R2 client: %v", err)
		}
		publisher = r2
	}

	clock := clockwork.NewRealClock()
	store := services.NewStore(db, clock)
	ledger := services.NewLedgerService(store)
	drivers := services.NewDriverRegistry(store, cfg.EscrowAccount, cfg.OperatorAccount)
	minter := services.NewLedgerBadgeMinter(store, publisher)
	badges := services.NewBadgeIssuer(store, drivers, minter, cfg.BadgeMilestoneSize)
	deliveries := services.NewDeliveryRegistry(store, ledger, drivers, badges, cfg.EscrowAccount)
	faucet := services.NewFaucet(store, ledger, services.FaucetConfig{
		Custody:  cfg.FaucetAccount,
		Amount:   cfg.FaucetAmount,
		Cooldown: cfg.FaucetCooldown,
		TotalCap: cfg.FaucetTotalCap,
	})
	eventLog := services.NewEventLog(store)
	bus := services.NewEventBus()

	if cfg.BootstrapFaucet {
		if _, err := faucet.FundFaucet(ctx); err != nil {
			utils.Log.Fatalf("failed to bootstrap faucet: %v", err)
		}
	}

	// --- Outbox relay ---
	var sink workers.Sink
	if cfg.EventWebhookURL != "" {
		sink = workers.NewWebhookSink(cfg.EventWebhookURL, cfg.EventWebhookToken)
	}
	relay := workers.NewOutboxRelay(eventLog, bus, sink, clock)
	go workers.RelayOutbox(ctx, relay, cfg.OutboxPollInterval)

	sched, err := services.StartMaintenanceScheduler(clock, cfg.MaintenanceInterval, badges, deliveries)
	if err != nil {
		utils.Log.Fatalf("failed to start maintenance scheduler: %v", err)
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // 1MB
	})

	allowedOrigins := strings.Join(cfg.AllowedOrigins, ",")
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, Last-Event-ID",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID, Retry-After",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))
	app.Use(middleware.RequestID())

	eventHandler := &handlers.EventHandler{Log: eventLog, Bus: bus}

	// SSE authenticates by query token, so it sits in front of the gateway check
	handlers.SetupEventStreamRoute(app, eventHandler, cfg.GatewayToken)

	// 🔐❗ GLOBAL: Only Gateway requests allowed from here on
	app.Use(middleware.GatewayAuthMiddleware(cfg.GatewayToken))

	handlers.SetupDeliveryRoutes(app, &handlers.DeliveryHandler{Deliveries: deliveries, Events: eventLog})
	handlers.SetupDriverRoutes(app, &handlers.DriverHandler{Drivers: drivers, Deliveries: deliveries})
	handlers.SetupFaucetRoutes(app, &handlers.FaucetHandler{Faucet: faucet})
	handlers.SetupBadgeRoutes(app, &handlers.BadgeHandler{Badges: badges, Minter: minter})
	handlers.SetupLedgerRoutes(app, &handlers.LedgerHandler{Ledger: ledger, Deliveries: deliveries})
	handlers.SetupEventRoutes(app, eventHandler)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			utils.Log.Errorf("Server error: %v", err)
		}
	}()

	utils.Log.Infof("✅ Server running on http://localhost:%s", cfg.Port)
	utils.Log.Infof("✅ Outbox relay running (every %s)", cfg.OutboxPollInterval)
	utils.Log.Infof("✅ Maintenance jobs running (every %s)", cfg.MaintenanceInterval)
	utils.Log.Infof("✅ CORS configured for origins: %s", allowedOrigins)

	<-ctx.Done()
	utils.Log.Info("Shutting down server...")

	bus.Close() // ends open SSE streams
	if err := sched.Shutdown(); err != nil {
		utils.Log.Warnf("scheduler shutdown: %v", err)
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		utils.Log.Warnf("server shutdown: %v", err)
	}
}
