package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"homeclean/config"
	"homeclean/cron"
	"homeclean/database"
	alertRepo "homeclean/database/repository/alert"
	ledgerRepo "homeclean/database/repository/ledger"
	providerRepo "homeclean/database/repository/provider"
	reservationRepo "homeclean/database/repository/reservation"
	"homeclean/handlers"
	"homeclean/middleware"
	"homeclean/routes"
	"homeclean/services/alert"
	"homeclean/services/booking"
	"homeclean/services/commission"
	"homeclean/services/events"
	"homeclean/services/gateway"
	"homeclean/services/notification"
	"homeclean/services/payout"
	"homeclean/services/proof"
	"homeclean/services/reconciliation"
	"homeclean/services/reservation"
	"homeclean/services/resilience"
	"homeclean/services/storage"
	"homeclean/services/tasks"
	"homeclean/services/webhook"
	"homeclean/utils"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig
	logger := utils.GetLogger()
	defer logger.Sync()

	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	database.InitDB()
	utils.InitCache()
	db := database.Database()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// repositories.
	reservations := reservationRepo.NewMongoReservationRepoWithDB(db)
	paymentLogs := ledgerRepo.NewMongoPaymentLogRepoWithDB(db)
	alertLogs := alertRepo.NewMongoAlertRepoWithDB(db)
	providers := providerRepo.NewMongoProviderRepoWithDB(db)

	// payment provider.
	rate, err := decimal.NewFromString(cfg.CommissionRate)
	if err != nil {
		logger.Fatal("main: invalid commission rate", zap.Error(err))
	}
	splitter, err := commission.NewSplitter(rate)
	if err != nil {
		logger.Fatal("main: failed to build commission splitter", zap.Error(err))
	}
	guard := resilience.NewGuard(
		resilience.BreakerSettings{
			FailureThreshold: cfg.BreakerFailureThreshold,
			SuccessThreshold: cfg.BreakerSuccessThreshold,
			Timeout:          cfg.BreakerTimeout(),
		},
		resilience.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay(),
			MaxDelay:    cfg.RetryMaxDelay(),
		},
		logger,
	)
	stripeGateway := gateway.NewStripeGateway(cfg.StripeKey, guard, logger)

	// collaborators. Each one is optional and degrades to a no-op.
	var publisher events.Publisher = events.Noop{}
	if cfg.RabbitMQURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("main: RabbitMQ unavailable, domain events disabled", zap.Error(err))
		} else {
			defer amqpPublisher.Close()
			publisher = amqpPublisher
		}
	}

	var notifier notification.AlertNotifier
	if cfg.FirebaseCredentials != "" {
		fcm, err := utils.NewFCMClient(ctx, cfg.FirebaseCredentials)
		if err != nil {
			logger.Warn("main: Firebase unavailable, alert push disabled", zap.Error(err))
		} else if notifier, err = notification.NewFCMAlertNotifier(fcm, cfg.OpsAlertTopic, logger); err != nil {
			logger.Warn("main: alert notifier disabled", zap.Error(err))
			notifier = nil
		}
	}

	var photos storage.PhotoStore
	if cloudinaryStore, err := utils.Cloudinary(cfg); err != nil {
		logger.Warn("main: photo proofs will not be checked against storage", zap.Error(err))
	} else {
		photos = cloudinaryStore
	}

	// services.
	alerts := alert.NewService(alertLogs, notifier, logger)
	machine := reservation.NewMachine(reservations, paymentLogs, providers, splitter,
		reservation.WithPublisher(publisher),
		reservation.WithLogger(logger),
		reservation.WithCurrency(cfg.Currency),
	)
	bookings := booking.NewService(machine, stripeGateway, alerts, logger)
	payouts := payout.NewService(machine, providers, stripeGateway, alerts, payout.EnvironmentFor(cfg.StripeMode), logger)

	queue := asynq.NewClient(utils.QueueRedisOpt())
	defer queue.Close()
	dispatcher := tasks.NewDispatcher(queue)

	validator := proof.NewValidator(machine, stripeGateway, photos,
		proof.WithSettler(bookings),
		proof.WithPayoutTrigger(dispatcher),
		proof.WithLogger(logger),
	)
	processor := webhook.NewProcessor(cfg.StripeWebhookSecret, machine, reservations, providers, alerts,
		webhook.NewRedisEventCache(utils.GetCacheClient()), logger)
	reconciler := reconciliation.NewService(machine, reservations, paymentLogs, stripeGateway, alerts, payouts,
		reconciliation.WithBatchSize(cfg.ReconcileBatchSize),
		reconciliation.WithGrace(cfg.ReconcileGrace()),
		reconciliation.WithLogger(logger),
	)

	migrateCtx, cancelMigrate := context.WithTimeout(ctx, 2*time.Minute)
	if _, err := database.MigrateLegacyStatuses(migrateCtx, reservations, machine, logger); err != nil {
		logger.Error("main: legacy status migration failed", zap.Error(err))
	}
	cancelMigrate()

	// background work.
	worker, err := cron.NewWorker(utils.QueueRedisOpt(), cron.WorkerConfig{
		Concurrency:   cfg.WorkerConcurrency,
		SweepSchedule: cfg.ReconcileSchedule,
	}, payouts, reconciler, logger)
	if err != nil {
		logger.Fatal("main: failed to build worker", zap.Error(err))
	}
	worker.Start()

	go utils.StartHealthMonitor(ctx, 10*time.Second, map[string]*redis.Client{
		"cache": utils.GetCacheClient(),
		"queue": utils.QueueRedisClient(),
	}, database.MongoClient)

	limiter := middleware.NewRateLimiter(cfg.MaxRequestsPerMin)
	go limiter.Run(ctx)

	// Create the Gin router.
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	handlerBundle := &handlers.HandlerBundle{
		JWTSecret:    cfg.JWTSecret,
		AdminToken:   cfg.AdminToken,
		Limiter:      limiter,
		Reservations: handlers.NewReservationHandler(machine, bookings),
		Proofs:       handlers.NewProofHandler(validator),
		Webhooks:     handlers.NewWebhookHandler(processor),
		Admin:        handlers.NewAdminHandler(machine, alerts, reconciler, payouts, guard, photos),
	}
	routes.RegisterRoutes(router, handlerBundle)

	// Start the HTTP server.
	srv := &http.Server{
		Addr:    "0.0.0.0:" + cfg.AppPort,
		Handler: router,
	}

	logger.Sugar().Infof("Starting server on %s...", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("main: server failed to start: %v", err)
		}
	}()

	// Wait for an OS signal to gracefully shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("main: server is shutting down...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("main: server forced to shutdown", zap.Error(err))
	}
	worker.Shutdown()
	if err := database.Disconnect(shutdownCtx); err != nil {
		logger.Warn("main: MongoDB disconnect failed", zap.Error(err))
	}

	logger.Info("main: server stopped gracefully")
}
