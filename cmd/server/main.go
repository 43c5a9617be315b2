package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/safaritrail/booking-engine/internal/config"
	"github.com/safaritrail/booking-engine/internal/database"
	"github.com/safaritrail/booking-engine/internal/handlers"
	"github.com/safaritrail/booking-engine/internal/middleware"
	"github.com/safaritrail/booking-engine/internal/services"
	"github.com/safaritrail/booking-engine/pkg/jwt"
	"github.com/safaritrail/booking-engine/pkg/rabbitmq"
	"github.com/safaritrail/booking-engine/pkg/sms"
	"github.com/sirupsen/logrus"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting SafariTrail booking engine")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Database
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	tourRepository := database.NewTourRepository(db)
	promoRepository := database.NewPromoCodeRepository(db)
	bookingRepository := database.NewBookingRepository(db)
	attemptRepository := database.NewPaymentAttemptRepository(db, logger)
	auditRepository := database.NewPaymentAuditRepository(db, logger)

	// Notifications: broker events plus SMS to the contact
	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	if cfg.RabbitMQ.URL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.WithError(err).Warn("RabbitMQ unavailable, booking events will be dropped")
		} else {
			publisher = producer
			logger.Info("✓ RabbitMQ producer connected")
		}
	}
	defer publisher.Close()

	var smsGateway sms.Gateway
	if cfg.SMS.Mode == "production" {
		smsGateway = sms.NewDialogURLGateway(cfg.SMS.APIKey, cfg.SMS.Mask)
		logger.Info("✓ SMS: Dialog gateway")
	} else {
		smsGateway = sms.NewLogGateway(logger)
		logger.Info("✓ SMS: dev mode, messages are logged only")
	}
	notifier := services.NewNotificationService(publisher, cfg.RabbitMQ.Exchange, smsGateway, logger)

	// Payment gateway
	var gateway services.PaymentGateway
	switch cfg.Payment.Provider {
	case "stripe":
		gateway = services.NewStripeGateway(cfg.Payment.StripeSecretKey, logger)
	default:
		payable := services.NewPAYableGateway(&cfg.Payment, logger)
		if !payable.IsConfigured() {
			logger.Warn("⚠️  PAYable merchant credentials missing - payment initiation will fail")
		}
		gateway = payable
	}
	logger.WithField("gateway", gateway.Name()).Info("✓ Payment gateway configured")

	// Services
	pricingService := services.NewPricingService(services.PricingConfig{
		ServiceFeeRate:      cfg.Pricing.ServiceFeeRate,
		ChildDiscountFactor: cfg.Pricing.ChildDiscountFactor,
	})
	promoService := services.NewPromoService(promoRepository, logger)

	bookingConfig := services.DefaultBookingConfig()
	bookingConfig.DefaultCurrency = cfg.Pricing.DefaultCurrency
	bookingService := services.NewBookingService(tourRepository, bookingRepository, pricingService, promoService, bookingConfig, logger)

	settlementConfig := services.DefaultSettlementConfig()
	settlementConfig.CallbackURL = cfg.Payment.CallbackURL
	settlementConfig.ReturnURL = cfg.Payment.ReturnURL
	settlementConfig.CancelURL = cfg.Payment.CancelURL
	settlementConfig.InitiateTimeout = cfg.Payment.InitiateTimeout
	settlementConfig.QueryTimeout = cfg.Payment.QueryTimeout
	settlementConfig.StaleAfter = cfg.Reconciliation.StaleAfter
	settlementConfig.RepollBatchSize = cfg.Reconciliation.BatchSize
	settlementService := services.NewSettlementService(
		bookingRepository,
		attemptRepository,
		auditRepository,
		promoService,
		gateway,
		notifier,
		settlementConfig,
		logger,
	)

	// Stale payment re-poll
	var cronService *services.CronService
	if cfg.Reconciliation.Enabled {
		cronService = services.NewCronService(settlementService, cfg.Reconciliation.Schedule, 2*time.Minute, logger)
		if err := cronService.Start(); err != nil {
			logger.Fatalf("Failed to start cron service: %v", err)
		}
		logger.Info("✓ Cron service started - stale payment re-poll enabled")
	}

	// Idempotency lock
	routerConfig := handlers.RouterConfig{
		Tokens:         jwt.NewService(cfg.JWT.Secret, cfg.JWT.Issuer, time.Hour),
		IdempotencyTTL: cfg.Redis.IdempotencyTTL,
		Logger:         logger,
	}
	if cfg.Redis.Addr != "" {
		redisClient, err := newRedisClient(cfg.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, idempotency lock disabled")
		} else {
			defer redisClient.Close()
			routerConfig.Locker = middleware.NewRedisLocker(redisClient, "idempotency:")
			logger.Info("✓ Redis idempotency lock enabled")
		}
	}

	rootCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	rateLimiter.StartCleanup(rootCtx, 5*time.Minute)
	routerConfig.RateLimiter = rateLimiter

	// Router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: !containsWildcard(cfg.CORS.AllowedOrigins),
		MaxAge:           12 * time.Hour,
	}))

	handlers.RegisterRoutes(router, routerConfig,
		handlers.NewBookingHandler(bookingService, settlementService, logger),
		handlers.NewPaymentCallbackHandler(settlementService, logger),
		handlers.NewHealthHandler(db, version, logger),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	if cronService != nil {
		cronService.Stop()
	}
	settlementService.Wait()

	logger.Info("Server exited successfully")
}

func newRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// gin-contrib/cors rejects credentials with a wildcard origin
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
