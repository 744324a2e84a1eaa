package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/coachdeck/coachdeck/pkg/accounts"
	"github.com/coachdeck/coachdeck/pkg/api"
	"github.com/coachdeck/coachdeck/pkg/auth"
	"github.com/coachdeck/coachdeck/pkg/billing"
	"github.com/coachdeck/coachdeck/pkg/clients"
	"github.com/coachdeck/coachdeck/pkg/config"
	"github.com/coachdeck/coachdeck/pkg/middleware"
	"github.com/coachdeck/coachdeck/pkg/notify"
	"github.com/coachdeck/coachdeck/pkg/observability"
	"github.com/coachdeck/coachdeck/pkg/scheduler"
	"github.com/coachdeck/coachdeck/pkg/storage/postgres"
	redisstore "github.com/coachdeck/coachdeck/pkg/storage/redis"
	"github.com/coachdeck/coachdeck/pkg/tiers"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("Starting CoachDeck API server")

	db, err := postgres.Connect(postgres.ConnectionConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to connect to PostgreSQL")
		os.Exit(1)
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := postgres.Migrate(migrateCtx, db); err != nil {
		cancelMigrate()
		logger.WithError(err).Error("Failed to run database migrations")
		os.Exit(1)
	}
	cancelMigrate()
	logger.Info("Database migrations applied")

	redisClient, err := redisstore.NewClient(redisstore.Config{
		URL:        cfg.Redis.URL,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to connect to Redis")
		os.Exit(1)
	}
	if redisClient == nil {
		logger.Warn("Redis not configured, rate limiting disabled")
	}

	registry, err := tiers.NewRegistry(cfg.Tiers.OverridePath, tiers.PriceIDs{
		"starter": cfg.Stripe.PriceIDStarter,
		"coach":   cfg.Stripe.PriceIDCoach,
		"studio":  cfg.Stripe.PriceIDStudio,
		"gym":     cfg.Stripe.PriceIDGym,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to load tier registry")
		os.Exit(1)
	}

	accountSvc := accounts.NewPostgresService(db, registry, cfg.Billing.UpgradeURL)
	tokenSvc := auth.NewPostgresService(db)
	queue := scheduler.NewQueue(db)

	mailer := notify.NewMailer(notify.NewSMTPSender(cfg.SMTP), accountSvc, cfg.Billing.UpgradeURL, cfg.SMTP.Enabled, logger)
	clientSvc := clients.NewPostgresService(db, accountSvc, registry, queue, mailer, cfg.Billing.ArchiveDelayDays)

	gateway := billing.NewStripeGateway(cfg.Stripe.SecretKey)
	billingSvc := billing.NewPostgresService(db, gateway, accountSvc, registry, queue, cfg.Billing.PaymentGraceDays)
	webhook := billing.NewWebhookHandler(billingSvc, accountSvc, registry, queue, cfg.Stripe.WebhookSecret, cfg.Billing.PaymentGraceDays, logger)

	var limiter *middleware.RateLimiter
	if redisClient != nil {
		limiter = middleware.NewRateLimiter(redisClient, nil)
	}

	otelProviders, err := observability.InitOTel(context.Background(), observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	server := api.NewServer(api.Deps{
		Config:   cfg,
		Logger:   logger,
		Accounts: accountSvc,
		Clients:  clientSvc,
		Billing:  billingSvc,
		Tokens:   tokenSvc,
		Registry: registry,
		Limiter:  limiter,
		Webhook:  webhook,
	})

	var handler http.Handler = server
	promRegistry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics := observability.NewMetrics(promRegistry)
		handler = metrics.HTTPMetricsMiddleware(server)
	}
	if cfg.Observability.OTelEnabled {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			logger.WithError(err).Error("Failed to create OpenTelemetry metrics")
			os.Exit(1)
		}
		handler = otelMetrics.HTTPMiddleware(handler)
		handler = otelhttp.NewHandler(handler, "coachdeck-api")
	}

	// Health and metrics on a separate listener so probes bypass auth
	health := observability.NewHealthChecker(db, redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.MetricsHandler(promRegistry))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		defer observability.RecoverPanic(logger, "health server")
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	go func() {
		defer observability.RecoverPanic(logger, "api server")
		logger.Infof("API server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("API server failed")
			os.Exit(1)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown completed with errors")
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}
