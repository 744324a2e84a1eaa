package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coachdeck/coachdeck/pkg/accounts"
	"github.com/coachdeck/coachdeck/pkg/billing"
	"github.com/coachdeck/coachdeck/pkg/clients"
	"github.com/coachdeck/coachdeck/pkg/config"
	"github.com/coachdeck/coachdeck/pkg/notify"
	"github.com/coachdeck/coachdeck/pkg/observability"
	"github.com/coachdeck/coachdeck/pkg/scheduler"
	"github.com/coachdeck/coachdeck/pkg/storage/postgres"
	"github.com/coachdeck/coachdeck/pkg/tiers"
)

var (
	workerID  = flag.String("worker-id", "", "Worker identifier recorded on claimed tasks (default: hostname+pid)")
	batchSize = flag.Int("batch-size", 50, "Maximum tasks claimed per sweep")
	runOnce   = flag.Bool("run-once", false, "Run a single sweep and exit (for testing)")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	db, err := postgres.Connect(postgres.ConnectionConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	registry, err := tiers.NewRegistry(cfg.Tiers.OverridePath, tiers.PriceIDs{
		"starter": cfg.Stripe.PriceIDStarter,
		"coach":   cfg.Stripe.PriceIDCoach,
		"studio":  cfg.Stripe.PriceIDStudio,
		"gym":     cfg.Stripe.PriceIDGym,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to load tier registry")
	}

	// The mailer shares the API server's structured logger
	appLogger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	accountSvc := accounts.NewPostgresService(db, registry, cfg.Billing.UpgradeURL)
	queue := scheduler.NewQueue(db)
	mailer := notify.NewMailer(notify.NewSMTPSender(cfg.SMTP), accountSvc, cfg.Billing.UpgradeURL, cfg.SMTP.Enabled, appLogger)
	clientSvc := clients.NewPostgresService(db, accountSvc, registry, queue, mailer, cfg.Billing.ArchiveDelayDays)

	gateway := billing.NewStripeGateway(cfg.Stripe.SecretKey)
	billingSvc := billing.NewPostgresService(db, gateway, accountSvc, registry, queue, cfg.Billing.PaymentGraceDays)

	id := *workerID
	if id == "" {
		host, _ := os.Hostname()
		id = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	sweeper := scheduler.NewSweeper(queue, clientSvc, billingSvc, mailer, id, *batchSize, logger)

	if *runOnce {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		processed, err := sweeper.Sweep(ctx)
		if err != nil {
			logger.WithError(err).Fatal("Sweep failed")
		}
		logger.WithField("processed", processed).Info("Sweep completed")
		return
	}

	runner, err := scheduler.NewRunner(scheduler.RunnerConfig{
		Sweeper:  sweeper,
		Accounts: accountSvc,
		Billing:  billingSvc,
		Usage:    accountSvc,
		Queue:    queue,
		Mailer:   mailer,
		Logger:   logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to build scheduler")
	}

	runner.Start()
	logger.WithFields(logrus.Fields{
		"worker_id":  id,
		"batch_size": *batchSize,
	}).Info("CoachDeck sweeper started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down, waiting for running jobs")
	runner.Stop()
	logger.Info("Sweeper stopped")
}
