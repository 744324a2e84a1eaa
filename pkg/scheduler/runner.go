package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/coachdeck/coachdeck/pkg/accounts"
	"github.com/coachdeck/coachdeck/pkg/billing"
)

// Cron schedules for the periodic jobs
const (
	scheduleSweep     = "* * * * *"
	scheduleTrials    = "10 * * * *"
	scheduleOverdue   = "30 1 * * *"
	scheduleRollup    = "15 0 * * *"
	scheduleRetention = "45 3 * * *"
)

// UsageRoller refreshes usage-period counters. Satisfied by the accounts
// Postgres service.
type UsageRoller interface {
	RolloverUsagePeriods(ctx context.Context) (int64, error)
}

// RunnerConfig wires the runner's collaborators and policies
type RunnerConfig struct {
	Sweeper  *Sweeper
	Accounts accounts.Service
	Billing  billing.Service
	Usage    UsageRoller
	Queue    *Queue
	Mailer   Mailer

	// Retention bounds how long finished tasks and billing events are kept
	Retention  time.Duration
	JobTimeout time.Duration
	Logger     *logrus.Logger
}

// Runner owns the cron entries for the periodic jobs. It is constructed at
// startup and carries all of its state; nothing schedule-related lives in
// package globals.
type Runner struct {
	cron   *cron.Cron
	cfg    RunnerConfig
	logger *logrus.Logger
}

// NewRunner builds the runner and registers every job
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Retention <= 0 {
		cfg.Retention = 90 * 24 * time.Hour
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	r := &Runner{
		cron:   cron.New(),
		cfg:    cfg,
		logger: cfg.Logger,
	}

	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{"task_sweep", scheduleSweep, r.runSweep},
		{"trial_expiry", scheduleTrials, r.runTrialExpiry},
		{"overdue_invoices", scheduleOverdue, r.runOverdueInvoices},
		{"usage_rollup", scheduleRollup, r.runUsageRollup},
		{"retention_prune", scheduleRetention, r.runRetentionPrune},
	}

	for _, job := range jobs {
		job := job
		_, err := r.cron.AddFunc(job.schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.JobTimeout)
			defer cancel()

			if err := job.run(ctx); err != nil {
				r.logger.WithError(err).WithField("job", job.name).Error("scheduled job failed")
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
	}

	return r, nil
}

// Start begins running the cron entries
func (r *Runner) Start() {
	r.cron.Start()
	r.logger.Info("scheduler started")
}

// Stop halts scheduling and waits for in-flight jobs
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("scheduler stopped")
}

func (r *Runner) runSweep(ctx context.Context) error {
	processed, err := r.cfg.Sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	if processed > 0 {
		r.logger.WithField("processed", processed).Info("task sweep completed")
	}
	return nil
}

// runTrialExpiry moves trialing accounts past their trial end to past_due
// and sends the expiry notice.
func (r *Runner) runTrialExpiry(ctx context.Context) error {
	expired, err := r.cfg.Accounts.ListTrialsEndedBefore(ctx, time.Now())
	if err != nil {
		return err
	}

	for _, account := range expired {
		log := r.logger.WithField("account_id", account.ID)
		if err := r.cfg.Accounts.SetSubscriptionStatus(ctx, account.ID, accounts.StatusPastDue); err != nil {
			log.WithError(err).Error("failed to expire trial")
			continue
		}
		if err := r.cfg.Mailer.SendTrialExpiry(ctx, account.ID); err != nil {
			log.WithError(err).Warn("failed to send trial expiry notice")
		}
	}
	return nil
}

// runOverdueInvoices flags open invoices past their due date and schedules
// a warning email per affected account.
func (r *Runner) runOverdueInvoices(ctx context.Context) error {
	overdue, err := r.cfg.Billing.ListOverdueInvoices(ctx, time.Now())
	if err != nil {
		return err
	}

	for _, invoice := range overdue {
		log := r.logger.WithField("invoice_id", invoice.ID)
		if err := r.cfg.Billing.MarkInvoiceOverdue(ctx, invoice.ID); err != nil {
			log.WithError(err).Error("failed to flag overdue invoice")
			continue
		}
		if err := r.cfg.Queue.EnqueueWarningEmail(ctx, invoice.AccountID, "invoice_overdue", time.Now()); err != nil {
			log.WithError(err).Warn("failed to schedule overdue warning")
		}
	}
	return nil
}

func (r *Runner) runUsageRollup(ctx context.Context) error {
	rows, err := r.cfg.Usage.RolloverUsagePeriods(ctx)
	if err != nil {
		return err
	}
	r.logger.WithField("accounts", rows).Info("usage rollup completed")
	return nil
}

func (r *Runner) runRetentionPrune(ctx context.Context) error {
	cutoff := time.Now().Add(-r.cfg.Retention)

	tasks, err := r.cfg.Queue.PruneFinished(ctx, cutoff)
	if err != nil {
		return err
	}
	events, err := r.cfg.Billing.PruneEvents(ctx, cutoff)
	if err != nil {
		return err
	}
	r.logger.WithFields(logrus.Fields{
		"tasks_pruned":  tasks,
		"events_pruned": events,
	}).Info("retention prune completed")
	return nil
}
