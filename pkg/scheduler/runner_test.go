package scheduler

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachdeck/coachdeck/pkg/accounts"
	"github.com/coachdeck/coachdeck/pkg/billing"
)

type fakeAccountsSvc struct {
	accounts.Service

	trials   []*accounts.Account
	statuses map[int64]accounts.SubscriptionStatus
}

func (f *fakeAccountsSvc) ListTrialsEndedBefore(_ context.Context, _ time.Time) ([]*accounts.Account, error) {
	return f.trials, nil
}

func (f *fakeAccountsSvc) SetSubscriptionStatus(_ context.Context, id int64, status accounts.SubscriptionStatus) error {
	if f.statuses == nil {
		f.statuses = map[int64]accounts.SubscriptionStatus{}
	}
	f.statuses[id] = status
	return nil
}

type fakeBillingSvc struct {
	billing.Service

	overdue []*billing.Invoice
	flagged []int64
	pruned  int64
}

func (f *fakeBillingSvc) ListOverdueInvoices(_ context.Context, _ time.Time) ([]*billing.Invoice, error) {
	return f.overdue, nil
}

func (f *fakeBillingSvc) MarkInvoiceOverdue(_ context.Context, invoiceID int64) error {
	f.flagged = append(f.flagged, invoiceID)
	return nil
}

func (f *fakeBillingSvc) PruneEvents(_ context.Context, _ time.Time) (int64, error) {
	return f.pruned, nil
}

func TestNewRunnerRegistersJobs(t *testing.T) {
	queue, _ := newTestQueue(t)
	runner, err := NewRunner(RunnerConfig{
		Sweeper:  NewSweeper(queue, &fakeArchiver{}, &fakeRetrier{}, &fakeMailer{}, "w1", 10, quietLogger()),
		Accounts: &fakeAccountsSvc{},
		Billing:  &fakeBillingSvc{},
		Queue:    queue,
		Mailer:   &fakeMailer{},
		Logger:   quietLogger(),
	})
	require.NoError(t, err)
	assert.Len(t, runner.cron.Entries(), 5)
}

func TestRunTrialExpiry(t *testing.T) {
	queue, _ := newTestQueue(t)
	acctSvc := &fakeAccountsSvc{trials: []*accounts.Account{{ID: 1}, {ID: 2}}}
	mailer := &fakeMailer{}
	runner, err := NewRunner(RunnerConfig{
		Sweeper:  NewSweeper(queue, &fakeArchiver{}, &fakeRetrier{}, mailer, "w1", 10, quietLogger()),
		Accounts: acctSvc,
		Billing:  &fakeBillingSvc{},
		Queue:    queue,
		Mailer:   mailer,
		Logger:   quietLogger(),
	})
	require.NoError(t, err)

	require.NoError(t, runner.runTrialExpiry(context.Background()))
	assert.Equal(t, accounts.StatusPastDue, acctSvc.statuses[1])
	assert.Equal(t, accounts.StatusPastDue, acctSvc.statuses[2])
	assert.Equal(t, []int64{1, 2}, mailer.trials)
}

func TestRunOverdueInvoices(t *testing.T) {
	queue, mock := newTestQueue(t)
	billingSvc := &fakeBillingSvc{overdue: []*billing.Invoice{{ID: 7, AccountID: 1}}}
	runner, err := NewRunner(RunnerConfig{
		Sweeper:  NewSweeper(queue, &fakeArchiver{}, &fakeRetrier{}, &fakeMailer{}, "w1", 10, quietLogger()),
		Accounts: &fakeAccountsSvc{},
		Billing:  billingSvc,
		Queue:    queue,
		Mailer:   &fakeMailer{},
		Logger:   quietLogger(),
	})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO scheduled_tasks").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, runner.runOverdueInvoices(context.Background()))
	assert.Equal(t, []int64{7}, billingSvc.flagged)
	assert.NoError(t, mock.ExpectationsWereMet())
}
