package billing

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachdeck/coachdeck/pkg/accounts"
	"github.com/coachdeck/coachdeck/pkg/tiers"
)

type fakeGateway struct {
	customerID string
	sub        *ProcessorSubscription
	methods    []*PaymentMethod
	err        error

	ensuredEmail   string
	createdPriceID string
	createdTrial   int
	changedPriceID string
	canceledSubID  string
	resumedSubID   string
	retriedInvoice string
	detachedPM     string
	defaultPM      string
	setupSecret    string
}

func (g *fakeGateway) EnsureCustomer(_ context.Context, email, _ string) (string, error) {
	g.ensuredEmail = email
	return g.customerID, g.err
}

func (g *fakeGateway) CreateSubscription(_ context.Context, _, priceID, _ string, trialDays int) (*ProcessorSubscription, error) {
	g.createdPriceID = priceID
	g.createdTrial = trialDays
	return g.sub, g.err
}

func (g *fakeGateway) ChangePrice(_ context.Context, _, newPriceID string) (*ProcessorSubscription, error) {
	g.changedPriceID = newPriceID
	return g.sub, g.err
}

func (g *fakeGateway) CancelAtPeriodEnd(_ context.Context, subscriptionID string) (*ProcessorSubscription, error) {
	g.canceledSubID = subscriptionID
	return g.sub, g.err
}

func (g *fakeGateway) ResumeSubscription(_ context.Context, subscriptionID string) (*ProcessorSubscription, error) {
	g.resumedSubID = subscriptionID
	return g.sub, g.err
}

func (g *fakeGateway) CreateSetupIntent(_ context.Context, _ string) (string, error) {
	return g.setupSecret, g.err
}

func (g *fakeGateway) ListPaymentMethods(_ context.Context, _ string) ([]*PaymentMethod, error) {
	return g.methods, g.err
}

func (g *fakeGateway) SetDefaultPaymentMethod(_ context.Context, _, paymentMethodID string) error {
	g.defaultPM = paymentMethodID
	return g.err
}

func (g *fakeGateway) DetachPaymentMethod(_ context.Context, paymentMethodID string) error {
	g.detachedPM = paymentMethodID
	return g.err
}

func (g *fakeGateway) RetryInvoice(_ context.Context, stripeInvoiceID string) error {
	g.retriedInvoice = stripeInvoiceID
	return g.err
}

type fakeAccounts struct {
	accounts.Service

	account     *fakeAccountState
	activeCount int64
}

// fakeAccountState mutates in place so tests can assert transitions
type fakeAccountState struct {
	acct accounts.Account
}

func (f *fakeAccounts) GetAccount(_ context.Context, id int64) (*accounts.Account, error) {
	if f.account == nil || f.account.acct.ID != id {
		return nil, accounts.ErrAccountNotFound
	}
	snapshot := f.account.acct
	return &snapshot, nil
}

func (f *fakeAccounts) GetAccountByStripeCustomer(_ context.Context, customerID string) (*accounts.Account, error) {
	if f.account == nil || f.account.acct.StripeCustomerID == nil || *f.account.acct.StripeCustomerID != customerID {
		return nil, accounts.ErrAccountNotFound
	}
	snapshot := f.account.acct
	return &snapshot, nil
}

func (f *fakeAccounts) SetTier(_ context.Context, _ int64, tierID string) error {
	f.account.acct.TierID = tierID
	return nil
}

func (f *fakeAccounts) SetSubscription(_ context.Context, _ int64, customerID, subscriptionID string, status accounts.SubscriptionStatus, trialEndsAt, cancelAt *time.Time) error {
	f.account.acct.StripeCustomerID = &customerID
	f.account.acct.StripeSubscriptionID = &subscriptionID
	f.account.acct.SubscriptionStatus = status
	f.account.acct.TrialEndsAt = trialEndsAt
	f.account.acct.CancelAt = cancelAt
	return nil
}

func (f *fakeAccounts) SetSubscriptionStatus(_ context.Context, _ int64, status accounts.SubscriptionStatus) error {
	f.account.acct.SubscriptionStatus = status
	return nil
}

func (f *fakeAccounts) Restrict(_ context.Context, _ int64, reason accounts.RestrictionReason) error {
	f.account.acct.Restricted = true
	f.account.acct.RestrictionReason = &reason
	return nil
}

func (f *fakeAccounts) ClearRestriction(_ context.Context, _ int64) error {
	f.account.acct.Restricted = false
	f.account.acct.RestrictionReason = nil
	return nil
}

func (f *fakeAccounts) EvaluateCapacity(_ context.Context, _ int64) (bool, error) {
	return f.account.acct.Restricted, nil
}

func (f *fakeAccounts) ActiveClientCount(_ context.Context, _ int64) (int64, error) {
	return f.activeCount, nil
}

type fakeBillingEnqueuer struct {
	retries    []string
	warnings   []string
	retentions []int64
}

func (f *fakeBillingEnqueuer) EnqueueRetryPayment(_ context.Context, _ int64, stripeInvoiceID string, _ time.Time) error {
	f.retries = append(f.retries, stripeInvoiceID)
	return nil
}

func (f *fakeBillingEnqueuer) EnqueueWarningEmail(_ context.Context, _ int64, subject string, _ time.Time) error {
	f.warnings = append(f.warnings, subject)
	return nil
}

func (f *fakeBillingEnqueuer) EnqueueRetentionEmail(_ context.Context, accountID int64, _ time.Time) error {
	f.retentions = append(f.retentions, accountID)
	return nil
}

func testRegistry(t *testing.T) *tiers.Registry {
	t.Helper()
	registry, err := tiers.NewRegistry("", tiers.PriceIDs{
		"starter": "price_starter",
		"coach":   "price_coach",
		"studio":  "price_studio",
		"gym":     "price_gym",
	})
	require.NoError(t, err)
	return registry
}

func trialingAccount(id int64) *fakeAccountState {
	return &fakeAccountState{acct: accounts.Account{
		ID:                 id,
		Email:              "owner@irongrove.fit",
		BusinessName:       "Irongrove Fitness",
		Category:           tiers.CategoryIndividual,
		TierID:             "starter",
		SubscriptionStatus: accounts.StatusTrialing,
	}}
}

func subscribedAccount(id int64) *fakeAccountState {
	state := trialingAccount(id)
	customer := "cus_123"
	sub := "sub_123"
	state.acct.StripeCustomerID = &customer
	state.acct.StripeSubscriptionID = &sub
	state.acct.SubscriptionStatus = accounts.StatusActive
	return state
}

func TestCreateSubscription(t *testing.T) {
	trialEnd := time.Now().AddDate(0, 0, 14)
	gateway := &fakeGateway{
		customerID: "cus_new",
		sub: &ProcessorSubscription{
			ID:       "sub_new",
			Status:   accounts.StatusTrialing,
			TrialEnd: &trialEnd,
		},
	}
	acctSvc := &fakeAccounts{account: trialingAccount(1)}
	restricted := accounts.ReasonCapacityExceeded
	acctSvc.account.acct.Restricted = true
	acctSvc.account.acct.RestrictionReason = &restricted

	svc := NewPostgresService(nil, gateway, acctSvc, testRegistry(t), nil, 7)
	account, err := svc.CreateSubscription(context.Background(), 1, "coach", "pm_abc")
	require.NoError(t, err)

	assert.Equal(t, "owner@irongrove.fit", gateway.ensuredEmail)
	assert.Equal(t, "price_coach", gateway.createdPriceID)
	assert.Equal(t, 14, gateway.createdTrial)
	assert.Equal(t, "coach", account.TierID)
	require.NotNil(t, account.StripeSubscriptionID)
	assert.Equal(t, "sub_new", *account.StripeSubscriptionID)
	assert.False(t, account.Restricted)
}

func TestCreateSubscriptionReusesCustomer(t *testing.T) {
	gateway := &fakeGateway{sub: &ProcessorSubscription{ID: "sub_new", Status: accounts.StatusActive}}
	acctSvc := &fakeAccounts{account: subscribedAccount(1)}

	svc := NewPostgresService(nil, gateway, acctSvc, testRegistry(t), nil, 7)
	account, err := svc.CreateSubscription(context.Background(), 1, "studio", "")
	require.NoError(t, err)

	assert.Empty(t, gateway.ensuredEmail, "existing customer should be reused")
	assert.Equal(t, "cus_123", *account.StripeCustomerID)
}

func TestCreateSubscriptionUnknownTier(t *testing.T) {
	svc := NewPostgresService(nil, &fakeGateway{}, &fakeAccounts{account: trialingAccount(1)}, testRegistry(t), nil, 7)
	_, err := svc.CreateSubscription(context.Background(), 1, "platinum", "")
	assert.Error(t, err)
}

func TestChangeTier(t *testing.T) {
	gateway := &fakeGateway{sub: &ProcessorSubscription{ID: "sub_123", Status: accounts.StatusActive}}
	acctSvc := &fakeAccounts{account: subscribedAccount(1)}

	svc := NewPostgresService(nil, gateway, acctSvc, testRegistry(t), nil, 7)
	account, err := svc.ChangeTier(context.Background(), 1, "gym")
	require.NoError(t, err)

	assert.Equal(t, "price_gym", gateway.changedPriceID)
	assert.Equal(t, "gym", account.TierID)
}

func TestChangeTierWithoutSubscription(t *testing.T) {
	svc := NewPostgresService(nil, &fakeGateway{}, &fakeAccounts{account: trialingAccount(1)}, testRegistry(t), nil, 7)
	_, err := svc.ChangeTier(context.Background(), 1, "coach")
	assert.ErrorIs(t, err, ErrNoSubscription)
}

func TestCancelSubscription(t *testing.T) {
	periodEnd := time.Now().AddDate(0, 1, 0)
	gateway := &fakeGateway{sub: &ProcessorSubscription{
		ID:               "sub_123",
		Status:           accounts.StatusActive,
		CurrentPeriodEnd: &periodEnd,
	}}
	acctSvc := &fakeAccounts{account: subscribedAccount(1)}
	enqueuer := &fakeBillingEnqueuer{}

	svc := NewPostgresService(nil, gateway, acctSvc, testRegistry(t), enqueuer, 7)
	require.NoError(t, svc.CancelSubscription(context.Background(), 1))

	assert.Equal(t, "sub_123", gateway.canceledSubID)
	require.NotNil(t, acctSvc.account.acct.CancelAt)
	assert.WithinDuration(t, periodEnd, *acctSvc.account.acct.CancelAt, time.Second)
	assert.Equal(t, []int64{1}, enqueuer.retentions)
}

func TestCancelSubscriptionWithoutSubscription(t *testing.T) {
	svc := NewPostgresService(nil, &fakeGateway{}, &fakeAccounts{account: trialingAccount(1)}, testRegistry(t), nil, 7)
	assert.ErrorIs(t, svc.CancelSubscription(context.Background(), 1), ErrNoSubscription)
}

func TestReactivateSubscription(t *testing.T) {
	gateway := &fakeGateway{sub: &ProcessorSubscription{ID: "sub_123", Status: accounts.StatusActive}}
	acctSvc := &fakeAccounts{account: subscribedAccount(1)}
	cancelAt := time.Now().AddDate(0, 1, 0)
	acctSvc.account.acct.CancelAt = &cancelAt

	svc := NewPostgresService(nil, gateway, acctSvc, testRegistry(t), nil, 7)
	account, err := svc.ReactivateSubscription(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, "sub_123", gateway.resumedSubID)
	assert.Nil(t, account.CancelAt)
}

func TestStatus(t *testing.T) {
	acctSvc := &fakeAccounts{account: subscribedAccount(1), activeCount: 12}
	acctSvc.account.acct.TierID = "coach"

	svc := NewPostgresService(nil, &fakeGateway{}, acctSvc, testRegistry(t), nil, 7)
	status, err := svc.Status(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, "coach", status.TierID)
	assert.Equal(t, "Coach", status.TierName)
	assert.Equal(t, int64(12), status.ActiveClients)
	assert.Equal(t, int64(75), status.ClientLimit)
	assert.False(t, status.Restricted)
}

func TestPaymentMethodsRequireCustomer(t *testing.T) {
	svc := NewPostgresService(nil, &fakeGateway{}, &fakeAccounts{account: trialingAccount(1)}, testRegistry(t), nil, 7)

	_, err := svc.SetupPaymentMethod(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoSubscription)

	_, err = svc.ListPaymentMethods(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoSubscription)

	assert.ErrorIs(t, svc.SetDefaultPaymentMethod(context.Background(), 1, "pm_1"), ErrNoSubscription)
	assert.ErrorIs(t, svc.RemovePaymentMethod(context.Background(), 1, "pm_1"), ErrNoSubscription)
}

func TestRemovePaymentMethod(t *testing.T) {
	t.Run("detaches the account's own method", func(t *testing.T) {
		gateway := &fakeGateway{methods: []*PaymentMethod{{ID: "pm_mine", Brand: "visa", Last4: "4242"}}}
		svc := NewPostgresService(nil, gateway, &fakeAccounts{account: subscribedAccount(1)}, testRegistry(t), nil, 7)

		require.NoError(t, svc.RemovePaymentMethod(context.Background(), 1, "pm_mine"))
		assert.Equal(t, "pm_mine", gateway.detachedPM)
	})

	t.Run("another customer's method is never detached", func(t *testing.T) {
		gateway := &fakeGateway{methods: []*PaymentMethod{{ID: "pm_mine", Brand: "visa", Last4: "4242"}}}
		svc := NewPostgresService(nil, gateway, &fakeAccounts{account: subscribedAccount(1)}, testRegistry(t), nil, 7)

		err := svc.RemovePaymentMethod(context.Background(), 1, "pm_someone_elses")
		assert.ErrorIs(t, err, ErrPaymentMethodNotFound)
		assert.Empty(t, gateway.detachedPM)
	})

	t.Run("unattached id cannot become the default", func(t *testing.T) {
		gateway := &fakeGateway{methods: []*PaymentMethod{{ID: "pm_mine"}}}
		svc := NewPostgresService(nil, gateway, &fakeAccounts{account: subscribedAccount(1)}, testRegistry(t), nil, 7)

		err := svc.SetDefaultPaymentMethod(context.Background(), 1, "pm_someone_elses")
		assert.ErrorIs(t, err, ErrPaymentMethodNotFound)
		assert.Empty(t, gateway.defaultPM)
	})
}

func TestRetryPayment(t *testing.T) {
	gateway := &fakeGateway{}
	svc := NewPostgresService(nil, gateway, &fakeAccounts{account: subscribedAccount(1)}, testRegistry(t), nil, 7)

	require.NoError(t, svc.RetryPayment(context.Background(), 1, "in_42"))
	assert.Equal(t, "in_42", gateway.retriedInvoice)
}

func TestRecordEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, nil, nil, testRegistry(t), nil, 7)
	accountID := int64(1)

	t.Run("fresh event", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO billing_events`)).
			WithArgs("evt_1", accountID, "invoice.paid", []byte(`{"ok":true}`)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		fresh, err := svc.RecordEvent(context.Background(), "evt_1", "invoice.paid", &accountID, []byte(`{"ok":true}`))
		require.NoError(t, err)
		assert.True(t, fresh)
	})

	t.Run("duplicate event", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO billing_events`)).
			WithArgs("evt_1", accountID, "invoice.paid", []byte(`{"ok":true}`)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		fresh, err := svc.RecordEvent(context.Background(), "evt_1", "invoice.paid", &accountID, []byte(`{"ok":true}`))
		require.NoError(t, err)
		assert.False(t, fresh)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, nil, nil, testRegistry(t), nil, 7)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM billing_events WHERE stripe_event_id = $1`)).
		WithArgs("evt_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.DeleteEvent(context.Background(), "evt_1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertInvoice(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, nil, nil, testRegistry(t), nil, 7)
	paidAt := time.Now()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO invoices`)).
		WithArgs(int64(1), "in_42", int64(4900), "usd", "paid", nil, paidAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, svc.UpsertInvoice(context.Background(), 1, "in_42", 4900, "usd", InvoiceStatusPaid, nil, &paidAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListInvoices(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, nil, nil, testRegistry(t), nil, 7)
	stripeID := "in_42"
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, account_id, stripe_invoice_id`)).
		WithArgs(int64(1), 50).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "account_id", "stripe_invoice_id", "amount_cents", "currency",
			"status", "due_at", "paid_at", "created_at",
		}).AddRow(int64(7), int64(1), stripeID, int64(4900), "usd", "open", nil, nil, now))

	invoices, err := svc.ListInvoices(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, int64(7), invoices[0].ID)
	assert.Equal(t, InvoiceStatusOpen, invoices[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetInvoiceNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, nil, nil, testRegistry(t), nil, 7)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, account_id, stripe_invoice_id`)).
		WithArgs(int64(9), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "account_id", "stripe_invoice_id", "amount_cents", "currency",
			"status", "due_at", "paid_at", "created_at",
		}))

	_, err = svc.GetInvoice(context.Background(), 1, 9)
	assert.ErrorIs(t, err, ErrInvoiceNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkInvoiceOverdue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, nil, nil, testRegistry(t), nil, 7)

	t.Run("open invoice flagged", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE invoices SET status`)).
			WithArgs(int64(7), "overdue", "open").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, svc.MarkInvoiceOverdue(context.Background(), 7))
	})

	t.Run("already closed invoice", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE invoices SET status`)).
			WithArgs(int64(8), "overdue", "open").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, svc.MarkInvoiceOverdue(context.Background(), 8), ErrInvoiceNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
