package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/coachdeck/coachdeck/pkg/accounts"
	"github.com/coachdeck/coachdeck/pkg/tiers"
)

// PostgresService implements Service on PostgreSQL with a processor gateway
type PostgresService struct {
	db       *sql.DB
	gateway  Gateway
	accounts accounts.Service
	registry *tiers.Registry
	enqueuer TaskEnqueuer

	graceDays int
}

// NewPostgresService creates a new billing service
func NewPostgresService(db *sql.DB, gateway Gateway, accountSvc accounts.Service, registry *tiers.Registry, enqueuer TaskEnqueuer, graceDays int) *PostgresService {
	return &PostgresService{
		db:        db,
		gateway:   gateway,
		accounts:  accountSvc,
		registry:  registry,
		enqueuer:  enqueuer,
		graceDays: graceDays,
	}
}

// CreateSubscription creates a processor customer and subscription for the
// account, persists the references, and clears any restriction.
func (s *PostgresService) CreateSubscription(ctx context.Context, accountID int64, tierID, paymentMethodID string) (*accounts.Account, error) {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	tier, err := s.registry.Get(tierID)
	if err != nil {
		return nil, err
	}
	if tier.StripePriceID == "" {
		return nil, fmt.Errorf("tier %q has no processor price configured", tierID)
	}

	customerID := ""
	if account.StripeCustomerID != nil {
		customerID = *account.StripeCustomerID
	}
	if customerID == "" {
		customerID, err = s.gateway.EnsureCustomer(ctx, account.Email, account.BusinessName)
		if err != nil {
			return nil, err
		}
	}

	sub, err := s.gateway.CreateSubscription(ctx, customerID, tier.StripePriceID, paymentMethodID, tier.TrialDays)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.SetTier(ctx, accountID, tierID); err != nil {
		return nil, err
	}
	if err := s.accounts.SetSubscription(ctx, accountID, customerID, sub.ID, sub.Status, sub.TrialEnd, sub.CancelAt); err != nil {
		return nil, err
	}
	if err := s.accounts.ClearRestriction(ctx, accountID); err != nil {
		return nil, err
	}

	return s.accounts.GetAccount(ctx, accountID)
}

// ChangeTier swaps the subscription price with proration and re-evaluates
// capacity. A downgrade below current usage restricts the account
// immediately.
func (s *PostgresService) ChangeTier(ctx context.Context, accountID int64, newTierID string) (*accounts.Account, error) {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.StripeSubscriptionID == nil || *account.StripeSubscriptionID == "" {
		return nil, ErrNoSubscription
	}

	tier, err := s.registry.Get(newTierID)
	if err != nil {
		return nil, err
	}
	if tier.StripePriceID == "" {
		return nil, fmt.Errorf("tier %q has no processor price configured", newTierID)
	}

	sub, err := s.gateway.ChangePrice(ctx, *account.StripeSubscriptionID, tier.StripePriceID)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.SetTier(ctx, accountID, newTierID); err != nil {
		return nil, err
	}
	if err := s.accounts.SetSubscriptionStatus(ctx, accountID, sub.Status); err != nil {
		return nil, err
	}
	if _, err := s.accounts.EvaluateCapacity(ctx, accountID); err != nil {
		return nil, err
	}

	return s.accounts.GetAccount(ctx, accountID)
}

// CancelSubscription marks cancel-at-period-end and schedules a retention
// email. Access continues until the period closes.
func (s *PostgresService) CancelSubscription(ctx context.Context, accountID int64) error {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if account.StripeSubscriptionID == nil || *account.StripeSubscriptionID == "" {
		return ErrNoSubscription
	}

	sub, err := s.gateway.CancelAtPeriodEnd(ctx, *account.StripeSubscriptionID)
	if err != nil {
		return err
	}

	customerID := ""
	if account.StripeCustomerID != nil {
		customerID = *account.StripeCustomerID
	}
	cancelAt := sub.CancelAt
	if cancelAt == nil {
		cancelAt = sub.CurrentPeriodEnd
	}
	if err := s.accounts.SetSubscription(ctx, accountID, customerID, sub.ID, sub.Status, account.TrialEndsAt, cancelAt); err != nil {
		return err
	}

	if s.enqueuer != nil {
		if err := s.enqueuer.EnqueueRetentionEmail(ctx, accountID, time.Now()); err != nil {
			return fmt.Errorf("failed to schedule retention email: %w", err)
		}
	}
	return nil
}

// ReactivateSubscription undoes a pending cancellation so the subscription
// renews normally again.
func (s *PostgresService) ReactivateSubscription(ctx context.Context, accountID int64) (*accounts.Account, error) {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.StripeSubscriptionID == nil || *account.StripeSubscriptionID == "" {
		return nil, ErrNoSubscription
	}

	sub, err := s.gateway.ResumeSubscription(ctx, *account.StripeSubscriptionID)
	if err != nil {
		return nil, err
	}

	customerID := ""
	if account.StripeCustomerID != nil {
		customerID = *account.StripeCustomerID
	}
	if err := s.accounts.SetSubscription(ctx, accountID, customerID, sub.ID, sub.Status, account.TrialEndsAt, nil); err != nil {
		return nil, err
	}
	return s.accounts.GetAccount(ctx, accountID)
}

// Status assembles the billing summary for an account
func (s *PostgresService) Status(ctx context.Context, accountID int64) (*BillingStatus, error) {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	tier, err := s.registry.Get(account.TierID)
	if err != nil {
		return nil, err
	}

	count, err := s.accounts.ActiveClientCount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return &BillingStatus{
		TierID:             tier.ID,
		TierName:           tier.Name,
		SubscriptionStatus: account.SubscriptionStatus,
		Restricted:         account.Restricted,
		RestrictionReason:  account.RestrictionReason,
		ActiveClients:      count,
		ClientLimit:        tier.ClientLimit,
		TrialEndsAt:        account.TrialEndsAt,
		CancelAt:           account.CancelAt,
	}, nil
}

const invoiceColumns = `id, account_id, stripe_invoice_id, amount_cents, currency, status, due_at, paid_at, created_at`

func scanInvoice(row interface{ Scan(...interface{}) error }) (*Invoice, error) {
	inv := &Invoice{}
	err := row.Scan(&inv.ID, &inv.AccountID, &inv.StripeInvoiceID, &inv.AmountCents,
		&inv.Currency, &inv.Status, &inv.DueAt, &inv.PaidAt, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListInvoices returns the account's invoices, newest first
func (s *PostgresService) ListInvoices(ctx context.Context, accountID int64, limit int) ([]*Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// GetInvoice fetches one invoice scoped to the account
func (s *PostgresService) GetInvoice(ctx context.Context, accountID, invoiceID int64) (*Invoice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 AND account_id = $2`,
		invoiceID, accountID)
	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

// UpsertInvoice mirrors a processor invoice into local storage, keyed by
// the processor invoice id so repeated callbacks converge.
func (s *PostgresService) UpsertInvoice(ctx context.Context, accountID int64, stripeInvoiceID string, amountCents int64, currency string, status InvoiceStatus, dueAt, paidAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (account_id, stripe_invoice_id, amount_cents, currency, status, due_at, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (stripe_invoice_id)
		DO UPDATE SET status = EXCLUDED.status, paid_at = EXCLUDED.paid_at, amount_cents = EXCLUDED.amount_cents`,
		accountID, stripeInvoiceID, amountCents, currency, string(status), dueAt, paidAt)
	if err != nil {
		return fmt.Errorf("failed to upsert invoice: %w", err)
	}
	return nil
}

// ListOverdueInvoices returns open invoices past their due date
func (s *PostgresService) ListOverdueInvoices(ctx context.Context, asOf time.Time) ([]*Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE status = $1 AND due_at IS NOT NULL AND due_at < $2
		ORDER BY due_at`,
		string(InvoiceStatusOpen), asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue invoices: %w", err)
	}
	defer rows.Close()

	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// MarkInvoiceOverdue flags an open invoice as overdue
func (s *PostgresService) MarkInvoiceOverdue(ctx context.Context, invoiceID int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE invoices SET status = $2 WHERE id = $1 AND status = $3`,
		invoiceID, string(InvoiceStatusOverdue), string(InvoiceStatusOpen))
	if err != nil {
		return fmt.Errorf("failed to mark invoice overdue: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check overdue update: %w", err)
	}
	if rows == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// SetupPaymentMethod returns a processor client secret for collecting a card
func (s *PostgresService) SetupPaymentMethod(ctx context.Context, accountID int64) (string, error) {
	customerID, err := s.requireCustomer(ctx, accountID)
	if err != nil {
		return "", err
	}
	return s.gateway.CreateSetupIntent(ctx, customerID)
}

// ListPaymentMethods returns the account's saved payment methods
func (s *PostgresService) ListPaymentMethods(ctx context.Context, accountID int64) ([]*PaymentMethod, error) {
	customerID, err := s.requireCustomer(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.gateway.ListPaymentMethods(ctx, customerID)
}

// SetDefaultPaymentMethod changes the account's default payment method
func (s *PostgresService) SetDefaultPaymentMethod(ctx context.Context, accountID int64, paymentMethodID string) error {
	customerID, err := s.requireCustomer(ctx, accountID)
	if err != nil {
		return err
	}
	if err := s.verifyPaymentMethod(ctx, customerID, paymentMethodID); err != nil {
		return err
	}
	return s.gateway.SetDefaultPaymentMethod(ctx, customerID, paymentMethodID)
}

// RemovePaymentMethod detaches one of the account's own payment methods.
// The id arrives from the URL, so it is checked against the customer's
// attached methods before anything is detached.
func (s *PostgresService) RemovePaymentMethod(ctx context.Context, accountID int64, paymentMethodID string) error {
	customerID, err := s.requireCustomer(ctx, accountID)
	if err != nil {
		return err
	}
	if err := s.verifyPaymentMethod(ctx, customerID, paymentMethodID); err != nil {
		return err
	}
	return s.gateway.DetachPaymentMethod(ctx, paymentMethodID)
}

// verifyPaymentMethod confirms the payment method is attached to the given
// customer. A method belonging to another customer reads as not found.
func (s *PostgresService) verifyPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	methods, err := s.gateway.ListPaymentMethods(ctx, customerID)
	if err != nil {
		return err
	}
	for _, pm := range methods {
		if pm.ID == paymentMethodID {
			return nil
		}
	}
	return ErrPaymentMethodNotFound
}

// RetryPayment retries collection on a failed invoice. On success the
// processor sends invoice.paid, which clears the restriction through the
// webhook path.
func (s *PostgresService) RetryPayment(ctx context.Context, accountID int64, stripeInvoiceID string) error {
	if _, err := s.requireCustomer(ctx, accountID); err != nil {
		return err
	}
	return s.gateway.RetryInvoice(ctx, stripeInvoiceID)
}

func (s *PostgresService) requireCustomer(ctx context.Context, accountID int64) (string, error) {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	if account.StripeCustomerID == nil || *account.StripeCustomerID == "" {
		return "", ErrNoSubscription
	}
	return *account.StripeCustomerID, nil
}

// RecordEvent appends a processor event to the audit log. The uniqueness
// constraint on the processor event id makes replayed deliveries visible:
// the second insert affects zero rows and the caller skips side effects.
func (s *PostgresService) RecordEvent(ctx context.Context, stripeEventID, kind string, accountID *int64, payload []byte) (bool, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO billing_events (stripe_event_id, account_id, kind, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (stripe_event_id) DO NOTHING`,
		stripeEventID, accountID, kind, payload)
	if err != nil {
		return false, fmt.Errorf("failed to record billing event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check event insert: %w", err)
	}
	return rows == 1, nil
}

// DeleteEvent removes an audit row. Used when dispatch fails after the
// event was recorded, so the processor's retry is not read as a duplicate.
func (s *PostgresService) DeleteEvent(ctx context.Context, stripeEventID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM billing_events WHERE stripe_event_id = $1`, stripeEventID)
	if err != nil {
		return fmt.Errorf("failed to delete billing event: %w", err)
	}
	return nil
}

// PruneEvents deletes audit rows older than the retention cutoff
func (s *PostgresService) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM billing_events WHERE received_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune billing events: %w", err)
	}
	return result.RowsAffected()
}
