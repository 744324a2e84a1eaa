package billing

import (
	"context"
	"errors"
	"time"

	"github.com/coachdeck/coachdeck/pkg/accounts"
)

// Typed billing errors. Gateway failures are not retried locally; the route
// layer surfaces them to the user.
var (
	// ErrPaymentFailed covers card declines, expiries, and insufficient funds
	ErrPaymentFailed = errors.New("payment failed")
	// ErrProviderDown signals a processor-side outage (rendered as 502)
	ErrProviderDown = errors.New("payment provider unavailable")
	// ErrNoSubscription is returned when an operation needs an existing subscription
	ErrNoSubscription = errors.New("account has no subscription")
	// ErrInvoiceNotFound is returned for unknown invoices
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrPaymentMethodNotFound is returned when a payment method id is not
	// attached to the account's own customer
	ErrPaymentMethodNotFound = errors.New("payment method not found")
)

// InvoiceStatus represents the status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusOpen    InvoiceStatus = "open"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusFailed  InvoiceStatus = "failed"
	InvoiceStatusOverdue InvoiceStatus = "overdue"
	InvoiceStatusVoid    InvoiceStatus = "void"
)

// Invoice represents a billing invoice, mirrored from processor callbacks
type Invoice struct {
	ID              int64         `json:"id"`
	AccountID       int64         `json:"account_id"`
	StripeInvoiceID *string       `json:"stripe_invoice_id,omitempty"`
	AmountCents     int64         `json:"amount_cents"`
	Currency        string        `json:"currency"`
	Status          InvoiceStatus `json:"status"`
	DueAt           *time.Time    `json:"due_at,omitempty"`
	PaidAt          *time.Time    `json:"paid_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// PaymentMethod is a processor-side payment method summary. Card data never
// touches CoachDeck storage; this is read straight from the processor.
type PaymentMethod struct {
	ID        string `json:"id"`
	Brand     string `json:"brand"`
	Last4     string `json:"last4"`
	ExpMonth  int64  `json:"exp_month"`
	ExpYear   int64  `json:"exp_year"`
	IsDefault bool   `json:"is_default"`
}

// BillingEvent is one row of the append-only processor event audit log
type BillingEvent struct {
	ID            int64     `json:"id"`
	StripeEventID string    `json:"stripe_event_id"`
	AccountID     *int64    `json:"account_id,omitempty"`
	Kind          string    `json:"kind"`
	ReceivedAt    time.Time `json:"received_at"`
}

// BillingStatus is the account's billing summary for the dashboard
type BillingStatus struct {
	TierID             string                      `json:"tier_id"`
	TierName           string                      `json:"tier_name"`
	SubscriptionStatus accounts.SubscriptionStatus `json:"subscription_status"`
	Restricted         bool                        `json:"restricted"`
	RestrictionReason  *accounts.RestrictionReason `json:"restriction_reason,omitempty"`
	ActiveClients      int64                       `json:"active_clients"`
	ClientLimit        int64                       `json:"client_limit"`
	TrialEndsAt        *time.Time                  `json:"trial_ends_at,omitempty"`
	CancelAt           *time.Time                  `json:"cancel_at,omitempty"`
}

// ProcessorSubscription is the gateway's view of a processor-side subscription
type ProcessorSubscription struct {
	ID               string
	CustomerID       string
	Status           accounts.SubscriptionStatus
	PriceID          string
	CurrentPeriodEnd *time.Time
	TrialEnd         *time.Time
	CancelAt         *time.Time
}

// Gateway abstracts the payment processor. Implemented by StripeGateway;
// faked in tests.
type Gateway interface {
	EnsureCustomer(ctx context.Context, email, name string) (string, error)
	CreateSubscription(ctx context.Context, customerID, priceID, paymentMethodID string, trialDays int) (*ProcessorSubscription, error)
	ChangePrice(ctx context.Context, subscriptionID, newPriceID string) (*ProcessorSubscription, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*ProcessorSubscription, error)
	ResumeSubscription(ctx context.Context, subscriptionID string) (*ProcessorSubscription, error)
	CreateSetupIntent(ctx context.Context, customerID string) (string, error)
	ListPaymentMethods(ctx context.Context, customerID string) ([]*PaymentMethod, error)
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error
	RetryInvoice(ctx context.Context, stripeInvoiceID string) error
}

// TaskEnqueuer schedules billing follow-up work. Implemented by the
// scheduler queue.
type TaskEnqueuer interface {
	EnqueueRetryPayment(ctx context.Context, accountID int64, stripeInvoiceID string, dueAt time.Time) error
	EnqueueWarningEmail(ctx context.Context, accountID int64, subject string, dueAt time.Time) error
	EnqueueRetentionEmail(ctx context.Context, accountID int64, dueAt time.Time) error
}

// Service defines billing operations
type Service interface {
	CreateSubscription(ctx context.Context, accountID int64, tierID, paymentMethodID string) (*accounts.Account, error)
	ChangeTier(ctx context.Context, accountID int64, newTierID string) (*accounts.Account, error)
	CancelSubscription(ctx context.Context, accountID int64) error
	ReactivateSubscription(ctx context.Context, accountID int64) (*accounts.Account, error)
	Status(ctx context.Context, accountID int64) (*BillingStatus, error)

	ListInvoices(ctx context.Context, accountID int64, limit int) ([]*Invoice, error)
	GetInvoice(ctx context.Context, accountID, invoiceID int64) (*Invoice, error)
	UpsertInvoice(ctx context.Context, accountID int64, stripeInvoiceID string, amountCents int64, currency string, status InvoiceStatus, dueAt, paidAt *time.Time) error
	ListOverdueInvoices(ctx context.Context, asOf time.Time) ([]*Invoice, error)
	MarkInvoiceOverdue(ctx context.Context, invoiceID int64) error

	SetupPaymentMethod(ctx context.Context, accountID int64) (string, error)
	ListPaymentMethods(ctx context.Context, accountID int64) ([]*PaymentMethod, error)
	SetDefaultPaymentMethod(ctx context.Context, accountID int64, paymentMethodID string) error
	RemovePaymentMethod(ctx context.Context, accountID int64, paymentMethodID string) error
	RetryPayment(ctx context.Context, accountID int64, stripeInvoiceID string) error

	// RecordEvent appends a processor event to the audit log. Returns
	// false when the event id was already recorded (duplicate delivery).
	RecordEvent(ctx context.Context, stripeEventID, kind string, accountID *int64, payload []byte) (bool, error)
	DeleteEvent(ctx context.Context, stripeEventID string) error
	PruneEvents(ctx context.Context, olderThan time.Time) (int64, error)
}
