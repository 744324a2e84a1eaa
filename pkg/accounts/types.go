package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coachdeck/coachdeck/pkg/tiers"
)

// RestrictionReason explains why an account is restricted
type RestrictionReason string

const (
	ReasonCapacityExceeded     RestrictionReason = "capacity_exceeded"
	ReasonPaymentFailed        RestrictionReason = "payment_failed"
	ReasonSubscriptionCanceled RestrictionReason = "subscription_canceled"
)

// SubscriptionStatus mirrors the processor-side subscription state
type SubscriptionStatus string

const (
	StatusTrialing SubscriptionStatus = "trialing"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// MetricActiveClients is the usage metric tracking non-archived clients
const MetricActiveClients = "active_clients"

// Account represents a fitness business on the platform. Accounts are never
// hard-deleted; cancellation only flips status and restriction state.
type Account struct {
	ID                   int64              `json:"id"`
	Email                string             `json:"email"`
	BusinessName         string             `json:"business_name"`
	Category             tiers.Category     `json:"category"`
	TierID               string             `json:"tier_id"`
	Restricted           bool               `json:"restricted"`
	RestrictionReason    *RestrictionReason `json:"restriction_reason,omitempty"`
	StripeCustomerID     *string            `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string            `json:"stripe_subscription_id,omitempty"`
	SubscriptionStatus   SubscriptionStatus `json:"subscription_status"`
	TrialEndsAt          *time.Time         `json:"trial_ends_at,omitempty"`
	CancelAt             *time.Time         `json:"cancel_at,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Usage is a usage counter row for one metric and period
type Usage struct {
	AccountID   int64     `json:"account_id"`
	Metric      string    `json:"metric"`
	Used        int64     `json:"used"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// ErrAccountNotFound is returned when an account does not exist
var ErrAccountNotFound = errors.New("account not found")

// ErrCapacityExceeded is returned when a client slot claim fails at the
// tier limit
var ErrCapacityExceeded = errors.New("client capacity exceeded")

// RestrictionError carries the structured payload rendered on restricted
// 403 responses.
type RestrictionError struct {
	Reason     RestrictionReason `json:"reason"`
	Tier       string            `json:"tier"`
	Usage      int64             `json:"usage"`
	Limit      int64             `json:"limit"`
	UpgradeURL string            `json:"upgrade_url"`

	// NewlyRestricted is true when this failure flipped the persistent
	// restriction flag, so callers can notify the owner exactly once per
	// transition instead of on every blocked request.
	NewlyRestricted bool `json:"-"`
}

func (e *RestrictionError) Error() string {
	return fmt.Sprintf("account restricted (%s): %d/%d clients on tier %s", e.Reason, e.Usage, e.Limit, e.Tier)
}

// IsRestriction checks if an error is a restriction error
func IsRestriction(err error) bool {
	var re *RestrictionError
	return errors.As(err, &re)
}

// Service defines account and usage operations
type Service interface {
	CreateAccount(ctx context.Context, email, businessName string, category tiers.Category) (*Account, error)
	GetAccount(ctx context.Context, id int64) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	GetAccountByStripeCustomer(ctx context.Context, customerID string) (*Account, error)
	SetTier(ctx context.Context, id int64, tierID string) error
	SetSubscription(ctx context.Context, id int64, customerID, subscriptionID string, status SubscriptionStatus, trialEndsAt, cancelAt *time.Time) error
	SetSubscriptionStatus(ctx context.Context, id int64, status SubscriptionStatus) error

	Restrict(ctx context.Context, id int64, reason RestrictionReason) error
	ClearRestriction(ctx context.Context, id int64) error
	EvaluateCapacity(ctx context.Context, id int64) (restricted bool, err error)

	ActiveClientCount(ctx context.Context, id int64) (int64, error)
	RecomputeActiveClients(ctx context.Context, id int64) (int64, error)
	ClaimClientSlot(ctx context.Context, id int64) error
	ReleaseClientSlot(ctx context.Context, id int64) error

	ListTrialsEndedBefore(ctx context.Context, cutoff time.Time) ([]*Account, error)
}
