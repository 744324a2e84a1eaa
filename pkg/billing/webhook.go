package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/coachdeck/coachdeck/pkg/accounts"
	"github.com/coachdeck/coachdeck/pkg/httputil"
	"github.com/coachdeck/coachdeck/pkg/observability"
	"github.com/coachdeck/coachdeck/pkg/tiers"
)

// maxWebhookBody bounds the raw payload read before signature verification
const maxWebhookBody = 1 << 20

// WebhookHandler verifies, deduplicates, and dispatches processor events.
// Every verified event lands in the billing_events audit log before any
// side effect runs; a replayed event id is acknowledged without a second
// state transition. When dispatch itself fails the audit row is released
// again, keeping the processor's retry eligible for processing.
type WebhookHandler struct {
	billing  Service
	accounts accounts.Service
	registry *tiers.Registry
	enqueuer TaskEnqueuer
	secret   string
	logger   *observability.Logger

	graceDays int
}

// NewWebhookHandler creates a webhook handler
func NewWebhookHandler(billingSvc Service, accountSvc accounts.Service, registry *tiers.Registry, enqueuer TaskEnqueuer, secret string, graceDays int, logger *observability.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing:   billingSvc,
		accounts:  accountSvc,
		registry:  registry,
		enqueuer:  enqueuer,
		secret:    secret,
		graceDays: graceDays,
		logger:    logger,
	}
}

// ServeHTTP handles POST /api/v1/billing/webhook. The route is mounted
// outside body-parsing middleware so signature verification sees the raw
// bytes Stripe signed.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read webhook body")
		return
	}

	event, err := webhook.ConstructEvent(body, r.Header.Get("Stripe-Signature"), h.secret)
	if err != nil {
		h.logger.WithError(err).Warn("webhook signature verification failed")
		httputil.WriteBadRequest(w, "invalid webhook signature")
		return
	}

	ctx := r.Context()
	log := h.logger.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": string(event.Type),
	})

	accountID := h.resolveAccount(ctx, &event)

	fresh, err := h.billing.RecordEvent(ctx, event.ID, string(event.Type), accountID, event.Data.Raw)
	if err != nil {
		log.WithError(err).Error("failed to record webhook event")
		httputil.WriteInternalError(w, err, false)
		return
	}
	if !fresh {
		log.Info("duplicate webhook event acknowledged")
		httputil.WriteSuccess(w, map[string]string{"status": "duplicate"})
		return
	}

	if err := h.dispatch(ctx, &event, accountID, log); err != nil {
		log.WithError(err).Error("webhook dispatch failed")
		// Drop the audit row so the processor's retry of this event is
		// processed instead of being acknowledged as a duplicate
		if delErr := h.billing.DeleteEvent(ctx, event.ID); delErr != nil {
			log.WithError(delErr).Error("failed to release webhook event for retry")
		}
		httputil.WriteInternalError(w, err, false)
		return
	}

	httputil.WriteSuccess(w, map[string]string{"status": "processed"})
}

// resolveAccount maps the event's customer id to a local account. Events
// for unknown customers are still recorded, just not dispatched.
func (h *WebhookHandler) resolveAccount(ctx context.Context, event *stripe.Event) *int64 {
	customerID := customerFromEvent(event)
	if customerID == "" {
		return nil
	}
	account, err := h.accounts.GetAccountByStripeCustomer(ctx, customerID)
	if err != nil {
		return nil
	}
	return &account.ID
}

func customerFromEvent(event *stripe.Event) string {
	var envelope struct {
		Customer string `json:"customer"`
	}
	if err := json.Unmarshal(event.Data.Raw, &envelope); err != nil {
		return ""
	}
	return envelope.Customer
}

func (h *WebhookHandler) dispatch(ctx context.Context, event *stripe.Event, accountID *int64, log *observability.Logger) error {
	if accountID == nil {
		log.Warn("webhook event has no matching account, skipping dispatch")
		return nil
	}

	switch event.Type {
	case "customer.subscription.created":
		return h.handleSubscriptionCreated(ctx, event, *accountID)
	case "customer.subscription.updated":
		return h.handleSubscriptionUpdated(ctx, event, *accountID)
	case "customer.subscription.deleted":
		return h.handleSubscriptionDeleted(ctx, *accountID)
	case "invoice.paid":
		return h.handleInvoicePaid(ctx, event, *accountID)
	case "invoice.payment_failed":
		return h.handlePaymentFailed(ctx, event, *accountID)
	default:
		log.Info("unhandled webhook event kind acknowledged")
		return nil
	}
}

func (h *WebhookHandler) handleSubscriptionCreated(ctx context.Context, event *stripe.Event, accountID int64) error {
	sub, err := parseSubscription(event)
	if err != nil {
		return err
	}

	processor := fromStripeSubscription(sub)
	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	if err := h.accounts.SetSubscription(ctx, accountID, customerID, processor.ID, processor.Status, processor.TrialEnd, processor.CancelAt); err != nil {
		return err
	}
	if tier, err := h.registry.ForStripePrice(processor.PriceID); err == nil {
		if err := h.accounts.SetTier(ctx, accountID, tier.ID); err != nil {
			return err
		}
	}
	return h.accounts.ClearRestriction(ctx, accountID)
}

func (h *WebhookHandler) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event, accountID int64) error {
	sub, err := parseSubscription(event)
	if err != nil {
		return err
	}

	processor := fromStripeSubscription(sub)
	if tier, err := h.registry.ForStripePrice(processor.PriceID); err == nil {
		if err := h.accounts.SetTier(ctx, accountID, tier.ID); err != nil {
			return err
		}
	}
	if err := h.accounts.SetSubscriptionStatus(ctx, accountID, processor.Status); err != nil {
		return err
	}
	_, err = h.accounts.EvaluateCapacity(ctx, accountID)
	return err
}

// handleSubscriptionDeleted restricts the account but leaves its data and
// clients untouched. Resubscribing restores access.
func (h *WebhookHandler) handleSubscriptionDeleted(ctx context.Context, accountID int64) error {
	if err := h.accounts.SetSubscriptionStatus(ctx, accountID, accounts.StatusCanceled); err != nil {
		return err
	}
	return h.accounts.Restrict(ctx, accountID, accounts.ReasonSubscriptionCanceled)
}

func (h *WebhookHandler) handleInvoicePaid(ctx context.Context, event *stripe.Event, accountID int64) error {
	inv, err := parseInvoice(event)
	if err != nil {
		return err
	}

	paidAt := time.Now()
	if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
		paidAt = time.Unix(inv.StatusTransitions.PaidAt, 0)
	}
	if err := h.billing.UpsertInvoice(ctx, accountID, inv.ID, inv.AmountPaid, string(inv.Currency), InvoiceStatusPaid, dueAtOf(inv), &paidAt); err != nil {
		return err
	}

	account, err := h.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if account.Restricted && account.RestrictionReason != nil && *account.RestrictionReason == accounts.ReasonPaymentFailed {
		if err := h.accounts.ClearRestriction(ctx, accountID); err != nil {
			return err
		}
		return h.accounts.SetSubscriptionStatus(ctx, accountID, accounts.StatusActive)
	}
	return nil
}

// handlePaymentFailed records the failed invoice and restricts the account,
// then schedules a grace-period retry and a dunning email.
func (h *WebhookHandler) handlePaymentFailed(ctx context.Context, event *stripe.Event, accountID int64) error {
	inv, err := parseInvoice(event)
	if err != nil {
		return err
	}

	if err := h.billing.UpsertInvoice(ctx, accountID, inv.ID, inv.AmountDue, string(inv.Currency), InvoiceStatusFailed, dueAtOf(inv), nil); err != nil {
		return err
	}
	if err := h.accounts.SetSubscriptionStatus(ctx, accountID, accounts.StatusPastDue); err != nil {
		return err
	}
	if err := h.accounts.Restrict(ctx, accountID, accounts.ReasonPaymentFailed); err != nil {
		return err
	}

	if h.enqueuer == nil {
		return nil
	}
	retryAt := time.Now().AddDate(0, 0, h.graceDays)
	if err := h.enqueuer.EnqueueRetryPayment(ctx, accountID, inv.ID, retryAt); err != nil {
		return fmt.Errorf("failed to schedule payment retry: %w", err)
	}
	if err := h.enqueuer.EnqueueWarningEmail(ctx, accountID, "payment_failed", time.Now()); err != nil {
		return fmt.Errorf("failed to schedule dunning email: %w", err)
	}
	return nil
}

func parseSubscription(event *stripe.Event) (*stripe.Subscription, error) {
	sub := &stripe.Subscription{}
	if err := json.Unmarshal(event.Data.Raw, sub); err != nil {
		return nil, fmt.Errorf("failed to parse subscription payload: %w", err)
	}
	return sub, nil
}

func parseInvoice(event *stripe.Event) (*stripe.Invoice, error) {
	inv := &stripe.Invoice{}
	if err := json.Unmarshal(event.Data.Raw, inv); err != nil {
		return nil, fmt.Errorf("failed to parse invoice payload: %w", err)
	}
	return inv, nil
}

func dueAtOf(inv *stripe.Invoice) *time.Time {
	if inv.DueDate == 0 {
		return nil
	}
	due := time.Unix(inv.DueDate, 0)
	return &due
}
