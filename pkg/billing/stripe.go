package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"github.com/coachdeck/coachdeck/pkg/accounts"
)

// StripeGateway implements Gateway against the Stripe API
type StripeGateway struct {
	client *client.API
}

// NewStripeGateway creates a gateway bound to the given secret key
func NewStripeGateway(apiKey string) *StripeGateway {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &StripeGateway{client: sc}
}

// EnsureCustomer creates a processor-side customer
func (g *StripeGateway) EnsureCustomer(ctx context.Context, email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx

	cust, err := g.client.Customers.New(params)
	if err != nil {
		return "", g.mapStripeError(err)
	}
	return cust.ID, nil
}

// CreateSubscription creates a subscription with the configured trial window
func (g *StripeGateway) CreateSubscription(ctx context.Context, customerID, priceID, paymentMethodID string, trialDays int) (*ProcessorSubscription, error) {
	if paymentMethodID != "" {
		attach := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
		attach.Context = ctx
		if _, err := g.client.PaymentMethods.Attach(paymentMethodID, attach); err != nil {
			return nil, g.mapStripeError(err)
		}
		if err := g.SetDefaultPaymentMethod(ctx, customerID, paymentMethodID); err != nil {
			return nil, err
		}
	}

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
	}
	if trialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(int64(trialDays))
	}
	params.Context = ctx

	sub, err := g.client.Subscriptions.New(params)
	if err != nil {
		return nil, g.mapStripeError(err)
	}
	return fromStripeSubscription(sub), nil
}

// ChangePrice swaps the subscription to a new price with prorated billing
func (g *StripeGateway) ChangePrice(ctx context.Context, subscriptionID, newPriceID string) (*ProcessorSubscription, error) {
	current, err := g.client.Subscriptions.Get(subscriptionID, nil)
	if err != nil {
		return nil, g.mapStripeError(err)
	}
	if len(current.Items.Data) == 0 {
		return nil, fmt.Errorf("subscription %s has no items", subscriptionID)
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(current.Items.Data[0].ID),
				Price: stripe.String(newPriceID),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	}
	params.Context = ctx

	sub, err := g.client.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, g.mapStripeError(err)
	}
	return fromStripeSubscription(sub), nil
}

// CancelAtPeriodEnd marks the subscription to cancel when the current period
// ends. Access continues through the grace period.
func (g *StripeGateway) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*ProcessorSubscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	params.Context = ctx

	sub, err := g.client.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, g.mapStripeError(err)
	}
	return fromStripeSubscription(sub), nil
}

// ResumeSubscription undoes a pending cancel-at-period-end
func (g *StripeGateway) ResumeSubscription(ctx context.Context, subscriptionID string) (*ProcessorSubscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	}
	params.Context = ctx

	sub, err := g.client.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, g.mapStripeError(err)
	}
	return fromStripeSubscription(sub), nil
}

// CreateSetupIntent returns a client secret for collecting a payment method
func (g *StripeGateway) CreateSetupIntent(ctx context.Context, customerID string) (string, error) {
	params := &stripe.SetupIntentParams{
		Customer:           stripe.String(customerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx

	si, err := g.client.SetupIntents.New(params)
	if err != nil {
		return "", g.mapStripeError(err)
	}
	return si.ClientSecret, nil
}

// ListPaymentMethods returns the customer's saved cards
func (g *StripeGateway) ListPaymentMethods(ctx context.Context, customerID string) ([]*PaymentMethod, error) {
	cust, err := g.client.Customers.Get(customerID, nil)
	if err != nil {
		return nil, g.mapStripeError(err)
	}
	defaultPM := ""
	if cust.InvoiceSettings != nil && cust.InvoiceSettings.DefaultPaymentMethod != nil {
		defaultPM = cust.InvoiceSettings.DefaultPaymentMethod.ID
	}

	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String("card"),
	}
	params.Context = ctx

	var out []*PaymentMethod
	iter := g.client.PaymentMethods.List(params)
	for iter.Next() {
		pm := iter.PaymentMethod()
		method := &PaymentMethod{
			ID:        pm.ID,
			IsDefault: pm.ID == defaultPM,
		}
		if pm.Card != nil {
			method.Brand = string(pm.Card.Brand)
			method.Last4 = pm.Card.Last4
			method.ExpMonth = pm.Card.ExpMonth
			method.ExpYear = pm.Card.ExpYear
		}
		out = append(out, method)
	}
	if err := iter.Err(); err != nil {
		return nil, g.mapStripeError(err)
	}
	return out, nil
}

// SetDefaultPaymentMethod makes the given method the customer's default
func (g *StripeGateway) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	params.Context = ctx

	if _, err := g.client.Customers.Update(customerID, params); err != nil {
		return g.mapStripeError(err)
	}
	return nil
}

// DetachPaymentMethod removes a payment method from its customer
func (g *StripeGateway) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	params := &stripe.PaymentMethodDetachParams{}
	params.Context = ctx

	if _, err := g.client.PaymentMethods.Detach(paymentMethodID, params); err != nil {
		return g.mapStripeError(err)
	}
	return nil
}

// RetryInvoice attempts to collect an open invoice again
func (g *StripeGateway) RetryInvoice(ctx context.Context, stripeInvoiceID string) error {
	params := &stripe.InvoicePayParams{}
	params.Context = ctx

	if _, err := g.client.Invoices.Pay(stripeInvoiceID, params); err != nil {
		return g.mapStripeError(err)
	}
	return nil
}

func fromStripeSubscription(sub *stripe.Subscription) *ProcessorSubscription {
	out := &ProcessorSubscription{
		ID:     sub.ID,
		Status: mapSubscriptionStatus(sub.Status),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PriceID = sub.Items.Data[0].Price.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0)
		out.CurrentPeriodEnd = &t
	}
	if sub.TrialEnd > 0 {
		t := time.Unix(sub.TrialEnd, 0)
		out.TrialEnd = &t
	}
	if sub.CancelAt > 0 {
		t := time.Unix(sub.CancelAt, 0)
		out.CancelAt = &t
	}
	return out
}

func mapSubscriptionStatus(status stripe.SubscriptionStatus) accounts.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusTrialing:
		return accounts.StatusTrialing
	case stripe.SubscriptionStatusActive:
		return accounts.StatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncomplete:
		return accounts.StatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return accounts.StatusCanceled
	default:
		return accounts.StatusActive
	}
}

// mapStripeError converts processor library errors into domain errors so
// stripe-go types never leak past the gateway.
func (g *StripeGateway) mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Type == stripe.ErrorTypeCard {
			return fmt.Errorf("%w: %s", ErrPaymentFailed, stripeErr.Msg)
		}
		switch stripeErr.Code {
		case stripe.ErrorCodeCardDeclined:
			return fmt.Errorf("%w: card was declined", ErrPaymentFailed)
		case stripe.ErrorCodeExpiredCard:
			return fmt.Errorf("%w: card has expired", ErrPaymentFailed)
		case stripe.ErrorCodeBalanceInsufficient:
			return fmt.Errorf("%w: insufficient funds", ErrPaymentFailed)
		}
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
			return ErrProviderDown
		}
		return fmt.Errorf("stripe error: %s", stripeErr.Msg)
	}
	return fmt.Errorf("stripe request failed: %w", err)
}
