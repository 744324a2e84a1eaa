package api

import (
	"errors"
	"net/http"

	"github.com/coachdeck/coachdeck/pkg/billing"
	"github.com/coachdeck/coachdeck/pkg/httputil"
	"github.com/coachdeck/coachdeck/pkg/middleware"
)

// writeBillingError maps gateway errors to HTTP statuses: card failures
// are the caller's problem, processor outages are a bad gateway.
func (s *Server) writeBillingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, billing.ErrPaymentFailed):
		httputil.WriteErrorMessage(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, billing.ErrProviderDown):
		httputil.WriteBadGateway(w, "payment provider unavailable, try again shortly")
	case errors.Is(err, billing.ErrNoSubscription):
		httputil.WriteErrorMessage(w, http.StatusConflict, "account has no subscription")
	case errors.Is(err, billing.ErrInvoiceNotFound):
		httputil.WriteNotFoundError(w, "invoice not found")
	case errors.Is(err, billing.ErrPaymentMethodNotFound):
		httputil.WriteNotFoundError(w, "payment method not found")
	default:
		httputil.WriteInternalError(w, err, s.cfg.Server.Development)
	}
}

// billingStatus handles GET /api/v1/billing/status
func (s *Server) billingStatus(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	status, err := s.billing.Status(r.Context(), account.ID)
	if err != nil {
		s.writeBillingError(w, err)
		return
	}
	httputil.WriteSuccess(w, status)
}

type subscribeRequest struct {
	TierID          string `json:"tier_id"`
	PaymentMethodID string `json:"payment_method_id"`
}

// subscribe handles POST /api/v1/billing/subscribe
func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	var req subscribeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := httputil.RequireNonEmpty("tier_id", req.TierID); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	updated, err := s.billing.CreateSubscription(r.Context(), account.ID, req.TierID, req.PaymentMethodID)
	if err != nil {
		s.writeBillingError(w, err)
		return
	}
	s.plan.Invalidate(account.ID)
	httputil.WriteSuccess(w, updated)
}

type changeTierRequest struct {
	TierID string `json:"tier_id"`
}

// changeTier handles POST /api/v1/billing/change-tier. Downgrading below
// current usage succeeds but restricts the account immediately.
func (s *Server) changeTier(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	var req changeTierRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := httputil.RequireNonEmpty("tier_id", req.TierID); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	updated, err := s.billing.ChangeTier(r.Context(), account.ID, req.TierID)
	if err != nil {
		s.writeBillingError(w, err)
		return
	}
	s.plan.Invalidate(account.ID)
	httputil.WriteSuccess(w, updated)
}

// cancelSubscription handles POST /api/v1/billing/cancel. Data stays
// readable; the subscription lapses at period end.
func (s *Server) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	if err := s.billing.CancelSubscription(r.Context(), account.ID); err != nil {
		s.writeBillingError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// reactivateSubscription handles POST /api/v1/billing/reactivate
func (s *Server) reactivateSubscription(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	updated, err := s.billing.ReactivateSubscription(r.Context(), account.ID)
	if err != nil {
		s.writeBillingError(w, err)
		return
	}
	s.plan.Invalidate(account.ID)
	httputil.WriteSuccess(w, updated)
}

// listInvoices handles GET /api/v1/billing/invoices
func (s *Server) listInvoices(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	limit, _, err := httputil.ParsePagination(r)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	invoices, err := s.billing.ListInvoices(r.Context(), account.ID, limit)
	if err != nil {
		s.writeBillingError(w, err)
		return
	}
	if invoices == nil {
		invoices = []*billing.Invoice{}
	}
	httputil.WriteSuccess(w, invoices)
}

// getInvoice handles GET /api/v1/billing/invoices/{id}
func (s *Server) getInvoice(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	invoiceID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	invoice, err := s.billing.GetInvoice(r.Context(), account.ID, invoiceID)
	if err != nil {
		s.writeBillingError(w, err)
		return
	}
	httputil.WriteSuccess(w, invoice)
}

// setupPaymentMethod handles POST /api/v1/billing/payment-methods/setup
func (s *Server) setupPaymentMethod(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	secret, err := s.billing.SetupPaymentMethod(r.Context(), account.ID)
	if err != nil {
		s.writeBillingError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"client_secret": secret})
}

// listPaymentMethods handles GET /api/v1/billing/payment-methods
func (s *Server) listPaymentMethods(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	methods, err := s.billing.ListPaymentMethods(r.Context(), account.ID)
	if err != nil {
		s.writeBillingError(w, err)
		return
	}
	if methods == nil {
		methods = []*billing.PaymentMethod{}
	}
	httputil.WriteSuccess(w, methods)
}

type defaultPaymentMethodRequest struct {
	PaymentMethodID string `json:"payment_method_id"`
}

// setDefaultPaymentMethod handles POST /api/v1/billing/payment-methods/default
func (s *Server) setDefaultPaymentMethod(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	var req defaultPaymentMethodRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := httputil.RequireNonEmpty("payment_method_id", req.PaymentMethodID); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	if err := s.billing.SetDefaultPaymentMethod(r.Context(), account.ID, req.PaymentMethodID); err != nil {
		s.writeBillingError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// removePaymentMethod handles DELETE /api/v1/billing/payment-methods/{id}
func (s *Server) removePaymentMethod(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	paymentMethodID, err := httputil.ParsePathString(r, "id")
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	if err := s.billing.RemovePaymentMethod(r.Context(), account.ID, paymentMethodID); err != nil {
		s.writeBillingError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
