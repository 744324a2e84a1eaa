package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/coachdeck/coachdeck/pkg/accounts"
	"github.com/coachdeck/coachdeck/pkg/auth"
	"github.com/coachdeck/coachdeck/pkg/billing"
	"github.com/coachdeck/coachdeck/pkg/clients"
	"github.com/coachdeck/coachdeck/pkg/config"
	"github.com/coachdeck/coachdeck/pkg/httputil"
	"github.com/coachdeck/coachdeck/pkg/middleware"
	"github.com/coachdeck/coachdeck/pkg/observability"
	"github.com/coachdeck/coachdeck/pkg/tiers"
)

// Server is the CoachDeck API server
type Server struct {
	router *mux.Router
	cfg    *config.Config
	logger *observability.Logger

	accounts accounts.Service
	clients  clients.Service
	billing  billing.Service
	tokens   auth.Service
	registry *tiers.Registry

	plan    *middleware.PlanMiddleware
	limiter *middleware.RateLimiter
	webhook *billing.WebhookHandler
}

// Deps carries everything the server needs
type Deps struct {
	Config   *config.Config
	Logger   *observability.Logger
	Accounts accounts.Service
	Clients  clients.Service
	Billing  billing.Service
	Tokens   auth.Service
	Registry *tiers.Registry
	Limiter  *middleware.RateLimiter
	Webhook  *billing.WebhookHandler
}

// NewServer builds the router with the full middleware pipeline
func NewServer(deps Deps) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		cfg:      deps.Config,
		logger:   deps.Logger,
		accounts: deps.Accounts,
		clients:  deps.Clients,
		billing:  deps.Billing,
		tokens:   deps.Tokens,
		registry: deps.Registry,
		limiter:  deps.Limiter,
		webhook:  deps.Webhook,
	}
	s.plan = middleware.NewPlanMiddleware(deps.Accounts, deps.Registry, deps.Config.Billing.UpgradeURL)
	s.setupRoutes()
	return s
}

// setupRoutes wires the versioned API. Order matters: the webhook route is
// registered on the outer router so Stripe's raw body bypasses every
// body-touching middleware, and restriction enforcement wraps only
// creation-type client routes.
func (s *Server) setupRoutes() {
	root := s.router

	root.Use(mux.MiddlewareFunc(httputil.RecoveryMiddleware(s.logger)))
	root.Use(mux.MiddlewareFunc(httputil.RequestIDMiddleware))
	root.Use(mux.MiddlewareFunc(httputil.LoggingMiddleware(s.logger)))
	root.Use(mux.MiddlewareFunc(httputil.CORSMiddleware(s.cfg.Server.CORSOrigin)))

	// raw-body processor callback, no auth and no size-limited JSON parsing
	root.Handle("/api/v1/billing/webhook", s.webhook).Methods("POST")

	// public surface
	root.HandleFunc("/api/v1/tiers", s.listTiers).Methods("GET")
	root.HandleFunc("/api/v1/accounts", s.signup).Methods("POST")

	// authenticated surface
	authRouter := root.PathPrefix("/api/v1").Subrouter()
	authMw := middleware.NewAuthMiddleware(s.tokens)
	accountMw := middleware.NewAccountMiddleware(s.accounts)
	authRouter.Use(mux.MiddlewareFunc(httputil.MaxBytesMiddleware(s.cfg.Server.MaxBodyBytes)))
	authRouter.Use(mux.MiddlewareFunc(authMw.Handler))
	authRouter.Use(mux.MiddlewareFunc(accountMw.Handler))
	if s.limiter != nil {
		authRouter.Use(mux.MiddlewareFunc(s.limiter.Handler))
	}
	authRouter.Use(mux.MiddlewareFunc(s.plan.Headers))

	authRouter.HandleFunc("/accounts/me", s.getAccount).Methods("GET")
	authRouter.HandleFunc("/tokens", s.createToken).Methods("POST")
	authRouter.HandleFunc("/tokens", s.listTokens).Methods("GET")
	authRouter.HandleFunc("/tokens/{id:[0-9]+}", s.revokeToken).Methods("DELETE")

	authRouter.HandleFunc("/billing/status", s.billingStatus).Methods("GET")
	authRouter.HandleFunc("/billing/subscribe", s.subscribe).Methods("POST")
	authRouter.HandleFunc("/billing/change-tier", s.changeTier).Methods("POST")
	authRouter.HandleFunc("/billing/cancel", s.cancelSubscription).Methods("POST")
	authRouter.HandleFunc("/billing/reactivate", s.reactivateSubscription).Methods("POST")
	authRouter.HandleFunc("/billing/recommendation", s.recommendTier).Methods("GET")
	authRouter.HandleFunc("/billing/invoices", s.listInvoices).Methods("GET")
	authRouter.HandleFunc("/billing/invoices/{id:[0-9]+}", s.getInvoice).Methods("GET")
	authRouter.HandleFunc("/billing/payment-methods/setup", s.setupPaymentMethod).Methods("POST")
	authRouter.HandleFunc("/billing/payment-methods", s.listPaymentMethods).Methods("GET")
	authRouter.HandleFunc("/billing/payment-methods/default", s.setDefaultPaymentMethod).Methods("POST")
	authRouter.HandleFunc("/billing/payment-methods/{id}", s.removePaymentMethod).Methods("DELETE")

	// reads stay open for restricted accounts
	authRouter.HandleFunc("/clients", s.listClients).Methods("GET")
	authRouter.HandleFunc("/clients/{id:[0-9]+}", s.getClient).Methods("GET")
	authRouter.HandleFunc("/clients/{id:[0-9]+}/archive", s.archiveClient).Methods("POST")
	authRouter.HandleFunc("/clients/{id:[0-9]+}/activity", s.touchActivity).Methods("POST")
	authRouter.HandleFunc("/clients/archive-recommendations", s.archiveRecommendations).Methods("GET")
	authRouter.HandleFunc("/clients/smart-archive", s.smartArchive).Methods("POST")

	// creation-type routes get restriction enforcement on top
	authRouter.Handle("/clients", s.plan.Enforce(http.HandlerFunc(s.createClient))).Methods("POST")
	authRouter.Handle("/clients/{id:[0-9]+}/reactivate", s.plan.Enforce(http.HandlerFunc(s.reactivateClient))).Methods("POST")
	authRouter.Handle("/clients/import", s.plan.Enforce(http.HandlerFunc(s.bulkImport))).Methods("POST")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
