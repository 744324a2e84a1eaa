//go:build integration

package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/coachdeck/coachdeck/pkg/accounts"
	"github.com/coachdeck/coachdeck/pkg/api"
	"github.com/coachdeck/coachdeck/pkg/auth"
	"github.com/coachdeck/coachdeck/pkg/billing"
	"github.com/coachdeck/coachdeck/pkg/clients"
	"github.com/coachdeck/coachdeck/pkg/config"
	"github.com/coachdeck/coachdeck/pkg/notify"
	"github.com/coachdeck/coachdeck/pkg/observability"
	"github.com/coachdeck/coachdeck/pkg/scheduler"
	"github.com/coachdeck/coachdeck/pkg/storage/postgres"
	"github.com/coachdeck/coachdeck/pkg/tiers"
)

// setupPostgresTestDB starts a PostgreSQL container and applies the schema
func setupPostgresTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	ctx := context.Background()

	postgresContainer, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("coachdeck_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	require.NoError(t, postgres.Migrate(ctx, db), "Failed to run migrations")

	cleanup := func() {
		db.Close()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := postgresContainer.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

// stubGateway satisfies the payment gateway without network calls
type stubGateway struct{}

func (stubGateway) EnsureCustomer(context.Context, string, string) (string, error) {
	return "cus_stub", nil
}

func (stubGateway) CreateSubscription(_ context.Context, customerID, priceID string, _ string, trialDays int) (*billing.ProcessorSubscription, error) {
	trialEnd := time.Now().AddDate(0, 0, trialDays)
	return &billing.ProcessorSubscription{
		ID:         "sub_stub",
		CustomerID: customerID,
		Status:     accounts.StatusTrialing,
		PriceID:    priceID,
		TrialEnd:   &trialEnd,
	}, nil
}

func (stubGateway) ChangePrice(_ context.Context, subscriptionID, newPriceID string) (*billing.ProcessorSubscription, error) {
	return &billing.ProcessorSubscription{ID: subscriptionID, CustomerID: "cus_stub", Status: accounts.StatusActive, PriceID: newPriceID}, nil
}

func (stubGateway) CancelAtPeriodEnd(_ context.Context, subscriptionID string) (*billing.ProcessorSubscription, error) {
	periodEnd := time.Now().AddDate(0, 1, 0)
	return &billing.ProcessorSubscription{ID: subscriptionID, CustomerID: "cus_stub", Status: accounts.StatusActive, CurrentPeriodEnd: &periodEnd}, nil
}

func (stubGateway) ResumeSubscription(_ context.Context, subscriptionID string) (*billing.ProcessorSubscription, error) {
	return &billing.ProcessorSubscription{ID: subscriptionID, CustomerID: "cus_stub", Status: accounts.StatusActive}, nil
}

func (stubGateway) CreateSetupIntent(context.Context, string) (string, error) {
	return "seti_stub_secret", nil
}

func (stubGateway) ListPaymentMethods(context.Context, string) ([]*billing.PaymentMethod, error) {
	return nil, nil
}

func (stubGateway) SetDefaultPaymentMethod(context.Context, string, string) error { return nil }
func (stubGateway) DetachPaymentMethod(context.Context, string) error             { return nil }
func (stubGateway) RetryInvoice(context.Context, string) error                    { return nil }

func newIntegrationServer(t *testing.T, db *sql.DB) *api.Server {
	t.Helper()

	registry, err := tiers.NewRegistry("", tiers.PriceIDs{
		"starter": "price_starter",
		"coach":   "price_coach",
		"studio":  "price_studio",
		"gym":     "price_gym",
	})
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Server.MaxBodyBytes = 1 << 20
	cfg.Server.CORSOrigin = "*"
	cfg.Billing.UpgradeURL = "/billing/upgrade"
	cfg.Billing.ArchiveDelayDays = 7
	cfg.Billing.PaymentGraceDays = 7
	cfg.Stripe.WebhookSecret = "whsec_test"

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	accountSvc := accounts.NewPostgresService(db, registry, cfg.Billing.UpgradeURL)
	tokenSvc := auth.NewPostgresService(db)
	queue := scheduler.NewQueue(db)
	mailer := notify.NewMailer(nil, accountSvc, cfg.Billing.UpgradeURL, false, logger)
	clientSvc := clients.NewPostgresService(db, accountSvc, registry, queue, mailer, cfg.Billing.ArchiveDelayDays)
	billingSvc := billing.NewPostgresService(db, stubGateway{}, accountSvc, registry, queue, cfg.Billing.PaymentGraceDays)
	webhook := billing.NewWebhookHandler(billingSvc, accountSvc, registry, queue, cfg.Stripe.WebhookSecret, cfg.Billing.PaymentGraceDays, logger)

	return api.NewServer(api.Deps{
		Config:   cfg,
		Logger:   logger,
		Accounts: accountSvc,
		Clients:  clientSvc,
		Billing:  billingSvc,
		Tokens:   tokenSvc,
		Registry: registry,
		Webhook:  webhook,
	})
}

func doJSON(t *testing.T, server http.Handler, method, path, token, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if len(w.Body.Bytes()) > 0 && strings.HasPrefix(strings.TrimSpace(w.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestAccountLifecycle(t *testing.T) {
	db, cleanup := setupPostgresTestDB(t)
	defer cleanup()

	server := newIntegrationServer(t, db)

	// Signup issues the owner token exactly once
	w, resp := doJSON(t, server, "POST", "/api/v1/accounts", "",
		`{"email":"owner@irongrove.fit","business_name":"Irongrove Fitness","category":"gym"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	token, ok := resp["token"].(string)
	require.True(t, ok, "signup response carries the plaintext token")
	require.True(t, strings.HasPrefix(token, "cdk_"))

	// Token authenticates
	w, resp = doJSON(t, server, "GET", "/api/v1/accounts/me", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "owner@irongrove.fit", resp["email"])
	assert.Equal(t, "starter", resp["tier_id"])

	// No token, no access
	w, _ = doJSON(t, server, "GET", "/api/v1/accounts/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestClientCapacityEnforcement(t *testing.T) {
	db, cleanup := setupPostgresTestDB(t)
	defer cleanup()

	server := newIntegrationServer(t, db)

	_, resp := doJSON(t, server, "POST", "/api/v1/accounts", "",
		`{"email":"solo@coach.fit","business_name":"Solo Coaching"}`)
	token := resp["token"].(string)

	// Fill the starter tier to its limit
	for i := 0; i < 25; i++ {
		w, _ := doJSON(t, server, "POST", "/api/v1/clients", token,
			fmt.Sprintf(`{"name":"Client %02d"}`, i))
		require.Equal(t, http.StatusCreated, w.Code, "client %d should fit under the limit", i)
	}

	// One past the limit is rejected with the structured payload
	w, resp := doJSON(t, server, "POST", "/api/v1/clients", token, `{"name":"One Too Many"}`)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "capacity_exceeded", resp["reason"])
	assert.Equal(t, float64(25), resp["limit"])
	assert.Equal(t, "/billing/upgrade", resp["upgrade_url"])

	// Reads still pass and carry plan headers
	w, _ = doJSON(t, server, "GET", "/api/v1/clients", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "25", w.Header().Get("X-Plan-Usage"))
	assert.Equal(t, "25", w.Header().Get("X-Plan-Limit"))

	var list []clients.Client
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 25)

	// Archiving frees a slot
	firstID := list[0].ID
	w, resp = doJSON(t, server, "POST", fmt.Sprintf("/api/v1/clients/%d/archive", firstID), token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["archived"])

	w, _ = doJSON(t, server, "POST", "/api/v1/clients", token, `{"name":"Replacement"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestSubscriptionUpgradeRaisesLimit(t *testing.T) {
	db, cleanup := setupPostgresTestDB(t)
	defer cleanup()

	server := newIntegrationServer(t, db)

	_, resp := doJSON(t, server, "POST", "/api/v1/accounts", "",
		`{"email":"studio@ninthstreet.fit","business_name":"Ninth Street Studio","category":"specialist"}`)
	token := resp["token"].(string)

	w, resp := doJSON(t, server, "POST", "/api/v1/billing/subscribe", token,
		`{"tier_id":"coach","payment_method_id":"pm_stub"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "coach", resp["tier_id"])
	assert.Equal(t, "trialing", resp["subscription_status"])

	w, resp = doJSON(t, server, "GET", "/api/v1/billing/status", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(75), resp["client_limit"])

	// Tier change flows through to the plan headers
	w, _ = doJSON(t, server, "POST", "/api/v1/billing/change-tier", token, `{"tier_id":"studio"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, server, "GET", "/api/v1/clients", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "studio", w.Header().Get("X-Plan-Tier"))
	assert.Equal(t, "200", w.Header().Get("X-Plan-Limit"))
}

func TestTaskQueueRoundTrip(t *testing.T) {
	db, cleanup := setupPostgresTestDB(t)
	defer cleanup()

	ctx := context.Background()
	queue := scheduler.NewQueue(db)

	registry, err := tiers.NewRegistry("", nil)
	require.NoError(t, err)
	accountSvc := accounts.NewPostgresService(db, registry, "/billing/upgrade")
	acct, err := accountSvc.CreateAccount(ctx, "queue@test.fit", "Queue Test", tiers.CategoryIndividual)
	require.NoError(t, err)
	accountID := acct.ID

	require.NoError(t, queue.EnqueueWarningEmail(ctx, accountID, "payment_failed", time.Now().Add(-time.Minute)))
	require.NoError(t, queue.EnqueueWarningEmail(ctx, accountID, "future", time.Now().Add(time.Hour)))

	// Competing workers claim concurrently; the due task goes to exactly one
	var mu sync.Mutex
	var claimed []*scheduler.Task

	g, gctx := errgroup.WithContext(ctx)
	for _, worker := range []string{"worker-a", "worker-b", "worker-c"} {
		g.Go(func() error {
			tasks, err := queue.ClaimDue(gctx, worker, 10)
			if err != nil {
				return err
			}
			mu.Lock()
			claimed = append(claimed, tasks...)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Len(t, claimed, 1)
	assert.Equal(t, scheduler.KindSendWarning, claimed[0].Kind)

	require.NoError(t, queue.Complete(ctx, claimed[0].ID, map[string]string{"sent": "ok"}))
}
