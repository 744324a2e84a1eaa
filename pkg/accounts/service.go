package accounts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/coachdeck/coachdeck/pkg/tiers"
)

// PostgresService implements Service on PostgreSQL
type PostgresService struct {
	db         *sql.DB
	registry   *tiers.Registry
	upgradeURL string
}

// NewPostgresService creates a new account service
func NewPostgresService(db *sql.DB, registry *tiers.Registry, upgradeURL string) *PostgresService {
	return &PostgresService{
		db:         db,
		registry:   registry,
		upgradeURL: upgradeURL,
	}
}

const accountColumns = `id, email, business_name, category, tier_id, restricted, restriction_reason,
	stripe_customer_id, stripe_subscription_id, subscription_status, trial_ends_at, cancel_at,
	created_at, updated_at`

func scanAccount(row interface{ Scan(...interface{}) error }) (*Account, error) {
	a := &Account{}
	var reason sql.NullString
	err := row.Scan(&a.ID, &a.Email, &a.BusinessName, &a.Category, &a.TierID,
		&a.Restricted, &reason, &a.StripeCustomerID, &a.StripeSubscriptionID,
		&a.SubscriptionStatus, &a.TrialEndsAt, &a.CancelAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if reason.Valid {
		r := RestrictionReason(reason.String)
		a.RestrictionReason = &r
	}
	return a, nil
}

// CreateAccount registers a new account on the starter tier of its category
func (s *PostgresService) CreateAccount(ctx context.Context, email, businessName string, category tiers.Category) (*Account, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if businessName == "" {
		return nil, fmt.Errorf("business name is required")
	}

	tierID := defaultTierFor(category)
	tier, err := s.registry.Get(tierID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve default tier: %w", err)
	}

	trialEnds := time.Now().AddDate(0, 0, tier.TrialDays)

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (email, business_name, category, tier_id, subscription_status, trial_ends_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+accountColumns,
		email, businessName, string(category), tierID, string(StatusTrialing), trialEnds)

	account, err := scanAccount(row)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, fmt.Errorf("account with email %q already exists", email)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

func defaultTierFor(category tiers.Category) string {
	switch category {
	case tiers.CategorySpecialist:
		return "coach"
	case tiers.CategoryGym:
		return "studio"
	case tiers.CategoryEnterprise:
		return "gym"
	default:
		return "starter"
	}
}

// GetAccount fetches an account by id
func (s *PostgresService) GetAccount(ctx context.Context, id int64) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// GetAccountByEmail fetches an account by email
func (s *PostgresService) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by email: %w", err)
	}
	return account, nil
}

// GetAccountByStripeCustomer resolves a processor customer id to an account
func (s *PostgresService) GetAccountByStripeCustomer(ctx context.Context, customerID string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE stripe_customer_id = $1`, customerID)
	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by stripe customer: %w", err)
	}
	return account, nil
}

// SetTier updates the account's tier
func (s *PostgresService) SetTier(ctx context.Context, id int64, tierID string) error {
	if _, err := s.registry.Get(tierID); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET tier_id = $2, updated_at = NOW() WHERE id = $1`, id, tierID)
	if err != nil {
		return fmt.Errorf("failed to set tier: %w", err)
	}
	return requireOneRow(result, ErrAccountNotFound)
}

// SetSubscription persists processor-side subscription references and status
func (s *PostgresService) SetSubscription(ctx context.Context, id int64, customerID, subscriptionID string, status SubscriptionStatus, trialEndsAt, cancelAt *time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET stripe_customer_id = $2, stripe_subscription_id = $3, subscription_status = $4,
		    trial_ends_at = $5, cancel_at = $6, updated_at = NOW()
		WHERE id = $1`,
		id, customerID, subscriptionID, string(status), trialEndsAt, cancelAt)
	if err != nil {
		return fmt.Errorf("failed to set subscription: %w", err)
	}
	return requireOneRow(result, ErrAccountNotFound)
}

// SetSubscriptionStatus updates only the subscription status
func (s *PostgresService) SetSubscriptionStatus(ctx context.Context, id int64, status SubscriptionStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET subscription_status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("failed to set subscription status: %w", err)
	}
	return requireOneRow(result, ErrAccountNotFound)
}

// Restrict persists the restriction flag with a reason. The flag survives
// across requests until explicitly cleared.
func (s *PostgresService) Restrict(ctx context.Context, id int64, reason RestrictionReason) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET restricted = TRUE, restriction_reason = $2, updated_at = NOW()
		WHERE id = $1`, id, string(reason))
	if err != nil {
		return fmt.Errorf("failed to restrict account: %w", err)
	}
	return requireOneRow(result, ErrAccountNotFound)
}

// ClearRestriction clears the restriction flag and reason
func (s *PostgresService) ClearRestriction(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET restricted = FALSE, restriction_reason = NULL, updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to clear restriction: %w", err)
	}
	return requireOneRow(result, ErrAccountNotFound)
}

// EvaluateCapacity compares the true active client count to the tier limit
// and persists the resulting restriction state. An account at or over its
// limit is restricted; dropping back under the limit clears a capacity
// restriction but never a billing one.
func (s *PostgresService) EvaluateCapacity(ctx context.Context, id int64) (bool, error) {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return false, err
	}

	tier, err := s.registry.Get(account.TierID)
	if err != nil {
		return false, err
	}

	count, err := s.trueActiveCount(ctx, id)
	if err != nil {
		return false, err
	}

	if !tier.Covers(count) {
		if err := s.Restrict(ctx, id, ReasonCapacityExceeded); err != nil {
			return false, err
		}
		return true, nil
	}

	if account.Restricted && account.RestrictionReason != nil && *account.RestrictionReason == ReasonCapacityExceeded {
		if err := s.ClearRestriction(ctx, id); err != nil {
			return false, err
		}
	}
	return false, nil
}

// ActiveClientCount returns the tracked active client count for the current
// usage period, falling back to a direct count when no period exists yet.
func (s *PostgresService) ActiveClientCount(ctx context.Context, id int64) (int64, error) {
	var used int64
	err := s.db.QueryRowContext(ctx, `
		SELECT used FROM account_usage
		WHERE account_id = $1 AND metric = $2 AND period_end > NOW()`,
		id, MetricActiveClients).Scan(&used)
	if err == sql.ErrNoRows {
		return s.trueActiveCount(ctx, id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}
	return used, nil
}

func (s *PostgresService) trueActiveCount(ctx context.Context, id int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM clients WHERE account_id = $1 AND NOT archived`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active clients: %w", err)
	}
	return count, nil
}

// RecomputeActiveClients resets the tracked counter to the true count of
// non-archived clients. Run after every dependent state change so the
// counter can never drift from reality.
func (s *PostgresService) RecomputeActiveClients(ctx context.Context, id int64) (int64, error) {
	var used int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO account_usage (account_id, metric, used, period_start, period_end)
		VALUES ($1, $2,
			(SELECT COUNT(*) FROM clients WHERE account_id = $1 AND NOT archived),
			date_trunc('month', NOW()), date_trunc('month', NOW()) + interval '1 month')
		ON CONFLICT (account_id, metric, period_start)
		DO UPDATE SET used = EXCLUDED.used, updated_at = NOW()
		RETURNING used`,
		id, MetricActiveClients).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("failed to recompute active clients: %w", err)
	}
	return used, nil
}

// RolloverUsagePeriods seeds the current month's usage row for every
// account from the true active-client counts. Run on a schedule so a new
// period always has a counter before the first claim.
func (s *PostgresService) RolloverUsagePeriods(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO account_usage (account_id, metric, used, period_start, period_end)
		SELECT a.id, $1, COALESCE(c.cnt, 0),
			date_trunc('month', NOW()), date_trunc('month', NOW()) + interval '1 month'
		FROM accounts a
		LEFT JOIN (
			SELECT account_id, COUNT(*) AS cnt FROM clients WHERE NOT archived GROUP BY account_id
		) c ON c.account_id = a.id
		ON CONFLICT (account_id, metric, period_start)
		DO UPDATE SET used = EXCLUDED.used, updated_at = NOW()`,
		MetricActiveClients)
	if err != nil {
		return 0, fmt.Errorf("failed to roll over usage periods: %w", err)
	}
	return result.RowsAffected()
}

// ClaimClientSlot atomically increments the active client counter, failing
// when the tier limit is reached. The conditional update means two
// concurrent creates at the boundary cannot both pass.
func (s *PostgresService) ClaimClientSlot(ctx context.Context, id int64) error {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return err
	}

	tier, err := s.registry.Get(account.TierID)
	if err != nil {
		return err
	}

	claimed, err := s.tryClaim(ctx, id, tier.ClientLimit)
	if err != nil {
		return err
	}
	if claimed {
		return nil
	}

	// No current usage period; seed it from the true count and claim in
	// the same statement
	initialized, err := s.initializeAndClaim(ctx, id, tier.ClientLimit)
	if err != nil {
		return err
	}
	if initialized {
		return nil
	}

	// Another request may have initialized the period concurrently
	claimed, err = s.tryClaim(ctx, id, tier.ClientLimit)
	if err != nil {
		return err
	}
	if claimed {
		return nil
	}

	usage, err := s.ActiveClientCount(ctx, id)
	if err != nil {
		usage = tier.ClientLimit
	}

	// The restriction survives this request: the flag is persisted and
	// stays until a slot frees up or the tier changes. Accounts already
	// restricted for a billing reason keep that reason.
	if !account.Restricted {
		if err := s.Restrict(ctx, id, ReasonCapacityExceeded); err != nil {
			return err
		}
	}
	return &RestrictionError{
		Reason:          ReasonCapacityExceeded,
		Tier:            tier.ID,
		Usage:           usage,
		Limit:           tier.ClientLimit,
		UpgradeURL:      s.upgradeURL,
		NewlyRestricted: !account.Restricted,
	}
}

func (s *PostgresService) tryClaim(ctx context.Context, id, limit int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE account_usage
		SET used = used + 1, updated_at = NOW()
		WHERE account_id = $1 AND metric = $2 AND period_end > NOW()
		  AND ($3::bigint < 0 OR used < $3)`,
		id, MetricActiveClients, limit)
	if err != nil {
		return false, fmt.Errorf("failed to claim client slot: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check slot claim: %w", err)
	}
	return rows == 1, nil
}

func (s *PostgresService) initializeAndClaim(ctx context.Context, id, limit int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO account_usage (account_id, metric, used, period_start, period_end)
		SELECT $1, $2, c.cnt + 1, date_trunc('month', NOW()), date_trunc('month', NOW()) + interval '1 month'
		FROM (SELECT COUNT(*) AS cnt FROM clients WHERE account_id = $1 AND NOT archived) c
		WHERE $3::bigint < 0 OR c.cnt < $3
		ON CONFLICT (account_id, metric, period_start) DO NOTHING`,
		id, MetricActiveClients, limit)
	if err != nil {
		return false, fmt.Errorf("failed to initialize usage period: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check usage initialization: %w", err)
	}
	return rows == 1, nil
}

// ReleaseClientSlot decrements the active client counter with a floor of zero
func (s *PostgresService) ReleaseClientSlot(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE account_usage
		SET used = GREATEST(used - 1, 0), updated_at = NOW()
		WHERE account_id = $1 AND metric = $2 AND period_end > NOW()`,
		id, MetricActiveClients)
	if err != nil {
		return fmt.Errorf("failed to release client slot: %w", err)
	}
	return nil
}

// ListTrialsEndedBefore returns trialing accounts whose trial expired before
// the cutoff. Used by the trial-expiry job.
func (s *PostgresService) ListTrialsEndedBefore(ctx context.Context, cutoff time.Time) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE subscription_status = $1 AND trial_ends_at IS NOT NULL AND trial_ends_at < $2
		ORDER BY trial_ends_at`,
		string(StatusTrialing), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired trials: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, account)
	}
	return out, rows.Err()
}

func requireOneRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
