package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order at startup. Statements are idempotent so
// restarts against an existing schema are safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id              BIGSERIAL PRIMARY KEY,
		email           TEXT NOT NULL UNIQUE,
		business_name   TEXT NOT NULL,
		category        TEXT NOT NULL DEFAULT 'individual',
		tier_id         TEXT NOT NULL DEFAULT 'starter',
		restricted      BOOLEAN NOT NULL DEFAULT FALSE,
		restriction_reason TEXT,
		stripe_customer_id     TEXT,
		stripe_subscription_id TEXT,
		subscription_status    TEXT NOT NULL DEFAULT 'trialing',
		trial_ends_at   TIMESTAMPTZ,
		cancel_at       TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_stripe_customer
		ON accounts (stripe_customer_id) WHERE stripe_customer_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS clients (
		id              BIGSERIAL PRIMARY KEY,
		account_id      BIGINT NOT NULL REFERENCES accounts(id),
		name            TEXT NOT NULL,
		email           TEXT,
		phone           TEXT,
		notes           TEXT,
		archived        BOOLEAN NOT NULL DEFAULT FALSE,
		archived_at     TIMESTAMPTZ,
		last_activity_at TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_clients_account_active
		ON clients (account_id) WHERE NOT archived`,

	`CREATE TABLE IF NOT EXISTS account_usage (
		id              BIGSERIAL PRIMARY KEY,
		account_id      BIGINT NOT NULL REFERENCES accounts(id),
		metric          TEXT NOT NULL,
		used            BIGINT NOT NULL DEFAULT 0,
		period_start    TIMESTAMPTZ NOT NULL,
		period_end      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (account_id, metric, period_start)
	)`,

	`CREATE TABLE IF NOT EXISTS api_tokens (
		id              BIGSERIAL PRIMARY KEY,
		account_id      BIGINT NOT NULL REFERENCES accounts(id),
		token_hash      TEXT NOT NULL UNIQUE,
		token_prefix    TEXT NOT NULL,
		name            TEXT NOT NULL,
		scopes          TEXT[] NOT NULL DEFAULT '{}',
		expires_at      TIMESTAMPTZ,
		last_used_at    TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		revoked_at      TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS billing_events (
		id              BIGSERIAL PRIMARY KEY,
		stripe_event_id TEXT NOT NULL UNIQUE,
		account_id      BIGINT REFERENCES accounts(id),
		kind            TEXT NOT NULL,
		payload         JSONB NOT NULL DEFAULT '{}',
		received_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS invoices (
		id              BIGSERIAL PRIMARY KEY,
		account_id      BIGINT NOT NULL REFERENCES accounts(id),
		stripe_invoice_id TEXT UNIQUE,
		amount_cents    BIGINT NOT NULL,
		currency        TEXT NOT NULL DEFAULT 'usd',
		status          TEXT NOT NULL,
		due_at          TIMESTAMPTZ,
		paid_at         TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS scheduled_tasks (
		id              BIGSERIAL PRIMARY KEY,
		dedup_key       TEXT NOT NULL UNIQUE,
		account_id      BIGINT REFERENCES accounts(id),
		kind            TEXT NOT NULL,
		payload         JSONB NOT NULL DEFAULT '{}',
		status          TEXT NOT NULL DEFAULT 'pending',
		due_at          TIMESTAMPTZ NOT NULL,
		attempts        INT NOT NULL DEFAULT 0,
		claimed_by      TEXT,
		last_error      TEXT,
		started_at      TIMESTAMPTZ,
		finished_at     TIMESTAMPTZ,
		result          JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_due
		ON scheduled_tasks (due_at) WHERE status = 'pending'`,
}

// Migrate applies the schema. Safe to run on every startup.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
