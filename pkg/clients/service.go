package clients

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/coachdeck/coachdeck/pkg/accounts"
	"github.com/coachdeck/coachdeck/pkg/tiers"
)

// PostgresService implements Service on PostgreSQL
type PostgresService struct {
	db       *sql.DB
	accounts accounts.Service
	registry *tiers.Registry
	enqueuer TaskEnqueuer
	notifier Notifier

	archiveDelayDays int
}

// NewPostgresService creates a new client service
func NewPostgresService(db *sql.DB, accountSvc accounts.Service, registry *tiers.Registry, enqueuer TaskEnqueuer, notifier Notifier, archiveDelayDays int) *PostgresService {
	return &PostgresService{
		db:               db,
		accounts:         accountSvc,
		registry:         registry,
		enqueuer:         enqueuer,
		notifier:         notifier,
		archiveDelayDays: archiveDelayDays,
	}
}

const clientColumns = `id, account_id, name, email, phone, notes, archived, archived_at,
	last_activity_at, created_at, updated_at`

func scanClient(row interface{ Scan(...interface{}) error }) (*Client, error) {
	c := &Client{}
	err := row.Scan(&c.ID, &c.AccountID, &c.Name, &c.Email, &c.Phone, &c.Notes,
		&c.Archived, &c.ArchivedAt, &c.LastActivityAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// claimSlot claims a capacity slot. When the failure is the one that
// newly restricts the account, the owner gets a capacity warning email;
// repeated blocked attempts stay silent.
func (s *PostgresService) claimSlot(ctx context.Context, accountID int64) error {
	err := s.accounts.ClaimClientSlot(ctx, accountID)
	if err == nil {
		return nil
	}

	var restriction *accounts.RestrictionError
	if errors.As(err, &restriction) && restriction.NewlyRestricted && s.notifier != nil {
		// The claim already failed; a mail error must not mask the
		// restriction the caller needs to see
		_ = s.notifier.SendCapacityWarning(ctx, accountID, restriction.Usage, restriction.Limit)
	}
	return err
}

// Create adds a client after claiming a capacity slot. The claim happens
// before the insert so two concurrent creates at the tier boundary cannot
// both succeed.
func (s *PostgresService) Create(ctx context.Context, accountID int64, input CreateInput) (*Client, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("client name is required")
	}

	if err := s.claimSlot(ctx, accountID); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO clients (account_id, name, email, phone, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+clientColumns,
		accountID, input.Name, input.Email, input.Phone, input.Notes)

	client, err := scanClient(row)
	if err != nil {
		// The claimed slot must not leak when the insert fails
		_ = s.accounts.ReleaseClientSlot(ctx, accountID)
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	if _, err := s.accounts.RecomputeActiveClients(ctx, accountID); err != nil {
		return nil, fmt.Errorf("failed to recompute usage: %w", err)
	}

	return client, nil
}

// Get fetches a client scoped to its owning account
func (s *PostgresService) Get(ctx context.Context, accountID, clientID int64) (*Client, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+clientColumns+` FROM clients WHERE id = $1 AND account_id = $2`,
		clientID, accountID)
	client, err := scanClient(row)
	if err == sql.ErrNoRows {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return client, nil
}

// List returns the account's clients, active first then by name
func (s *PostgresService) List(ctx context.Context, accountID int64, includeArchived bool, limit, offset int) ([]*Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE account_id = $1 AND ($2 OR NOT archived)
		ORDER BY archived, name
		LIMIT $3 OFFSET $4`,
		accountID, includeArchived, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var out []*Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		out = append(out, client)
	}
	return out, rows.Err()
}

// Archive soft-archives a client, releasing its capacity slot. Archiving an
// already-archived client is a no-op with changed=false, so overlapping
// sweeps processing the same archive task cannot double-archive.
func (s *PostgresService) Archive(ctx context.Context, accountID, clientID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE clients
		SET archived = TRUE, archived_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND account_id = $2 AND NOT archived`,
		clientID, accountID)
	if err != nil {
		return false, fmt.Errorf("failed to archive client: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check archive: %w", err)
	}
	if rows == 0 {
		// Either already archived or missing; distinguish for callers
		if _, err := s.Get(ctx, accountID, clientID); err != nil {
			return false, err
		}
		return false, nil
	}

	if err := s.accounts.ReleaseClientSlot(ctx, accountID); err != nil {
		return true, err
	}
	if _, err := s.accounts.RecomputeActiveClients(ctx, accountID); err != nil {
		return true, err
	}
	// Dropping under the limit clears a capacity restriction
	if _, err := s.accounts.EvaluateCapacity(ctx, accountID); err != nil {
		return true, err
	}

	return true, nil
}

// Reactivate un-archives a client, claiming a capacity slot first
func (s *PostgresService) Reactivate(ctx context.Context, accountID, clientID int64) error {
	if err := s.claimSlot(ctx, accountID); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE clients
		SET archived = FALSE, archived_at = NULL, updated_at = NOW()
		WHERE id = $1 AND account_id = $2 AND archived`,
		clientID, accountID)
	if err != nil {
		_ = s.accounts.ReleaseClientSlot(ctx, accountID)
		return fmt.Errorf("failed to reactivate client: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check reactivation: %w", err)
	}
	if rows == 0 {
		_ = s.accounts.ReleaseClientSlot(ctx, accountID)
		if _, err := s.Get(ctx, accountID, clientID); err != nil {
			return err
		}
		return nil // already active
	}

	if _, err := s.accounts.RecomputeActiveClients(ctx, accountID); err != nil {
		return fmt.Errorf("failed to recompute usage: %w", err)
	}
	return nil
}

// BulkImport creates clients one by one, stopping at the capacity limit.
// Partial progress is kept; the result reports what happened per row.
func (s *PostgresService) BulkImport(ctx context.Context, accountID int64, inputs []CreateInput) (*ImportResult, error) {
	result := &ImportResult{}

	for i, input := range inputs {
		_, err := s.Create(ctx, accountID, input)
		if err == nil {
			result.Imported++
			continue
		}

		if accounts.IsRestriction(err) {
			result.Failed = len(inputs) - i
			result.Errors = append(result.Errors, err.Error())
			return result, err
		}

		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", i, err))
	}

	return result, nil
}

// TouchActivity records client activity for least-recently-active ranking
func (s *PostgresService) TouchActivity(ctx context.Context, accountID, clientID int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE clients SET last_activity_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND account_id = $2`,
		clientID, accountID)
	if err != nil {
		return fmt.Errorf("failed to touch activity: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check activity touch: %w", err)
	}
	if rows == 0 {
		return ErrClientNotFound
	}
	return nil
}

// LeastRecentlyActive returns the n active clients with the oldest
// activity, never-active clients first.
func (s *PostgresService) LeastRecentlyActive(ctx context.Context, accountID int64, n int64) ([]*Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE account_id = $1 AND NOT archived
		ORDER BY last_activity_at ASC NULLS FIRST, id
		LIMIT $2`,
		accountID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query least recently active: %w", err)
	}
	defer rows.Close()

	var out []*Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		out = append(out, client)
	}
	return out, rows.Err()
}
