package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ErrTokenNotFound is returned when no active token matches the provided credential
var ErrTokenNotFound = errors.New("token not found")

// Service manages API token lifecycle
type Service interface {
	// CreateToken issues a new token for an account. The plaintext token is
	// returned exactly once.
	CreateToken(ctx context.Context, accountID int64, name string, scopes []Scope, expiresAt *time.Time) (*APIToken, string, error)
	// Authenticate resolves a plaintext token to its record, rejecting
	// revoked and expired tokens.
	Authenticate(ctx context.Context, token string) (*APIToken, error)
	// RevokeToken revokes a token belonging to the given account
	RevokeToken(ctx context.Context, accountID, tokenID int64) error
	// ListTokens returns all tokens for an account, newest first
	ListTokens(ctx context.Context, accountID int64) ([]*APIToken, error)
}

// PostgresService implements Service on PostgreSQL
type PostgresService struct {
	db        *sql.DB
	generator *TokenGenerator
}

// NewPostgresService creates a new token service
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{
		db:        db,
		generator: NewTokenGenerator(),
	}
}

// CreateToken issues a new token for an account
func (s *PostgresService) CreateToken(ctx context.Context, accountID int64, name string, scopes []Scope, expiresAt *time.Time) (*APIToken, string, error) {
	if name == "" {
		return nil, "", fmt.Errorf("token name is required")
	}

	token, tokenHash, tokenPrefix, err := s.generator.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	scopeStrs := make([]string, len(scopes))
	for i, sc := range scopes {
		scopeStrs[i] = string(sc)
	}

	record := &APIToken{
		AccountID:   accountID,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
		Name:        name,
		Scopes:      scopes,
		ExpiresAt:   expiresAt,
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO api_tokens (account_id, token_hash, token_prefix, name, scopes, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		accountID, tokenHash, tokenPrefix, name, pq.Array(scopeStrs), expiresAt,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("failed to store token: %w", err)
	}

	return record, token, nil
}

// Authenticate resolves a plaintext token to its record
func (s *PostgresService) Authenticate(ctx context.Context, token string) (*APIToken, error) {
	if err := s.generator.ValidateTokenFormat(token); err != nil {
		return nil, ErrTokenNotFound
	}

	hash := s.generator.HashToken(token)

	record := &APIToken{}
	var scopeStrs pq.StringArray
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, token_hash, token_prefix, name, scopes, expires_at, last_used_at, created_at, revoked_at
		FROM api_tokens
		WHERE token_hash = $1`,
		hash,
	).Scan(&record.ID, &record.AccountID, &record.TokenHash, &record.TokenPrefix,
		&record.Name, &scopeStrs, &record.ExpiresAt, &record.LastUsedAt,
		&record.CreatedAt, &record.RevokedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	if record.IsRevoked() || record.IsExpired(time.Now()) {
		return nil, ErrTokenNotFound
	}

	record.Scopes = make([]Scope, len(scopeStrs))
	for i, sc := range scopeStrs {
		record.Scopes[i] = Scope(sc)
	}

	// Touch last_used_at best-effort; authentication succeeds regardless
	_, _ = s.db.ExecContext(ctx, `UPDATE api_tokens SET last_used_at = NOW() WHERE id = $1`, record.ID)

	return record, nil
}

// RevokeToken revokes a token belonging to the given account
func (s *PostgresService) RevokeToken(ctx context.Context, accountID, tokenID int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_tokens
		SET revoked_at = NOW()
		WHERE id = $1 AND account_id = $2 AND revoked_at IS NULL`,
		tokenID, accountID)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check revocation: %w", err)
	}
	if rows == 0 {
		return ErrTokenNotFound
	}

	return nil
}

// ListTokens returns all tokens for an account, newest first
func (s *PostgresService) ListTokens(ctx context.Context, accountID int64) ([]*APIToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, token_prefix, name, scopes, expires_at, last_used_at, created_at, revoked_at
		FROM api_tokens
		WHERE account_id = $1
		ORDER BY created_at DESC`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*APIToken
	for rows.Next() {
		record := &APIToken{}
		var scopeStrs pq.StringArray
		if err := rows.Scan(&record.ID, &record.AccountID, &record.TokenPrefix,
			&record.Name, &scopeStrs, &record.ExpiresAt, &record.LastUsedAt,
			&record.CreatedAt, &record.RevokedAt); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		record.Scopes = make([]Scope, len(scopeStrs))
		for i, sc := range scopeStrs {
			record.Scopes[i] = Scope(sc)
		}
		tokens = append(tokens, record)
	}

	return tokens, rows.Err()
}
