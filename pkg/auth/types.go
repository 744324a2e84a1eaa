package auth

import "time"

// Scope represents API token scopes
type Scope string

const (
	ScopeAccountRead  Scope = "account:read"
	ScopeAccountWrite Scope = "account:write"
	ScopeClientRead   Scope = "client:read"
	ScopeClientWrite  Scope = "client:write"
	ScopeBillingRead  Scope = "billing:read"
	ScopeBillingWrite Scope = "billing:write"
	ScopeAll          Scope = "*" // All permissions (for owner tokens)
)

// APIToken represents an API token issued to an account
type APIToken struct {
	ID          int64      `json:"id"`
	AccountID   int64      `json:"account_id"`
	TokenHash   string     `json:"-"` // Never expose hash
	TokenPrefix string     `json:"token_prefix"`
	Name        string     `json:"name"`
	Scopes      []Scope    `json:"scopes"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// IsExpired reports whether the token is past its expiry
func (t *APIToken) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// IsRevoked reports whether the token has been revoked
func (t *APIToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// AuthContext holds authenticated caller information
type AuthContext struct {
	AccountID int64
	Token     *APIToken
	Scopes    []Scope
}

// HasScope checks if the context has a specific scope
func (ac *AuthContext) HasScope(scope Scope) bool {
	for _, s := range ac.Scopes {
		if s == ScopeAll {
			return true
		}
		if s == scope {
			return true
		}
	}
	return false
}
