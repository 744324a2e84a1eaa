package middleware

import (
	"net/http"

	"github.com/coachdeck/coachdeck/pkg/accounts"
	"github.com/coachdeck/coachdeck/pkg/contextkeys"
	"github.com/coachdeck/coachdeck/pkg/httputil"
)

// AccountMiddleware resolves the authenticated account and attaches it to
// the request context. Must run after AuthMiddleware.
type AccountMiddleware struct {
	accounts accounts.Service
}

// NewAccountMiddleware creates an account resolution middleware
func NewAccountMiddleware(accountSvc accounts.Service) *AccountMiddleware {
	return &AccountMiddleware{accounts: accountSvc}
}

// Handler loads the account for the authenticated token
func (m *AccountMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID := contextkeys.GetAccountID(r.Context())
		if accountID == 0 {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		account, err := m.accounts.GetAccount(r.Context(), accountID)
		if err != nil {
			httputil.WriteUnauthorized(w, "account no longer exists")
			return
		}

		ctx := contextkeys.WithAccount(r.Context(), account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAccount extracts the resolved account from a request, nil when absent
func GetAccount(r *http.Request) *accounts.Account {
	value := r.Context().Value(contextkeys.AccountKey)
	if value == nil {
		return nil
	}
	account, ok := value.(*accounts.Account)
	if !ok {
		return nil
	}
	return account
}
