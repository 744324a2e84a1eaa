package middleware

import (
	"net/http"
	"strings"

	"github.com/coachdeck/coachdeck/pkg/auth"
	"github.com/coachdeck/coachdeck/pkg/contextkeys"
	"github.com/coachdeck/coachdeck/pkg/httputil"
)

// AuthMiddleware authenticates requests with Bearer API tokens
type AuthMiddleware struct {
	tokens auth.Service
}

// NewAuthMiddleware creates an authentication middleware
func NewAuthMiddleware(tokens auth.Service) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handler wraps an HTTP handler with authentication. On success the auth
// context and account id are attached to the request context.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		token, err := m.tokens.Authenticate(r.Context(), parts[1])
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		authCtx := &auth.AuthContext{
			AccountID: token.AccountID,
			Token:     token,
			Scopes:    token.Scopes,
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		ctx = contextkeys.WithAccountID(ctx, token.AccountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope wraps a handler so only tokens carrying the scope pass
func RequireScope(scope auth.Scope, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := GetAuthContext(r)
		if authCtx == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		if !authCtx.HasScope(scope) {
			httputil.WriteForbidden(w, "token missing required scope: "+string(scope))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetAuthContext extracts the auth context from a request, nil when absent
func GetAuthContext(r *http.Request) *auth.AuthContext {
	value := r.Context().Value(contextkeys.AuthKey)
	if value == nil {
		return nil
	}
	authCtx, ok := value.(*auth.AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}
