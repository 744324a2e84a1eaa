package api

import (
	"net/http"
	"strings"

	"github.com/coachdeck/coachdeck/pkg/accounts"
	"github.com/coachdeck/coachdeck/pkg/auth"
	"github.com/coachdeck/coachdeck/pkg/httputil"
	"github.com/coachdeck/coachdeck/pkg/middleware"
	"github.com/coachdeck/coachdeck/pkg/tiers"
)

type signupRequest struct {
	Email        string `json:"email"`
	BusinessName string `json:"business_name"`
	Category     string `json:"category"`
}

type signupResponse struct {
	Account *accounts.Account `json:"account"`
	// Token is shown exactly once; only its hash is stored
	Token string `json:"token"`
}

// signup handles POST /api/v1/accounts. Accounts start on the default tier
// for their category with a trial window; the owner token comes back in
// the response body and is never retrievable again.
func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := httputil.ValidateAll(
		func() error { return httputil.RequireNonEmpty("email", req.Email) },
		func() error { return httputil.RequireNonEmpty("business_name", req.BusinessName) },
	); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	category := tiers.Category(strings.ToLower(req.Category))
	switch category {
	case tiers.CategoryIndividual, tiers.CategorySpecialist, tiers.CategoryGym, tiers.CategoryEnterprise:
	case "":
		category = tiers.CategoryIndividual
	default:
		httputil.WriteValidationError(w, "unknown category: "+req.Category)
		return
	}

	account, err := s.accounts.CreateAccount(r.Context(), req.Email, req.BusinessName, category)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			httputil.WriteConflict(w, "an account with this email already exists")
			return
		}
		httputil.WriteInternalError(w, err, s.cfg.Server.Development)
		return
	}

	_, plaintext, err := s.tokens.CreateToken(r.Context(), account.ID, "owner", []auth.Scope{auth.ScopeAll}, nil)
	if err != nil {
		httputil.WriteInternalError(w, err, s.cfg.Server.Development)
		return
	}

	httputil.WriteCreated(w, signupResponse{Account: account, Token: plaintext})
}

// getAccount handles GET /api/v1/accounts/me
func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	if account == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	httputil.WriteSuccess(w, account)
}

type createTokenRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

type createTokenResponse struct {
	Token     *auth.APIToken `json:"token_info"`
	Plaintext string         `json:"token"`
}

// createToken handles POST /api/v1/tokens
func (s *Server) createToken(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	var req createTokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := httputil.RequireNonEmpty("name", req.Name); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	scopes := make([]auth.Scope, 0, len(req.Scopes))
	for _, raw := range req.Scopes {
		scopes = append(scopes, auth.Scope(raw))
	}
	if len(scopes) == 0 {
		scopes = []auth.Scope{auth.ScopeClientRead, auth.ScopeClientWrite}
	}

	token, plaintext, err := s.tokens.CreateToken(r.Context(), account.ID, req.Name, scopes, nil)
	if err != nil {
		httputil.WriteInternalError(w, err, s.cfg.Server.Development)
		return
	}
	httputil.WriteCreated(w, createTokenResponse{Token: token, Plaintext: plaintext})
}

// listTokens handles GET /api/v1/tokens
func (s *Server) listTokens(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	tokens, err := s.tokens.ListTokens(r.Context(), account.ID)
	if err != nil {
		httputil.WriteInternalError(w, err, s.cfg.Server.Development)
		return
	}
	httputil.WriteSuccess(w, tokens)
}

// revokeToken handles DELETE /api/v1/tokens/{id}
func (s *Server) revokeToken(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	tokenID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.tokens.RevokeToken(r.Context(), account.ID, tokenID); err != nil {
		if err == auth.ErrTokenNotFound {
			httputil.WriteNotFoundError(w, "token not found")
			return
		}
		httputil.WriteInternalError(w, err, s.cfg.Server.Development)
		return
	}
	httputil.WriteNoContent(w)
}
