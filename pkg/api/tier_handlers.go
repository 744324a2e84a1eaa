package api

import (
	"net/http"

	"github.com/coachdeck/coachdeck/pkg/httputil"
	"github.com/coachdeck/coachdeck/pkg/middleware"
	"github.com/coachdeck/coachdeck/pkg/tiers"
)

// listTiers handles GET /api/v1/tiers. Public: pricing pages read this.
func (s *Server) listTiers(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, s.registry.List())
}

type recommendationResponse struct {
	CurrentTier   string     `json:"current_tier"`
	ActiveClients int64      `json:"active_clients"`
	Recommended   tiers.Tier `json:"recommended"`
	UpgradeURL    string     `json:"upgrade_url"`
}

// recommendTier handles GET /api/v1/billing/recommendation. The suggestion
// leaves growth headroom above the current active count.
func (s *Server) recommendTier(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)

	count, err := s.accounts.ActiveClientCount(r.Context(), account.ID)
	if err != nil {
		httputil.WriteInternalError(w, err, s.cfg.Server.Development)
		return
	}

	httputil.WriteSuccess(w, recommendationResponse{
		CurrentTier:   account.TierID,
		ActiveClients: count,
		Recommended:   s.registry.Recommend(count),
		UpgradeURL:    s.cfg.Billing.UpgradeURL,
	})
}
