package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/coachdeck/coachdeck/pkg/accounts"
	"github.com/coachdeck/coachdeck/pkg/httputil"
	"github.com/coachdeck/coachdeck/pkg/tiers"
)

// planCacheTTL bounds how stale the plan headers may be. Enforcement never
// relies on the cache; the capacity claim itself is transactional.
const planCacheTTL = 30 * time.Second

type planInfo struct {
	usage int64
	limit int64
}

// PlanMiddleware decorates authenticated responses with plan headers and
// blocks creation-type routes for restricted accounts. Reads always pass.
type PlanMiddleware struct {
	accounts   accounts.Service
	registry   *tiers.Registry
	cache      *expirable.LRU[int64, planInfo]
	upgradeURL string
}

// NewPlanMiddleware creates the plan header / restriction middleware
func NewPlanMiddleware(accountSvc accounts.Service, registry *tiers.Registry, upgradeURL string) *PlanMiddleware {
	return &PlanMiddleware{
		accounts:   accountSvc,
		registry:   registry,
		cache:      expirable.NewLRU[int64, planInfo](4096, nil, planCacheTTL),
		upgradeURL: upgradeURL,
	}
}

func (m *PlanMiddleware) plan(ctx context.Context, account *accounts.Account) planInfo {
	if info, ok := m.cache.Get(account.ID); ok {
		return info
	}

	info := planInfo{limit: tiers.UnlimitedClients}
	if tier, err := m.registry.Get(account.TierID); err == nil {
		info.limit = tier.ClientLimit
	}
	if usage, err := m.accounts.ActiveClientCount(ctx, account.ID); err == nil {
		info.usage = usage
	}
	m.cache.Add(account.ID, info)
	return info
}

// Invalidate drops the cached plan info after a usage-changing operation
func (m *PlanMiddleware) Invalidate(accountID int64) {
	m.cache.Remove(accountID)
}

// Headers attaches the plan headers to every response. Must run after
// AccountMiddleware.
func (m *PlanMiddleware) Headers(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := GetAccount(r)
		if account != nil {
			info := m.plan(r.Context(), account)
			httputil.SetPlanHeaders(w, account.TierID, info.usage, info.limit, account.Restricted)
		}
		next.ServeHTTP(w, r)
	})
}

// Enforce blocks restricted accounts. Wrap it around creation-type routes
// only; restricted accounts keep full read access to their data.
func (m *PlanMiddleware) Enforce(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := GetAccount(r)
		if account == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		if account.Restricted {
			reason := string(accounts.ReasonCapacityExceeded)
			if account.RestrictionReason != nil {
				reason = string(*account.RestrictionReason)
			}
			info := m.plan(r.Context(), account)
			httputil.WriteRestricted(w, httputil.RestrictionResponse{
				Error:      "account is restricted",
				Reason:     reason,
				Tier:       account.TierID,
				Usage:      info.usage,
				Limit:      info.limit,
				UpgradeURL: m.upgradeURL,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
