package api

import (
	"errors"
	"net/http"

	"github.com/coachdeck/coachdeck/pkg/accounts"
	"github.com/coachdeck/coachdeck/pkg/clients"
	"github.com/coachdeck/coachdeck/pkg/httputil"
	"github.com/coachdeck/coachdeck/pkg/middleware"
)

// writeClientError maps client-service errors. A capacity rejection comes
// back as the structured 403 restriction payload.
func (s *Server) writeClientError(w http.ResponseWriter, err error) {
	var restriction *accounts.RestrictionError
	switch {
	case errors.As(err, &restriction):
		httputil.WriteRestricted(w, httputil.RestrictionResponse{
			Error:      "client limit reached",
			Reason:     string(restriction.Reason),
			Tier:       restriction.Tier,
			Usage:      restriction.Usage,
			Limit:      restriction.Limit,
			UpgradeURL: restriction.UpgradeURL,
		})
	case errors.Is(err, clients.ErrClientNotFound):
		httputil.WriteNotFoundError(w, "client not found")
	default:
		httputil.WriteInternalError(w, err, s.cfg.Server.Development)
	}
}

// createClient handles POST /api/v1/clients
func (s *Server) createClient(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	var input clients.CreateInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	if err := httputil.RequireNonEmpty("name", input.Name); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	client, err := s.clients.Create(r.Context(), account.ID, input)
	if err != nil {
		s.writeClientError(w, err)
		return
	}
	s.plan.Invalidate(account.ID)
	httputil.WriteCreated(w, client)
}

// listClients handles GET /api/v1/clients?include_archived=true
func (s *Server) listClients(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	includeArchived, err := httputil.ParseQueryBool(r, "include_archived", false)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	limit, offset, err := httputil.ParsePagination(r)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	list, err := s.clients.List(r.Context(), account.ID, includeArchived, limit, offset)
	if err != nil {
		s.writeClientError(w, err)
		return
	}
	if list == nil {
		list = []*clients.Client{}
	}
	httputil.WriteSuccess(w, list)
}

// getClient handles GET /api/v1/clients/{id}
func (s *Server) getClient(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	clientID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	client, err := s.clients.Get(r.Context(), account.ID, clientID)
	if err != nil {
		s.writeClientError(w, err)
		return
	}
	httputil.WriteSuccess(w, client)
}

// archiveClient handles POST /api/v1/clients/{id}/archive. Archiving is a
// soft state change and is always allowed, restricted or not.
func (s *Server) archiveClient(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	clientID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	changed, err := s.clients.Archive(r.Context(), account.ID, clientID)
	if err != nil {
		s.writeClientError(w, err)
		return
	}
	s.plan.Invalidate(account.ID)
	httputil.WriteSuccess(w, map[string]bool{"archived": changed})
}

// reactivateClient handles POST /api/v1/clients/{id}/reactivate. Claims a
// capacity slot, so restricted or full accounts get the 403 payload.
func (s *Server) reactivateClient(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	clientID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.clients.Reactivate(r.Context(), account.ID, clientID); err != nil {
		s.writeClientError(w, err)
		return
	}
	s.plan.Invalidate(account.ID)
	httputil.WriteNoContent(w)
}

type bulkImportRequest struct {
	Clients []clients.CreateInput `json:"clients"`
}

// bulkImport handles POST /api/v1/clients/import. Partial success is
// reported row by row; the import stops at the capacity limit.
func (s *Server) bulkImport(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	var req bulkImportRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Clients) == 0 {
		httputil.WriteValidationError(w, "clients list is empty")
		return
	}

	result, err := s.clients.BulkImport(r.Context(), account.ID, req.Clients)
	if err != nil {
		s.writeClientError(w, err)
		return
	}
	s.plan.Invalidate(account.ID)
	httputil.WriteSuccess(w, result)
}

// touchActivity handles POST /api/v1/clients/{id}/activity. Activity
// recency drives smart-archive ordering.
func (s *Server) touchActivity(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	clientID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.clients.TouchActivity(r.Context(), account.ID, clientID); err != nil {
		s.writeClientError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// archiveRecommendations handles GET /api/v1/clients/archive-recommendations
func (s *Server) archiveRecommendations(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	plan, err := s.clients.PlanSmartArchive(r.Context(), account.ID)
	if err != nil {
		s.writeClientError(w, err)
		return
	}
	httputil.WriteSuccess(w, plan)
}

// smartArchive handles POST /api/v1/clients/smart-archive: notify the
// account and schedule the overage clients for archive.
func (s *Server) smartArchive(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	plan, err := s.clients.ExecuteSmartArchive(r.Context(), account.ID)
	if err != nil {
		s.writeClientError(w, err)
		return
	}
	httputil.WriteSuccess(w, plan)
}
