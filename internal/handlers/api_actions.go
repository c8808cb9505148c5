package handlers

import (
	"net/http"

	"github.com/akmatori/nocpilot/internal/api"
	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/middleware"
	"github.com/akmatori/nocpilot/internal/models"
)

func (h *APIHandler) actionResponse(a *models.RemediationAction) api.ActionResponse {
	requestID, _ := h.pipeline.ApprovalRequestID(a.ID)
	return api.ActionToResponse(a, requestID)
}

// handleListActions handles GET /api/actions?limit=
func (h *APIHandler) handleListActions(w http.ResponseWriter, r *http.Request) {
	actions := h.pipeline.ListActions(api.ParseLimit(r))
	resp := make([]api.ActionResponse, 0, len(actions))
	for _, a := range actions {
		resp = append(resp, h.actionResponse(a))
	}
	api.RespondJSON(w, http.StatusOK, resp)
}

// handleGetAction handles GET /api/actions/{id}
func (h *APIHandler) handleGetAction(w http.ResponseWriter, r *http.Request) {
	a, err := h.pipeline.GetAction(r.PathValue("id"))
	if err != nil {
		api.RespondDomainError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, h.actionResponse(a))
}

// handleApproveAction handles POST /api/actions/{id}/approve. Only available when no
// approval ledger is attached; otherwise decisions go through /api/approvals.
func (h *APIHandler) handleApproveAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, err := h.pipeline.ApproveAction(r.Context(), id)
	if err != nil {
		api.RespondDomainError(w, err)
		return
	}
	logging.Infof("Action %s approved directly by %s", id, middleware.GetUserFromContext(r.Context()))
	api.RespondJSON(w, http.StatusOK, h.actionResponse(a))
}

// handleRejectAction handles POST /api/actions/{id}/reject
func (h *APIHandler) handleRejectAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, err := h.pipeline.RejectAction(r.Context(), id)
	if err != nil {
		api.RespondDomainError(w, err)
		return
	}
	logging.Infof("Action %s rejected directly by %s", id, middleware.GetUserFromContext(r.Context()))
	api.RespondJSON(w, http.StatusOK, h.actionResponse(a))
}

// handleActionAudit handles GET /api/actions/audit?page=&per_page=
func (h *APIHandler) handleActionAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		api.RespondErrorWithCode(w, http.StatusServiceUnavailable, "audit_disabled", "Audit store is not configured")
		return
	}
	p := api.ParsePagination(r)
	records, total, err := h.audit.ListActions(r.Context(), p.Offset(), p.PerPage)
	if err != nil {
		api.RespondDomainError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.NewPaginatedResponse(records, p, total))
}
