package handlers

import (
	"net/http"

	"github.com/akmatori/nocpilot/internal/api"
	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/middleware"
	"github.com/akmatori/nocpilot/internal/models"
)

// defaultResponder is recorded when neither the body nor the auth context names anyone
const defaultResponder = "api"

func (h *APIHandler) requireLedger(w http.ResponseWriter) bool {
	if h.ledger == nil {
		api.RespondErrorWithCode(w, http.StatusServiceUnavailable, "approvals_disabled", "Approval workflow is not enabled")
		return false
	}
	return true
}

// responder picks the explicit name from the body, then the authenticated user
func responder(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if user := middleware.GetUserFromContext(r.Context()); user != "" {
		return user
	}
	return defaultResponder
}

// handlePendingApprovals handles GET /api/approvals/pending
func (h *APIHandler) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	if !h.requireLedger(w) {
		return
	}
	pending := h.ledger.GetPending()
	if pending == nil {
		pending = []*models.ApprovalRequest{}
	}
	api.RespondJSON(w, http.StatusOK, pending)
}

// handleGetApproval handles GET /api/approvals/{id}
func (h *APIHandler) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	if !h.requireLedger(w) {
		return
	}
	req, ok := h.ledger.Get(r.PathValue("id"))
	if !ok {
		api.RespondErrorWithCode(w, http.StatusNotFound, "not_found", "Approval request not found")
		return
	}
	api.RespondJSON(w, http.StatusOK, req)
}

// handleApprove handles POST /api/approvals/{id}/approve
func (h *APIHandler) handleApprove(w http.ResponseWriter, r *http.Request) {
	if !h.requireLedger(w) {
		return
	}

	var body api.ApproveRequest
	if !api.BindOptional(w, r, &body) {
		return
	}

	id := r.PathValue("id")
	decision, err := h.ledger.Approve(r.Context(), id, responder(r, body.Approver), body.Reason)
	if err != nil {
		api.RespondDomainError(w, err)
		return
	}
	logging.Infof("Approval request %s approved by %s", id, decision.Responder)
	api.RespondJSON(w, http.StatusOK, decision)
}

// handleReject handles POST /api/approvals/{id}/reject
func (h *APIHandler) handleReject(w http.ResponseWriter, r *http.Request) {
	if !h.requireLedger(w) {
		return
	}

	var body api.RejectRequest
	if !api.BindOptional(w, r, &body) {
		return
	}

	id := r.PathValue("id")
	decision, err := h.ledger.Reject(r.Context(), id, responder(r, body.Rejector), body.Reason)
	if err != nil {
		api.RespondDomainError(w, err)
		return
	}
	logging.Infof("Approval request %s rejected by %s", id, decision.Responder)
	api.RespondJSON(w, http.StatusOK, decision)
}

// handleApprovalStats handles GET /api/approvals/stats/summary
func (h *APIHandler) handleApprovalStats(w http.ResponseWriter, r *http.Request) {
	if !h.requireLedger(w) {
		return
	}

	resp := api.LedgerStatsToResponse(h.ledger.Stats())
	if h.audit != nil {
		summary, err := h.audit.Summary(r.Context())
		if err != nil {
			logging.Warnf("Failed to load audit summary: %v", err)
		} else {
			resp.Audit = &summary
		}
	}
	api.RespondJSON(w, http.StatusOK, resp)
}

// handleApprovalAudit handles GET /api/approvals/audit?page=&per_page=
func (h *APIHandler) handleApprovalAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		api.RespondErrorWithCode(w, http.StatusServiceUnavailable, "audit_disabled", "Audit store is not configured")
		return
	}
	p := api.ParsePagination(r)
	records, total, err := h.audit.ListApprovals(r.Context(), p.Offset(), p.PerPage)
	if err != nil {
		api.RespondDomainError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.NewPaginatedResponse(records, p, total))
}
