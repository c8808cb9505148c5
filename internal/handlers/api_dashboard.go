package handlers

import (
	"net/http"

	"github.com/akmatori/nocpilot/internal/api"
)

// handleDashboardStats handles GET /api/dashboard/stats
func (h *APIHandler) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	pendingApprovals := 0
	if h.ledger != nil {
		pendingApprovals = h.ledger.Stats().Pending
	}
	api.RespondJSON(w, http.StatusOK, api.StatsToDashboard(h.pipeline.Stats(), pendingApprovals))
}
