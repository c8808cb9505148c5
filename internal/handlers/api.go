package handlers

import (
	"context"
	"net/http"

	"github.com/akmatori/nocpilot/internal/analyzer"
	"github.com/akmatori/nocpilot/internal/approval"
	"github.com/akmatori/nocpilot/internal/database"
	"github.com/akmatori/nocpilot/internal/knowledge"
	"github.com/akmatori/nocpilot/internal/pipeline"
)

// AuditReader is the read side of the audit store
type AuditReader interface {
	Summary(ctx context.Context) (database.AuditSummary, error)
	ListApprovals(ctx context.Context, offset, limit int) ([]database.ApprovalRecord, int64, error)
	ListActions(ctx context.Context, offset, limit int) ([]database.ActionRecord, int64, error)
}

// APIHandler handles the JSON API used by the UI and automation clients
type APIHandler struct {
	pipeline *pipeline.Pipeline
	ledger   *approval.Ledger
	kb       *knowledge.KnowledgeBase
	batch    *analyzer.BatchAnalyzer
	audit    AuditReader
}

// NewAPIHandler creates a new API handler. ledger and batch may be nil; the approval and
// dry-run endpoints then answer 503.
func NewAPIHandler(p *pipeline.Pipeline, ledger *approval.Ledger, kb *knowledge.KnowledgeBase, batch *analyzer.BatchAnalyzer) *APIHandler {
	return &APIHandler{
		pipeline: p,
		ledger:   ledger,
		kb:       kb,
		batch:    batch,
	}
}

// SetAuditReader enables the audit endpoints and the audit totals in the approval summary
func (h *APIHandler) SetAuditReader(a AuditReader) {
	h.audit = a
}

// SetupRoutes sets up all API routes
func (h *APIHandler) SetupRoutes(mux *http.ServeMux) {
	// Events
	mux.HandleFunc("POST /api/events", h.handleSubmitEvent)
	mux.HandleFunc("GET /api/events", h.handleListEvents)
	mux.HandleFunc("POST /api/events/analyze", h.handleAnalyzeEvents)
	mux.HandleFunc("GET /api/events/{id}", h.handleGetEvent)

	// Actions
	mux.HandleFunc("GET /api/actions", h.handleListActions)
	mux.HandleFunc("GET /api/actions/audit", h.handleActionAudit)
	mux.HandleFunc("GET /api/actions/{id}", h.handleGetAction)
	mux.HandleFunc("POST /api/actions/{id}/approve", h.handleApproveAction)
	mux.HandleFunc("POST /api/actions/{id}/reject", h.handleRejectAction)

	// Approvals
	mux.HandleFunc("GET /api/approvals/pending", h.handlePendingApprovals)
	mux.HandleFunc("GET /api/approvals/stats/summary", h.handleApprovalStats)
	mux.HandleFunc("GET /api/approvals/audit", h.handleApprovalAudit)
	mux.HandleFunc("GET /api/approvals/{id}", h.handleGetApproval)
	mux.HandleFunc("POST /api/approvals/{id}/approve", h.handleApprove)
	mux.HandleFunc("POST /api/approvals/{id}/reject", h.handleReject)

	// Runbooks
	mux.HandleFunc("GET /api/runbooks", h.handleListRunbooks)
	mux.HandleFunc("POST /api/runbooks", h.handleCreateRunbook)
	mux.HandleFunc("GET /api/runbooks/search", h.handleSearchRunbooks)
	mux.HandleFunc("GET /api/runbooks/{id}", h.handleGetRunbook)
	mux.HandleFunc("PUT /api/runbooks/{id}", h.handleUpdateRunbook)
	mux.HandleFunc("DELETE /api/runbooks/{id}", h.handleDeleteRunbook)

	// Dashboard
	mux.HandleFunc("GET /api/dashboard/stats", h.handleDashboardStats)
}
