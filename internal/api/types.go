package api

import (
	"time"

	"github.com/akmatori/nocpilot/internal/database"
	"github.com/akmatori/nocpilot/internal/knowledge"
	"github.com/akmatori/nocpilot/internal/models"
	"github.com/akmatori/nocpilot/internal/pipeline"
)

// ========== Event Types ==========

// SubmitEventRequest is the request body for POST /api/events.
type SubmitEventRequest struct {
	ID          string                 `json:"id" validate:"omitempty,max=128"`
	Source      string                 `json:"source" validate:"omitempty,event_source"`
	Severity    string                 `json:"severity" validate:"required,severity"`
	Title       string                 `json:"title" validate:"required,max=512"`
	Description string                 `json:"description"`
	Labels      map[string]string      `json:"labels"`
	RawData     map[string]interface{} `json:"raw_data"`
	Timestamp   *time.Time             `json:"timestamp"`
}

// SubmitEventResponse is the response body for POST /api/events and the webhooks.
type SubmitEventResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// WebhookResponse reports how many events a webhook payload produced.
type WebhookResponse struct {
	EventIDs []string `json:"event_ids"`
	Accepted int      `json:"accepted"`
	Failed   int      `json:"failed"`
}

// EventDetailResponse is the response body for GET /api/events/{id}.
type EventDetailResponse struct {
	Event    *models.Event               `json:"event"`
	Analysis *models.AIAnalysis          `json:"analysis,omitempty"`
	Actions  []*models.RemediationAction `json:"actions"`
}

// AnalyzeRequest is the request body for POST /api/events/analyze.
type AnalyzeRequest struct {
	Events []SubmitEventRequest `json:"events" validate:"required,min=1,max=50,dive"`
}

// AnalyzeResponse is the response body for POST /api/events/analyze.
type AnalyzeResponse struct {
	Analyses []*models.AIAnalysis `json:"analyses"`
}

// ========== Action Types ==========

// ActionResponse is an action with the approval request that gates it, if any.
type ActionResponse struct {
	*models.RemediationAction
	ApprovalRequestID string `json:"approval_request_id,omitempty"`
}

// ========== Approval Types ==========

// ApproveRequest is the optional body for POST /api/approvals/{id}/approve.
type ApproveRequest struct {
	Approver string `json:"approver" validate:"omitempty,max=255"`
	Reason   string `json:"reason" validate:"omitempty,max=2048"`
}

// RejectRequest is the optional body for POST /api/approvals/{id}/reject.
type RejectRequest struct {
	Rejector string `json:"rejector" validate:"omitempty,max=255"`
	Reason   string `json:"reason" validate:"omitempty,max=2048"`
}

// ApprovalStatsResponse is the response body for GET /api/approvals/stats/summary.
type ApprovalStatsResponse struct {
	Pending         int                    `json:"pending"`
	PendingByAction map[string]int         `json:"pending_by_action"`
	ResolvedCounts  map[string]int         `json:"resolved_by_status"`
	Audit           *database.AuditSummary `json:"audit,omitempty"`
}

// ========== Dashboard Types ==========

// DashboardStats is the response body for GET /api/dashboard/stats.
type DashboardStats struct {
	TotalEvents     int `json:"total_events"`
	TotalActions    int `json:"total_actions"`
	PendingActions  int `json:"pending_actions"`
	SuccessfulCount int `json:"successful_actions"`
	FailedCount     int `json:"failed_actions"`
	QueueDepth      int `json:"queue_depth"`
	PendingApproval int `json:"pending_approvals"`
}

// ========== Runbook Types ==========

// RunbookSearchResponse is the response body for GET /api/runbooks/search.
type RunbookSearchResponse struct {
	Query   string                   `json:"query"`
	Results []knowledge.SearchResult `json:"results"`
}

// ========== Pagination Types ==========

// PaginationMeta contains pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// PaginatedResponse wraps a list response with pagination metadata.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// StatsToDashboard copies pipeline counters into the dashboard response.
func StatsToDashboard(s pipeline.Stats, pendingApprovals int) DashboardStats {
	return DashboardStats{
		TotalEvents:     s.TotalEvents,
		TotalActions:    s.TotalActions,
		PendingActions:  s.Pending,
		SuccessfulCount: s.Successful,
		FailedCount:     s.Failed,
		QueueDepth:      s.QueueDepth,
		PendingApproval: pendingApprovals,
	}
}
