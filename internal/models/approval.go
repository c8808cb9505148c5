package models

import "time"

// ApprovalStatus is the lifecycle state of an approval request
type ApprovalStatus string

const (
	ApprovalPending      ApprovalStatus = "pending"
	ApprovalApproved     ApprovalStatus = "approved"
	ApprovalRejected     ApprovalStatus = "rejected"
	ApprovalExpired      ApprovalStatus = "expired"
	ApprovalAutoApproved ApprovalStatus = "auto_approved"
)

// ApprovalRequest tracks whether a non-auto-approved action may proceed
type ApprovalRequest struct {
	ID              string                 `json:"id"`
	Action          *RemediationAction     `json:"action"`
	Event           *Event                 `json:"event"`
	Analysis        *AIAnalysis            `json:"analysis"`
	Status          ApprovalStatus         `json:"status"`
	CreatedAt       time.Time              `json:"created_at"`
	ExpiresAt       time.Time              `json:"expires_at"`
	ApprovedBy      string                 `json:"approved_by,omitempty"`
	RejectedBy      string                 `json:"rejected_by,omitempty"`
	RejectionReason string                 `json:"rejection_reason,omitempty"`
	NotificationRef string                 `json:"notification_ref,omitempty"`
	Metadata        map[string]interface{} `json:"metadata"`
}

// Resolver returns whoever resolved the request
func (r *ApprovalRequest) Resolver() string {
	if r.ApprovedBy != "" {
		return r.ApprovedBy
	}
	return r.RejectedBy
}

// Clone returns a copy safe to hand out of the ledger
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Action = r.Action.Clone()
	c.Metadata = cloneMap(r.Metadata)
	return &c
}
