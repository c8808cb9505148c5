package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/akmatori/nocpilot/internal/models"
)

// JSONB is a map stored as a JSON column (jsonb on PostgreSQL, text on SQLite)
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*j = make(map[string]interface{})
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(raw, j)
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// ApprovalRecord is the audit row for one resolved approval request
type ApprovalRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	RequestID   string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"`
	ActionID    string    `gorm:"type:varchar(64);index" json:"action_id"`
	EventID     string    `gorm:"type:varchar(64);index" json:"event_id"`
	ActionType  string    `gorm:"type:varchar(50);index" json:"action_type"`
	Status      string    `gorm:"type:varchar(20);index;not null" json:"status"`
	Resolver    string    `gorm:"type:varchar(255)" json:"resolver"`
	Reason      string    `gorm:"type:text" json:"reason,omitempty"`
	EventTitle  string    `gorm:"type:varchar(255)" json:"event_title"`
	Severity    string    `gorm:"type:varchar(20)" json:"severity"`
	Confidence  float64   `json:"confidence"`
	RequestedAt time.Time `json:"requested_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	ResolvedAt  time.Time `gorm:"index" json:"resolved_at"`
	Metadata    JSONB     `gorm:"type:jsonb" json:"metadata"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName overrides for explicit table naming
func (ApprovalRecord) TableName() string {
	return "approval_records"
}

// NewApprovalRecord flattens a resolved request
func NewApprovalRecord(req *models.ApprovalRequest, resolvedAt time.Time) *ApprovalRecord {
	rec := &ApprovalRecord{
		RequestID:   req.ID,
		Status:      string(req.Status),
		Resolver:    req.Resolver(),
		Reason:      req.RejectionReason,
		RequestedAt: req.CreatedAt,
		ExpiresAt:   req.ExpiresAt,
		ResolvedAt:  resolvedAt,
		Metadata:    JSONB(req.Metadata),
	}
	if req.Action != nil {
		rec.ActionID = req.Action.ID
		rec.EventID = req.Action.EventID
		rec.ActionType = string(req.Action.ActionType)
		rec.Confidence = req.Action.Confidence
	}
	if req.Event != nil {
		rec.EventTitle = req.Event.Title
		rec.Severity = string(req.Event.Severity)
	}
	return rec
}

// ActionRecord is the audit row for one action that reached a terminal state
type ActionRecord struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ActionID    string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"action_id"`
	EventID     string     `gorm:"type:varchar(64);index" json:"event_id"`
	ActionType  string     `gorm:"type:varchar(50);index" json:"action_type"`
	Status      string     `gorm:"type:varchar(20);index;not null" json:"status"`
	Confidence  float64    `json:"confidence"`
	Parameters  JSONB      `gorm:"type:jsonb" json:"parameters"`
	Result      JSONB      `gorm:"type:jsonb" json:"result"`
	Error       string     `gorm:"type:text" json:"error,omitempty"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	CompletedAt time.Time  `gorm:"index" json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName overrides for explicit table naming
func (ActionRecord) TableName() string {
	return "action_records"
}

// NewActionRecord flattens a terminal action
func NewActionRecord(a *models.RemediationAction, completedAt time.Time) *ActionRecord {
	return &ActionRecord{
		ActionID:    a.ID,
		EventID:     a.EventID,
		ActionType:  string(a.ActionType),
		Status:      string(a.Status),
		Confidence:  a.Confidence,
		Parameters:  JSONB(a.Parameters),
		Result:      JSONB(a.Result),
		Error:       a.Error,
		ExecutedAt:  a.ExecutedAt,
		CompletedAt: completedAt,
	}
}
