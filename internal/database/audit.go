package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/models"
	"github.com/akmatori/nocpilot/internal/pipeline"
)

const defaultAuditQueue = 1024

// AuditStore persists approval resolutions and terminal actions
type AuditStore struct {
	db    *gorm.DB
	queue chan pipeline.Notification
}

// NewAuditStore creates an audit store on db
func NewAuditStore(db *gorm.DB) *AuditStore {
	return &AuditStore{
		db:    db,
		queue: make(chan pipeline.Notification, defaultAuditQueue),
	}
}

// RecordApproval upserts the audit row for a resolved request
func (s *AuditStore) RecordApproval(ctx context.Context, req *models.ApprovalRequest, resolvedAt time.Time) error {
	rec := NewApprovalRecord(req, resolvedAt)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "request_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "resolver", "reason", "resolved_at", "metadata", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to record approval %s: %w", req.ID, err)
	}
	return nil
}

// RecordAction upserts the audit row for a terminal action
func (s *AuditStore) RecordAction(ctx context.Context, action *models.RemediationAction, completedAt time.Time) error {
	rec := NewActionRecord(action, completedAt)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "action_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "result", "error", "executed_at", "completed_at", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to record action %s: %w", action.ID, err)
	}
	return nil
}

// Listener enqueues audit-relevant notifications without blocking the pipeline.
// Notifications are dropped with a warning when the queue is full.
func (s *AuditStore) Listener() pipeline.Listener {
	return func(n pipeline.Notification) {
		if !auditable(n) {
			return
		}
		select {
		case s.queue <- n:
		default:
			logging.Warnf("AuditStore: queue full, dropping %s for event %s", n.Kind, n.EventID)
		}
	}
}

func auditable(n pipeline.Notification) bool {
	switch n.Kind {
	case pipeline.ApprovalResolved:
		return n.Approval != nil
	case pipeline.ActionUpdated:
		return n.Action != nil && n.Action.Status.IsTerminal()
	}
	return false
}

// Run writes queued notifications until ctx is done, then drains what is left
func (s *AuditStore) Run(ctx context.Context) {
	for {
		select {
		case n := <-s.queue:
			s.persist(ctx, n)
		case <-ctx.Done():
			for {
				select {
				case n := <-s.queue:
					s.persist(context.Background(), n)
				default:
					return
				}
			}
		}
	}
}

func (s *AuditStore) persist(ctx context.Context, n pipeline.Notification) {
	var err error
	switch n.Kind {
	case pipeline.ApprovalResolved:
		err = s.RecordApproval(ctx, n.Approval, n.Timestamp)
	case pipeline.ActionUpdated:
		err = s.RecordAction(ctx, n.Action, n.Timestamp)
	}
	if err != nil {
		logging.Errorf("AuditStore: %v", err)
	}
}

// AuditSummary counts audit rows by status
type AuditSummary struct {
	ApprovalsByStatus map[string]int64 `json:"approvals_by_status"`
	ActionsByStatus   map[string]int64 `json:"actions_by_status"`
	TotalApprovals    int64            `json:"total_approvals"`
	TotalActions      int64            `json:"total_actions"`
}

type statusCount struct {
	Status string
	Count  int64
}

// Summary returns counts by status for both tables
func (s *AuditStore) Summary(ctx context.Context) (AuditSummary, error) {
	summary := AuditSummary{
		ApprovalsByStatus: map[string]int64{},
		ActionsByStatus:   map[string]int64{},
	}

	var rows []statusCount
	if err := s.db.WithContext(ctx).Model(&ApprovalRecord{}).
		Select("status, count(*) as count").Group("status").Scan(&rows).Error; err != nil {
		return summary, fmt.Errorf("failed to count approvals: %w", err)
	}
	for _, r := range rows {
		summary.ApprovalsByStatus[r.Status] = r.Count
		summary.TotalApprovals += r.Count
	}

	rows = nil
	if err := s.db.WithContext(ctx).Model(&ActionRecord{}).
		Select("status, count(*) as count").Group("status").Scan(&rows).Error; err != nil {
		return summary, fmt.Errorf("failed to count actions: %w", err)
	}
	for _, r := range rows {
		summary.ActionsByStatus[r.Status] = r.Count
		summary.TotalActions += r.Count
	}
	return summary, nil
}

// ListApprovals returns resolved approvals, newest first
func (s *AuditStore) ListApprovals(ctx context.Context, offset, limit int) ([]ApprovalRecord, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&ApprovalRecord{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var records []ApprovalRecord
	err := s.db.WithContext(ctx).Order("resolved_at DESC").Offset(offset).Limit(limit).Find(&records).Error
	return records, total, err
}

// ListActions returns terminal actions, newest first
func (s *AuditStore) ListActions(ctx context.Context, offset, limit int) ([]ActionRecord, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&ActionRecord{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var records []ActionRecord
	err := s.db.WithContext(ctx).Order("completed_at DESC").Offset(offset).Limit(limit).Find(&records).Error
	return records, total, err
}

// Purge deletes rows resolved or completed before cutoff and returns how many went
func (s *AuditStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("resolved_at < ?", cutoff).Delete(&ApprovalRecord{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected

		res = tx.Where("completed_at < ?", cutoff).Delete(&ActionRecord{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit records: %w", err)
	}
	return removed, nil
}
