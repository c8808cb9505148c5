package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/models"
)

// SystemResolver is recorded as the resolver for auto-approvals and expiries
const SystemResolver = "system"

const maxResolvedHistory = 5000

var (
	// ErrValidation is the parent of every caller-visible ledger error
	ErrValidation = errors.New("approval validation error")
	// ErrRequestNotFound is returned for ids the ledger has never seen (or has evicted)
	ErrRequestNotFound = fmt.Errorf("%w: approval request not found", ErrValidation)
	// ErrRequestNotPending is returned when a request was already resolved
	ErrRequestNotPending = fmt.Errorf("%w: approval request is not pending", ErrValidation)
)

// Notifier surfaces approval requests to humans. Implementations are best-effort.
type Notifier interface {
	// NotifyRequest announces a new pending request and returns a correlation token
	NotifyRequest(ctx context.Context, req *models.ApprovalRequest) (string, error)
	// UpdateStatus edits the announcement once the request is resolved
	UpdateStatus(ctx context.Context, req *models.ApprovalRequest, approved bool, responder, reason string) (bool, error)
}

// Callback is invoked with a resolved request. A returned error is logged and never
// rolls back the decision.
type Callback func(ctx context.Context, req *models.ApprovalRequest) error

// Decision describes the outcome of Approve or Reject
type Decision struct {
	RequestID string    `json:"request_id"`
	Approved  bool      `json:"approved"`
	Responder string    `json:"responder"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats summarizes ledger contents
type Stats struct {
	Pending         int                           `json:"pending"`
	PendingByAction map[models.ActionType]int     `json:"pending_by_action"`
	Resolved        map[models.ApprovalStatus]int `json:"resolved"`
}

// Ledger holds pending approval requests and applies decisions to them.
// Approve, Reject and Expire check and change status under one mutex, so exactly one of
// them wins for a given request.
type Ledger struct {
	cfg Config

	mu            sync.Mutex
	notifier      Notifier
	pending       map[string]*models.ApprovalRequest
	resolved      map[string]*models.ApprovalRequest
	resolvedOrder []string

	cbMu       sync.RWMutex
	onApproved []Callback
	onRejected []Callback

	now func() time.Time
}

// NewLedger creates a ledger. notifier may be nil.
func NewLedger(cfg Config, notifier Notifier) *Ledger {
	return &Ledger{
		cfg:      cfg,
		notifier: notifier,
		pending:  make(map[string]*models.ApprovalRequest),
		resolved: make(map[string]*models.ApprovalRequest),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Config returns the policy the ledger evaluates against
func (l *Ledger) Config() Config {
	return l.cfg
}

// SetNotifier swaps the notification channel, e.g. after Slack settings change
func (l *Ledger) SetNotifier(n Notifier) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notifier = n
}

// OnApproved registers a subscriber for approvals and auto-approvals
func (l *Ledger) OnApproved(fn Callback) {
	l.cbMu.Lock()
	defer l.cbMu.Unlock()
	l.onApproved = append(l.onApproved, fn)
}

// OnRejected registers a subscriber for rejections and expiries
func (l *Ledger) OnRejected(fn Callback) {
	l.cbMu.Lock()
	defer l.cbMu.Unlock()
	l.onRejected = append(l.onRejected, fn)
}

// Request evaluates the policy for an action. Auto-approved requests are returned in
// auto_approved status after the approval callbacks have run. Everything else is stored as
// pending until a decision or expiry.
func (l *Ledger) Request(ctx context.Context, action *models.RemediationAction, event *models.Event, analysis *models.AIAnalysis) (*models.ApprovalRequest, error) {
	if action == nil || event == nil || analysis == nil {
		return nil, fmt.Errorf("%w: action, event and analysis are required", ErrValidation)
	}

	now := l.now()
	autoApprove, reason := Evaluate(action, event, analysis, l.cfg)

	req := &models.ApprovalRequest{
		ID:        uuid.New().String(),
		Action:    action.Clone(),
		Event:     event,
		Analysis:  analysis,
		Status:    models.ApprovalPending,
		CreatedAt: now,
		ExpiresAt: now.Add(l.cfg.Timeout),
		Metadata:  map[string]interface{}{"policy_reason": reason},
	}

	if autoApprove {
		req.Status = models.ApprovalAutoApproved
		req.ApprovedBy = SystemResolver
		req.Metadata["auto_approve_reason"] = reason

		l.mu.Lock()
		l.rememberLocked(req)
		snapshot := req.Clone()
		l.mu.Unlock()

		logging.Infof("ApprovalLedger: auto-approved request %s for %s action %s: %s",
			req.ID, action.ActionType, action.ID, reason)
		l.fire(ctx, models.ApprovalAutoApproved, snapshot)
		return snapshot, nil
	}

	l.mu.Lock()
	l.pending[req.ID] = req
	notifier := l.notifier
	snapshot := req.Clone()
	l.mu.Unlock()

	if notifier != nil {
		ref, err := notifier.NotifyRequest(ctx, snapshot)
		if err != nil {
			logging.Errorf("ApprovalLedger: failed to send notification for request %s: %v", req.ID, err)
		} else if ref != "" {
			l.mu.Lock()
			req.NotificationRef = ref
			snapshot.NotificationRef = ref
			var resolved *models.ApprovalRequest
			if req.Status != models.ApprovalPending {
				resolved = req.Clone()
			}
			l.mu.Unlock()

			// decided while the message was in flight; the resolver saw no ref
			if resolved != nil {
				l.updateResolvedNotification(ctx, resolved)
			}
		}
	}

	logging.Infof("ApprovalLedger: approval requested %s for %s action %s (expires %s): %s",
		req.ID, action.ActionType, action.ID, req.ExpiresAt.Format(time.RFC3339), reason)
	return snapshot, nil
}

// Approve resolves a pending request as approved and runs the approval callbacks
func (l *Ledger) Approve(ctx context.Context, id, approver, reason string) (Decision, error) {
	req, err := l.resolve(id, func(r *models.ApprovalRequest) {
		r.Status = models.ApprovalApproved
		r.ApprovedBy = approver
		if reason != "" {
			r.Metadata["approval_reason"] = reason
		}
	})
	if err != nil {
		return Decision{}, err
	}

	l.updateNotification(ctx, req, true, approver, reason)
	l.fire(ctx, models.ApprovalApproved, req)

	logging.Infof("ApprovalLedger: request %s approved by %s (%s)", id, approver, req.Action.ActionType)
	return Decision{RequestID: id, Approved: true, Responder: approver, Reason: reason, Timestamp: l.now()}, nil
}

// Reject resolves a pending request as rejected and runs the rejection callbacks
func (l *Ledger) Reject(ctx context.Context, id, rejector, reason string) (Decision, error) {
	req, err := l.resolve(id, func(r *models.ApprovalRequest) {
		r.Status = models.ApprovalRejected
		r.RejectedBy = rejector
		r.RejectionReason = reason
	})
	if err != nil {
		return Decision{}, err
	}

	l.updateNotification(ctx, req, false, rejector, reason)
	l.fire(ctx, models.ApprovalRejected, req)

	logging.Infof("ApprovalLedger: request %s rejected by %s (%s): %s", id, rejector, req.Action.ActionType, reason)
	return Decision{RequestID: id, Approved: false, Responder: rejector, Reason: reason, Timestamp: l.now()}, nil
}

// Expire force-resolves a pending request as expired. Expired actions are treated as
// rejected and the rejection callbacks run.
func (l *Ledger) Expire(ctx context.Context, id string) error {
	req, err := l.resolve(id, func(r *models.ApprovalRequest) {
		r.Status = models.ApprovalExpired
		r.RejectedBy = SystemResolver
		r.RejectionReason = "Request expired"
	})
	if err != nil {
		return err
	}

	l.updateNotification(ctx, req, false, SystemResolver, req.RejectionReason)
	l.fire(ctx, models.ApprovalExpired, req)

	logging.Warnf("ApprovalLedger: request %s expired (%s action %s)", id, req.Action.ActionType, req.Action.ID)
	return nil
}

// Overdue returns the ids of pending requests whose expiry is at or before now
func (l *Ledger) Overdue(now time.Time) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ids []string
	for id, req := range l.pending {
		if !req.ExpiresAt.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// GetPending returns the pending requests, oldest first
func (l *Ledger) GetPending() []*models.ApprovalRequest {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*models.ApprovalRequest, 0, len(l.pending))
	for _, req := range l.pending {
		out = append(out, req.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get returns a pending or recently resolved request
func (l *Ledger) Get(id string) (*models.ApprovalRequest, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if req, ok := l.pending[id]; ok {
		return req.Clone(), true
	}
	if req, ok := l.resolved[id]; ok {
		return req.Clone(), true
	}
	return nil, false
}

// Stats counts pending requests by action type and resolved requests by status
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{
		Pending:         len(l.pending),
		PendingByAction: make(map[models.ActionType]int),
		Resolved:        make(map[models.ApprovalStatus]int),
	}
	for _, req := range l.pending {
		s.PendingByAction[req.Action.ActionType]++
	}
	for _, req := range l.resolved {
		s.Resolved[req.Status]++
	}
	return s
}

// resolve applies mutate to a pending request and moves it to the resolved set.
// The returned request is a snapshot safe to use without the lock.
func (l *Ledger) resolve(id string, mutate func(*models.ApprovalRequest)) (*models.ApprovalRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	req, ok := l.pending[id]
	if !ok {
		if _, done := l.resolved[id]; done {
			return nil, fmt.Errorf("%w: %s", ErrRequestNotPending, id)
		}
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	if req.Status != models.ApprovalPending {
		return nil, fmt.Errorf("%w: %s (status: %s)", ErrRequestNotPending, id, req.Status)
	}

	mutate(req)
	delete(l.pending, id)
	l.rememberLocked(req)
	return req.Clone(), nil
}

func (l *Ledger) rememberLocked(req *models.ApprovalRequest) {
	l.resolved[req.ID] = req
	l.resolvedOrder = append(l.resolvedOrder, req.ID)
	for len(l.resolvedOrder) > maxResolvedHistory {
		delete(l.resolved, l.resolvedOrder[0])
		l.resolvedOrder = l.resolvedOrder[1:]
	}
}

func (l *Ledger) updateNotification(ctx context.Context, req *models.ApprovalRequest, approved bool, responder, reason string) {
	l.mu.Lock()
	notifier := l.notifier
	l.mu.Unlock()

	if notifier == nil || req.NotificationRef == "" {
		return
	}
	if _, err := notifier.UpdateStatus(ctx, req, approved, responder, reason); err != nil {
		logging.Errorf("ApprovalLedger: failed to update notification for request %s: %v", req.ID, err)
	}
}

func (l *Ledger) updateResolvedNotification(ctx context.Context, req *models.ApprovalRequest) {
	if req.Status == models.ApprovalApproved {
		reason, _ := req.Metadata["approval_reason"].(string)
		l.updateNotification(ctx, req, true, req.ApprovedBy, reason)
		return
	}
	l.updateNotification(ctx, req, false, req.RejectedBy, req.RejectionReason)
}

// fire runs every subscriber for the resolution, isolating errors and panics per subscriber
func (l *Ledger) fire(ctx context.Context, status models.ApprovalStatus, req *models.ApprovalRequest) {
	l.cbMu.RLock()
	var callbacks []Callback
	if status == models.ApprovalApproved || status == models.ApprovalAutoApproved {
		callbacks = append(callbacks, l.onApproved...)
	} else {
		callbacks = append(callbacks, l.onRejected...)
	}
	l.cbMu.RUnlock()

	for i, cb := range callbacks {
		if err := invoke(ctx, cb, req); err != nil {
			logging.Errorf("ApprovalLedger: %s callback %d failed for request %s: %v", status, i, req.ID, err)
		}
	}
}

func invoke(ctx context.Context, cb Callback, req *models.ApprovalRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return cb(ctx, req)
}
