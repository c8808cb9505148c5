package pipeline

import (
	"time"

	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/models"
)

// NotificationKind names a pipeline lifecycle change
type NotificationKind string

const (
	EventSubmitted    NotificationKind = "event_submitted"
	AnalysisCompleted NotificationKind = "analysis_completed"
	ActionCreated     NotificationKind = "action_created"
	ActionUpdated     NotificationKind = "action_updated"
	ApprovalRequested NotificationKind = "approval_requested"
	ApprovalResolved  NotificationKind = "approval_resolved"
)

// Notification is delivered to listeners for every lifecycle change
type Notification struct {
	Kind      NotificationKind          `json:"kind"`
	EventID   string                    `json:"event_id"`
	Event     *models.Event             `json:"event,omitempty"`
	Analysis  *models.AIAnalysis        `json:"analysis,omitempty"`
	Action    *models.RemediationAction `json:"action,omitempty"`
	Approval  *models.ApprovalRequest   `json:"approval,omitempty"`
	Timestamp time.Time                 `json:"timestamp"`
}

// Listener receives pipeline notifications. Listeners run synchronously on the goroutine
// that caused the change and must not call back into the pipeline's mutating methods.
type Listener func(n Notification)

// AddListener subscribes fn to every notification
func (p *Pipeline) AddListener(fn Listener) {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *Pipeline) publish(n Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	p.listenersMu.RLock()
	listeners := append([]Listener(nil), p.listeners...)
	p.listenersMu.RUnlock()

	for _, fn := range listeners {
		deliver(fn, n)
	}
}

func deliver(fn Listener, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("Pipeline: listener panic on %s for event %s: %v", n.Kind, n.EventID, r)
		}
	}()
	fn(n)
}
