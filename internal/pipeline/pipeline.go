package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/akmatori/nocpilot/internal/actions"
	"github.com/akmatori/nocpilot/internal/approval"
	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/models"
)

// DefaultMaxQueue bounds how many submitted events may wait for the consumer
const DefaultMaxQueue = 10000

var (
	// ErrValidation is the parent of caller-visible pipeline errors
	ErrValidation = errors.New("pipeline validation error")
	// ErrActionNotFound is returned for unknown action ids
	ErrActionNotFound = fmt.Errorf("%w: action not found", ErrValidation)
	// ErrActionNotPending is returned when a legacy decision targets a non-pending action
	ErrActionNotPending = fmt.Errorf("%w: action is not pending", ErrValidation)
	// ErrLedgerAttached is returned by the legacy decision calls once a ledger is attached
	ErrLedgerAttached = fmt.Errorf("%w: direct decisions are disabled while the approval ledger is attached", ErrValidation)
	// ErrQueueFull is returned by Submit when the backlog reached its limit
	ErrQueueFull = errors.New("event queue is full")
)

// Label keys copied from an event into action parameters when the analysis omits them
var targetLabelKeys = []string{"namespace", "pod", "deployment", "host", "instance", "device"}

// Analyzer turns an event into a recommendation. It must not fail: on internal errors it
// returns a degraded analysis instead.
type Analyzer interface {
	Analyze(ctx context.Context, event *models.Event) *models.AIAnalysis
}

// Stats summarizes the pipeline stores
type Stats struct {
	TotalEvents  int `json:"total_events"`
	TotalActions int `json:"total_actions"`
	Pending      int `json:"pending"`
	Successful   int `json:"successful"`
	Failed       int `json:"failed"`
	QueueDepth   int `json:"queue_depth"`
}

// Pipeline owns the alert queue and processes events one at a time in submission order:
// analyze, create actions, route them through the approval ledger or the analyzer flag,
// then execute approved actions through the registry.
type Pipeline struct {
	analyzer Analyzer
	registry *actions.Registry

	mu     sync.RWMutex
	store  *store
	ledger *approval.Ledger

	queueMu  sync.Mutex
	queue    []*models.Event
	maxQueue int
	wake     chan struct{}

	listenersMu sync.RWMutex
	listeners   []Listener

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stop      chan struct{}
	done      chan struct{}
}

// New creates a pipeline. A nil registry gets an empty one.
func New(analyzer Analyzer, registry *actions.Registry) *Pipeline {
	if registry == nil {
		registry = actions.NewRegistry()
	}
	return &Pipeline{
		analyzer: analyzer,
		registry: registry,
		store:    newStore(),
		maxQueue: DefaultMaxQueue,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetMaxQueue changes the backlog limit; values <= 0 keep the current limit
func (p *Pipeline) SetMaxQueue(n int) {
	if n <= 0 {
		return
	}
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	p.maxQueue = n
}

// RegisterHandler binds an executor to an action type
func (p *Pipeline) RegisterHandler(t models.ActionType, e actions.Executor) error {
	return p.registry.Register(t, e)
}

// SetApprovalSubsystem attaches the ledger and subscribes to its resolutions
func (p *Pipeline) SetApprovalSubsystem(ledger *approval.Ledger) {
	p.mu.Lock()
	p.ledger = ledger
	p.mu.Unlock()

	ledger.OnApproved(p.handleApproved)
	ledger.OnRejected(p.handleRejected)
	logging.Infof("Pipeline: approval ledger attached")
}

// Start launches the single queue consumer
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		p.started.Store(true)
		go p.consume()
		logging.Infof("Pipeline: event processor started")
	})
}

// Stop waits for the event in progress to finish and stops the consumer.
// Events still queued are left unprocessed.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
	if p.started.Load() {
		<-p.done
	}

	p.queueMu.Lock()
	left := len(p.queue)
	p.queueMu.Unlock()
	logging.Infof("Pipeline: event processor stopped (%d events left in queue)", left)
}

// Submit validates and stores an event, enqueues it and returns its id without waiting
// for analysis or execution.
func (p *Pipeline) Submit(_ context.Context, event *models.Event) (string, error) {
	if event == nil {
		return "", fmt.Errorf("%w: event is required", ErrValidation)
	}
	if err := event.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}

	ev := *event
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Labels == nil {
		ev.Labels = map[string]string{}
	}
	if ev.RawData == nil {
		ev.RawData = map[string]interface{}{}
	}

	// The capacity check is advisory: concurrent producers may overshoot maxQueue by at
	// most their own number, and EventSubmitted is always published before the event can
	// be dequeued.
	p.queueMu.Lock()
	full := len(p.queue) >= p.maxQueue
	p.queueMu.Unlock()
	if full {
		return "", ErrQueueFull
	}

	p.mu.Lock()
	if _, exists := p.store.events[ev.ID]; exists {
		p.mu.Unlock()
		return "", fmt.Errorf("%w: event %s already submitted", ErrValidation, ev.ID)
	}
	p.store.addEvent(&ev)
	p.mu.Unlock()

	logging.Infof("Pipeline: event submitted %s from %s: %s", ev.ID, ev.Source, ev.Title)
	p.publish(Notification{Kind: EventSubmitted, EventID: ev.ID, Event: &ev})

	p.queueMu.Lock()
	p.queue = append(p.queue, &ev)
	p.queueMu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}

	return ev.ID, nil
}

func (p *Pipeline) consume() {
	defer close(p.done)
	ctx := context.Background()

	for {
		select {
		case <-p.stop:
			return
		case <-p.wake:
		}

		for {
			select {
			case <-p.stop:
				return
			default:
			}

			ev := p.dequeue()
			if ev == nil {
				break
			}
			p.processEvent(ctx, ev)
		}
	}
}

func (p *Pipeline) dequeue() *models.Event {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	if len(p.queue) == 0 {
		return nil
	}
	ev := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return ev
}

func (p *Pipeline) processEvent(ctx context.Context, ev *models.Event) {
	logging.Infof("Pipeline: processing event %s: %s", ev.ID, ev.Title)

	analysis := p.analyze(ctx, ev)

	p.mu.Lock()
	p.store.analyses[ev.ID] = analysis
	p.mu.Unlock()

	logging.Infof("Pipeline: analysis complete for event %s (confidence %.2f, actions %v, requires approval %v)",
		ev.ID, analysis.Confidence, analysis.SuggestedActions, analysis.RequiresApproval)
	p.publish(Notification{Kind: AnalysisCompleted, EventID: ev.ID, Event: ev, Analysis: analysis})

	for _, actionType := range analysis.SuggestedActions {
		action := &models.RemediationAction{
			ID:         uuid.New().String(),
			EventID:    ev.ID,
			ActionType: actionType,
			Parameters: actionParameters(analysis, actionType, ev),
			Status:     models.ActionStatusPending,
			Confidence: analysis.Confidence,
			CreatedAt:  time.Now().UTC(),
		}

		p.mu.Lock()
		p.store.addAction(action)
		snapshot := action.Clone()
		ledger := p.ledger
		p.mu.Unlock()

		p.publish(Notification{Kind: ActionCreated, EventID: ev.ID, Action: snapshot})
		p.route(ctx, ledger, snapshot, ev, analysis)
	}
}

// analyze calls the analyzer and substitutes the degraded analysis for nil results or panics
func (p *Pipeline) analyze(ctx context.Context, ev *models.Event) (analysis *models.AIAnalysis) {
	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("Pipeline: analyzer panic for event %s: %v", ev.ID, r)
			analysis = models.FallbackAnalysis(ev.ID, fmt.Sprint(r))
		}
	}()

	analysis = p.analyzer.Analyze(ctx, ev)
	if analysis == nil {
		return models.FallbackAnalysis(ev.ID, "analyzer returned no result")
	}
	analysis.EventID = ev.ID
	return analysis
}

func actionParameters(analysis *models.AIAnalysis, t models.ActionType, ev *models.Event) map[string]interface{} {
	params := analysis.ParametersFor(t)
	for _, key := range targetLabelKeys {
		if _, ok := params[key]; ok {
			continue
		}
		if v, ok := ev.Labels[key]; ok && v != "" {
			params[key] = v
		}
	}
	return params
}

func (p *Pipeline) route(ctx context.Context, ledger *approval.Ledger, action *models.RemediationAction, ev *models.Event, analysis *models.AIAnalysis) {
	if ledger != nil {
		req, err := ledger.Request(ctx, action, ev, analysis)
		if err != nil {
			logging.Errorf("Pipeline: approval request failed for action %s: %v", action.ID, err)
			return
		}
		p.mu.Lock()
		p.store.requestByAction[action.ID] = req.ID
		p.mu.Unlock()

		if req.Status == models.ApprovalPending {
			p.publish(Notification{Kind: ApprovalRequested, EventID: ev.ID, Action: action, Approval: req})
		}
		return
	}

	if analysis.RequiresApproval {
		logging.Infof("Pipeline: action %s (%s) requires approval", action.ID, action.ActionType)
		return
	}

	if _, err := p.transition(action.ID, models.ActionStatusApproved, nil); err != nil {
		logging.Errorf("Pipeline: failed to approve action %s: %v", action.ID, err)
		return
	}
	p.execute(ctx, action.ID)
}

func (p *Pipeline) handleApproved(ctx context.Context, req *models.ApprovalRequest) error {
	ctx = context.WithoutCancel(ctx)
	if _, err := p.transition(req.Action.ID, models.ActionStatusApproved, nil); err != nil {
		return err
	}
	p.publish(Notification{Kind: ApprovalResolved, EventID: req.Action.EventID, Approval: req})
	p.execute(ctx, req.Action.ID)
	return nil
}

func (p *Pipeline) handleRejected(_ context.Context, req *models.ApprovalRequest) error {
	reason := fmt.Sprintf("%s by %s", req.Status, req.RejectedBy)
	if req.RejectionReason != "" {
		reason += ": " + req.RejectionReason
	}
	_, err := p.transition(req.Action.ID, models.ActionStatusRejected, func(a *models.RemediationAction) {
		a.Error = reason
	})
	p.publish(Notification{Kind: ApprovalResolved, EventID: req.Action.EventID, Approval: req})
	return err
}

// execute runs an approved action through the registry
func (p *Pipeline) execute(ctx context.Context, actionID string) {
	p.mu.RLock()
	stored, ok := p.store.actions[actionID]
	var actionType models.ActionType
	if ok {
		actionType = stored.ActionType
	}
	p.mu.RUnlock()
	if !ok {
		logging.Errorf("Pipeline: cannot execute unknown action %s", actionID)
		return
	}

	executor, resolution := p.registry.Lookup(actionType)
	if resolution == actions.Unhandled {
		logging.Warnf("Pipeline: no handler registered for action type %s, action %s left %s",
			actionType, actionID, models.ActionStatusApproved)
		return
	}

	action, err := p.transition(actionID, models.ActionStatusExecuting, func(a *models.RemediationAction) {
		now := time.Now().UTC()
		a.ExecutedAt = &now
	})
	if err != nil {
		logging.Errorf("Pipeline: failed to start action %s: %v", actionID, err)
		return
	}
	logging.Infof("Pipeline: executing action %s (%s)", actionID, actionType)

	if resolution == actions.BuiltIn {
		result := map[string]interface{}{
			"message": fmt.Sprintf("%s requires no executor", actionType),
		}
		if actionType == models.ActionEscalate {
			result["message"] = "Escalated to on-call operator"
		}
		p.finish(actionID, result, nil)
		return
	}

	result, err := invokeExecutor(ctx, executor, action)
	p.finish(actionID, result, err)
}

func invokeExecutor(ctx context.Context, e actions.Executor, action *models.RemediationAction) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return e.Execute(ctx, action)
}

func (p *Pipeline) finish(actionID string, result map[string]interface{}, execErr error) {
	next := models.ActionStatusSuccess
	if execErr != nil {
		next = models.ActionStatusFailed
	}

	_, err := p.transition(actionID, next, func(a *models.RemediationAction) {
		a.Result = result
		if execErr != nil {
			a.Error = execErr.Error()
		}
	})
	if err != nil {
		logging.Errorf("Pipeline: failed to record result for action %s: %v", actionID, err)
		return
	}

	if execErr != nil {
		logging.Errorf("Pipeline: action %s failed: %v", actionID, execErr)
	} else {
		logging.Infof("Pipeline: action %s completed", actionID)
	}
}

// transition moves an action to next if the state machine allows it and publishes the change
func (p *Pipeline) transition(actionID string, next models.ActionStatus, mutate func(*models.RemediationAction)) (*models.RemediationAction, error) {
	p.mu.Lock()
	action, ok := p.store.actions[actionID]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrActionNotFound, actionID)
	}
	if !action.Status.CanTransition(next) {
		current := action.Status
		p.mu.Unlock()
		if current != models.ActionStatusPending && (next == models.ActionStatusApproved || next == models.ActionStatusRejected) {
			return nil, fmt.Errorf("%w: %s is %s", ErrActionNotPending, actionID, current)
		}
		return nil, fmt.Errorf("invalid action transition %s -> %s for %s", current, next, actionID)
	}
	action.Status = next
	if mutate != nil {
		mutate(action)
	}
	snapshot := action.Clone()
	p.mu.Unlock()

	p.publish(Notification{Kind: ActionUpdated, EventID: snapshot.EventID, Action: snapshot})
	return snapshot, nil
}

// ApproveAction approves a pending action directly. Only available without a ledger.
func (p *Pipeline) ApproveAction(ctx context.Context, actionID string) (*models.RemediationAction, error) {
	if p.hasLedger() {
		return nil, ErrLedgerAttached
	}
	if _, err := p.transition(actionID, models.ActionStatusApproved, nil); err != nil {
		return nil, err
	}
	logging.Infof("Pipeline: action %s approved directly", actionID)
	p.execute(context.WithoutCancel(ctx), actionID)
	return p.GetAction(actionID)
}

// RejectAction rejects a pending action directly. Only available without a ledger.
func (p *Pipeline) RejectAction(_ context.Context, actionID string) (*models.RemediationAction, error) {
	if p.hasLedger() {
		return nil, ErrLedgerAttached
	}
	action, err := p.transition(actionID, models.ActionStatusRejected, nil)
	if err != nil {
		return nil, err
	}
	logging.Infof("Pipeline: action %s rejected directly", actionID)
	return action, nil
}

func (p *Pipeline) hasLedger() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ledger != nil
}

// GetEvent returns a stored event
func (p *Pipeline) GetEvent(id string) (*models.Event, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ev, ok := p.store.events[id]
	if !ok {
		return nil, false
	}
	return ev.Clone(), true
}

// GetAction returns a snapshot of a stored action
func (p *Pipeline) GetAction(id string) (*models.RemediationAction, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.store.actions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	return a.Clone(), nil
}

// GetAnalysis returns the analysis stored for an event
func (p *Pipeline) GetAnalysis(eventID string) (*models.AIAnalysis, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.store.analyses[eventID]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// ActionsForEvent returns the actions created for an event in creation order
func (p *Pipeline) ActionsForEvent(eventID string) []*models.RemediationAction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := p.store.actionsByEvent[eventID]
	out := make([]*models.RemediationAction, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.store.actions[id].Clone())
	}
	return out
}

// ApprovalRequestID returns the ledger request id created for an action, if any
func (p *Pipeline) ApprovalRequestID(actionID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.store.requestByAction[actionID]
	return id, ok
}

// ListEvents returns up to limit events, most recent first. limit <= 0 returns all.
func (p *Pipeline) ListEvents(limit int) []*models.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.store.recentEvents(limit)
}

// ListActions returns up to limit actions, most recent first. limit <= 0 returns all.
func (p *Pipeline) ListActions(limit int) []*models.RemediationAction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.store.recentActions(limit)
}

// Stats counts stored events and actions by outcome
func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	s := Stats{
		TotalEvents:  len(p.store.events),
		TotalActions: len(p.store.actions),
	}
	for _, a := range p.store.actions {
		switch a.Status {
		case models.ActionStatusPending:
			s.Pending++
		case models.ActionStatusSuccess:
			s.Successful++
		case models.ActionStatusFailed:
			s.Failed++
		}
	}
	p.mu.RUnlock()

	p.queueMu.Lock()
	s.QueueDepth = len(p.queue)
	p.queueMu.Unlock()
	return s
}
