package actions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/akmatori/nocpilot/internal/models"
)

// Executor performs a remediation against a target system
type Executor interface {
	Execute(ctx context.Context, action *models.RemediationAction) (map[string]interface{}, error)
}

// ExecutorFunc adapts a function to the Executor interface
type ExecutorFunc func(ctx context.Context, action *models.RemediationAction) (map[string]interface{}, error)

// Execute calls f(ctx, action)
func (f ExecutorFunc) Execute(ctx context.Context, action *models.RemediationAction) (map[string]interface{}, error) {
	return f(ctx, action)
}

// Resolution is the outcome of a registry lookup
type Resolution int

const (
	// Unhandled means no executor is bound and the type needs one
	Unhandled Resolution = iota
	// Handled means a registered executor was found
	Handled
	// BuiltIn means the type completes without an executor (escalate, no_action)
	BuiltIn
)

func (r Resolution) String() string {
	switch r {
	case Handled:
		return "handled"
	case BuiltIn:
		return "built-in"
	default:
		return "unhandled"
	}
}

// Registry maps action types to executors
type Registry struct {
	mu        sync.RWMutex
	executors map[models.ActionType]Executor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{executors: make(map[models.ActionType]Executor)}
}

// Register binds an executor to an action type, replacing any previous binding
func (r *Registry) Register(t models.ActionType, e Executor) error {
	if _, ok := models.ParseActionType(string(t)); !ok {
		return fmt.Errorf("unknown action type %q", t)
	}
	if e == nil {
		return fmt.Errorf("nil executor for action type %s", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[t] = e
	return nil
}

// Lookup finds the executor for an action type. A registered executor always wins, even
// for types that could complete without one.
func (r *Registry) Lookup(t models.ActionType) (Executor, Resolution) {
	r.mu.RLock()
	e, ok := r.executors[t]
	r.mu.RUnlock()

	if ok {
		return e, Handled
	}
	if t.NeedsNoExecutor() {
		return nil, BuiltIn
	}
	return nil, Unhandled
}

// Types returns the action types with a registered executor
func (r *Registry) Types() []models.ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.ActionType, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
