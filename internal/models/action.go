package models

import "time"

// ActionType is the closed set of remediation operations
type ActionType string

const (
	ActionK8sRestartPod      ActionType = "k8s_restart_pod"
	ActionK8sScaleDeployment ActionType = "k8s_scale_deployment"
	ActionK8sRollback        ActionType = "k8s_rollback"
	ActionAnsiblePlaybook    ActionType = "ansible_playbook"
	ActionSSHCommand         ActionType = "ssh_command"
	ActionSNMPSet            ActionType = "snmp_set"
	ActionEscalate           ActionType = "escalate"
	ActionNoAction           ActionType = "no_action"
)

// AllActionTypes lists every action type in declaration order
var AllActionTypes = []ActionType{
	ActionK8sRestartPod,
	ActionK8sScaleDeployment,
	ActionK8sRollback,
	ActionAnsiblePlaybook,
	ActionSSHCommand,
	ActionSNMPSet,
	ActionEscalate,
	ActionNoAction,
}

// ParseActionType converts s to an ActionType, reporting false for unknown values
func ParseActionType(s string) (ActionType, bool) {
	for _, t := range AllActionTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// NeedsNoExecutor reports whether the action type completes without an external handler
func (t ActionType) NeedsNoExecutor() bool {
	return t == ActionEscalate || t == ActionNoAction
}

// ActionStatus is the lifecycle state of a remediation action
type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusApproved  ActionStatus = "approved"
	ActionStatusExecuting ActionStatus = "executing"
	ActionStatusSuccess   ActionStatus = "success"
	ActionStatusFailed    ActionStatus = "failed"
	ActionStatusRejected  ActionStatus = "rejected"
)

var actionTransitions = map[ActionStatus][]ActionStatus{
	ActionStatusPending:   {ActionStatusApproved, ActionStatusRejected},
	ActionStatusApproved:  {ActionStatusExecuting},
	ActionStatusExecuting: {ActionStatusSuccess, ActionStatusFailed},
}

// CanTransition reports whether moving from s to next is allowed.
// Terminal states have no outgoing transitions and nothing re-enters pending.
func (s ActionStatus) CanTransition(next ActionStatus) bool {
	for _, allowed := range actionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s ActionStatus) IsTerminal() bool {
	return len(actionTransitions[s]) == 0
}

// RemediationAction is one concrete corrective operation derived from an analysis
type RemediationAction struct {
	ID         string                 `json:"id"`
	EventID    string                 `json:"event_id"`
	ActionType ActionType             `json:"action_type"`
	Parameters map[string]interface{} `json:"parameters"`
	Status     ActionStatus           `json:"status"`
	Confidence float64                `json:"confidence"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	ExecutedAt *time.Time             `json:"executed_at,omitempty"`
}

// Clone returns a copy that shares no maps with the receiver
func (a *RemediationAction) Clone() *RemediationAction {
	if a == nil {
		return nil
	}
	c := *a
	c.Parameters = cloneMap(a.Parameters)
	c.Result = cloneMap(a.Result)
	if a.ExecutedAt != nil {
		t := *a.ExecutedAt
		c.ExecutedAt = &t
	}
	return &c
}

// StringParam returns a string parameter, or "" when absent or not a string
func (a *RemediationAction) StringParam(key string) string {
	if v, ok := a.Parameters[key].(string); ok {
		return v
	}
	return ""
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the JSON-shaped containers decoded payloads are made of
func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
