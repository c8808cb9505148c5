package models

import "time"

// AIAnalysis is the remediation recommendation produced for one event
type AIAnalysis struct {
	EventID          string                                `json:"event_id"`
	Summary          string                                `json:"summary"`
	RootCause        string                                `json:"root_cause,omitempty"`
	SuggestedActions []ActionType                          `json:"suggested_actions"`
	ActionParameters map[ActionType]map[string]interface{} `json:"action_parameters,omitempty"`
	Confidence       float64                               `json:"confidence"`
	Reasoning        string                                `json:"reasoning"`
	RequiresApproval bool                                  `json:"requires_approval"`
	RunbookID        string                                `json:"runbook_id,omitempty"`
	Timestamp        time.Time                             `json:"timestamp"`
}

// FallbackAnalysis is the safe result returned when analysis fails:
// escalate, zero confidence, manual approval required.
func FallbackAnalysis(eventID, reason string) *AIAnalysis {
	return &AIAnalysis{
		EventID:          eventID,
		Summary:          "Analysis failed: " + reason,
		SuggestedActions: []ActionType{ActionEscalate},
		Confidence:       0.0,
		Reasoning:        "Analysis error - escalating for manual review. Error: " + reason,
		RequiresApproval: true,
		Timestamp:        time.Now().UTC(),
	}
}

// Clone returns a copy that shares no slices or maps with a
func (a *AIAnalysis) Clone() *AIAnalysis {
	if a == nil {
		return nil
	}
	c := *a
	if a.SuggestedActions != nil {
		c.SuggestedActions = append([]ActionType(nil), a.SuggestedActions...)
	}
	if a.ActionParameters != nil {
		c.ActionParameters = make(map[ActionType]map[string]interface{}, len(a.ActionParameters))
		for t, params := range a.ActionParameters {
			c.ActionParameters[t] = cloneMap(params)
		}
	}
	return &c
}

// ParametersFor returns a copy of the parameters suggested for an action type
func (a *AIAnalysis) ParametersFor(t ActionType) map[string]interface{} {
	params := make(map[string]interface{})
	for k, v := range a.ActionParameters[t] {
		params[k] = v
	}
	return params
}
