package testhelpers

import (
	"time"

	"github.com/akmatori/nocpilot/internal/knowledge"
	"github.com/akmatori/nocpilot/internal/models"
)

// ========================================
// Event Builder
// ========================================

// EventBuilder provides a fluent API for building test events
type EventBuilder struct {
	event models.Event
}

// NewEventBuilder creates a valid warning event from a custom source
func NewEventBuilder() *EventBuilder {
	return &EventBuilder{
		event: models.Event{
			Source:   models.SourceCustom,
			Severity: models.SeverityWarning,
			Title:    "Test Alert",
			Labels:   map[string]string{},
			RawData:  map[string]interface{}{},
		},
	}
}

// WithID sets the event ID
func (b *EventBuilder) WithID(id string) *EventBuilder {
	b.event.ID = id
	return b
}

// WithTitle sets the event title
func (b *EventBuilder) WithTitle(title string) *EventBuilder {
	b.event.Title = title
	return b
}

// WithSource sets the event source
func (b *EventBuilder) WithSource(source models.EventSource) *EventBuilder {
	b.event.Source = source
	return b
}

// WithSeverity sets the event severity
func (b *EventBuilder) WithSeverity(severity models.Severity) *EventBuilder {
	b.event.Severity = severity
	return b
}

// WithDescription sets the event description
func (b *EventBuilder) WithDescription(desc string) *EventBuilder {
	b.event.Description = desc
	return b
}

// WithLabel adds a label
func (b *EventBuilder) WithLabel(key, value string) *EventBuilder {
	b.event.Labels[key] = value
	return b
}

// At sets the event timestamp
func (b *EventBuilder) At(ts time.Time) *EventBuilder {
	b.event.Timestamp = ts
	return b
}

// Build returns a fresh copy of the event
func (b *EventBuilder) Build() *models.Event {
	ev := b.event
	ev.Labels = make(map[string]string, len(b.event.Labels))
	for k, v := range b.event.Labels {
		ev.Labels[k] = v
	}
	ev.RawData = make(map[string]interface{}, len(b.event.RawData))
	for k, v := range b.event.RawData {
		ev.RawData[k] = v
	}
	return &ev
}

// ========================================
// Analysis Builder
// ========================================

// AnalysisBuilder provides a fluent API for building analyzer output
type AnalysisBuilder struct {
	analysis models.AIAnalysis
}

// NewAnalysisBuilder creates a confident no_action analysis
func NewAnalysisBuilder() *AnalysisBuilder {
	return &AnalysisBuilder{
		analysis: models.AIAnalysis{
			Summary:          "test summary",
			RootCause:        "test root cause",
			Confidence:       0.9,
			SuggestedActions: []models.ActionType{models.ActionNoAction},
			Reasoning:        "test reasoning",
			ActionParameters: map[models.ActionType]map[string]interface{}{},
		},
	}
}

// ForEvent sets the analyzed event id
func (b *AnalysisBuilder) ForEvent(id string) *AnalysisBuilder {
	b.analysis.EventID = id
	return b
}

// WithActions sets the suggested actions
func (b *AnalysisBuilder) WithActions(actions ...models.ActionType) *AnalysisBuilder {
	b.analysis.SuggestedActions = actions
	return b
}

// WithConfidence sets the confidence
func (b *AnalysisBuilder) WithConfidence(c float64) *AnalysisBuilder {
	b.analysis.Confidence = c
	return b
}

// RequiringApproval sets the requires_approval flag
func (b *AnalysisBuilder) RequiringApproval() *AnalysisBuilder {
	b.analysis.RequiresApproval = true
	return b
}

// WithRunbook sets the matched runbook id
func (b *AnalysisBuilder) WithRunbook(id string) *AnalysisBuilder {
	b.analysis.RunbookID = id
	return b
}

// WithParameters sets the parameters for one action type
func (b *AnalysisBuilder) WithParameters(t models.ActionType, params map[string]interface{}) *AnalysisBuilder {
	b.analysis.ActionParameters[t] = params
	return b
}

// Build returns the analysis
func (b *AnalysisBuilder) Build() *models.AIAnalysis {
	a := b.analysis
	a.SuggestedActions = append([]models.ActionType(nil), b.analysis.SuggestedActions...)
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	return &a
}

// ========================================
// Action Builder
// ========================================

// ActionBuilder provides a fluent API for building remediation actions
type ActionBuilder struct {
	action models.RemediationAction
}

// NewActionBuilder creates a pending restart action
func NewActionBuilder() *ActionBuilder {
	return &ActionBuilder{
		action: models.RemediationAction{
			ID:         "act-test",
			EventID:    "evt-test",
			ActionType: models.ActionK8sRestartPod,
			Status:     models.ActionStatusPending,
			Confidence: 0.9,
			Parameters: map[string]interface{}{},
			CreatedAt:  time.Now().UTC(),
		},
	}
}

// WithID sets the action ID
func (b *ActionBuilder) WithID(id string) *ActionBuilder {
	b.action.ID = id
	return b
}

// ForEvent sets the event ID
func (b *ActionBuilder) ForEvent(id string) *ActionBuilder {
	b.action.EventID = id
	return b
}

// WithType sets the action type
func (b *ActionBuilder) WithType(t models.ActionType) *ActionBuilder {
	b.action.ActionType = t
	return b
}

// WithStatus sets the action status
func (b *ActionBuilder) WithStatus(s models.ActionStatus) *ActionBuilder {
	b.action.Status = s
	return b
}

// WithConfidence sets the confidence
func (b *ActionBuilder) WithConfidence(c float64) *ActionBuilder {
	b.action.Confidence = c
	return b
}

// WithParameter sets one parameter
func (b *ActionBuilder) WithParameter(key string, value interface{}) *ActionBuilder {
	b.action.Parameters[key] = value
	return b
}

// Build returns a fresh copy of the action
func (b *ActionBuilder) Build() *models.RemediationAction {
	return b.action.Clone()
}

// ========================================
// Runbook Builder
// ========================================

// RunbookBuilder provides a fluent API for building runbooks
type RunbookBuilder struct {
	runbook knowledge.Runbook
}

// NewRunbookBuilder creates a runbook with the default confidence threshold
func NewRunbookBuilder(id string) *RunbookBuilder {
	return &RunbookBuilder{
		runbook: knowledge.Runbook{
			ID:                  id,
			Title:               "Runbook " + id,
			ConfidenceThreshold: knowledge.DefaultConfidenceThreshold,
		},
	}
}

// WithTitle sets the title
func (b *RunbookBuilder) WithTitle(title string) *RunbookBuilder {
	b.runbook.Title = title
	return b
}

// WithPatterns sets the alert patterns
func (b *RunbookBuilder) WithPatterns(patterns ...string) *RunbookBuilder {
	b.runbook.AlertPatterns = patterns
	return b
}

// WithTags sets the tags
func (b *RunbookBuilder) WithTags(tags ...string) *RunbookBuilder {
	b.runbook.Tags = tags
	return b
}

// WithSteps sets the remediation steps
func (b *RunbookBuilder) WithSteps(steps ...string) *RunbookBuilder {
	b.runbook.RemediationSteps = steps
	return b
}

// AutoRemediate marks the runbook as safe to run without approval
func (b *RunbookBuilder) AutoRemediate() *RunbookBuilder {
	b.runbook.AutoRemediate = true
	return b
}

// Build returns the runbook
func (b *RunbookBuilder) Build() *knowledge.Runbook {
	rb := b.runbook
	return &rb
}
