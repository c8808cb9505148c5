package analyzer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/akmatori/nocpilot/internal/knowledge"
	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/models"
)

const (
	// runbookMatchScore is the minimum search score for a runbook to steer approval
	runbookMatchScore  = 0.5
	// unguidedConfidence is the approval floor when no runbook matched
	unguidedConfidence = 0.7
	defaultConfidence  = 0.5
	runbookResults     = 3
)

// Generator produces model output for a prompt
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// RunbookSearcher supplies runbook context for an alert
type RunbookSearcher interface {
	Search(ctx context.Context, query string, tags []string, topK int) []knowledge.SearchResult
}

// LLMAnalyzer asks a language model for a remediation plan, grounded in matching runbooks
type LLMAnalyzer struct {
	generator Generator
	runbooks  RunbookSearcher
	timeout   time.Duration
}

// NewLLMAnalyzer creates an analyzer. runbooks may be nil; timeout <= 0 disables the
// per-call deadline.
func NewLLMAnalyzer(generator Generator, runbooks RunbookSearcher, timeout time.Duration) *LLMAnalyzer {
	return &LLMAnalyzer{generator: generator, runbooks: runbooks, timeout: timeout}
}

// Analyze never fails: generator errors produce the degraded escalation analysis
func (a *LLMAnalyzer) Analyze(ctx context.Context, ev *models.Event) *models.AIAnalysis {
	var results []knowledge.SearchResult
	if a.runbooks != nil {
		results = a.runbooks.Search(ctx, ev.Title+" "+ev.Description, labelKeys(ev.Labels), runbookResults)
	}

	var matched *knowledge.Runbook
	if len(results) > 0 && results[0].Score >= runbookMatchScore {
		matched = results[0].Runbook
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	text, err := a.generator.Generate(ctx, systemPrompt, buildPrompt(ev, knowledge.FormatResults(results)))
	if err != nil {
		logging.Errorf("Analyzer: model call failed for event %s: %v", ev.ID, err)
		return models.FallbackAnalysis(ev.ID, err.Error())
	}

	return buildAnalysis(ev, parseResponse(text), matched)
}

func buildAnalysis(ev *models.Event, r response, matched *knowledge.Runbook) *models.AIAnalysis {
	var actionTypes []models.ActionType
	for _, raw := range r.SuggestedActions {
		t, ok := models.ParseActionType(raw)
		if !ok {
			logging.Warnf("Analyzer: unknown action type %q for event %s, escalating", raw, ev.ID)
			t = models.ActionEscalate
		}
		actionTypes = append(actionTypes, t)
	}
	if len(actionTypes) == 0 {
		actionTypes = []models.ActionType{models.ActionEscalate}
	}

	confidence := defaultConfidence
	if r.Confidence != nil {
		confidence = clamp(*r.Confidence)
	}
	requiresApproval := true
	if r.RequiresApproval != nil {
		requiresApproval = *r.RequiresApproval
	}

	if matched != nil {
		if confidence < matched.ConfidenceThreshold {
			requiresApproval = true
		} else if matched.AutoRemediate {
			requiresApproval = false
		}
	} else if confidence < unguidedConfidence {
		requiresApproval = true
	}

	runbookID := r.RunbookID
	if runbookID == "" && matched != nil {
		runbookID = matched.ID
	}

	params := make(map[models.ActionType]map[string]interface{})
	for raw, p := range r.ActionParameters {
		if t, ok := models.ParseActionType(raw); ok {
			params[t] = p
		}
	}

	summary := r.Summary
	if summary == "" {
		summary = "Unable to generate summary"
	}

	return &models.AIAnalysis{
		EventID:          ev.ID,
		Summary:          summary,
		RootCause:        r.RootCause,
		SuggestedActions: actionTypes,
		ActionParameters: params,
		Confidence:       confidence,
		Reasoning:        r.Reasoning,
		RequiresApproval: requiresApproval,
		RunbookID:        runbookID,
		Timestamp:        time.Now().UTC(),
	}
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// StaticAnalyzer escalates every event. It stands in when no model is configured.
type StaticAnalyzer struct{}

// Analyze returns an escalation that requires approval
func (StaticAnalyzer) Analyze(_ context.Context, ev *models.Event) *models.AIAnalysis {
	return &models.AIAnalysis{
		EventID:          ev.ID,
		Summary:          fmt.Sprintf("%s alert: %s", ev.Severity, ev.Title),
		SuggestedActions: []models.ActionType{models.ActionEscalate},
		Confidence:       0,
		Reasoning:        "No analyzer model configured",
		RequiresApproval: true,
		Timestamp:        time.Now().UTC(),
	}
}
