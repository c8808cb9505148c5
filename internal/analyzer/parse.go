package analyzer

import (
	"encoding/json"
	"strings"

	"github.com/akmatori/nocpilot/internal/logging"
)

// response is the JSON object the model is asked to return
type response struct {
	Summary          string                            `json:"summary"`
	RootCause        string                            `json:"root_cause"`
	SuggestedActions []string                          `json:"suggested_actions"`
	ActionParameters map[string]map[string]interface{} `json:"action_parameters"`
	Confidence       *float64                          `json:"confidence"`
	Reasoning        string                            `json:"reasoning"`
	RequiresApproval *bool                             `json:"requires_approval"`
	RunbookID        string                            `json:"runbook_id"`
}

// parseResponse extracts the JSON object from model output. A fenced ```json block wins,
// then the outermost braces. Unparseable output becomes a low-confidence escalation.
func parseResponse(text string) response {
	if body, ok := fencedJSON(text); ok {
		var r response
		err := json.Unmarshal([]byte(body), &r)
		if err == nil {
			return r
		}
		logging.Warnf("Analyzer: failed to parse fenced JSON response: %v", err)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		var r response
		err := json.Unmarshal([]byte(text[start:end+1]), &r)
		if err == nil {
			return r
		}
		logging.Warnf("Analyzer: failed to parse JSON response: %v", err)
	}

	summary := text
	if len(summary) > 200 {
		summary = summary[:200]
	}
	confidence := 0.3
	requires := true
	return response{
		Summary:          summary,
		SuggestedActions: []string{"escalate"},
		Confidence:       &confidence,
		Reasoning:        "Failed to parse structured response",
		RequiresApproval: &requires,
	}
}

func fencedJSON(text string) (string, bool) {
	const fence = "```json"
	i := strings.Index(text, fence)
	if i < 0 {
		return "", false
	}
	rest := text[i+len(fence):]
	j := strings.Index(rest, "```")
	if j <= 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:j]), true
}
