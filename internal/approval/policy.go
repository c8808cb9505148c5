package approval

import (
	"fmt"

	"github.com/akmatori/nocpilot/internal/models"
)

// Evaluate decides whether an action may skip human review. Rules are checked in a fixed
// order and the first match wins; the always-require, analyzer and critical-severity vetoes
// come before every permissive rule.
func Evaluate(action *models.RemediationAction, event *models.Event, analysis *models.AIAnalysis, cfg Config) (bool, string) {
	if containsAction(cfg.AlwaysRequireApproval, action.ActionType) {
		return false, fmt.Sprintf("Action type %s always requires approval", action.ActionType)
	}

	if analysis.RequiresApproval {
		return false, "Analyzer requires manual review"
	}

	if !containsAction(cfg.AutoApprovable, action.ActionType) {
		return false, fmt.Sprintf("Action type %s is not auto-approvable", action.ActionType)
	}

	if analysis.Confidence < cfg.AutoApproveConfidence {
		return false, fmt.Sprintf("Confidence %.2f below threshold %.2f", analysis.Confidence, cfg.AutoApproveConfidence)
	}

	if event.Severity == models.SeverityCritical {
		return false, "Critical severity requires manual approval"
	}

	if event.Severity == cfg.AutoApproveSeverity {
		return true, fmt.Sprintf("Auto-approved due to %s severity", event.Severity)
	}

	if analysis.RunbookID != "" {
		return true, fmt.Sprintf("Auto-approved based on runbook %s", analysis.RunbookID)
	}

	// Only a NaN confidence falls through to the default.
	if analysis.Confidence >= cfg.AutoApproveConfidence {
		return true, fmt.Sprintf("Auto-approved due to high confidence (%.2f)", analysis.Confidence)
	}

	return false, "No matching auto-approval rule"
}
