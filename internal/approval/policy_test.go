package approval

import (
	"strings"
	"testing"

	"github.com/akmatori/nocpilot/internal/models"
)

func newAction(t models.ActionType, confidence float64) *models.RemediationAction {
	return &models.RemediationAction{ID: "act-1", EventID: "evt-1", ActionType: t, Confidence: confidence}
}

func newEvent(sev models.Severity) *models.Event {
	return &models.Event{ID: "evt-1", Source: models.SourceAlertmanager, Severity: sev, Title: "Pod CrashLoopBackOff"}
}

func newAnalysis(confidence float64, requiresApproval bool, runbookID string) *models.AIAnalysis {
	return &models.AIAnalysis{EventID: "evt-1", Confidence: confidence, RequiresApproval: requiresApproval, RunbookID: runbookID}
}

func TestEvaluate_Precedence(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name       string
		action     models.ActionType
		severity   models.Severity
		confidence float64
		requires   bool
		runbook    string
		want       bool
		reason     string
	}{
		{"always require beats info severity", models.ActionK8sRollback, models.SeverityInfo, 1.0, false, "rb", false, "always requires approval"},
		{"analyzer flag vetoes", models.ActionK8sRestartPod, models.SeverityInfo, 0.99, true, "", false, "manual review"},
		{"not auto-approvable", models.ActionAnsiblePlaybook, models.SeverityInfo, 0.99, false, "", false, "not auto-approvable"},
		{"low confidence", models.ActionK8sRestartPod, models.SeverityInfo, 0.5, false, "", false, "below threshold"},
		{"low confidence with runbook", models.ActionK8sRestartPod, models.SeverityWarning, 0.5, false, "k8s-crashloop", false, "below threshold"},
		{"critical vetoes runbook", models.ActionK8sRestartPod, models.SeverityCritical, 0.99, false, "k8s-crashloop", false, "Critical severity"},
		{"info severity approves", models.ActionK8sRestartPod, models.SeverityInfo, 0.9, false, "", true, "info severity"},
		{"runbook approves warning", models.ActionK8sRestartPod, models.SeverityWarning, 0.9, false, "k8s-crashloop", true, "runbook k8s-crashloop"},
		{"high confidence approves warning", models.ActionK8sScaleDeployment, models.SeverityWarning, 0.9, false, "", true, "high confidence"},
		{"threshold is inclusive", models.ActionNoAction, models.SeverityWarning, 0.85, false, "", true, "high confidence"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := Evaluate(newAction(tt.action, tt.confidence), newEvent(tt.severity), newAnalysis(tt.confidence, tt.requires, tt.runbook), cfg)
			if got != tt.want {
				t.Errorf("expected auto-approve=%v, got %v (%s)", tt.want, got, reason)
			}
			if !strings.Contains(reason, tt.reason) {
				t.Errorf("expected reason containing %q, got %q", tt.reason, reason)
			}
		})
	}
}

func TestEvaluate_AlwaysRequireNeverAutoApproves(t *testing.T) {
	cfg := DefaultConfig()
	severities := []models.Severity{models.SeverityInfo, models.SeverityWarning, models.SeverityCritical}
	confidences := []float64{0, 0.5, 0.85, 1.0}

	for _, at := range cfg.AlwaysRequireApproval {
		for _, sev := range severities {
			for _, c := range confidences {
				for _, runbook := range []string{"", "rb-1"} {
					ok, _ := Evaluate(newAction(at, c), newEvent(sev), newAnalysis(c, false, runbook), cfg)
					if ok {
						t.Errorf("expected %s never auto-approved (severity=%s confidence=%.2f runbook=%q)", at, sev, c, runbook)
					}
				}
			}
		}
	}
}

func TestEvaluate_InfoSeverityAutoApprovesEligibleActions(t *testing.T) {
	cfg := DefaultConfig()
	for _, at := range cfg.AutoApprovable {
		for _, c := range []float64{cfg.AutoApproveConfidence, 0.9, 1.0} {
			ok, reason := Evaluate(newAction(at, c), newEvent(models.SeverityInfo), newAnalysis(c, false, ""), cfg)
			if !ok {
				t.Errorf("expected %s at %.2f to be auto-approved, got %s", at, c, reason)
			}
		}
	}
}

func TestEvaluate_CustomAutoApproveSeverity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoApproveSeverity = models.SeverityWarning

	ok, reason := Evaluate(newAction(models.ActionK8sRestartPod, 0.9), newEvent(models.SeverityWarning), newAnalysis(0.9, false, ""), cfg)
	if !ok || !strings.Contains(reason, "warning severity") {
		t.Errorf("expected approval via warning severity, got %v (%s)", ok, reason)
	}
}
