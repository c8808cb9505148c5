package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/akmatori/nocpilot/internal/models"
)

const systemPrompt = `You are a NOC operator assistant. You analyze infrastructure alerts and recommend remediation actions.

Consider the severity and likely impact, the common root causes for this kind of alert, which actions are safe
to automate, and whether a human should review the action. Use the runbook context when it is provided.

Available actions:
- k8s_restart_pod: delete a Kubernetes pod so its controller recreates it (safe for stateless workloads)
- k8s_scale_deployment: change the replica count of a deployment
- k8s_rollback: restart a deployment's rollout (always reviewed)
- ansible_playbook: run an Ansible playbook
- ssh_command: run a command on a host over SSH (always reviewed)
- snmp_set: set an SNMP OID on a network device
- escalate: hand the alert to the on-call operator
- no_action: informational alert, nothing to do

Respond with a single JSON object:
{
  "summary": "one line summary",
  "root_cause": "likely root cause if known",
  "suggested_actions": ["action_type"],
  "action_parameters": {"action_type": {"param": "value"}},
  "confidence": 0.0,
  "reasoning": "why",
  "requires_approval": true,
  "runbook_id": "id of the runbook you followed, if any"
}

Set requires_approval to true for destructive operations, actions on production workloads, confidence below 0.7
(or the runbook threshold), unfamiliar alerts without runbook guidance and SSH commands that change state.`

func buildPrompt(ev *models.Event, runbookContext string) string {
	labels, _ := json.MarshalIndent(ev.Labels, "", "  ")

	var b strings.Builder
	b.WriteString("Analyze this infrastructure alert:\n\n")
	fmt.Fprintf(&b, "Source: %s\n", ev.Source)
	fmt.Fprintf(&b, "Severity: %s\n", ev.Severity)
	fmt.Fprintf(&b, "Title: %s\n", ev.Title)
	fmt.Fprintf(&b, "Description: %s\n", ev.Description)
	fmt.Fprintf(&b, "Labels: %s\n", labels)
	fmt.Fprintf(&b, "Timestamp: %s\n", ev.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	if runbookContext != "" {
		b.WriteString("\n")
		b.WriteString(runbookContext)
	}
	b.WriteString("\nProvide your analysis as a JSON object.")
	return b.String()
}
