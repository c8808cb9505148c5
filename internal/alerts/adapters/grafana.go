package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/akmatori/nocpilot/internal/alerts"
	"github.com/akmatori/nocpilot/internal/models"
)

// GrafanaAdapter handles Grafana alerting webhooks. Grafana evaluates Prometheus-style
// rules, so its events carry the prometheus source.
type GrafanaAdapter struct{}

// NewGrafanaAdapter creates a new Grafana adapter
func NewGrafanaAdapter() *GrafanaAdapter {
	return &GrafanaAdapter{}
}

// GrafanaPayload represents the webhook payload from Grafana.
// Supports both unified alerting and the legacy single-rule format.
type GrafanaPayload struct {
	// Unified Alerting format
	Receiver string         `json:"receiver"`
	Status   string         `json:"status"`
	Alerts   []GrafanaAlert `json:"alerts"`

	// Legacy alerting format
	RuleName    string `json:"ruleName"`
	State       string `json:"state"`
	Message     string `json:"message"`
	RuleURL     string `json:"ruleUrl"`
	RuleID      int    `json:"ruleId"`
	Title       string `json:"title"`
	OrgID       int    `json:"orgId"`
	DashboardID int    `json:"dashboardId"`
	PanelID     int    `json:"panelId"`
	EvalMatches []struct {
		Value  float64           `json:"value"`
		Metric string            `json:"metric"`
		Tags   map[string]string `json:"tags"`
	} `json:"evalMatches"`
}

// GrafanaAlert represents a single alert in unified alerting
type GrafanaAlert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       time.Time         `json:"endsAt"`
	Fingerprint  string            `json:"fingerprint"`
	GeneratorURL string            `json:"generatorURL"`
}

// Source returns the prometheus event source
func (a *GrafanaAdapter) Source() models.EventSource {
	return models.SourcePrometheus
}

// ValidateSecret accepts X-Grafana-Secret or a bearer token
func (a *GrafanaAdapter) ValidateSecret(r *http.Request, secret string) error {
	return alerts.CheckSecret(r, "X-Grafana-Secret", secret)
}

// ParsePayload emits one event per unified alert, or one for a legacy payload
func (a *GrafanaAdapter) ParsePayload(body []byte) ([]*models.Event, error) {
	var payload GrafanaPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse grafana payload: %w", err)
	}

	if len(payload.Alerts) == 0 {
		if payload.RuleName == "" && payload.Title == "" {
			return nil, fmt.Errorf("grafana payload carries no alerts")
		}
		return []*models.Event{a.legacyEvent(payload)}, nil
	}

	events := make([]*models.Event, 0, len(payload.Alerts))
	for _, alert := range payload.Alerts {
		events = append(events, a.unifiedEvent(alert))
	}
	return events, nil
}

func (a *GrafanaAdapter) unifiedEvent(alert GrafanaAlert) *models.Event {
	labels := make(map[string]string, len(alert.Labels))
	for k, v := range alert.Labels {
		labels[k] = v
	}

	title := labels["alertname"]
	if title == "" {
		title = alert.Annotations["summary"]
	}
	if title == "" {
		title = "Grafana Alert"
	}

	severity := alerts.NormalizeSeverity(labels["severity"])
	if alerts.IsResolved(alert.Status) {
		severity = models.SeverityInfo
	}

	ev := &models.Event{
		Source:      models.SourcePrometheus,
		Severity:    severity,
		Title:       title,
		Description: firstNonEmpty(alert.Annotations["description"], alert.Annotations["summary"]),
		Labels:      labels,
		RawData: map[string]interface{}{
			"status":       alert.Status,
			"annotations":  alert.Annotations,
			"fingerprint":  alert.Fingerprint,
			"generatorURL": alert.GeneratorURL,
			"runbook_url":  alert.Annotations["runbook_url"],
		},
	}
	if !alert.StartsAt.IsZero() {
		ev.Timestamp = alert.StartsAt.UTC()
	}
	return ev
}

func (a *GrafanaAdapter) legacyEvent(payload GrafanaPayload) *models.Event {
	labels := map[string]string{}
	raw := map[string]interface{}{
		"state":       payload.State,
		"ruleUrl":     payload.RuleURL,
		"ruleId":      payload.RuleID,
		"orgId":       payload.OrgID,
		"dashboardId": payload.DashboardID,
		"panelId":     payload.PanelID,
	}
	if len(payload.EvalMatches) > 0 {
		match := payload.EvalMatches[0]
		for k, v := range match.Tags {
			labels[k] = v
		}
		raw["metric"] = match.Metric
		raw["metric_value"] = match.Value
	}

	return &models.Event{
		Source:      models.SourcePrometheus,
		Severity:    grafanaStateSeverity(payload.State),
		Title:       firstNonEmpty(payload.RuleName, payload.Title),
		Description: payload.Message,
		Labels:      labels,
		RawData:     raw,
	}
}

// grafanaStateSeverity maps a legacy Grafana rule state to a severity
func grafanaStateSeverity(state string) models.Severity {
	switch strings.ToLower(state) {
	case "alerting":
		return models.SeverityCritical
	case "ok", "paused", "no_data":
		return models.SeverityInfo
	default:
		return models.SeverityWarning
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
