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

// zabbixTimeLayout is the {EVENT.DATE} {EVENT.TIME} macro format
const zabbixTimeLayout = "2006-01-02 15:04:05"

// ZabbixAdapter handles Zabbix media-type webhooks
type ZabbixAdapter struct{}

// NewZabbixAdapter creates a new Zabbix adapter
func NewZabbixAdapter() *ZabbixAdapter {
	return &ZabbixAdapter{}
}

// ZabbixPayload represents the webhook payload from the Zabbix media type
type ZabbixPayload struct {
	EventTime         string `json:"event_time"`
	AlertName         string `json:"alert_name"`
	Severity          string `json:"severity"`
	Priority          string `json:"priority"`
	MetricName        string `json:"metric_name"`
	MetricValue       string `json:"metric_value"`
	TriggerExpression string `json:"trigger_expression"`
	PendingDuration   string `json:"pending_duration"`
	EventID           string `json:"event_id"`
	Hardware          string `json:"hardware"`
	EventStatus       string `json:"event_status"`
	RunbookURL        string `json:"runbook_url"`
}

// Source returns the custom event source
func (a *ZabbixAdapter) Source() models.EventSource {
	return models.SourceCustom
}

// ValidateSecret accepts X-Zabbix-Secret or a bearer token
func (a *ZabbixAdapter) ValidateSecret(r *http.Request, secret string) error {
	return alerts.CheckSecret(r, "X-Zabbix-Secret", secret)
}

// ParsePayload turns one Zabbix problem into one event
func (a *ZabbixAdapter) ParsePayload(body []byte) ([]*models.Event, error) {
	var payload ZabbixPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse zabbix payload: %w", err)
	}
	if payload.AlertName == "" {
		return nil, fmt.Errorf("zabbix payload is missing alert_name")
	}
	return []*models.Event{a.toEvent(payload)}, nil
}

func (a *ZabbixAdapter) toEvent(payload ZabbixPayload) *models.Event {
	severity := zabbixPrioritySeverity(payload.Priority)
	if payload.Priority == "" && payload.Severity != "" {
		severity = alerts.NormalizeSeverity(payload.Severity)
	}
	if alerts.IsResolved(payload.EventStatus) {
		severity = models.SeverityInfo
	}

	labels := map[string]string{"zabbix_event_id": payload.EventID}
	if payload.Hardware != "" {
		labels["host"] = payload.Hardware
	}

	description := payload.TriggerExpression
	if payload.MetricName != "" {
		description = fmt.Sprintf("Metric: %s = %s\nTrigger: %s", payload.MetricName, payload.MetricValue, payload.TriggerExpression)
	}

	ev := &models.Event{
		Source:      models.SourceCustom,
		Severity:    severity,
		Title:       payload.AlertName,
		Description: description,
		Labels:      labels,
		RawData: map[string]interface{}{
			"integration":        "zabbix",
			"event_status":       payload.EventStatus,
			"priority":           payload.Priority,
			"metric_name":        payload.MetricName,
			"metric_value":       payload.MetricValue,
			"trigger_expression": payload.TriggerExpression,
			"pending_duration":   payload.PendingDuration,
			"runbook_url":        payload.RunbookURL,
		},
	}
	if t, ok := parseZabbixTime(payload.EventTime); ok {
		ev.Timestamp = t
	}
	return ev
}

func parseZabbixTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(zabbixTimeLayout, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// zabbixPrioritySeverity maps Zabbix trigger priority (0-5) to a severity
func zabbixPrioritySeverity(priority string) models.Severity {
	switch priority {
	case "5", "4": // Disaster, High
		return models.SeverityCritical
	case "3", "2": // Average, Warning
		return models.SeverityWarning
	case "1", "0": // Information, Not classified
		return models.SeverityInfo
	default:
		return models.SeverityWarning
	}
}
