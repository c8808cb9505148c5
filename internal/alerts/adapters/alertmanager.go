package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/akmatori/nocpilot/internal/alerts"
	"github.com/akmatori/nocpilot/internal/models"
)

const unknownAlertTitle = "Unknown Alert"

// AlertmanagerAdapter handles Prometheus Alertmanager webhooks
type AlertmanagerAdapter struct{}

// NewAlertmanagerAdapter creates a new Alertmanager adapter
func NewAlertmanagerAdapter() *AlertmanagerAdapter {
	return &AlertmanagerAdapter{}
}

// AlertmanagerPayload is the webhook body Alertmanager posts
type AlertmanagerPayload struct {
	Alerts            []AlertmanagerAlert `json:"alerts"`
	Status            string              `json:"status"`
	Receiver          string              `json:"receiver"`
	GroupLabels       map[string]string   `json:"groupLabels"`
	CommonLabels      map[string]string   `json:"commonLabels"`
	CommonAnnotations map[string]string   `json:"commonAnnotations"`
	ExternalURL       string              `json:"externalURL"`
	Version           string              `json:"version"`
	GroupKey          string              `json:"groupKey"`
}

// AlertmanagerAlert represents a single alert in the payload
type AlertmanagerAlert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       time.Time         `json:"endsAt"`
	GeneratorURL string            `json:"generatorURL"`
	Fingerprint  string            `json:"fingerprint"`
}

// Source returns the alertmanager event source
func (a *AlertmanagerAdapter) Source() models.EventSource {
	return models.SourceAlertmanager
}

// ValidateSecret accepts X-Alertmanager-Secret or a bearer token
func (a *AlertmanagerAdapter) ValidateSecret(r *http.Request, secret string) error {
	return alerts.CheckSecret(r, "X-Alertmanager-Secret", secret)
}

// ParsePayload emits one event per alert in the group
func (a *AlertmanagerAdapter) ParsePayload(body []byte) ([]*models.Event, error) {
	var payload AlertmanagerPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse alertmanager payload: %w", err)
	}

	events := make([]*models.Event, 0, len(payload.Alerts))
	for _, alert := range payload.Alerts {
		events = append(events, a.toEvent(alert, payload.ExternalURL))
	}
	return events, nil
}

func (a *AlertmanagerAdapter) toEvent(alert AlertmanagerAlert, externalURL string) *models.Event {
	labels := make(map[string]string, len(alert.Labels))
	for k, v := range alert.Labels {
		labels[k] = v
	}

	title := labels["alertname"]
	if title == "" {
		title = alert.Annotations["summary"]
	}
	if title == "" {
		title = unknownAlertTitle
	}

	description := alert.Annotations["description"]
	if description == "" {
		description = alert.Annotations["summary"]
	}

	severity := alerts.NormalizeSeverity(labels["severity"])
	if alerts.IsResolved(alert.Status) {
		severity = models.SeverityInfo
	}

	raw := map[string]interface{}{
		"status":       alert.Status,
		"labels":       alert.Labels,
		"annotations":  alert.Annotations,
		"startsAt":     alert.StartsAt.Format(time.RFC3339),
		"generatorURL": alert.GeneratorURL,
		"fingerprint":  alert.Fingerprint,
	}
	if !alert.EndsAt.IsZero() && alerts.IsResolved(alert.Status) {
		raw["endsAt"] = alert.EndsAt.Format(time.RFC3339)
	}
	if externalURL != "" {
		raw["externalURL"] = externalURL
	}
	if url := alert.Annotations["runbook_url"]; url != "" {
		raw["runbook_url"] = url
	}

	ev := &models.Event{
		Source:      models.SourceAlertmanager,
		Severity:    severity,
		Title:       title,
		Description: description,
		Labels:      labels,
		RawData:     raw,
	}
	if !alert.StartsAt.IsZero() {
		ev.Timestamp = alert.StartsAt.UTC()
	}
	return ev
}
