package alerts

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/akmatori/nocpilot/internal/models"
)

// Adapter turns the webhook body of one monitoring system into events
type Adapter interface {
	// Source returns the event source the adapter produces
	Source() models.EventSource

	// ValidateSecret checks the request against the configured shared secret
	ValidateSecret(r *http.Request, secret string) error

	// ParsePayload parses the raw request body. A single webhook can carry several alerts.
	ParsePayload(body []byte) ([]*models.Event, error)
}

// Submitter accepts events for processing
type Submitter interface {
	Submit(ctx context.Context, ev *models.Event) (string, error)
}

// CheckSecret compares the X-Webhook-Secret header, or a bearer token, with secret.
// An empty secret disables the check.
func CheckSecret(r *http.Request, header, secret string) error {
	if secret == "" {
		return nil
	}

	got := r.Header.Get(header)
	if got == "" {
		got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
		return fmt.Errorf("invalid webhook secret")
	}
	return nil
}

// NormalizeSeverity maps vendor severity names onto the three event severities.
// Unknown values are treated as info.
func NormalizeSeverity(severity string) models.Severity {
	severity = strings.ToLower(strings.TrimSpace(severity))
	for normalized, aliases := range DefaultSeverityMapping {
		for _, alias := range aliases {
			if alias == severity {
				return normalized
			}
		}
	}
	return models.SeverityInfo
}

// DefaultSeverityMapping lists the accepted aliases for each severity
var DefaultSeverityMapping = map[models.Severity][]string{
	models.SeverityCritical: {"critical", "disaster", "p1", "emergency", "fatal", "page", "high", "major", "p2", "error", "severe"},
	models.SeverityWarning:  {"warning", "minor", "p3", "average", "warn"},
	models.SeverityInfo:     {"info", "informational", "p4", "low", "notice", "debug", "none"},
}

// IsResolved reports whether a status string means the alert has cleared
func IsResolved(status string) bool {
	switch strings.ToLower(status) {
	case "resolved", "ok", "recovery", "inactive":
		return true
	}
	return false
}
