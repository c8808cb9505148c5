package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/akmatori/nocpilot/internal/alerts"
	"github.com/akmatori/nocpilot/internal/approval"
	"github.com/akmatori/nocpilot/internal/models"
)

// RequestToEvent converts a submitted event body into a model event. Source defaults to
// custom and known severity aliases are normalized; anything else is kept verbatim so
// validation rejects it.
func RequestToEvent(req SubmitEventRequest) *models.Event {
	source := models.EventSource(req.Source)
	if source == "" {
		source = models.SourceCustom
	}
	ev := &models.Event{
		ID:          req.ID,
		Source:      source,
		Severity:    parseSeverity(req.Severity),
		Title:       req.Title,
		Description: req.Description,
		Labels:      req.Labels,
		RawData:     req.RawData,
	}
	if req.Timestamp != nil {
		ev.Timestamp = req.Timestamp.UTC()
	}
	return ev
}

func parseSeverity(raw string) models.Severity {
	s := strings.ToLower(strings.TrimSpace(raw))
	for sev, aliases := range alerts.DefaultSeverityMapping {
		for _, a := range aliases {
			if a == s {
				return sev
			}
		}
	}
	return models.Severity(raw)
}

// ActionToResponse attaches the gating approval request id, if any.
func ActionToResponse(a *models.RemediationAction, requestID string) ActionResponse {
	return ActionResponse{RemediationAction: a, ApprovalRequestID: requestID}
}

// LedgerStatsToResponse flattens ledger counters into string-keyed maps.
func LedgerStatsToResponse(s approval.Stats) ApprovalStatsResponse {
	resp := ApprovalStatsResponse{
		Pending:         s.Pending,
		PendingByAction: make(map[string]int, len(s.PendingByAction)),
		ResolvedCounts:  make(map[string]int, len(s.Resolved)),
	}
	for k, v := range s.PendingByAction {
		resp.PendingByAction[string(k)] = v
	}
	for k, v := range s.Resolved {
		resp.ResolvedCounts[string(k)] = v
	}
	return resp
}

// EventsForAnalysis converts a dry-run request, assigning placeholder ids and
// timestamps so the analyzer sees complete events.
func EventsForAnalysis(req AnalyzeRequest, now time.Time) []*models.Event {
	out := make([]*models.Event, len(req.Events))
	for i, r := range req.Events {
		ev := RequestToEvent(r)
		if ev.ID == "" {
			ev.ID = "dry-run-" + strconv.Itoa(i)
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = now.UTC()
		}
		out[i] = ev
	}
	return out
}
