package handlers

import (
	"net/http"
	"time"

	"github.com/akmatori/nocpilot/internal/api"
	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/models"
)

// handleSubmitEvent handles POST /api/events
func (h *APIHandler) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitEventRequest
	if !api.Bind(w, r, &req) {
		return
	}

	id, err := h.pipeline.Submit(r.Context(), api.RequestToEvent(req))
	if err != nil {
		api.RespondDomainError(w, err)
		return
	}

	api.RespondJSON(w, http.StatusAccepted, api.SubmitEventResponse{ID: id, Status: "submitted"})
}

// handleListEvents handles GET /api/events?limit=
func (h *APIHandler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events := h.pipeline.ListEvents(api.ParseLimit(r))
	if events == nil {
		events = []*models.Event{}
	}
	api.RespondJSON(w, http.StatusOK, events)
}

// handleGetEvent handles GET /api/events/{id}
func (h *APIHandler) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ev, ok := h.pipeline.GetEvent(id)
	if !ok {
		api.RespondErrorWithCode(w, http.StatusNotFound, "not_found", "Event not found")
		return
	}

	resp := api.EventDetailResponse{
		Event:   ev,
		Actions: h.pipeline.ActionsForEvent(id),
	}
	if analysis, ok := h.pipeline.GetAnalysis(id); ok {
		resp.Analysis = analysis
	}
	if resp.Actions == nil {
		resp.Actions = []*models.RemediationAction{}
	}
	api.RespondJSON(w, http.StatusOK, resp)
}

// handleAnalyzeEvents handles POST /api/events/analyze. The events are analyzed
// concurrently but never enter the pipeline, so no actions are created.
func (h *APIHandler) handleAnalyzeEvents(w http.ResponseWriter, r *http.Request) {
	if h.batch == nil {
		api.RespondErrorWithCode(w, http.StatusServiceUnavailable, "analyzer_unavailable", "Batch analysis is not configured")
		return
	}

	var req api.AnalyzeRequest
	if !api.Bind(w, r, &req) {
		return
	}

	events := api.EventsForAnalysis(req, time.Now())
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			api.RespondValidationError(w, map[string]string{
				"events": "event " + ev.ID + ": " + err.Error(),
			})
			return
		}
	}

	start := time.Now()
	analyses := h.batch.AnalyzeBatch(r.Context(), events)
	logging.Debugf("Dry-run analysis of %d events took %s", len(events), time.Since(start))

	api.RespondJSON(w, http.StatusOK, api.AnalyzeResponse{Analyses: analyses})
}
