package handlers

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/akmatori/nocpilot/internal/alerts"
	"github.com/akmatori/nocpilot/internal/api"
	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/utils"
)

// maxWebhookBody caps webhook payloads; Alertmanager groups rarely exceed a few hundred KB
const maxWebhookBody = 5 << 20

// AlertHandler handles webhook requests from multiple alert sources
type AlertHandler struct {
	submitter alerts.Submitter
	secret    string

	mu sync.RWMutex
	// Registered adapters by route name
	adapters map[string]alerts.Adapter
}

// NewAlertHandler creates a new alert handler. An empty secret disables webhook authentication.
func NewAlertHandler(submitter alerts.Submitter, secret string) *AlertHandler {
	return &AlertHandler{
		submitter: submitter,
		secret:    secret,
		adapters:  make(map[string]alerts.Adapter),
	}
}

// RegisterAdapter serves adapter under /webhook/{name}
func (h *AlertHandler) RegisterAdapter(name string, adapter alerts.Adapter) {
	h.mu.Lock()
	h.adapters[name] = adapter
	h.mu.Unlock()
	logging.Infof("Registered alert adapter: %s (source %s)", name, adapter.Source())
}

// Sources lists the registered route names in sorted order
func (h *AlertHandler) Sources() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.adapters))
	for name := range h.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *AlertHandler) adapter(name string) (alerts.Adapter, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.adapters[name]
	return a, ok
}

// HandleWebhook processes incoming webhook requests
// Route: POST /webhook/{source}
func (h *AlertHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	source := r.PathValue("source")
	adapter, ok := h.adapter(source)
	if !ok {
		api.RespondErrorWithCode(w, http.StatusNotFound, "unknown_source", "Unsupported alert source: "+source)
		return
	}

	if err := adapter.ValidateSecret(r, h.secret); err != nil {
		logging.Warnf("Webhook secret validation failed for %s from %s: %v", source, r.RemoteAddr, err)
		api.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.RespondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		logging.Warnf("Error reading %s webhook body: %v", source, err)
		api.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	events, err := adapter.ParsePayload(body)
	if err != nil {
		logging.Warnf("Error parsing %s payload: %v (body: %s)", source, err, utils.EscapeForLogging(string(body), 256))
		api.RespondError(w, http.StatusBadRequest, "Invalid payload: "+err.Error())
		return
	}

	resp := api.WebhookResponse{EventIDs: make([]string, 0, len(events))}
	for _, ev := range events {
		id, err := h.submitter.Submit(r.Context(), ev)
		if err != nil {
			logging.Warnf("Failed to submit %s alert %q: %v", source, ev.Title, err)
			resp.Failed++
			continue
		}
		resp.EventIDs = append(resp.EventIDs, id)
		resp.Accepted++
	}

	logging.Infof("Received %d alerts from %s (%d accepted, %d failed)", len(events), source, resp.Accepted, resp.Failed)

	status := http.StatusAccepted
	if resp.Accepted == 0 && resp.Failed > 0 {
		status = http.StatusServiceUnavailable
	}
	api.RespondJSON(w, status, resp)
}
