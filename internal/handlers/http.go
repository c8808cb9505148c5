package handlers

import (
	"net/http"

	"github.com/akmatori/nocpilot/internal/api"
	"github.com/akmatori/nocpilot/internal/pipeline"
)

// HTTPHandler handles unauthenticated HTTP endpoints
type HTTPHandler struct {
	alertHandler *AlertHandler
	pipeline     *pipeline.Pipeline
	version      string
}

// NewHTTPHandler creates a new HTTP handler. Both alertHandler and p may be nil.
func NewHTTPHandler(alertHandler *AlertHandler, p *pipeline.Pipeline, version string) *HTTPHandler {
	if version == "" {
		version = "dev"
	}
	return &HTTPHandler{
		alertHandler: alertHandler,
		pipeline:     p,
		version:      version,
	}
}

// SetupRoutes configures all HTTP routes
func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	// Alert webhooks: /webhook/{source}
	if h.alertHandler != nil {
		mux.HandleFunc("POST /webhook/{source}", h.alertHandler.HandleWebhook)
	}
}

// handleHealth returns a simple health check response
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	response := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	}
	if h.pipeline != nil {
		stats := h.pipeline.Stats()
		response["queue_depth"] = stats.QueueDepth
		response["total_events"] = stats.TotalEvents
	}

	api.RespondJSON(w, http.StatusOK, response)
}
