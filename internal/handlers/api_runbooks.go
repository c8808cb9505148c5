package handlers

import (
	"net/http"
	"strings"

	"github.com/akmatori/nocpilot/internal/api"
	"github.com/akmatori/nocpilot/internal/knowledge"
	"github.com/akmatori/nocpilot/internal/logging"
)

const defaultSearchTopK = 5

// handleListRunbooks handles GET /api/runbooks
func (h *APIHandler) handleListRunbooks(w http.ResponseWriter, r *http.Request) {
	api.RespondJSON(w, http.StatusOK, h.kb.List())
}

// handleGetRunbook handles GET /api/runbooks/{id}
func (h *APIHandler) handleGetRunbook(w http.ResponseWriter, r *http.Request) {
	rb, ok := h.kb.Get(r.PathValue("id"))
	if !ok {
		api.RespondErrorWithCode(w, http.StatusNotFound, "not_found", "Runbook not found")
		return
	}
	api.RespondJSON(w, http.StatusOK, rb)
}

// handleCreateRunbook handles POST /api/runbooks
func (h *APIHandler) handleCreateRunbook(w http.ResponseWriter, r *http.Request) {
	var rb knowledge.Runbook
	if !api.Bind(w, r, &rb) {
		return
	}
	if _, exists := h.kb.Get(rb.ID); exists {
		api.RespondErrorWithCode(w, http.StatusConflict, "already_exists", "Runbook "+rb.ID+" already exists")
		return
	}

	if err := h.kb.Add(r.Context(), &rb); err != nil {
		api.RespondValidationError(w, map[string]string{"runbook": err.Error()})
		return
	}
	logging.Infof("Runbook %s created", rb.ID)

	stored, _ := h.kb.Get(rb.ID)
	api.RespondJSON(w, http.StatusCreated, stored)
}

// handleUpdateRunbook handles PUT /api/runbooks/{id}. The path id wins over the body.
func (h *APIHandler) handleUpdateRunbook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.kb.Get(id); !ok {
		api.RespondErrorWithCode(w, http.StatusNotFound, "not_found", "Runbook not found")
		return
	}

	var rb knowledge.Runbook
	if err := api.DecodeJSON(r, &rb); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rb.ID = id
	if fieldErrors := api.Validate(rb); fieldErrors != nil {
		api.RespondValidationError(w, fieldErrors)
		return
	}

	if err := h.kb.Add(r.Context(), &rb); err != nil {
		api.RespondValidationError(w, map[string]string{"runbook": err.Error()})
		return
	}
	logging.Infof("Runbook %s updated", id)

	stored, _ := h.kb.Get(id)
	api.RespondJSON(w, http.StatusOK, stored)
}

// handleDeleteRunbook handles DELETE /api/runbooks/{id}
func (h *APIHandler) handleDeleteRunbook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.kb.Remove(id) {
		api.RespondErrorWithCode(w, http.StatusNotFound, "not_found", "Runbook not found")
		return
	}
	logging.Infof("Runbook %s deleted", id)
	api.RespondNoContent(w)
}

// handleSearchRunbooks handles GET /api/runbooks/search?q=&tags=a,b&limit=
func (h *APIHandler) handleSearchRunbooks(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	tags := splitTags(r.URL.Query().Get("tags"))
	if q == "" && len(tags) == 0 {
		api.RespondValidationError(w, map[string]string{"q": "q or tags is required"})
		return
	}

	topK := defaultSearchTopK
	if r.URL.Query().Get("limit") != "" {
		topK = api.ParseLimit(r)
	}

	results := h.kb.Search(r.Context(), q, tags, topK)
	if results == nil {
		results = []knowledge.SearchResult{}
	}
	api.RespondJSON(w, http.StatusOK, api.RunbookSearchResponse{Query: q, Results: results})
}

func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
