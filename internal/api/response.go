package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/akmatori/nocpilot/internal/approval"
	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/pipeline"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// RespondJSON writes data as a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logging.Warnf("Failed to encode JSON response: %v", err)
		}
	}
}

// RespondError writes a standard error response.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message})
}

// RespondErrorWithCode writes an error response with a machine-readable code.
func RespondErrorWithCode(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// RespondValidationError writes field-level validation errors as a 422 response.
func RespondValidationError(w http.ResponseWriter, fieldErrors map[string]string) {
	RespondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error:   "Validation failed",
		Code:    "validation_error",
		Details: fieldErrors,
	})
}

// RespondDomainError maps pipeline and ledger errors to a status code and code string.
// Unknown errors become a 500 without leaking the message.
func RespondDomainError(w http.ResponseWriter, err error) {
	status, code := StatusFor(err)
	if status == http.StatusInternalServerError {
		logging.Errorf("Unhandled API error: %v", err)
		RespondErrorWithCode(w, status, code, "internal server error")
		return
	}
	RespondErrorWithCode(w, status, code, err.Error())
}

// StatusFor returns the HTTP status and error code for a domain error
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, approval.ErrRequestNotFound), errors.Is(err, pipeline.ErrActionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, approval.ErrRequestNotPending), errors.Is(err, pipeline.ErrActionNotPending):
		return http.StatusConflict, "not_pending"
	case errors.Is(err, pipeline.ErrLedgerAttached):
		return http.StatusConflict, "ledger_attached"
	case errors.Is(err, pipeline.ErrQueueFull):
		return http.StatusServiceUnavailable, "queue_full"
	case errors.Is(err, approval.ErrValidation), errors.Is(err, pipeline.ErrValidation):
		return http.StatusUnprocessableEntity, "validation_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

// RespondNoContent writes a 204 No Content response with no body.
func RespondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
