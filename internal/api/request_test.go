package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newRequest creates a POST request with the given JSON body
func newRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func TestDecodeJSON_SubmitEventRequest(t *testing.T) {
	var req SubmitEventRequest
	err := DecodeJSON(newRequest(`{"title":"NodeDown","severity":"critical","labels":{"host":"db-01"}}`), &req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Title != "NodeDown" || req.Severity != "critical" {
		t.Errorf("unexpected decode result %+v", req)
	}
	if req.Labels["host"] != "db-01" {
		t.Errorf("expected labels to decode, got %v", req.Labels)
	}
}

func TestDecodeJSON_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", "", "request body is empty"},
		{"malformed", `{invalid}`, "malformed JSON at position"},
		{"truncated", `{"title":"x"`, "malformed JSON"},
		{"type mismatch", `{"title":42}`, `invalid value for field "title"`},
		{"unknown field", `{"title":"x","colour":"red"}`, `unknown field "colour"`},
		{"two documents", `{"title":"x"}{"title":"y"}`, "single JSON value"},
		{"oversized", `{"description":"` + strings.Repeat("x", MaxBodySize+1) + `"}`, "exceeds maximum size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req SubmitEventRequest
			err := DecodeJSON(newRequest(tt.body), &req)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %q", tt.want, err.Error())
			}
		})
	}
}

func TestDecodeJSON_NilBody(t *testing.T) {
	r, _ := http.NewRequest(http.MethodPost, "/api/events", nil)

	var req SubmitEventRequest
	if err := DecodeJSON(r, &req); err == nil || err.Error() != "request body is empty" {
		t.Errorf("expected empty body error, got %v", err)
	}
}

func TestDecodeOptionalJSON(t *testing.T) {
	empty, _ := http.NewRequest(http.MethodPost, "/api/approvals/x/reject", nil)
	body := RejectRequest{Reason: "unchanged"}
	if err := DecodeOptionalJSON(empty, &body); err != nil {
		t.Fatalf("unexpected error for empty body: %v", err)
	}
	if body.Reason != "unchanged" {
		t.Errorf("expected body untouched, got %q", body.Reason)
	}

	if err := DecodeOptionalJSON(newRequest(`{"reason":"not now"}`), &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.Reason != "not now" {
		t.Errorf("expected reason to decode, got %q", body.Reason)
	}

	if err := DecodeOptionalJSON(newRequest(`{"nope":1}`), &body); err == nil {
		t.Error("expected unknown field error")
	}
}

func TestBind(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		ok     bool
		status int
		code   string
	}{
		{"valid", `{"title":"NodeDown","severity":"P1"}`, true, http.StatusOK, ""},
		{"bad json", `{"title":`, false, http.StatusBadRequest, ""},
		{"invalid", `{"title":"NodeDown","severity":"apocalyptic"}`, false, http.StatusUnprocessableEntity, "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			var req SubmitEventRequest
			if got := Bind(w, newRequest(tt.body), &req); got != tt.ok {
				t.Fatalf("expected Bind to return %v, got %v", tt.ok, got)
			}
			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}
			if tt.code == "" {
				return
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("invalid error body: %v", err)
			}
			if resp.Code != tt.code {
				t.Errorf("expected code %q, got %q", tt.code, resp.Code)
			}
			if _, ok := resp.Details["severity"]; !ok {
				t.Errorf("expected severity in details, got %v", resp.Details)
			}
		})
	}
}

func TestBindOptional_EmptyBodyStillValidates(t *testing.T) {
	empty, _ := http.NewRequest(http.MethodPost, "/api/approvals/x/approve", nil)
	w := httptest.NewRecorder()

	var body ApproveRequest
	if !BindOptional(w, empty, &body) {
		t.Fatalf("expected empty approve body to bind, got status %d", w.Code)
	}
}
