package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

// echoRequestID writes the context's request id into the body
var echoRequestID = RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(GetRequestID(r.Context())))
}))

func TestRequestID_GeneratesUUID(t *testing.T) {
	rec := serve(echoRequestID, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	header := rec.Header().Get(RequestIDHeader)
	id, err := uuid.Parse(header)
	if err != nil || id.Version() != 4 {
		t.Fatalf("expected a v4 UUID, got %q", header)
	}
	if rec.Body.String() != header {
		t.Errorf("expected context id %q to match header, got %q", header, rec.Body.String())
	}

	again := serve(echoRequestID, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	if again.Header().Get(RequestIDHeader) == header {
		t.Error("expected a fresh id per request")
	}
}

func TestRequestID_ClientSuppliedID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		kept bool
	}{
		{"trace id", "4bf92f3577b34da6a3ce929d0e0e4736", true},
		{"proxy style", "edge-1:req/42+retry=1", true},
		{"too long", strings.Repeat("x", maxRequestIDLen+1), false},
		{"spaces", "req 42", false},
		{"newline", "req\n42", false},
		{"quote", `req"42`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
			// assigned directly so the newline case is not altered on the way in
			req.Header[http.CanonicalHeaderKey(RequestIDHeader)] = []string{tt.id}
			rec := serve(echoRequestID, req)

			got := rec.Header().Get(RequestIDHeader)
			if tt.kept && got != tt.id {
				t.Errorf("expected %q to be kept, got %q", tt.id, got)
			}
			if !tt.kept {
				if got == tt.id {
					t.Errorf("expected %q to be replaced", tt.id)
				}
				if _, err := uuid.Parse(got); err != nil {
					t.Errorf("expected replacement UUID, got %q", got)
				}
			}
		})
	}
}

func TestGetRequestID_OutsideRequest(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("expected empty id, got %q", id)
	}
}
