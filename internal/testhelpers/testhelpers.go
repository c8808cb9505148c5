// Package testhelpers provides reusable testing utilities for nocpilot.
//
// This package contains:
// - HTTP test helpers (creating requests, asserting responses)
// - Mock implementations (webhook adapters, event submitters)
// - Builders for events, actions, analyses and runbooks
// - Polling and concurrency helpers
package testhelpers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/akmatori/nocpilot/internal/middleware"
	"github.com/akmatori/nocpilot/internal/models"
)

// ========================================
// HTTP Test Helpers
// ========================================

// HTTPTestContext holds components for HTTP handler testing
type HTTPTestContext struct {
	T        *testing.T
	Recorder *httptest.ResponseRecorder
	Request  *http.Request
}

// NewHTTPTestContext creates a new HTTP test context
func NewHTTPTestContext(t *testing.T, method, path string, body io.Reader) *HTTPTestContext {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	return &HTTPTestContext{
		T:        t,
		Recorder: httptest.NewRecorder(),
		Request:  req,
	}
}

// WithHeader adds a header to the request
func (ctx *HTTPTestContext) WithHeader(key, value string) *HTTPTestContext {
	ctx.Request.Header.Set(key, value)
	return ctx
}

// WithJSONBody sets JSON body on the request
func (ctx *HTTPTestContext) WithJSONBody(v interface{}) *HTTPTestContext {
	ctx.T.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		ctx.T.Fatalf("failed to marshal JSON body: %v", err)
	}
	return ctx.WithRawBody(body)
}

// WithRawBody replaces the request body, keeping method, URL and headers
func (ctx *HTTPTestContext) WithRawBody(body []byte) *HTTPTestContext {
	req := httptest.NewRequest(ctx.Request.Method, ctx.Request.URL.String(), bytes.NewReader(body))
	req.Header = ctx.Request.Header.Clone()
	req.Header.Set("Content-Type", "application/json")
	ctx.Request = req.WithContext(ctx.Request.Context())
	return ctx
}

// AsUser marks the request as authenticated, the way the JWT middleware does
func (ctx *HTTPTestContext) AsUser(username string) *HTTPTestContext {
	c := context.WithValue(ctx.Request.Context(), middleware.UserContextKey, username)
	ctx.Request = ctx.Request.WithContext(c)
	return ctx
}

// WithBearerToken adds Authorization Bearer header
func (ctx *HTTPTestContext) WithBearerToken(token string) *HTTPTestContext {
	return ctx.WithHeader("Authorization", "Bearer "+token)
}

// Execute runs the handler and returns the response
func (ctx *HTTPTestContext) Execute(handler http.Handler) *HTTPTestContext {
	handler.ServeHTTP(ctx.Recorder, ctx.Request)
	return ctx
}

// AssertStatus checks the response status code
func (ctx *HTTPTestContext) AssertStatus(expected int) *HTTPTestContext {
	ctx.T.Helper()
	if ctx.Recorder.Code != expected {
		ctx.T.Errorf("expected status %d, got %d. Body: %s", expected, ctx.Recorder.Code, ctx.Recorder.Body.String())
	}
	return ctx
}

// AssertBodyContains checks if response body contains substring
func (ctx *HTTPTestContext) AssertBodyContains(substr string) *HTTPTestContext {
	ctx.T.Helper()
	body := ctx.Recorder.Body.String()
	if !strings.Contains(body, substr) {
		ctx.T.Errorf("expected body to contain %q, got: %s", substr, body)
	}
	return ctx
}

// AssertErrorCode checks the machine-readable code of an error envelope
func (ctx *HTTPTestContext) AssertErrorCode(expected string) *HTTPTestContext {
	ctx.T.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(ctx.Recorder.Body.Bytes(), &body); err != nil {
		ctx.T.Fatalf("failed to decode error body: %v", err)
	}
	if body.Code != expected {
		ctx.T.Errorf("expected error code %q, got %q", expected, body.Code)
	}
	return ctx
}

// DecodeJSON decodes response body as JSON
func (ctx *HTTPTestContext) DecodeJSON(v interface{}) *HTTPTestContext {
	ctx.T.Helper()
	if err := json.NewDecoder(ctx.Recorder.Body).Decode(v); err != nil {
		ctx.T.Fatalf("failed to decode JSON response: %v", err)
	}
	return ctx
}

// ========================================
// Mock Webhook Adapter
// ========================================

// MockAdapter implements alerts.Adapter for testing
type MockAdapter struct {
	EventSource    models.EventSource
	Events         []*models.Event
	ParseError     error
	SecretError    error
	ReceivedBodies [][]byte
	mu             sync.Mutex
}

// NewMockAdapter creates a mock adapter producing events for source
func NewMockAdapter(source models.EventSource) *MockAdapter {
	return &MockAdapter{EventSource: source}
}

// Source returns the configured source
func (m *MockAdapter) Source() models.EventSource {
	return m.EventSource
}

// ValidateSecret returns the configured secret error
func (m *MockAdapter) ValidateSecret(r *http.Request, secret string) error {
	return m.SecretError
}

// ParsePayload records the body and returns copies of the configured events
func (m *MockAdapter) ParsePayload(body []byte) ([]*models.Event, error) {
	m.mu.Lock()
	m.ReceivedBodies = append(m.ReceivedBodies, body)
	m.mu.Unlock()
	if m.ParseError != nil {
		return nil, m.ParseError
	}
	out := make([]*models.Event, len(m.Events))
	for i, ev := range m.Events {
		c := *ev
		out[i] = &c
	}
	return out, nil
}

// WithEvents sets the events to return
func (m *MockAdapter) WithEvents(events ...*models.Event) *MockAdapter {
	m.Events = events
	return m
}

// WithParseError sets the parse error to return
func (m *MockAdapter) WithParseError(err error) *MockAdapter {
	m.ParseError = err
	return m
}

// WithSecretError sets the secret validation error to return
func (m *MockAdapter) WithSecretError(err error) *MockAdapter {
	m.SecretError = err
	return m
}

// ========================================
// Recording Submitter
// ========================================

// RecordingSubmitter implements alerts.Submitter and keeps every event it receives
type RecordingSubmitter struct {
	mu     sync.Mutex
	events []*models.Event
	err    error
	n      int
}

// NewRecordingSubmitter creates a submitter that accepts everything
func NewRecordingSubmitter() *RecordingSubmitter {
	return &RecordingSubmitter{}
}

// FailWith makes every following Submit return err
func (s *RecordingSubmitter) FailWith(err error) *RecordingSubmitter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

// Submit records ev and returns a sequential id
func (s *RecordingSubmitter) Submit(_ context.Context, ev *models.Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.n++
	c := *ev
	if c.ID == "" {
		c.ID = fmt.Sprintf("evt-%03d", s.n)
	}
	s.events = append(s.events, &c)
	return c.ID, nil
}

// Events returns a snapshot of the recorded events
func (s *RecordingSubmitter) Events() []*models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Event(nil), s.events...)
}

// ========================================
// Timing Helpers
// ========================================

// Eventually polls cond every 5ms until it holds or timeout elapses
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("%s: condition not met within %v", msg, timeout)
	}
}
