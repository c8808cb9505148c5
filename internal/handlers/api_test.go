package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akmatori/nocpilot/internal/analyzer"
	"github.com/akmatori/nocpilot/internal/api"
	"github.com/akmatori/nocpilot/internal/approval"
	"github.com/akmatori/nocpilot/internal/database"
	"github.com/akmatori/nocpilot/internal/knowledge"
	"github.com/akmatori/nocpilot/internal/models"
	"github.com/akmatori/nocpilot/internal/pipeline"
	"github.com/akmatori/nocpilot/internal/testhelpers"
)

type testAPI struct {
	handler  *APIHandler
	mux      *http.ServeMux
	pipeline *pipeline.Pipeline
	ledger   *approval.Ledger
	kb       *knowledge.KnowledgeBase
}

// newTestAPI wires a running pipeline behind the static analyzer, which escalates every
// event and asks for approval
func newTestAPI(t *testing.T, withLedger bool) *testAPI {
	t.Helper()
	p := pipeline.New(analyzer.StaticAnalyzer{}, nil)
	var ledger *approval.Ledger
	if withLedger {
		ledger = approval.NewLedger(approval.DefaultConfig(), nil)
		p.SetApprovalSubsystem(ledger)
	}
	p.Start()
	t.Cleanup(p.Stop)

	kb := knowledge.New(nil)
	h := NewAPIHandler(p, ledger, kb, analyzer.NewBatchAnalyzer(analyzer.StaticAnalyzer{}, 2))
	mux := http.NewServeMux()
	h.SetupRoutes(mux)
	return &testAPI{handler: h, mux: mux, pipeline: p, ledger: ledger, kb: kb}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *testhelpers.HTTPTestContext {
	t.Helper()
	ctx := testhelpers.NewHTTPTestContext(t, method, path, nil)
	if body != nil {
		ctx.WithJSONBody(body)
	}
	return ctx
}

func (a *testAPI) submit(t *testing.T, title string, sev models.Severity) string {
	t.Helper()
	var resp api.SubmitEventResponse
	a.do(t, http.MethodPost, "/api/events", api.SubmitEventRequest{Title: title, Severity: string(sev)}).
		Execute(a.mux).
		AssertStatus(http.StatusAccepted).
		DecodeJSON(&resp)
	return resp.ID
}

func (a *testAPI) waitForPending(t *testing.T, n int) []*models.ApprovalRequest {
	t.Helper()
	testhelpers.Eventually(t, 2*time.Second, func() bool { return len(a.ledger.GetPending()) == n }, "pending approvals")
	return a.ledger.GetPending()
}

// ========== Events ==========

func TestAPI_SubmitEvent(t *testing.T) {
	a := newTestAPI(t, false)

	var resp api.SubmitEventResponse
	a.do(t, http.MethodPost, "/api/events", map[string]interface{}{
		"title":    "PodCrashLooping",
		"severity": "P3",
		"labels":   map[string]string{"pod": "api-0"},
	}).Execute(a.mux).AssertStatus(http.StatusAccepted).DecodeJSON(&resp)

	if resp.ID == "" || resp.Status != "submitted" {
		t.Fatalf("unexpected response %+v", resp)
	}

	testhelpers.Eventually(t, 2*time.Second, func() bool {
		return len(a.pipeline.ActionsForEvent(resp.ID)) == 1
	}, "escalation action")

	var detail struct {
		Event    models.Event               `json:"event"`
		Analysis *models.AIAnalysis         `json:"analysis"`
		Actions  []models.RemediationAction `json:"actions"`
	}
	a.do(t, http.MethodGet, "/api/events/"+resp.ID, nil).Execute(a.mux).AssertStatus(http.StatusOK).DecodeJSON(&detail)

	if detail.Event.Severity != models.SeverityWarning {
		t.Errorf("expected P3 to normalize to warning, got %s", detail.Event.Severity)
	}
	if detail.Event.Source != models.SourceCustom {
		t.Errorf("expected default source custom, got %s", detail.Event.Source)
	}
	if detail.Analysis == nil {
		t.Error("expected stored analysis")
	}
	if len(detail.Actions) != 1 || detail.Actions[0].ActionType != models.ActionEscalate {
		t.Errorf("expected one escalate action, got %+v", detail.Actions)
	}
}

func TestAPI_SubmitEventRejectsBadInput(t *testing.T) {
	a := newTestAPI(t, false)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed JSON", `{"title":`, http.StatusBadRequest},
		{"unknown field", `{"title":"x","severity":"info","colour":"red"}`, http.StatusBadRequest},
		{"missing title", `{"severity":"info"}`, http.StatusUnprocessableEntity},
		{"unknown source", `{"title":"x","severity":"info","source":"nagios"}`, http.StatusUnprocessableEntity},
		{"unknown severity", `{"title":"x","severity":"apocalyptic"}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testhelpers.NewHTTPTestContext(t, http.MethodPost, "/api/events", bytes.NewBufferString(tt.body)).
				Execute(a.mux).
				AssertStatus(tt.status)
		})
	}

	if got := a.pipeline.Stats().TotalEvents; got != 0 {
		t.Errorf("expected no stored events, got %d", got)
	}
}

func TestAPI_DuplicateEventID(t *testing.T) {
	a := newTestAPI(t, false)
	body := api.SubmitEventRequest{ID: "evt-1", Title: "x", Severity: "info"}

	a.do(t, http.MethodPost, "/api/events", body).Execute(a.mux).AssertStatus(http.StatusAccepted)
	a.do(t, http.MethodPost, "/api/events", body).Execute(a.mux).
		AssertStatus(http.StatusUnprocessableEntity).
		AssertErrorCode("validation_error")
}

func TestAPI_ListAndGetEvents(t *testing.T) {
	a := newTestAPI(t, false)
	for _, title := range []string{"one", "two", "three"} {
		a.submit(t, title, models.SeverityInfo)
	}

	var events []models.Event
	a.do(t, http.MethodGet, "/api/events?limit=2", nil).Execute(a.mux).AssertStatus(http.StatusOK).DecodeJSON(&events)
	if len(events) != 2 {
		t.Errorf("expected 2 events with limit, got %d", len(events))
	}

	a.do(t, http.MethodGet, "/api/events/missing", nil).Execute(a.mux).
		AssertStatus(http.StatusNotFound).
		AssertErrorCode("not_found")
}

func TestAPI_AnalyzeEventsIsDryRun(t *testing.T) {
	a := newTestAPI(t, false)

	var resp api.AnalyzeResponse
	a.do(t, http.MethodPost, "/api/events/analyze", api.AnalyzeRequest{Events: []api.SubmitEventRequest{
		{Title: "disk full", Severity: "critical"},
		{Title: "fan failure", Severity: "warning"},
	}}).Execute(a.mux).AssertStatus(http.StatusOK).DecodeJSON(&resp)

	if len(resp.Analyses) != 2 {
		t.Fatalf("expected 2 analyses, got %d", len(resp.Analyses))
	}
	if resp.Analyses[0].EventID != "dry-run-0" || resp.Analyses[1].EventID != "dry-run-1" {
		t.Errorf("expected analyses in request order, got %s, %s", resp.Analyses[0].EventID, resp.Analyses[1].EventID)
	}
	if got := a.pipeline.Stats().TotalEvents; got != 0 {
		t.Errorf("expected dry run to leave the pipeline empty, got %d events", got)
	}

	a.do(t, http.MethodPost, "/api/events/analyze", api.AnalyzeRequest{}).Execute(a.mux).
		AssertStatus(http.StatusUnprocessableEntity)
}

func TestAPI_AnalyzeEventsWithoutBatchAnalyzer(t *testing.T) {
	p := pipeline.New(analyzer.StaticAnalyzer{}, nil)
	mux := http.NewServeMux()
	NewAPIHandler(p, nil, knowledge.New(nil), nil).SetupRoutes(mux)

	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/api/events/analyze", nil).
		WithJSONBody(api.AnalyzeRequest{Events: []api.SubmitEventRequest{{Title: "x", Severity: "info"}}}).
		Execute(mux).
		AssertStatus(http.StatusServiceUnavailable)
}

// ========== Actions ==========

func TestAPI_LegacyActionDecisions(t *testing.T) {
	a := newTestAPI(t, false)
	first := a.submit(t, "one", models.SeverityWarning)
	second := a.submit(t, "two", models.SeverityWarning)
	testhelpers.Eventually(t, 2*time.Second, func() bool {
		return len(a.pipeline.ActionsForEvent(first)) == 1 && len(a.pipeline.ActionsForEvent(second)) == 1
	}, "actions")

	approveID := a.pipeline.ActionsForEvent(first)[0].ID
	rejectID := a.pipeline.ActionsForEvent(second)[0].ID

	a.do(t, http.MethodPost, "/api/actions/"+approveID+"/approve", nil).Execute(a.mux).AssertStatus(http.StatusOK)
	a.do(t, http.MethodPost, "/api/actions/"+rejectID+"/reject", nil).Execute(a.mux).AssertStatus(http.StatusOK)

	testhelpers.Eventually(t, 2*time.Second, func() bool {
		act, _ := a.pipeline.GetAction(approveID)
		return act.Status == models.ActionStatusSuccess
	}, "approved escalation to finish")

	var rejected api.ActionResponse
	a.do(t, http.MethodGet, "/api/actions/"+rejectID, nil).Execute(a.mux).AssertStatus(http.StatusOK).DecodeJSON(&rejected)
	if rejected.Status != models.ActionStatusRejected {
		t.Errorf("expected rejected, got %s", rejected.Status)
	}

	a.do(t, http.MethodPost, "/api/actions/"+rejectID+"/approve", nil).Execute(a.mux).
		AssertStatus(http.StatusConflict).
		AssertErrorCode("not_pending")
	a.do(t, http.MethodPost, "/api/actions/missing/approve", nil).Execute(a.mux).
		AssertStatus(http.StatusNotFound)

	var listed []api.ActionResponse
	a.do(t, http.MethodGet, "/api/actions", nil).Execute(a.mux).AssertStatus(http.StatusOK).DecodeJSON(&listed)
	if len(listed) != 2 {
		t.Errorf("expected 2 actions, got %d", len(listed))
	}
}

func TestAPI_LegacyDecisionsConflictWithLedger(t *testing.T) {
	a := newTestAPI(t, true)
	a.submit(t, "one", models.SeverityWarning)
	pending := a.waitForPending(t, 1)

	var act api.ActionResponse
	a.do(t, http.MethodGet, "/api/actions/"+pending[0].Action.ID, nil).Execute(a.mux).AssertStatus(http.StatusOK).DecodeJSON(&act)
	if act.ApprovalRequestID != pending[0].ID {
		t.Errorf("expected approval request id %s, got %q", pending[0].ID, act.ApprovalRequestID)
	}

	a.do(t, http.MethodPost, "/api/actions/"+pending[0].Action.ID+"/approve", nil).Execute(a.mux).
		AssertStatus(http.StatusConflict).
		AssertErrorCode("ledger_attached")
}

// ========== Approvals ==========

func TestAPI_ApproveDefaultsToAuthenticatedUser(t *testing.T) {
	a := newTestAPI(t, true)
	a.submit(t, "PodCrashLooping", models.SeverityWarning)
	pending := a.waitForPending(t, 1)
	id := pending[0].ID

	var listed []models.ApprovalRequest
	a.do(t, http.MethodGet, "/api/approvals/pending", nil).Execute(a.mux).AssertStatus(http.StatusOK).DecodeJSON(&listed)
	if len(listed) != 1 || listed[0].ID != id {
		t.Fatalf("expected pending request %s, got %+v", id, listed)
	}

	var decision approval.Decision
	a.do(t, http.MethodPost, "/api/approvals/"+id+"/approve", nil).
		AsUser("alice").
		Execute(a.mux).
		AssertStatus(http.StatusOK).
		DecodeJSON(&decision)
	if !decision.Approved || decision.Responder != "alice" {
		t.Errorf("expected approval by alice, got %+v", decision)
	}

	act, _ := a.pipeline.GetAction(pending[0].Action.ID)
	if act.Status != models.ActionStatusSuccess {
		t.Errorf("expected escalation to run on approval, got %s", act.Status)
	}

	var req models.ApprovalRequest
	a.do(t, http.MethodGet, "/api/approvals/"+id, nil).Execute(a.mux).AssertStatus(http.StatusOK).DecodeJSON(&req)
	if req.Status != models.ApprovalApproved || req.ApprovedBy != "alice" {
		t.Errorf("expected resolved request, got %s by %q", req.Status, req.ApprovedBy)
	}

	a.do(t, http.MethodPost, "/api/approvals/"+id+"/approve", nil).Execute(a.mux).
		AssertStatus(http.StatusConflict).
		AssertErrorCode("not_pending")
}

func TestAPI_RejectWithBody(t *testing.T) {
	a := newTestAPI(t, true)
	a.submit(t, "NodeDown", models.SeverityCritical)
	pending := a.waitForPending(t, 1)

	var decision approval.Decision
	a.do(t, http.MethodPost, "/api/approvals/"+pending[0].ID+"/reject", api.RejectRequest{Rejector: "bob", Reason: "too risky"}).
		AsUser("alice").
		Execute(a.mux).
		AssertStatus(http.StatusOK).
		DecodeJSON(&decision)

	if decision.Approved || decision.Responder != "bob" || decision.Reason != "too risky" {
		t.Errorf("expected explicit rejector to win, got %+v", decision)
	}
	act, _ := a.pipeline.GetAction(pending[0].Action.ID)
	if act.Status != models.ActionStatusRejected {
		t.Errorf("expected rejected action, got %s", act.Status)
	}
}

func TestAPI_RacingDecisionsResolveOnce(t *testing.T) {
	a := newTestAPI(t, true)
	a.submit(t, "BGPSessionDown", models.SeverityCritical)
	id := a.waitForPending(t, 1)[0].ID

	var ok, conflict int32
	testhelpers.RunConcurrently(t, 5*time.Second, 12, func(worker int) {
		verb := "approve"
		if worker%2 == 1 {
			verb = "reject"
		}
		ctx := testhelpers.NewHTTPTestContext(t, http.MethodPost, "/api/approvals/"+id+"/"+verb, nil).
			AsUser(fmt.Sprintf("op-%d", worker)).
			Execute(a.mux)
		switch ctx.Recorder.Code {
		case http.StatusOK:
			atomic.AddInt32(&ok, 1)
		case http.StatusConflict:
			atomic.AddInt32(&conflict, 1)
		default:
			t.Errorf("unexpected status %d", ctx.Recorder.Code)
		}
	})

	if ok != 1 || conflict != 11 {
		t.Errorf("expected 1 success and 11 conflicts, got %d and %d", ok, conflict)
	}
}

func TestAPI_ApprovalErrors(t *testing.T) {
	a := newTestAPI(t, true)

	a.do(t, http.MethodPost, "/api/approvals/missing/approve", nil).Execute(a.mux).
		AssertStatus(http.StatusNotFound).
		AssertErrorCode("not_found")
	a.do(t, http.MethodGet, "/api/approvals/missing", nil).Execute(a.mux).
		AssertStatus(http.StatusNotFound)
	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/api/approvals/x/reject", bytes.NewBufferString(`{"rejector":`)).
		Execute(a.mux).
		AssertStatus(http.StatusBadRequest)

	noLedger := newTestAPI(t, false)
	noLedger.do(t, http.MethodGet, "/api/approvals/pending", nil).Execute(noLedger.mux).
		AssertStatus(http.StatusServiceUnavailable).
		AssertErrorCode("approvals_disabled")
}

type fakeAudit struct {
	err error
}

func (f *fakeAudit) Summary(context.Context) (database.AuditSummary, error) {
	return database.AuditSummary{
		ApprovalsByStatus: map[string]int64{"approved": 3},
		ActionsByStatus:   map[string]int64{"success": 2},
		TotalApprovals:    3,
		TotalActions:      2,
	}, f.err
}

func (f *fakeAudit) ListApprovals(_ context.Context, offset, limit int) ([]database.ApprovalRecord, int64, error) {
	return []database.ApprovalRecord{{RequestID: "req-1", Status: "approved"}}, 21, f.err
}

func (f *fakeAudit) ListActions(_ context.Context, offset, limit int) ([]database.ActionRecord, int64, error) {
	return []database.ActionRecord{{ActionID: "act-1", Status: "success"}}, 1, f.err
}

func TestAPI_ApprovalStats(t *testing.T) {
	a := newTestAPI(t, true)
	a.submit(t, "one", models.SeverityWarning)
	a.waitForPending(t, 1)

	var stats api.ApprovalStatsResponse
	a.do(t, http.MethodGet, "/api/approvals/stats/summary", nil).Execute(a.mux).AssertStatus(http.StatusOK).DecodeJSON(&stats)
	if stats.Pending != 1 || stats.PendingByAction["escalate"] != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.Audit != nil {
		t.Error("expected no audit totals without an audit reader")
	}

	a.handler.SetAuditReader(&fakeAudit{})
	a.do(t, http.MethodGet, "/api/approvals/stats/summary", nil).Execute(a.mux).AssertStatus(http.StatusOK).DecodeJSON(&stats)
	if stats.Audit == nil || stats.Audit.TotalApprovals != 3 {
		t.Errorf("expected audit totals, got %+v", stats.Audit)
	}

	a.handler.SetAuditReader(&fakeAudit{err: errors.New("db down")})
	var degraded api.ApprovalStatsResponse
	a.do(t, http.MethodGet, "/api/approvals/stats/summary", nil).Execute(a.mux).AssertStatus(http.StatusOK).DecodeJSON(&degraded)
	if degraded.Audit != nil {
		t.Error("expected audit failure to be left out of the summary")
	}
}

func TestAPI_AuditEndpoints(t *testing.T) {
	a := newTestAPI(t, false)

	a.do(t, http.MethodGet, "/api/approvals/audit", nil).Execute(a.mux).
		AssertStatus(http.StatusServiceUnavailable).
		AssertErrorCode("audit_disabled")

	a.handler.SetAuditReader(&fakeAudit{})

	var page struct {
		Data       []database.ApprovalRecord `json:"data"`
		Pagination api.PaginationMeta         `json:"pagination"`
	}
	a.do(t, http.MethodGet, "/api/approvals/audit?page=2&per_page=10", nil).Execute(a.mux).AssertStatus(http.StatusOK).DecodeJSON(&page)
	if len(page.Data) != 1 || page.Data[0].RequestID != "req-1" {
		t.Errorf("unexpected records %+v", page.Data)
	}
	if page.Pagination.Page != 2 || page.Pagination.TotalPages != 3 {
		t.Errorf("unexpected pagination %+v", page.Pagination)
	}

	a.do(t, http.MethodGet, "/api/actions/audit", nil).Execute(a.mux).
		AssertStatus(http.StatusOK).
		AssertBodyContains(`"action_id":"act-1"`)

	a.handler.SetAuditReader(&fakeAudit{err: errors.New("db down")})
	a.do(t, http.MethodGet, "/api/actions/audit", nil).Execute(a.mux).
		AssertStatus(http.StatusInternalServerError)
}

// ========== Runbooks ==========

func TestAPI_RunbookCRUD(t *testing.T) {
	a := newTestAPI(t, false)

	rb := testhelpers.NewRunbookBuilder("rb-disk").
		WithTitle("Disk full").
		WithPatterns("disk full", "no space left").
		WithTags("storage").
		Build()

	var created knowledge.Runbook
	a.do(t, http.MethodPost, "/api/runbooks", rb).Execute(a.mux).AssertStatus(http.StatusCreated).DecodeJSON(&created)
	if created.ID != "rb-disk" || created.ConfidenceThreshold != knowledge.DefaultConfidenceThreshold {
		t.Errorf("unexpected runbook %+v", created)
	}

	a.do(t, http.MethodPost, "/api/runbooks", rb).Execute(a.mux).
		AssertStatus(http.StatusConflict).
		AssertErrorCode("already_exists")
	a.do(t, http.MethodPost, "/api/runbooks", map[string]string{"title": "no id"}).Execute(a.mux).
		AssertStatus(http.StatusUnprocessableEntity)

	rb.Title = "Disk almost full"
	rb.ID = "ignored"
	var updated knowledge.Runbook
	a.do(t, http.MethodPut, "/api/runbooks/rb-disk", rb).Execute(a.mux).AssertStatus(http.StatusOK).DecodeJSON(&updated)
	if updated.ID != "rb-disk" || updated.Title != "Disk almost full" {
		t.Errorf("expected path id to win, got %+v", updated)
	}
	if _, ok := a.kb.Get("ignored"); ok {
		t.Error("expected body id to be ignored")
	}

	a.do(t, http.MethodGet, "/api/runbooks/rb-disk", nil).Execute(a.mux).AssertStatus(http.StatusOK)

	var all []knowledge.Runbook
	a.do(t, http.MethodGet, "/api/runbooks", nil).Execute(a.mux).AssertStatus(http.StatusOK).DecodeJSON(&all)
	if len(all) != 1 {
		t.Errorf("expected 1 runbook, got %d", len(all))
	}

	a.do(t, http.MethodDelete, "/api/runbooks/rb-disk", nil).Execute(a.mux).AssertStatus(http.StatusNoContent)
	a.do(t, http.MethodDelete, "/api/runbooks/rb-disk", nil).Execute(a.mux).AssertStatus(http.StatusNotFound)
	a.do(t, http.MethodPut, "/api/runbooks/rb-disk", rb).Execute(a.mux).AssertStatus(http.StatusNotFound)
	a.do(t, http.MethodGet, "/api/runbooks/rb-disk", nil).Execute(a.mux).AssertStatus(http.StatusNotFound)
}

func TestAPI_RunbookSearch(t *testing.T) {
	a := newTestAPI(t, false)
	ctx := context.Background()
	for _, rb := range []*knowledge.Runbook{
		testhelpers.NewRunbookBuilder("rb-disk").WithPatterns("disk full").WithTags("storage").Build(),
		testhelpers.NewRunbookBuilder("rb-pod").WithPatterns("crashloop").WithTags("kubernetes").Build(),
	} {
		if err := a.kb.Add(ctx, rb); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	var resp api.RunbookSearchResponse
	a.do(t, http.MethodGet, "/api/runbooks/search?q=node+disk+full+on+db-01", nil).Execute(a.mux).AssertStatus(http.StatusOK).DecodeJSON(&resp)
	if len(resp.Results) == 0 || resp.Results[0].Runbook.ID != "rb-disk" {
		t.Errorf("expected rb-disk first, got %+v", resp.Results)
	}

	a.do(t, http.MethodGet, "/api/runbooks/search?tags=kubernetes,%20", nil).Execute(a.mux).AssertStatus(http.StatusOK).DecodeJSON(&resp)
	if len(resp.Results) != 1 || resp.Results[0].Runbook.ID != "rb-pod" {
		t.Errorf("expected tag match on rb-pod, got %+v", resp.Results)
	}

	a.do(t, http.MethodGet, "/api/runbooks/search", nil).Execute(a.mux).AssertStatus(http.StatusUnprocessableEntity)
}

func TestSplitTags(t *testing.T) {
	got := splitTags(" a, ,b,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected [a b], got %v", got)
	}
	if splitTags("") != nil {
		t.Error("expected nil for empty input")
	}
}

// ========== Dashboard ==========

func TestAPI_DashboardStats(t *testing.T) {
	a := newTestAPI(t, true)
	a.submit(t, "one", models.SeverityWarning)
	a.waitForPending(t, 1)

	var stats map[string]int
	a.do(t, http.MethodGet, "/api/dashboard/stats", nil).Execute(a.mux).AssertStatus(http.StatusOK).DecodeJSON(&stats)

	if stats["total_events"] != 1 || stats["total_actions"] != 1 {
		t.Errorf("unexpected totals %v", stats)
	}
	if stats["pending_actions"] != 1 || stats["pending_approvals"] != 1 {
		t.Errorf("expected one pending action and approval, got %v", stats)
	}
}
