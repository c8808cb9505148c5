package analyzer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akmatori/nocpilot/internal/knowledge"
	"github.com/akmatori/nocpilot/internal/models"
)

type fakeGenerator struct {
	text       string
	err        error
	lastPrompt string
}

func (f *fakeGenerator) Generate(_ context.Context, _, prompt string) (string, error) {
	f.lastPrompt = prompt
	return f.text, f.err
}

func testEvent() *models.Event {
	return &models.Event{
		ID:       "evt-1",
		Source:   models.SourceAlertmanager,
		Severity: models.SeverityWarning,
		Title:    "Pod CrashLoopBackOff",
		Labels:   map[string]string{"namespace": "prod", "pod": "web-0"},
	}
}

func testKB(t *testing.T) *knowledge.KnowledgeBase {
	t.Helper()
	kb := knowledge.New(nil)
	err := kb.Add(context.Background(), &knowledge.Runbook{
		ID:                  "k8s-crashloop",
		Title:               "CrashLoop",
		AlertPatterns:       []string{"pod crashloopbackoff"},
		AutoRemediate:       true,
		ConfidenceThreshold: 0.8,
	})
	if err != nil {
		t.Fatalf("failed to add runbook: %v", err)
	}
	return kb
}

func TestAnalyze_ParsesFencedJSON(t *testing.T) {
	gen := &fakeGenerator{text: "Here you go:\n```json\n" + `{
		"summary": "web-0 is crash looping",
		"suggested_actions": ["k8s_restart_pod", "reboot_universe"],
		"action_parameters": {"k8s_restart_pod": {"pod": "web-0"}},
		"confidence": 0.92,
		"reasoning": "transient failure",
		"requires_approval": true
	}` + "\n```"}

	a := NewLLMAnalyzer(gen, nil, time.Second)
	analysis := a.Analyze(context.Background(), testEvent())

	if analysis.Summary != "web-0 is crash looping" {
		t.Errorf("unexpected summary %q", analysis.Summary)
	}
	want := []models.ActionType{models.ActionK8sRestartPod, models.ActionEscalate}
	if len(analysis.SuggestedActions) != 2 || analysis.SuggestedActions[0] != want[0] || analysis.SuggestedActions[1] != want[1] {
		t.Errorf("expected %v, got %v", want, analysis.SuggestedActions)
	}
	if analysis.ParametersFor(models.ActionK8sRestartPod)["pod"] != "web-0" {
		t.Errorf("expected action parameters, got %v", analysis.ActionParameters)
	}
	if !analysis.RequiresApproval {
		t.Error("expected model's approval flag to be kept without a runbook")
	}
	if !strings.Contains(gen.lastPrompt, "Title: Pod CrashLoopBackOff") {
		t.Errorf("expected prompt to include event title, got %q", gen.lastPrompt)
	}
}

func TestAnalyze_ParsesRawJSON(t *testing.T) {
	gen := &fakeGenerator{text: `noise {"summary":"ok","suggested_actions":["no_action"],"confidence":0.95,"requires_approval":false} trailing`}
	analysis := NewLLMAnalyzer(gen, nil, 0).Analyze(context.Background(), testEvent())

	if analysis.SuggestedActions[0] != models.ActionNoAction {
		t.Errorf("expected no_action, got %v", analysis.SuggestedActions)
	}
	if analysis.RequiresApproval {
		t.Error("expected high confidence without runbook to keep requires_approval=false")
	}
}

func TestAnalyze_UnparseableOutputEscalates(t *testing.T) {
	gen := &fakeGenerator{text: "I am not sure what is going on."}
	analysis := NewLLMAnalyzer(gen, nil, 0).Analyze(context.Background(), testEvent())

	if analysis.SuggestedActions[0] != models.ActionEscalate {
		t.Errorf("expected escalate, got %v", analysis.SuggestedActions)
	}
	if analysis.Confidence != 0.3 || !analysis.RequiresApproval {
		t.Errorf("expected 0.3 confidence requiring approval, got %f/%v", analysis.Confidence, analysis.RequiresApproval)
	}
}

func TestAnalyze_GeneratorErrorReturnsFallback(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("429 quota exceeded")}
	analysis := NewLLMAnalyzer(gen, nil, 0).Analyze(context.Background(), testEvent())

	if analysis.Confidence != 0 || !analysis.RequiresApproval {
		t.Errorf("expected degraded analysis, got %+v", analysis)
	}
	if len(analysis.SuggestedActions) != 1 || analysis.SuggestedActions[0] != models.ActionEscalate {
		t.Errorf("expected [escalate], got %v", analysis.SuggestedActions)
	}
	if analysis.EventID != "evt-1" {
		t.Errorf("expected event id to be set, got %q", analysis.EventID)
	}
}

func TestAnalyze_RunbookRules(t *testing.T) {
	tests := []struct {
		name         string
		response     string
		wantApproval bool
		wantRunbook  string
	}{
		{
			name:         "auto-remediate runbook lifts approval",
			response:     `{"suggested_actions":["k8s_restart_pod"],"confidence":0.85,"requires_approval":true}`,
			wantApproval: false,
			wantRunbook:  "k8s-crashloop",
		},
		{
			name:         "below runbook threshold forces approval",
			response:     `{"suggested_actions":["k8s_restart_pod"],"confidence":0.75,"requires_approval":false}`,
			wantApproval: true,
			wantRunbook:  "k8s-crashloop",
		},
		{
			name:         "model runbook id wins",
			response:     `{"suggested_actions":["k8s_restart_pod"],"confidence":0.9,"runbook_id":"custom-rb"}`,
			wantApproval: false,
			wantRunbook:  "custom-rb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewLLMAnalyzer(&fakeGenerator{text: tt.response}, testKB(t), 0)
			analysis := a.Analyze(context.Background(), testEvent())
			if analysis.RequiresApproval != tt.wantApproval {
				t.Errorf("expected requires_approval=%v, got %v", tt.wantApproval, analysis.RequiresApproval)
			}
			if analysis.RunbookID != tt.wantRunbook {
				t.Errorf("expected runbook %q, got %q", tt.wantRunbook, analysis.RunbookID)
			}
		})
	}
}

func TestAnalyze_LowConfidenceWithoutRunbookRequiresApproval(t *testing.T) {
	gen := &fakeGenerator{text: `{"suggested_actions":["k8s_restart_pod"],"confidence":0.6,"requires_approval":false}`}
	analysis := NewLLMAnalyzer(gen, nil, 0).Analyze(context.Background(), testEvent())
	if !analysis.RequiresApproval {
		t.Error("expected confidence below 0.7 to require approval")
	}
}

func TestAnalyze_DefaultsAndClamping(t *testing.T) {
	gen := &fakeGenerator{text: `{"suggested_actions":[],"confidence":1.7}`}
	analysis := NewLLMAnalyzer(gen, nil, 0).Analyze(context.Background(), testEvent())

	if analysis.Confidence != 1 {
		t.Errorf("expected confidence clamped to 1, got %f", analysis.Confidence)
	}
	if !analysis.RequiresApproval {
		t.Error("expected missing requires_approval to default to true")
	}
	if analysis.SuggestedActions[0] != models.ActionEscalate {
		t.Errorf("expected empty action list to escalate, got %v", analysis.SuggestedActions)
	}
	if analysis.Summary != "Unable to generate summary" {
		t.Errorf("unexpected summary %q", analysis.Summary)
	}
}

type slowAnalyzer struct {
	inFlight int32
	peak     int32
	mu       sync.Mutex
}

func (s *slowAnalyzer) Analyze(_ context.Context, ev *models.Event) *models.AIAnalysis {
	n := atomic.AddInt32(&s.inFlight, 1)
	s.mu.Lock()
	if n > s.peak {
		s.peak = n
	}
	s.mu.Unlock()
	time.Sleep(10 * time.Millisecond)
	atomic.AddInt32(&s.inFlight, -1)
	return &models.AIAnalysis{EventID: ev.ID, Summary: ev.Title}
}

func TestBatchAnalyzer_BoundsConcurrencyAndKeepsOrder(t *testing.T) {
	inner := &slowAnalyzer{}
	batch := NewBatchAnalyzer(inner, 3)

	var events []*models.Event
	for _, title := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		events = append(events, &models.Event{ID: title, Title: title})
	}

	results := batch.AnalyzeBatch(context.Background(), events)
	if len(results) != len(events) {
		t.Fatalf("expected %d results, got %d", len(events), len(results))
	}
	for i, r := range results {
		if r.EventID != events[i].ID {
			t.Errorf("expected result %d for %s, got %s", i, events[i].ID, r.EventID)
		}
	}
	if inner.peak > 3 {
		t.Errorf("expected at most 3 concurrent calls, got %d", inner.peak)
	}
}

func TestStaticAnalyzer(t *testing.T) {
	analysis := StaticAnalyzer{}.Analyze(context.Background(), testEvent())
	if !analysis.RequiresApproval || analysis.SuggestedActions[0] != models.ActionEscalate {
		t.Errorf("expected escalation requiring approval, got %+v", analysis)
	}
}
