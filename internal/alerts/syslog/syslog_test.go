package syslog

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/akmatori/nocpilot/internal/models"
)

func TestParse_RFC3164(t *testing.T) {
	msg := Parse("<11>Jan 15 10:30:00 web-01 nginx[4321]: upstream timed out\n")

	if msg.Format != "rfc3164" {
		t.Fatalf("expected rfc3164, got %s", msg.Format)
	}
	// 11 = facility 1 (user), severity 3 (error)
	if msg.Facility != "user" {
		t.Errorf("expected facility user, got %s", msg.Facility)
	}
	if msg.Severity != models.SeverityWarning {
		t.Errorf("expected warning, got %s", msg.Severity)
	}
	if msg.Hostname != "web-01" || msg.Program != "nginx" || msg.PID != "4321" {
		t.Errorf("unexpected header fields %+v", msg)
	}
	if msg.Text != "upstream timed out" {
		t.Errorf("unexpected text %q", msg.Text)
	}
}

func TestParse_RFC5424(t *testing.T) {
	msg := Parse(`<34>1 2024-01-15T10:30:00.003Z db-01 postgres 811 ID47 [exampleSDID@32473 iut="3"] connection limit reached`)

	if msg.Format != "rfc5424" {
		t.Fatalf("expected rfc5424, got %s", msg.Format)
	}
	// 34 = facility 4 (auth), severity 2 (critical)
	if msg.Facility != "auth" || msg.Severity != models.SeverityCritical {
		t.Errorf("expected auth/critical, got %s/%s", msg.Facility, msg.Severity)
	}
	if msg.Hostname != "db-01" || msg.Program != "postgres" || msg.PID != "811" {
		t.Errorf("unexpected header fields %+v", msg)
	}
	if msg.Text != "connection limit reached" {
		t.Errorf("unexpected text %q", msg.Text)
	}
}

func TestParse_RFC5424NilValues(t *testing.T) {
	msg := Parse("<165>1 - - - - - - disk almost full")
	if msg.Hostname != "" || msg.Program != "" {
		t.Errorf("expected nil values to be empty, got %+v", msg)
	}
	// 165 = facility 20 (local4), severity 5 (notice)
	if msg.Facility != "local4" || msg.Severity != models.SeverityInfo {
		t.Errorf("expected local4/info, got %s/%s", msg.Facility, msg.Severity)
	}
	if msg.Text != "disk almost full" {
		t.Errorf("unexpected text %q", msg.Text)
	}
}

func TestParse_PRIOnlyAndPlain(t *testing.T) {
	msg := Parse("<0>kernel panic")
	if msg.Severity != models.SeverityCritical || msg.Text != "kernel panic" || msg.Format != "pri" {
		t.Errorf("unexpected message %+v", msg)
	}

	plain := Parse("just some text")
	if plain.Severity != models.SeverityInfo || plain.Text != "just some text" || plain.Facility != "unknown" {
		t.Errorf("unexpected message %+v", plain)
	}

	outOfRange := Parse("<999>weird")
	if outOfRange.Severity != models.SeverityInfo {
		t.Errorf("expected out of range priority to default to info, got %s", outOfRange.Severity)
	}
}

func TestSeverityFor(t *testing.T) {
	want := []models.Severity{
		models.SeverityCritical, models.SeverityCritical, models.SeverityCritical,
		models.SeverityWarning, models.SeverityWarning,
		models.SeverityInfo, models.SeverityInfo, models.SeverityInfo,
	}
	for code, w := range want {
		if got := SeverityFor(code); got != w {
			t.Errorf("code %d: expected %s, got %s", code, w, got)
		}
	}
}

func TestFacilityName(t *testing.T) {
	if FacilityName(3) != "daemon" {
		t.Errorf("expected daemon, got %s", FacilityName(3))
	}
	if FacilityName(13) != "facility13" {
		t.Errorf("expected facility13, got %s", FacilityName(13))
	}
}

func TestToEvent(t *testing.T) {
	ev := ToEvent("<3>plain failure", "10.0.0.5", time.Now())

	if ev.Source != models.SourceSyslog {
		t.Errorf("expected syslog source, got %s", ev.Source)
	}
	if ev.Title != "Syslog: unknown from 10.0.0.5" {
		t.Errorf("unexpected title %q", ev.Title)
	}
	if ev.Labels["hostname"] != "10.0.0.5" || ev.Labels["program"] != "unknown" {
		t.Errorf("expected source ip fallbacks, got %v", ev.Labels)
	}
	if err := ev.Validate(); err != nil {
		t.Errorf("expected valid event, got %v", err)
	}
}

type recordingSubmitter struct {
	mu     sync.Mutex
	events []*models.Event
	got    chan struct{}
}

func (r *recordingSubmitter) Submit(_ context.Context, ev *models.Event) (string, error) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.got <- struct{}{}
	return "evt", nil
}

func TestReceiver_SubmitsDatagrams(t *testing.T) {
	sub := &recordingSubmitter{got: make(chan struct{}, 1)}
	r := NewReceiver("127.0.0.1:0", sub)
	if err := r.Listen(); err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()

	conn, err := net.Dial("udp", r.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("<12>Jan 15 10:30:00 sw-01 ifmgr: port 3 flapping")); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	select {
	case <-sub.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	sub.mu.Lock()
	ev := sub.events[0]
	sub.mu.Unlock()
	if ev.Labels["hostname"] != "sw-01" || ev.Labels["source_ip"] != "127.0.0.1" {
		t.Errorf("unexpected labels %v", ev.Labels)
	}
	if ev.Severity != models.SeverityWarning {
		t.Errorf("expected warning, got %s", ev.Severity)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not stop")
	}
}
