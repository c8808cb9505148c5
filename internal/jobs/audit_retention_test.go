package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePurger struct {
	mu      sync.Mutex
	cutoffs []time.Time
	removed int64
	err     error
}

func (f *fakePurger) Purge(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.removed, f.err
}

func (f *fakePurger) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestAuditRetention_RunOnceUsesCutoff(t *testing.T) {
	purger := &fakePurger{removed: 3}
	job := NewAuditRetention(purger, 24*time.Hour)
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return fixed }

	removed, err := job.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 3 {
		t.Errorf("expected 3 removed, got %d", removed)
	}
	want := fixed.Add(-24 * time.Hour)
	if len(purger.cutoffs) != 1 || !purger.cutoffs[0].Equal(want) {
		t.Errorf("expected cutoff %v, got %v", want, purger.cutoffs)
	}
}

func TestAuditRetention_ZeroRetentionKeepsEverything(t *testing.T) {
	purger := &fakePurger{}
	job := NewAuditRetention(purger, 0)

	removed, err := job.RunOnce(context.Background())
	if err != nil || removed != 0 {
		t.Errorf("expected (0, nil), got (%d, %v)", removed, err)
	}
	if purger.calls() != 0 {
		t.Errorf("expected no purge calls, got %d", purger.calls())
	}
}

func TestAuditRetention_PropagatesError(t *testing.T) {
	purger := &fakePurger{err: errors.New("db down")}
	job := NewAuditRetention(purger, time.Hour)

	if _, err := job.RunOnce(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestAuditRetention_StartRunsUntilCanceled(t *testing.T) {
	purger := &fakePurger{removed: 1}
	job := NewAuditRetention(purger, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		job.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for purger.calls() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if purger.calls() < 2 {
		t.Errorf("expected at least 2 purge runs, got %d", purger.calls())
	}
}
