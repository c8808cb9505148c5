package slack

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

func staticSource(s Settings) SettingsSource {
	return func() (Settings, error) { return s, nil }
}

func TestSettings_IsActive(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		want     bool
	}{
		{"complete", Settings{Enabled: true, BotToken: "xoxb-1", Channel: "#noc"}, true},
		{"disabled", Settings{Enabled: false, BotToken: "xoxb-1", Channel: "#noc"}, false},
		{"no token", Settings{Enabled: true, Channel: "#noc"}, false},
		{"no channel", Settings{Enabled: true, BotToken: "xoxb-1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.settings.IsActive(); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestManager_StartDisabledIsNoop(t *testing.T) {
	m := NewManager(staticSource(Settings{}))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.IsRunning() {
		t.Error("manager should not be running when disabled")
	}
	if m.GetNotifier() != nil {
		t.Error("expected nil notifier when disabled")
	}
}

func TestManager_StartSourceErrorIsNoop(t *testing.T) {
	m := NewManager(func() (Settings, error) { return Settings{}, errors.New("boom") })
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if m.IsRunning() {
		t.Error("manager should not be running")
	}
}

func TestManager_StartWithoutAppTokenThenStop(t *testing.T) {
	m := NewManager(staticSource(Settings{Enabled: true, BotToken: "xoxb-1", Channel: "C01234567890"}))

	var connected, disconnected int
	var gotSocket *socketmode.Client
	m.SetHooks(func(n *Notifier, sc *socketmode.Client, c *slack.Client) {
		connected++
		gotSocket = sc
		if n == nil || c == nil {
			t.Error("expected notifier and client on connect")
		}
	}, func() { disconnected++ })

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.IsRunning() {
		t.Fatal("expected manager to be running")
	}
	if connected != 1 {
		t.Errorf("expected 1 connect, got %d", connected)
	}
	if gotSocket != nil {
		t.Error("expected no socket client without an app token")
	}
	if m.GetClient() == nil || m.GetNotifier() == nil {
		t.Error("expected client and notifier while running")
	}

	m.Stop()
	if m.IsRunning() {
		t.Error("expected manager to be stopped")
	}
	if disconnected != 1 {
		t.Errorf("expected 1 disconnect, got %d", disconnected)
	}
	if m.GetClient() != nil || m.GetNotifier() != nil {
		t.Error("expected nil client and notifier after Stop")
	}
}

func TestManager_ReloadDisabledStops(t *testing.T) {
	settings := Settings{Enabled: true, BotToken: "xoxb-1", Channel: "C01234567890"}
	var mu sync.Mutex
	m := NewManager(func() (Settings, error) {
		mu.Lock()
		defer mu.Unlock()
		return settings, nil
	})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	settings.Enabled = false
	mu.Unlock()

	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.IsRunning() {
		t.Error("expected manager to stop after disabling")
	}
}

func TestManager_InvalidProxy(t *testing.T) {
	m := NewManager(staticSource(Settings{Enabled: true, BotToken: "xoxb-1", Channel: "C01234567890", ProxyURL: "://bad"}))
	if err := m.Start(context.Background()); err == nil {
		t.Error("expected error for invalid proxy url")
	}
	if m.IsRunning() {
		t.Error("manager should not be running")
	}
}

func TestManager_TriggerReload_Coalescing(t *testing.T) {
	m := NewManager(staticSource(Settings{}))

	m.TriggerReload()
	m.TriggerReload()
	m.TriggerReload()

	select {
	case <-m.reloadChan:
	default:
		t.Error("expected at least one reload signal")
	}
	select {
	case <-m.reloadChan:
		t.Error("reload signals should coalesce, got more than one")
	default:
	}
}

func TestManager_WatchForReloads(t *testing.T) {
	m := NewManager(staticSource(Settings{Enabled: true, BotToken: "xoxb-1", Channel: "C01234567890"}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.WatchForReloads(ctx)
		close(done)
	}()

	m.TriggerReload()
	deadline := time.After(2 * time.Second)
	for !m.IsRunning() {
		select {
		case <-deadline:
			t.Fatal("reload did not start the manager")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
	m.Stop()
}
