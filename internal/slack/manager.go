package slack

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/akmatori/nocpilot/internal/logging"
)

// Settings configures the Slack integration
type Settings struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	AppToken string `mapstructure:"app_token"`
	Channel  string `mapstructure:"channel"`
	ProxyURL string `mapstructure:"proxy_url"`
	// PostAlerts also posts an alert summary for every analyzed event
	PostAlerts bool `mapstructure:"post_alerts"`
}

// IsActive reports whether there is enough configuration to connect
func (s Settings) IsActive() bool {
	return s.Enabled && s.BotToken != "" && s.Channel != ""
}

// SettingsSource returns the current Slack settings
type SettingsSource func() (Settings, error)

// Manager manages the Slack client lifecycle with hot-reload support
type Manager struct {
	mu sync.RWMutex

	source SettingsSource

	client       *slack.Client
	socketClient *socketmode.Client
	notifier     *Notifier

	cancel     context.CancelFunc
	doneChan   chan struct{}
	reloadChan chan struct{}

	// onConnect is called with the fresh notifier and clients after each (re)connect
	onConnect func(n *Notifier, sc *socketmode.Client, c *slack.Client)
	// onDisconnect is called when Slack is turned off
	onDisconnect func()

	running bool
}

// NewManager creates a new Slack manager reading settings from source
func NewManager(source SettingsSource) *Manager {
	return &Manager{
		source:     source,
		reloadChan: make(chan struct{}, 1),
	}
}

// GetClient returns the current Slack client (may be nil if not configured)
func (m *Manager) GetClient() *slack.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// GetNotifier returns the current notifier (may be nil if not configured)
func (m *Manager) GetNotifier() *Notifier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.notifier
}

// IsRunning returns true if the integration is active
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// SetHooks sets the functions run on connect and disconnect
func (m *Manager) SetHooks(onConnect func(*Notifier, *socketmode.Client, *slack.Client), onDisconnect func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = onConnect
	m.onDisconnect = onDisconnect
}

// Start connects using the current settings. A disabled integration is not an error.
func (m *Manager) Start(ctx context.Context) error {
	settings, err := m.source()
	if err != nil {
		logging.Warnf("SlackManager: Could not load Slack settings: %v", err)
		return nil
	}
	if !settings.IsActive() {
		logging.Infof("SlackManager: Slack is disabled (not configured or not enabled)")
		return nil
	}
	return m.startWithSettings(ctx, settings)
}

func (m *Manager) startWithSettings(ctx context.Context, settings Settings) error {
	options, err := clientOptions(settings)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.stopLocked()
	}

	m.client = slack.New(settings.BotToken, options...)
	m.notifier = NewNotifier(m.client, settings.Channel)

	// Socket Mode needs an app-level token; without it only outbound messages work
	if settings.AppToken != "" {
		m.socketClient = socketmode.New(m.client)

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		m.cancel = cancel
		m.doneChan = done

		go func(sc *socketmode.Client) {
			defer close(done)
			logging.Infof("SlackManager: Starting Socket Mode connection...")
			if err := sc.RunContext(runCtx); err != nil && runCtx.Err() == nil {
				logging.Errorf("SlackManager: Socket Mode error: %v", err)
				return
			}
			logging.Infof("SlackManager: Socket Mode stopped")
		}(m.socketClient)
	}

	if m.onConnect != nil {
		m.onConnect(m.notifier, m.socketClient, m.client)
	}

	m.running = true
	logging.Infof("SlackManager: Slack integration is ACTIVE (channel %s)", settings.Channel)
	return nil
}

func clientOptions(settings Settings) ([]slack.Option, error) {
	options := []slack.Option{slack.OptionDebug(false)}
	if settings.AppToken != "" {
		options = append(options, slack.OptionAppLevelToken(settings.AppToken))
	}
	if settings.ProxyURL != "" {
		proxyURL, err := url.Parse(settings.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid slack proxy url: %w", err)
		}
		options = append(options, slack.OptionHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}))
		logging.Infof("SlackManager: Using proxy: %s", proxyURL.Redacted())
	}
	return options, nil
}

// Stop gracefully stops the Slack connection
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// stopLocked stops the connection (caller must hold the lock)
func (m *Manager) stopLocked() {
	if !m.running {
		return
	}

	logging.Infof("SlackManager: Stopping Slack connection...")
	if m.cancel != nil {
		m.cancel()
		<-m.doneChan
	}

	if m.onDisconnect != nil {
		m.onDisconnect()
	}

	m.running = false
	m.client = nil
	m.socketClient = nil
	m.notifier = nil
	m.cancel = nil
	m.doneChan = nil
}

// Reload re-reads settings and reconnects
func (m *Manager) Reload(ctx context.Context) error {
	logging.Infof("SlackManager: Reloading Slack settings...")

	settings, err := m.source()
	if err != nil {
		m.Stop()
		return fmt.Errorf("could not load slack settings: %w", err)
	}
	if !settings.IsActive() {
		logging.Infof("SlackManager: Slack is now disabled, stopping connection")
		m.Stop()
		return nil
	}
	return m.startWithSettings(ctx, settings)
}

// TriggerReload signals that a reload is needed (non-blocking)
func (m *Manager) TriggerReload() {
	select {
	case m.reloadChan <- struct{}{}:
		logging.Infof("SlackManager: Reload triggered")
	default:
		logging.Debugf("SlackManager: Reload already pending")
	}
}

// WatchForReloads runs a loop that watches for reload signals
func (m *Manager) WatchForReloads(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.reloadChan:
			if err := m.Reload(ctx); err != nil {
				logging.Errorf("SlackManager: Reload failed: %v", err)
			}
		}
	}
}
