package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	goslack "github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/akmatori/nocpilot/internal/actions"
	"github.com/akmatori/nocpilot/internal/alerts/adapters"
	"github.com/akmatori/nocpilot/internal/alerts/kafka"
	"github.com/akmatori/nocpilot/internal/alerts/snmp"
	"github.com/akmatori/nocpilot/internal/alerts/syslog"
	"github.com/akmatori/nocpilot/internal/analyzer"
	"github.com/akmatori/nocpilot/internal/approval"
	"github.com/akmatori/nocpilot/internal/config"
	"github.com/akmatori/nocpilot/internal/database"
	"github.com/akmatori/nocpilot/internal/handlers"
	"github.com/akmatori/nocpilot/internal/jobs"
	"github.com/akmatori/nocpilot/internal/knowledge"
	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/middleware"
	"github.com/akmatori/nocpilot/internal/models"
	"github.com/akmatori/nocpilot/internal/pipeline"
	"github.com/akmatori/nocpilot/internal/slack"
)

const retentionInterval = 6 * time.Hour

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline, the ingestion listeners and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cfgFile)
		},
	}
}

func serve(file string) error {
	loader := config.NewLoader(file)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.Init(cfg.Logging.Options())
	defer logging.Sync()

	logging.Infof("Starting nocpilot %s", version)

	var current atomic.Pointer[config.Config]
	current.Store(cfg)

	if cfg.Auth.AdminPassword == "" {
		return errors.New("auth.admin_password is required (set NOCPILOT_AUTH_ADMIN_PASSWORD)")
	}
	passwordHash, err := middleware.HashPassword(cfg.Auth.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}
	jwtAuth := middleware.NewJWTAuthMiddleware(&middleware.JWTAuthConfig{
		Enabled:           true,
		AdminUsername:     cfg.Auth.AdminUsername,
		AdminPasswordHash: passwordHash,
		JWTSecret:         cfg.Auth.JWTSecret,
		JWTExpiryHours:    cfg.Auth.JWTExpiryHours,
		APIKeys:           cfg.Auth.APIKeys,
		SkipPaths:         []string{"/health", "/webhook/*", "/auth/login"},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var gemini *genai.Client
	if cfg.Analyzer.Provider == "gemini" {
		if gemini, err = analyzer.NewGeminiClient(ctx, cfg.Analyzer.APIKey); err != nil {
			return err
		}
	}

	kb, err := buildKnowledgeBase(ctx, cfg, gemini)
	if err != nil {
		return err
	}
	eventAnalyzer := buildAnalyzer(cfg, gemini, kb)

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	policy, err := cfg.Approval.Policy()
	if err != nil {
		return err
	}
	ledger := approval.NewLedger(policy, nil)

	p := pipeline.New(eventAnalyzer, registry)
	p.SetMaxQueue(cfg.Pipeline.MaxQueue)
	p.SetApprovalSubsystem(ledger)
	p.Start()
	defer p.Stop()

	stopSweeper := make(chan struct{})
	defer close(stopSweeper)
	go approval.NewSweeper(ledger).Start(cfg.Approval.SweepInterval, stopSweeper)

	// Slack: approval messages, button handling and result posts
	slackManager := slack.NewManager(func() (slack.Settings, error) {
		return current.Load().Slack, nil
	})
	slackManager.SetHooks(
		func(n *slack.Notifier, sc *socketmode.Client, c *goslack.Client) {
			ledger.SetNotifier(n)
			if sc != nil {
				slack.NewInteractionHandler(ledger, c).HandleSocketMode(ctx, sc)
			}
		},
		func() { ledger.SetNotifier(nil) },
	)
	p.AddListener(func(note pipeline.Notification) {
		if n := slackManager.GetNotifier(); n != nil {
			n.Listener(ctx, current.Load().Slack.PostAlerts)(note)
		}
	})
	if err := slackManager.Start(ctx); err != nil {
		logging.Warnf("Failed to start Slack: %v", err)
	}
	go slackManager.WatchForReloads(ctx)
	defer slackManager.Stop()

	apiHandler := handlers.NewAPIHandler(p, ledger, kb, analyzer.NewBatchAnalyzer(eventAnalyzer, cfg.Pipeline.BatchConcurrency))

	if cfg.Database.Enabled() {
		db, err := database.Open(cfg.Database.Config)
		if err != nil {
			return err
		}
		defer func() {
			if err := database.Close(db); err != nil {
				logging.Warnf("Failed to close audit database: %v", err)
			}
		}()
		if err := database.AutoMigrate(db); err != nil {
			return err
		}
		audit := database.NewAuditStore(db)
		p.AddListener(audit.Listener())
		go audit.Run(ctx)
		retention := time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour
		go jobs.NewAuditRetention(audit, retention).Start(ctx, retentionInterval)
		apiHandler.SetAuditReader(audit)
		logging.Infof("Audit store enabled (%s, retention %d days)", cfg.Database.Driver, cfg.Database.RetentionDays)
	}

	ingest, ingestCtx := errgroup.WithContext(ctx)
	if err := startIngestion(ingestCtx, ingest, cfg, p); err != nil {
		return err
	}

	alertHandler := handlers.NewAlertHandler(p, cfg.Server.WebhookSecret)
	alertHandler.RegisterAdapter("alertmanager", adapters.NewAlertmanagerAdapter())
	alertHandler.RegisterAdapter("grafana", adapters.NewGrafanaAdapter())
	alertHandler.RegisterAdapter("zabbix", adapters.NewZabbixAdapter())

	liveFeed := handlers.NewLiveFeedHandler()
	p.AddListener(liveFeed.Listener())

	mux := http.NewServeMux()
	handlers.NewHTTPHandler(alertHandler, p, version).SetupRoutes(mux)
	handlers.NewAuthHandler(jwtAuth, time.Duration(cfg.Auth.JWTExpiryHours)*time.Hour).SetupRoutes(mux)
	apiHandler.SetupRoutes(mux)
	liveFeed.SetupRoutes(mux)

	var handler http.Handler = jwtAuth.Wrap(mux)
	handler = middleware.NewCORSMiddleware(cfg.Server.CORSOrigins...).Wrap(handler)
	handler = middleware.AccessLog("/health")(handler)
	handler = middleware.RequestID(handler)

	loader.Watch(func(next *config.Config) {
		current.Store(next)
		jwtAuth.SetAPIKeys(next.Auth.APIKeys)
		slackManager.TriggerReload()
		logging.Infof("Configuration reloaded")
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logging.Infof("Starting HTTP server on port %d", cfg.Server.Port)
		logging.Infof("Webhook endpoints: %v under /webhook/{source}", alertHandler.Sources())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logging.Infof("Received shutdown signal, cleaning up...")
	case err := <-serverErr:
		logging.Errorf("HTTP server error: %v", err)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Warnf("Error shutting down HTTP server: %v", err)
	}
	if err := ingest.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logging.Warnf("Ingestion stopped with error: %v", err)
	}

	logging.Infof("Shutdown complete")
	return nil
}

// buildKnowledgeBase enables semantic search only when a Gemini client is available
func buildKnowledgeBase(ctx context.Context, cfg *config.Config, gemini *genai.Client) (*knowledge.KnowledgeBase, error) {
	var embedder knowledge.Embedder
	if gemini != nil {
		embedder = knowledge.NewGeminiEmbedder(gemini, cfg.Analyzer.EmbeddingModel)
	}
	kb := knowledge.New(embedder)

	if cfg.Knowledge.LoadDefaults {
		n, err := kb.LoadDefaults(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load default runbooks: %w", err)
		}
		logging.Infof("Loaded %d built-in runbooks", n)
	}
	if cfg.Knowledge.RunbookDir != "" {
		n, err := kb.LoadDir(ctx, cfg.Knowledge.RunbookDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load runbooks from %s: %w", cfg.Knowledge.RunbookDir, err)
		}
		logging.Infof("Loaded %d runbooks from %s", n, cfg.Knowledge.RunbookDir)
	}
	return kb, nil
}

func buildAnalyzer(cfg *config.Config, gemini *genai.Client, kb *knowledge.KnowledgeBase) analyzer.Analyzer {
	if gemini == nil {
		logging.Infof("Analyzer: static (every event is escalated for review)")
		return analyzer.StaticAnalyzer{}
	}
	generator := analyzer.NewGeminiGenerator(gemini, cfg.Analyzer.Model, cfg.Analyzer.MaxTokens)
	logging.Infof("Analyzer: gemini (%s)", cfg.Analyzer.Model)
	return analyzer.NewLLMAnalyzer(generator, kb, cfg.Analyzer.Timeout)
}

func buildRegistry(cfg *config.Config) (*actions.Registry, error) {
	registry := actions.NewRegistry()

	if cfg.Kubernetes.Enabled {
		client, err := actions.NewKubernetesClient(cfg.Kubernetes.Kubeconfig)
		if err != nil {
			return nil, err
		}
		if err := actions.NewKubernetesExecutor(client).Register(registry); err != nil {
			return nil, err
		}
	}

	if cfg.SSH.Enabled {
		validator := actions.NewCommandValidator()
		if len(cfg.SSH.AllowedCommands) > 0 {
			validator.AllowedCommands = make(map[string]bool, len(cfg.SSH.AllowedCommands))
			for _, c := range cfg.SSH.AllowedCommands {
				validator.AllowedCommands[c] = true
			}
		}
		if err := registry.Register(models.ActionSSHCommand, actions.NewSSHExecutor(cfg.SSH.SSHConfig, validator)); err != nil {
			return nil, err
		}
	}

	if cfg.SNMP.SetEnabled {
		if err := registry.Register(models.ActionSNMPSet, actions.NewSNMPExecutor(cfg.SNMP.SNMPConfig)); err != nil {
			return nil, err
		}
	}

	if cfg.Playbook.Enabled {
		if err := registry.Register(models.ActionAnsiblePlaybook, actions.NewPlaybookExecutor(cfg.Playbook.PlaybookConfig)); err != nil {
			return nil, err
		}
	}

	logging.Infof("Action executors: %v", registry.Types())
	return registry, nil
}

// startIngestion launches the non-HTTP event sources under g
func startIngestion(ctx context.Context, g *errgroup.Group, cfg *config.Config, p *pipeline.Pipeline) error {
	if cfg.Syslog.Enabled {
		receiver := syslog.NewReceiver(cfg.Syslog.Addr, p)
		if err := receiver.Listen(); err != nil {
			return err
		}
		logging.Infof("Syslog receiver listening on %s", receiver.Addr())
		g.Go(func() error { return receiver.Serve(ctx) })
	}

	if cfg.SNMP.Traps.Enabled {
		traps := snmp.NewTrapListener(cfg.SNMP.Traps.Addr, cfg.SNMP.Traps.Community, p)
		g.Go(func() error { return traps.Serve(ctx) })
	}

	if len(cfg.SNMP.Poller.Devices) > 0 {
		poller := snmp.NewPoller(cfg.SNMP.Poller.Devices, p)
		poller.SetErrorThreshold(cfg.SNMP.Poller.ErrorThreshold)
		g.Go(func() error { return poller.Run(ctx) })
	}

	if cfg.Kafka.Enabled {
		consumer, err := kafka.NewConsumer(cfg.Kafka.Config, p)
		if err != nil {
			return err
		}
		g.Go(func() error {
			defer consumer.Close()
			return consumer.Run(ctx)
		})
	}
	return nil
}
