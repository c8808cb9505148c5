package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/akmatori/nocpilot/internal/actions"
	"github.com/akmatori/nocpilot/internal/alerts/kafka"
	"github.com/akmatori/nocpilot/internal/alerts/snmp"
	"github.com/akmatori/nocpilot/internal/approval"
	"github.com/akmatori/nocpilot/internal/database"
	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/models"
	"github.com/akmatori/nocpilot/internal/slack"
)

// EnvPrefix prefixes every automatically bound environment variable
const EnvPrefix = "NOCPILOT"

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Approval   ApprovalConfig   `mapstructure:"approval"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Analyzer   AnalyzerConfig   `mapstructure:"analyzer"`
	Knowledge  KnowledgeConfig  `mapstructure:"knowledge"`
	Kubernetes KubernetesConfig `mapstructure:"kubernetes"`
	SSH        SSHConfig        `mapstructure:"ssh"`
	SNMP       SNMPConfig       `mapstructure:"snmp"`
	Playbook   PlaybookConfig   `mapstructure:"playbook"`
	Syslog     SyslogConfig     `mapstructure:"syslog"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Slack      slack.Settings   `mapstructure:"slack"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	DataDir         string        `mapstructure:"data_dir"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	WebhookSecret   string        `mapstructure:"webhook_secret"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig configures the admin login
type AuthConfig struct {
	AdminUsername  string `mapstructure:"admin_username" validate:"required"`
	AdminPassword  string `mapstructure:"admin_password"`
	JWTSecret      string `mapstructure:"jwt_secret"`
	JWTExpiryHours int    `mapstructure:"jwt_expiry_hours" validate:"min=1"`

	// APIKeys are accepted instead of a login token, for automation clients
	APIKeys []string `mapstructure:"api_keys"`
}

// LoggingConfig mirrors logging.Options
type LoggingConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
	Development bool   `mapstructure:"development"`
}

// Options converts to the logging package options
func (c LoggingConfig) Options() logging.Options {
	return logging.Options{
		Level:       c.Level,
		File:        c.File,
		MaxSizeMB:   c.MaxSizeMB,
		MaxBackups:  c.MaxBackups,
		MaxAgeDays:  c.MaxAgeDays,
		Compress:    c.Compress,
		Development: c.Development,
	}
}

// DatabaseConfig configures the audit store. An empty DSN disables it.
type DatabaseConfig struct {
	database.Config `mapstructure:",squash"`
	RetentionDays   int `mapstructure:"retention_days" validate:"min=0"`
}

// ApprovalConfig is the approval policy as written in config
type ApprovalConfig struct {
	Timeout               time.Duration `mapstructure:"timeout"`
	AutoApproveSeverity   string        `mapstructure:"auto_approve_severity" validate:"oneof=critical warning info"`
	AlwaysRequireApproval []string      `mapstructure:"always_require_approval"`
	AutoApprovable        []string      `mapstructure:"auto_approvable"`
	AutoApproveConfidence float64       `mapstructure:"auto_approve_confidence" validate:"gte=0,lte=1"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
}

// Policy converts the config into an approval.Config, rejecting unknown action types
func (c ApprovalConfig) Policy() (approval.Config, error) {
	always, err := parseActionTypes(c.AlwaysRequireApproval)
	if err != nil {
		return approval.Config{}, fmt.Errorf("approval.always_require_approval: %w", err)
	}
	auto, err := parseActionTypes(c.AutoApprovable)
	if err != nil {
		return approval.Config{}, fmt.Errorf("approval.auto_approvable: %w", err)
	}
	return approval.Config{
		Timeout:               c.Timeout,
		AutoApproveSeverity:   models.Severity(c.AutoApproveSeverity),
		AlwaysRequireApproval: always,
		AutoApprovable:        auto,
		AutoApproveConfidence: c.AutoApproveConfidence,
	}, nil
}

func parseActionTypes(names []string) ([]models.ActionType, error) {
	out := make([]models.ActionType, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		t, ok := models.ParseActionType(name)
		if !ok {
			return nil, fmt.Errorf("unknown action type %q", name)
		}
		out = append(out, t)
	}
	return out, nil
}

// PipelineConfig tunes the event pipeline
type PipelineConfig struct {
	MaxQueue         int `mapstructure:"max_queue" validate:"min=0"`
	BatchConcurrency int `mapstructure:"batch_concurrency" validate:"min=1"`
}

// AnalyzerConfig selects the analysis backend
type AnalyzerConfig struct {
	Provider       string        `mapstructure:"provider" validate:"oneof=gemini static"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	MaxTokens      int           `mapstructure:"max_tokens" validate:"min=1"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// KnowledgeConfig locates runbooks
type KnowledgeConfig struct {
	RunbookDir   string `mapstructure:"runbook_dir"`
	LoadDefaults bool   `mapstructure:"load_defaults"`
}

// KubernetesConfig enables the Kubernetes executor
type KubernetesConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Kubeconfig string `mapstructure:"kubeconfig"`
}

// SSHConfig enables the ssh_command executor
type SSHConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	actions.SSHConfig `mapstructure:",squash"`
	AllowedCommands   []string `mapstructure:"allowed_commands"`
}

// SNMPConfig covers the snmp_set executor, the trap listener and the interface poller
type SNMPConfig struct {
	SetEnabled         bool `mapstructure:"set_enabled"`
	actions.SNMPConfig `mapstructure:",squash"`
	Traps              TrapConfig   `mapstructure:"traps"`
	Poller             PollerConfig `mapstructure:"poller"`
}

// TrapConfig configures the trap listener
type TrapConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Community string `mapstructure:"community"`
}

// PollerConfig lists devices to poll
type PollerConfig struct {
	ErrorThreshold uint64        `mapstructure:"error_threshold"`
	Devices        []snmp.Device `mapstructure:"devices"`
}

// PlaybookConfig enables the ansible_playbook executor
type PlaybookConfig struct {
	Enabled                bool `mapstructure:"enabled"`
	actions.PlaybookConfig `mapstructure:",squash"`
}

// SyslogConfig configures the UDP syslog receiver
type SyslogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// KafkaConfig configures the Kafka event consumer
type KafkaConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	kafka.Config `mapstructure:",squash"`
}

// Loader reads configuration from defaults, an optional YAML file and the environment
type Loader struct {
	v    *viper.Viper
	file string
}

// NewLoader creates a loader. An empty file falls back to $NOCPILOT_CONFIG.
func NewLoader(file string) *Loader {
	if file == "" {
		file = os.Getenv(EnvPrefix + "_CONFIG")
	}
	v := viper.New()
	setDefaults(v)
	bindEnv(v)
	return &Loader{v: v, file: file}
}

// Load reads configuration using $NOCPILOT_CONFIG as the optional config file
func Load() (*Config, error) {
	return NewLoader("").Load()
}

// Load reads, decodes and validates the configuration
func (l *Loader) Load() (*Config, error) {
	if l.file != "" {
		l.v.SetConfigFile(l.file)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.file, err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = loadOrGenerateJWTSecret(filepath.Join(cfg.Server.DataDir, ".jwt_secret"))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch reloads the config file on change and hands the new config to fn.
// Invalid edits are logged and skipped.
func (l *Loader) Watch(fn func(*Config)) {
	if l.file == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		logging.Infof("Config file changed: %s", e.Name)
		cfg, err := l.decode()
		if err != nil {
			logging.Errorf("Ignoring invalid config change: %v", err)
			return
		}
		fn(cfg)
	})
	l.v.WatchConfig()
}

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Approval.Timeout <= 0 {
		return fmt.Errorf("invalid config: approval.timeout must be positive")
	}
	if _, err := c.Approval.Policy(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Analyzer.Provider == "gemini" && c.Analyzer.APIKey == "" {
		return fmt.Errorf("invalid config: analyzer.api_key is required for the gemini provider")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("invalid config: kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.data_dir", "/var/lib/nocpilot")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.webhook_secret", "")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("auth.admin_username", "admin")
	v.SetDefault("auth.admin_password", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_expiry_hours", 24)
	v.SetDefault("auth.api_keys", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)
	v.SetDefault("logging.development", false)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.retention_days", 90)

	policy := approval.DefaultConfig()
	v.SetDefault("approval.timeout", policy.Timeout)
	v.SetDefault("approval.auto_approve_severity", string(policy.AutoApproveSeverity))
	v.SetDefault("approval.always_require_approval", actionNames(policy.AlwaysRequireApproval))
	v.SetDefault("approval.auto_approvable", actionNames(policy.AutoApprovable))
	v.SetDefault("approval.auto_approve_confidence", policy.AutoApproveConfidence)
	v.SetDefault("approval.sweep_interval", time.Minute)

	v.SetDefault("pipeline.max_queue", 0)
	v.SetDefault("pipeline.batch_concurrency", 5)

	v.SetDefault("analyzer.provider", "static")
	v.SetDefault("analyzer.api_key", "")
	v.SetDefault("analyzer.model", "gemini-2.5-flash")
	v.SetDefault("analyzer.embedding_model", "")
	v.SetDefault("analyzer.max_tokens", 2048)
	v.SetDefault("analyzer.timeout", 60*time.Second)

	v.SetDefault("knowledge.runbook_dir", "")
	v.SetDefault("knowledge.load_defaults", true)

	v.SetDefault("kubernetes.enabled", false)
	v.SetDefault("kubernetes.kubeconfig", "")

	v.SetDefault("ssh.enabled", false)
	v.SetDefault("ssh.username", "root")
	v.SetDefault("ssh.password", "")
	v.SetDefault("ssh.private_key", "")
	v.SetDefault("ssh.private_key_file", "")
	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.connect_timeout", 30*time.Second)
	v.SetDefault("ssh.command_timeout", 30*time.Second)
	v.SetDefault("ssh.known_hosts_file", "")
	v.SetDefault("ssh.allowed_commands", []string{})

	v.SetDefault("snmp.set_enabled", false)
	v.SetDefault("snmp.community", "private")
	v.SetDefault("snmp.port", 161)
	v.SetDefault("snmp.timeout", 5*time.Second)
	v.SetDefault("snmp.retries", 1)
	v.SetDefault("snmp.traps.enabled", false)
	v.SetDefault("snmp.traps.addr", "0.0.0.0:162")
	v.SetDefault("snmp.traps.community", "public")
	v.SetDefault("snmp.poller.error_threshold", 100)

	v.SetDefault("playbook.enabled", false)
	v.SetDefault("playbook.binary", "ansible-playbook")
	v.SetDefault("playbook.playbook_dir", "")
	v.SetDefault("playbook.inventory", "")
	v.SetDefault("playbook.timeout", 10*time.Minute)
	v.SetDefault("playbook.max_output_len", 16*1024)

	v.SetDefault("syslog.enabled", false)
	v.SetDefault("syslog.addr", "0.0.0.0:514")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "")
	v.SetDefault("kafka.group_id", "nocpilot")

	v.SetDefault("slack.enabled", false)
	v.SetDefault("slack.bot_token", "")
	v.SetDefault("slack.app_token", "")
	v.SetDefault("slack.channel", "#noc-alerts")
	v.SetDefault("slack.proxy_url", "")
	v.SetDefault("slack.post_alerts", false)
}

// bindEnv maps NOCPILOT_SECTION_KEY automatically and keeps the short names operators
// already use for the common settings
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	aliases := map[string]string{
		"server.port":           "HTTP_PORT",
		"database.dsn":          "DATABASE_URL",
		"auth.admin_username":   "ADMIN_USERNAME",
		"auth.admin_password":   "ADMIN_PASSWORD",
		"auth.jwt_secret":       "JWT_SECRET",
		"auth.jwt_expiry_hours": "JWT_EXPIRY_HOURS",
		"logging.level":         "LOG_LEVEL",
		"logging.file":          "LOG_FILE",
		"logging.max_size_mb":   "LOG_MAX_SIZE_MB",
		"logging.max_backups":   "LOG_MAX_BACKUPS",
		"logging.max_age_days":  "LOG_MAX_AGE_DAYS",
		"analyzer.api_key":      "GEMINI_API_KEY",
		"kubernetes.kubeconfig": "KUBECONFIG",
		"slack.bot_token":       "SLACK_BOT_TOKEN",
		"slack.app_token":       "SLACK_APP_TOKEN",
		"slack.channel":         "SLACK_CHANNEL",
	}
	for key, alias := range aliases {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, alias)
	}
}

func actionNames(types []models.ActionType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

// loadOrGenerateJWTSecret loads JWT secret from file or generates a new one
func loadOrGenerateJWTSecret(secretPath string) string {
	if data, err := os.ReadFile(secretPath); err == nil {
		secret := strings.TrimSpace(string(data))
		if secret != "" {
			logging.Infof("Loaded JWT secret from %s", secretPath)
			return secret
		}
	}

	secret := generateSecureSecret(32) // 256 bits

	if err := os.MkdirAll(filepath.Dir(secretPath), 0755); err != nil {
		logging.Warnf("Could not create directory for JWT secret: %v", err)
		return secret
	}

	if err := os.WriteFile(secretPath, []byte(secret), 0600); err != nil {
		logging.Warnf("Could not save JWT secret to file: %v", err)
	} else {
		logging.Infof("Generated and saved new JWT secret to %s", secretPath)
	}

	return secret
}

// generateSecureSecret generates a cryptographically secure random string
func generateSecureSecret(bytes int) string {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		logging.Warnf("Could not generate secure random bytes: %v", err)
		return "fallback-insecure-secret-please-set-jwt-secret-env"
	}
	return hex.EncodeToString(b)
}
