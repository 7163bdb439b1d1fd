package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/andywolf/agentcast/internal/content"
	"github.com/andywolf/agentcast/internal/postlog"
)

// Config represents the full agentcast configuration
type Config struct {
	Agent     string          `mapstructure:"agent"`
	Content   ContentConfig   `mapstructure:"content"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	PostLog   PostLogConfig   `mapstructure:"postlog"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ContentConfig locates the agents' master documents
type ContentConfig struct {
	Dir    string `mapstructure:"dir"`
	Format string `mapstructure:"format"` // json or yaml, for new documents
}

// ScheduleConfig controls the posting loop
type ScheduleConfig struct {
	// Interval overrides the tracker's post_every_x_minutes when non-zero.
	Interval    time.Duration `mapstructure:"interval"`
	EndPolicy   string        `mapstructure:"end_policy"`
	DryRun      bool          `mapstructure:"dry_run"`
	PostOnStart bool          `mapstructure:"post_on_start"`
}

// PublisherConfig selects and configures the publishing adapter
type PublisherConfig struct {
	// Enabled gates live publishing; nil means enabled.
	Enabled   *bool           `mapstructure:"enabled"`
	Kind      string          `mapstructure:"kind"` // twitter, webhook or dry-run
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Twitter   TwitterConfig   `mapstructure:"twitter"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	// GCPProject holds the Secret Manager secrets named by token_secret
	// and secret_secret.
	GCPProject string `mapstructure:"gcp_project"`
}

// RateLimitConfig caps posts per window. Posts == 0 disables the limit.
type RateLimitConfig struct {
	Posts  int           `mapstructure:"posts"`
	Window time.Duration `mapstructure:"window"`
}

// RetryConfig bounds retries of transient publish failures
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// TwitterConfig configures the X API publisher
type TwitterConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	TokenEnv    string `mapstructure:"token_env"`
	TokenSecret string `mapstructure:"token_secret"` // Secret Manager path
}

// WebhookConfig configures the signed webhook publisher
type WebhookConfig struct {
	URL          string `mapstructure:"url"`
	Issuer       string `mapstructure:"issuer"`
	SecretEnv    string `mapstructure:"secret_env"`
	SecretSecret string `mapstructure:"secret_secret"` // Secret Manager path
}

// PostLogConfig selects the post log backend
type PostLogConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"` // empty: next to the master document
}

// LoggingConfig controls log outputs
type LoggingConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	GCPProject string `mapstructure:"gcp_project"`
	Verbose    bool   `mapstructure:"verbose"`
}

// Publisher kinds
const (
	PublisherTwitter = "twitter"
	PublisherWebhook = "webhook"
	PublisherDryRun  = "dry-run"
)

// legacyEnv maps config keys to environment variables used by older
// deployments. The AGENTCAST_ name always wins.
var legacyEnv = map[string]string{
	"schedule.end_policy": "AUTO_GENERATE_POSTS",
	"schedule.dry_run":    "X_DRY_RUN",
	"publisher.enabled":   "X_ENABLED",
}

// SetDefaults registers defaults that cannot be expressed as zero values
// and binds the legacy environment variables.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("schedule.post_on_start", true)
	v.SetDefault("content.dir", "configs")
	legacy := false
	for key, env := range legacyEnv {
		_ = v.BindEnv(key, "AGENTCAST_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
		if _, ok := os.LookupEnv(env); ok {
			legacy = true
		}
	}
	// Older deployments only published when X_ENABLED was "True".
	if legacy {
		v.SetDefault("publisher.enabled", false)
	}
}

// LoadDotEnv loads variables from a .env file without overriding ones
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from the global viper instance
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom loads configuration from v
func LoadFrom(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Content.Dir == "" {
		cfg.Content.Dir = "configs"
	}
	if cfg.Content.Format == "" {
		cfg.Content.Format = string(content.FormatJSON)
	}
	if cfg.Publisher.Enabled == nil {
		enabled := true
		cfg.Publisher.Enabled = &enabled
	}
	if cfg.Publisher.Kind == "" {
		cfg.Publisher.Kind = PublisherTwitter
	}
	if cfg.Publisher.RateLimit.Window == 0 {
		cfg.Publisher.RateLimit.Window = 15 * time.Minute
	}
	if cfg.Publisher.Retry.MaxAttempts == 0 {
		cfg.Publisher.Retry.MaxAttempts = 3
	}
	if cfg.Publisher.Retry.InitialBackoff == 0 {
		cfg.Publisher.Retry.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.Publisher.Retry.MaxBackoff == 0 {
		cfg.Publisher.Retry.MaxBackoff = 10 * time.Second
	}
	if cfg.Publisher.Twitter.TokenEnv == "" {
		cfg.Publisher.Twitter.TokenEnv = "X_BEARER_TOKEN"
	}
	if cfg.Publisher.Webhook.SecretEnv == "" {
		cfg.Publisher.Webhook.SecretEnv = "AGENTCAST_WEBHOOK_SECRET"
	}
	if cfg.Publisher.Webhook.Issuer == "" {
		cfg.Publisher.Webhook.Issuer = "agentcast"
	}
	if cfg.PostLog.Backend == "" {
		cfg.PostLog.Backend = postlog.BackendFile
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 10
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 28
	}
}

// Validate validates the configuration. An unknown end policy is not an
// error here; the scheduler falls back to STOP.
func (c *Config) Validate() error {
	if c.Content.Dir == "" {
		return fmt.Errorf("content dir is required")
	}
	if _, err := content.ParseFormat(c.Content.Format); err != nil {
		return err
	}
	if strings.ContainsAny(c.Agent, `/\`) {
		return fmt.Errorf("invalid agent name: %s", c.Agent)
	}

	if c.Schedule.Interval < 0 {
		return fmt.Errorf("invalid schedule interval: %s", c.Schedule.Interval)
	}

	validKinds := map[string]bool{PublisherTwitter: true, PublisherWebhook: true, PublisherDryRun: true}
	if !validKinds[c.Publisher.Kind] {
		return fmt.Errorf("invalid publisher kind: %s (must be twitter, webhook, or dry-run)", c.Publisher.Kind)
	}
	if c.Publisher.Kind == PublisherWebhook && c.Publisher.Webhook.URL == "" {
		return fmt.Errorf("webhook url is required for the webhook publisher")
	}
	if c.Publisher.RateLimit.Posts < 0 {
		return fmt.Errorf("rate_limit.posts must not be negative")
	}
	if c.Publisher.RateLimit.Posts > 0 && c.Publisher.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	if c.Publisher.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Publisher.Retry.MaxBackoff < c.Publisher.Retry.InitialBackoff {
		return fmt.Errorf("retry.max_backoff must not be below retry.initial_backoff")
	}

	switch c.PostLog.Backend {
	case postlog.BackendFile, postlog.BackendSQLite:
	default:
		return fmt.Errorf("invalid postlog backend: %s (must be file or sqlite)", c.PostLog.Backend)
	}

	return nil
}

// ValidateForRun performs additional validation required before posting
func (c *Config) ValidateForRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Agent == "" {
		return fmt.Errorf("agent is required (set agent in the config file, AGENTCAST_AGENT, or --agent)")
	}
	return nil
}

// PublishingEnabled reports whether publisher.enabled allows live posts.
func (c *Config) PublishingEnabled() bool {
	return c.Publisher.Enabled == nil || *c.Publisher.Enabled
}

// Live reports whether posts are actually published.
func (c *Config) Live() bool {
	return c.PublishingEnabled() && !c.Schedule.DryRun && c.Publisher.Kind != PublisherDryRun
}

// SecretProject returns the GCP project for Secret Manager lookups:
// publisher.gcp_project, then logging.gcp_project. Empty leaves the choice to
// GOOGLE_CLOUD_PROJECT and the metadata server.
func (c *Config) SecretProject() string {
	if c.Publisher.GCPProject != "" {
		return c.Publisher.GCPProject
	}
	return c.Logging.GCPProject
}

// PostLogPath returns the configured post log path or the per-agent default.
func (c *Config) PostLogPath() string {
	if c.PostLog.Path != "" {
		return c.PostLog.Path
	}
	return postlog.DefaultPath(c.Content.Dir, c.Agent, c.PostLog.Backend)
}
