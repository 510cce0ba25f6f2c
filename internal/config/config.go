package config

import (
	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/alichu45/socialbot/pkg/logger"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logger    logger.Config   `yaml:"logger"`
	Auth      AuthConfig      `yaml:"auth"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Matcher   MatcherConfig   `yaml:"matcher"`
	Stats     StatsConfig     `yaml:"stats"`
	Platforms PlatformsConfig `yaml:"platforms"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

type AuthConfig struct {
	// TOTPSecret guards the mutating API endpoints. Empty disables the gate
	// (local development).
	TOTPSecret string `yaml:"totp_secret"`
}

// SchedulerConfig drives the post dispatch loop. Enabled is a pointer so
// an explicit `enabled: false` is distinguishable from an omitted key,
// which defaults to on.
type SchedulerConfig struct {
	Enabled          *bool  `yaml:"enabled"`
	DispatchInterval string `yaml:"dispatch_interval"`
	// MaxAttempts caps publish retries per dispatch cycle before a post is
	// marked failed.
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"`
	MaxDelay    string `yaml:"max_delay"`
	BatchSize   int    `yaml:"batch_size"`
}

// IngestConfig drives the inbound polling loop.
type IngestConfig struct {
	Enabled  *bool  `yaml:"enabled"`
	Interval string `yaml:"interval"`
	// MaxPages bounds how many inbox pages one cycle walks per account.
	MaxPages int `yaml:"max_pages"`
}

// MatcherConfig drives auto-reply evaluation.
type MatcherConfig struct {
	Enabled  *bool  `yaml:"enabled"`
	Interval string `yaml:"interval"`
	// MaxReplyAttempts and RetryWindow throttle re-attempts on items whose
	// reply call keeps failing.
	MaxReplyAttempts int    `yaml:"max_reply_attempts"`
	RetryWindow      string `yaml:"retry_window"`
	BatchSize        int    `yaml:"batch_size"`
}

type StatsConfig struct {
	Enabled  *bool  `yaml:"enabled"`
	Interval string `yaml:"interval"`
}

func (c *SchedulerConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }
func (c *IngestConfig) IsEnabled() bool    { return c.Enabled == nil || *c.Enabled }
func (c *MatcherConfig) IsEnabled() bool   { return c.Enabled == nil || *c.Enabled }
func (c *StatsConfig) IsEnabled() bool     { return c.Enabled == nil || *c.Enabled }

// PlatformsConfig carries the app-level credentials used for token refresh.
// Account-level tokens live in the database.
type PlatformsConfig struct {
	Twitter   AppCredentials `yaml:"twitter"`
	Facebook  AppCredentials `yaml:"facebook"`
	Instagram AppCredentials `yaml:"instagram"`
	TikTok    AppCredentials `yaml:"tiktok"`
	Threads   AppCredentials `yaml:"threads"`
}

type AppCredentials struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	// TokenURL overrides the platform's default token endpoint, mostly for
	// tests.
	TokenURL string `yaml:"token_url"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	// Set default values
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5380
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	applyEngineDefaults(cfg)

	return cfg, nil
}

func applyEngineDefaults(cfg *Config) {
	if cfg.Scheduler.DispatchInterval == "" {
		cfg.Scheduler.DispatchInterval = "30s"
	}
	if cfg.Scheduler.MaxAttempts == 0 {
		cfg.Scheduler.MaxAttempts = 5
	}
	if cfg.Scheduler.BaseDelay == "" {
		cfg.Scheduler.BaseDelay = "2s"
	}
	if cfg.Scheduler.MaxDelay == "" {
		cfg.Scheduler.MaxDelay = "15m"
	}
	if cfg.Scheduler.BatchSize == 0 {
		cfg.Scheduler.BatchSize = 50
	}
	if cfg.Ingest.Interval == "" {
		cfg.Ingest.Interval = "2m"
	}
	if cfg.Ingest.MaxPages == 0 {
		cfg.Ingest.MaxPages = 10
	}
	if cfg.Matcher.Interval == "" {
		cfg.Matcher.Interval = "30s"
	}
	if cfg.Matcher.MaxReplyAttempts == 0 {
		cfg.Matcher.MaxReplyAttempts = 3
	}
	if cfg.Matcher.RetryWindow == "" {
		cfg.Matcher.RetryWindow = "10m"
	}
	if cfg.Matcher.BatchSize == 0 {
		cfg.Matcher.BatchSize = 100
	}
	if cfg.Stats.Interval == "" {
		cfg.Stats.Interval = "10m"
	}
}
