package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foxzi/lanes/internal/bounce"
	"github.com/foxzi/lanes/internal/transport"
)

// Config is the main configuration structure
type Config struct {
	Database    DatabaseConfig       `yaml:"database"`
	Attachments AttachmentsConfig    `yaml:"attachments"`
	Secret      string               `yaml:"secret"`      // shared secret for recipient tokens
	TestDomain  string               `yaml:"test_domain"` // addresses here skip the new-recipient grace period
	Pipeline    PipelineConfig       `yaml:"pipeline"`
	SMTP        transport.SMTPConfig `yaml:"smtp"`
	Telegram    TelegramConfig       `yaml:"telegram"`
	POP3        POP3Config           `yaml:"pop3"`
	Metrics     MetricsConfig        `yaml:"metrics"`
	Logging     LoggingConfig        `yaml:"logging"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AttachmentsConfig struct {
	Path string `yaml:"path"`
}

// PipelineConfig controls the scheduler cadence.
type PipelineConfig struct {
	Interval    time.Duration `yaml:"interval"`     // tick cadence
	Cycles      int           `yaml:"cycles"`       // candidates per tick
	SendTimeout time.Duration `yaml:"send_timeout"` // per-send transport timeout
}

// TelegramConfig enables the Telegram transport and notifier.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// POP3Config enables bounce-mailbox polling.
type POP3Config struct {
	Enabled           bool `yaml:"enabled"`
	bounce.POP3Config `yaml:",inline"`
}

// MetricsConfig contains the ops HTTP server settings.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"` // Default: :9090
	Path       string `yaml:"path"`        // Default: /metrics
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "/var/lib/lanes/lanes.db"
	}
	if c.Attachments.Path == "" {
		c.Attachments.Path = "/var/lib/lanes/attachments.db"
	}
	if c.TestDomain == "" {
		c.TestDomain = "lanes.local"
	}
	if c.Pipeline.Interval == 0 {
		c.Pipeline.Interval = time.Minute
	}
	if c.Pipeline.Cycles == 0 {
		c.Pipeline.Cycles = 100
	}
	if c.Pipeline.SendTimeout == 0 {
		c.Pipeline.SendTimeout = 30 * time.Second
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.SMTP.Hostname == "" {
		hostname, _ := os.Hostname()
		c.SMTP.Hostname = hostname
	}
	if c.POP3.Port == 0 {
		c.POP3.Port = 995
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Secret == "" {
		return fmt.Errorf("secret is required")
	}
	if c.Pipeline.Cycles < 0 {
		return fmt.Errorf("pipeline.cycles must not be negative")
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required when telegram is enabled")
	}
	if c.POP3.Enabled {
		if c.POP3.Host == "" {
			return fmt.Errorf("pop3.host is required when pop3 is enabled")
		}
		if c.POP3.Username == "" {
			return fmt.Errorf("pop3.username is required when pop3 is enabled")
		}
	}
	return nil
}
