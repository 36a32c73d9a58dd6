// ABOUTME: Configuration loading and parsing for huddle-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Database driver names accepted in database.driver.
const (
	DriverModernc = "sqlite"  // pure Go, modernc.org/sqlite
	DriverCGO     = "sqlite3" // cgo, github.com/mattn/go-sqlite3
)

// Defaults applied when the config file leaves a field empty.
const (
	DefaultBotTrigger     = "@chatBot"
	DefaultBotUsername    = "chatBot"
	DefaultBotUserID      = "chatbot"
	DefaultBotBaseURL     = "https://openrouter.ai/api/v1"
	DefaultBotModel       = "google/gemini-2.0-flash-lite-preview-02-05:free"
	DefaultBotTimeout     = 30 * time.Second
	DefaultDeliveryBuffer = 64
	DefaultDedupeTTL      = 5 * time.Minute
	DefaultDedupeSize     = 10000
)

// Config represents the complete huddle-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Delivery  DeliveryConfig  `yaml:"delivery" toml:"delivery"`
	Bot       BotConfig       `yaml:"bot" toml:"bot"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path   string `yaml:"path" toml:"path"`
	Driver string `yaml:"driver" toml:"driver"`
}

// AuthConfig holds authentication configuration.
// An empty secret disables token checks entirely.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// DeliveryConfig tunes per-connection delivery and resend deduplication
type DeliveryConfig struct {
	BufferSize int           `yaml:"buffer_size" toml:"buffer_size"`
	DedupeSize int           `yaml:"dedupe_size" toml:"dedupe_size"`
	DedupeTTL  time.Duration `yaml:"-" toml:"-"`

	DedupeTTLRaw string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// BotConfig holds the automated participant and its generation backend
type BotConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Trigger  string `yaml:"trigger" toml:"trigger"`
	UserID   string `yaml:"user_id" toml:"user_id"`
	Username string `yaml:"username" toml:"username"`
	BaseURL  string `yaml:"base_url" toml:"base_url"`
	APIKey   string `yaml:"api_key" toml:"api_key"`
	Model    string `yaml:"model" toml:"model"`
	Referrer string `yaml:"referrer" toml:"referrer"`
	Title    string `yaml:"title" toml:"title"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset optional fields
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverModernc
	}
	if c.Delivery.BufferSize <= 0 {
		c.Delivery.BufferSize = DefaultDeliveryBuffer
	}
	if c.Delivery.DedupeSize <= 0 {
		c.Delivery.DedupeSize = DefaultDedupeSize
	}
	if c.Delivery.DedupeTTL <= 0 {
		c.Delivery.DedupeTTL = DefaultDedupeTTL
	}
	if c.Bot.Trigger == "" {
		c.Bot.Trigger = DefaultBotTrigger
	}
	if c.Bot.Username == "" {
		c.Bot.Username = DefaultBotUsername
	}
	if c.Bot.UserID == "" {
		c.Bot.UserID = DefaultBotUserID
	}
	if c.Bot.BaseURL == "" {
		c.Bot.BaseURL = DefaultBotBaseURL
	}
	if c.Bot.Model == "" {
		c.Bot.Model = DefaultBotModel
	}
	if c.Bot.Timeout <= 0 {
		c.Bot.Timeout = DefaultBotTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Database.Driver {
	case DriverModernc, DriverCGO:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverModernc, DriverCGO, c.Database.Driver)
	}

	if c.Bot.Enabled && c.Bot.APIKey == "" {
		return fmt.Errorf("bot.api_key is required when the bot is enabled")
	}

	if strings.TrimSpace(c.Bot.Trigger) == "" {
		return fmt.Errorf("bot.trigger must not be blank")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Delivery.DedupeTTLRaw != "" {
		cfg.Delivery.DedupeTTL, err = time.ParseDuration(cfg.Delivery.DedupeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe_ttl %q: %w", cfg.Delivery.DedupeTTLRaw, err)
		}
	}

	if cfg.Bot.TimeoutRaw != "" {
		cfg.Bot.Timeout, err = time.ParseDuration(cfg.Bot.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing bot timeout %q: %w", cfg.Bot.TimeoutRaw, err)
		}
	}

	return nil
}
