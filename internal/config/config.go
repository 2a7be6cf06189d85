// Package config provides configuration management for the roll-watch
// service: a YAML file with ${VAR} environment expansion, normalized
// with defaults and validated before use.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	defaultMonitorIntervalMinutes  = 5
	defaultNotifierIntervalSeconds = 30
	defaultMaxNotificationRetries  = 3
	defaultQuoteTTLSeconds         = 10
	defaultMarketOpenHour          = 10
	defaultMarketCloseHour         = 17
	defaultDTEMin                  = 0
	defaultDTEMax                  = 45
	defaultMinVolume               = 100
	defaultMinOI                   = 100
)

// Config is the complete application configuration.
type Config struct {
	Environment  EnvironmentConfig  `yaml:"environment"`
	Bridge       BridgeConfig       `yaml:"bridge"`
	Schedule     ScheduleConfig     `yaml:"schedule"`
	MarketData   MarketDataConfig   `yaml:"market_data"`
	Session      SessionConfig      `yaml:"session"`
	RuleDefaults RuleDefaultsConfig `yaml:"rule_defaults"`
	Channels     ChannelsConfig     `yaml:"channels"`
	Storage      StorageConfig      `yaml:"storage"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // development | production
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BridgeConfig configures the MT5 ingress/egress HTTP API.
type BridgeConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Port            int      `yaml:"port"`
	Token           string   `yaml:"token"`
	AllowedIPs      []string `yaml:"allowed_ips"`
	QuoteTTLSeconds int      `yaml:"quote_ttl_seconds"`
}

// ScheduleConfig defines the four scheduled jobs' cadence.
type ScheduleConfig struct {
	MonitorIntervalMinutes  int    `yaml:"monitor_interval_minutes"`
	NotifierIntervalSeconds int    `yaml:"notifier_interval_seconds"`
	MaxNotificationRetries  int    `yaml:"max_notification_retries"`
	CleanupCron             string `yaml:"cleanup_cron"`
	ExpirePositionsCron     string `yaml:"expire_positions_cron"`
}

// MarketDataConfig selects and configures the Provider chain.
type MarketDataConfig struct {
	Provider        string `yaml:"provider"`        // mock | brapi | hybrid | mt5
	HybridFallback  string `yaml:"hybrid_fallback"` // brapi | mock
	ExternalBaseURL string `yaml:"external_base_url"`
	ExternalAPIKey  string `yaml:"external_api_key"`
}

// SessionConfig defines the trading session window.
type SessionConfig struct {
	Timezone    string `yaml:"timezone"`
	OpenHour    int    `yaml:"open_hour"`
	OpenMinute  int    `yaml:"open_minute"`
	CloseHour   int    `yaml:"close_hour"`
	CloseMinute int    `yaml:"close_minute"`
}

// RuleDefaultsConfig holds fallback roll-rule thresholds. Normalize fills
// their defaults; no other package reads them, and rules loaded from
// storage are not seeded from these values.
type RuleDefaultsConfig struct {
	DeltaThreshold float64 `yaml:"delta_threshold"`
	DTEMin         int     `yaml:"dte_min"`
	DTEMax         int     `yaml:"dte_max"`
	MinVolume      int64   `yaml:"min_volume"`
	MaxSpread      float64 `yaml:"max_spread"`
	MinOI          int64   `yaml:"min_oi"`
}

// ChannelsConfig configures the external notification channel clients.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	SMS      SMSConfig      `yaml:"sms"`
	Email    EmailConfig    `yaml:"email"`
}

type WhatsAppConfig struct {
	PrimaryURL   string `yaml:"primary_url"`
	FallbackURL  string `yaml:"fallback_url"`
	LoginURL     string `yaml:"login_url"`
	StaticAPIKey string `yaml:"static_api_key"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
}

type SMSConfig struct {
	PrimaryURL   string `yaml:"primary_url"`
	FallbackURL  string `yaml:"fallback_url"`
	LoginURL     string `yaml:"login_url"`
	StaticAPIKey string `yaml:"static_api_key"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
}

type EmailConfig struct {
	APIKey    string `yaml:"api_key"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
}

// StorageConfig defines storage settings for the JSON-file repository.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Load reads and parses the configuration file from the specified path,
// expanding ${VAR} environment references before decoding.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", configPath, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", configPath, err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Normalize fills in defaults for every optional field.
func (c *Config) Normalize() {
	if c.Environment.Mode == "" {
		c.Environment.Mode = "development"
	}
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Bridge.QuoteTTLSeconds == 0 {
		c.Bridge.QuoteTTLSeconds = defaultQuoteTTLSeconds
	}
	if c.Schedule.MonitorIntervalMinutes == 0 {
		c.Schedule.MonitorIntervalMinutes = defaultMonitorIntervalMinutes
	}
	if c.Schedule.NotifierIntervalSeconds == 0 {
		c.Schedule.NotifierIntervalSeconds = defaultNotifierIntervalSeconds
	}
	if c.Schedule.MaxNotificationRetries == 0 {
		c.Schedule.MaxNotificationRetries = defaultMaxNotificationRetries
	}
	if c.Schedule.CleanupCron == "" {
		c.Schedule.CleanupCron = "0 3 * * *"
	}
	if c.Schedule.ExpirePositionsCron == "" {
		c.Schedule.ExpirePositionsCron = "0 1 * * *"
	}
	if c.MarketData.Provider == "" {
		c.MarketData.Provider = "mock"
	}
	if c.MarketData.HybridFallback == "" {
		c.MarketData.HybridFallback = "mock"
	}
	if c.Session.Timezone == "" {
		c.Session.Timezone = "America/Sao_Paulo"
	}
	if c.Session.OpenHour == 0 && c.Session.CloseHour == 0 {
		c.Session.OpenHour = defaultMarketOpenHour
		c.Session.CloseHour = defaultMarketCloseHour
	}
	if c.RuleDefaults.DTEMin == 0 && c.RuleDefaults.DTEMax == 0 {
		c.RuleDefaults.DTEMin = defaultDTEMin
		c.RuleDefaults.DTEMax = defaultDTEMax
	}
	if c.RuleDefaults.MinVolume == 0 {
		c.RuleDefaults.MinVolume = defaultMinVolume
	}
	if c.RuleDefaults.MinOI == 0 {
		c.RuleDefaults.MinOI = defaultMinOI
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/rollwatch.json"
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Environment.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of: debug, info, warn, error")
	}

	if c.Bridge.Enabled && strings.TrimSpace(c.Bridge.Token) == "" {
		return fmt.Errorf("bridge.token is required when bridge.enabled is true")
	}
	if c.Bridge.QuoteTTLSeconds < 0 {
		return fmt.Errorf("bridge.quote_ttl_seconds must be >= 0")
	}

	switch c.MarketData.Provider {
	case "mock", "brapi", "hybrid", "mt5":
	default:
		return fmt.Errorf("market_data.provider must be one of: mock, brapi, hybrid, mt5")
	}
	if c.MarketData.Provider == "hybrid" {
		switch c.MarketData.HybridFallback {
		case "brapi", "mock":
		default:
			return fmt.Errorf("market_data.hybrid_fallback must be one of: brapi, mock")
		}
	}
	if (c.MarketData.Provider == "brapi" || (c.MarketData.Provider == "hybrid" && c.MarketData.HybridFallback == "brapi")) &&
		strings.TrimSpace(c.MarketData.ExternalBaseURL) == "" {
		return fmt.Errorf("market_data.external_base_url is required when brapi is in use")
	}

	if _, err := c.SessionLocation(); err != nil {
		return err
	}
	if c.Session.OpenHour < 0 || c.Session.OpenHour > 23 || c.Session.CloseHour < 0 || c.Session.CloseHour > 23 {
		return fmt.Errorf("session open/close hour must be in [0,23]")
	}

	if c.Schedule.MonitorIntervalMinutes <= 0 {
		return fmt.Errorf("schedule.monitor_interval_minutes must be > 0")
	}
	if c.Schedule.NotifierIntervalSeconds <= 0 {
		return fmt.Errorf("schedule.notifier_interval_seconds must be > 0")
	}
	if c.Schedule.MaxNotificationRetries <= 0 {
		return fmt.Errorf("schedule.max_notification_retries must be > 0")
	}

	return nil
}

// SessionLocation resolves the configured timezone, defaulting to
// America/Sao_Paulo (B3's exchange timezone) when unset.
func (c *Config) SessionLocation() (*time.Location, error) {
	tz := c.Session.Timezone
	if strings.TrimSpace(tz) == "" {
		tz = "America/Sao_Paulo"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", tz, err)
	}
	return loc, nil
}

// MonitorInterval returns the configured Monitor cadence as a Duration.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Schedule.MonitorIntervalMinutes) * time.Minute
}

// NotifierInterval returns the configured Notifier cadence as a Duration.
func (c *Config) NotifierInterval() time.Duration {
	return time.Duration(c.Schedule.NotifierIntervalSeconds) * time.Second
}

// QuoteTTL returns the configured bridge quote TTL as a Duration.
func (c *Config) QuoteTTL() time.Duration {
	return time.Duration(c.Bridge.QuoteTTLSeconds) * time.Second
}
