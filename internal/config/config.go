package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/elonfeng/podcharts/pkg/ranking"
)

var (
	ErrMissingDatabaseURL = errors.New("database url is required (DATABASE_URL)")
	ErrMissingAPIKey      = errors.New("listennotes api key is required (LISTENNOTES_API_KEY)")
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Provider ProviderConfig `yaml:"provider"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig selects the store. postgres:// URLs use Postgres, anything
// else is a SQLite file path. There is no default.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// ProviderConfig configures the ListenNotes client.
type ProviderConfig struct {
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	Timeout           string  `yaml:"timeout"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// ParseTimeout returns the per-request timeout.
func (p ProviderConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(p.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// IngestConfig selects which charts are fetched each day.
type IngestConfig struct {
	Regions     []string           `yaml:"regions"`
	Categories  []ranking.Category `yaml:"categories"`
	Limit       int                `yaml:"limit"`
	Concurrency int                `yaml:"concurrency"`
}

// ScheduleConfig configures the daemon loop.
type ScheduleConfig struct {
	IngestInterval string `yaml:"ingest_interval"`
	EpisodeLimit   int    `yaml:"episode_limit"`
}

// ParseIngestInterval returns the ingest interval as time.Duration.
func (s ScheduleConfig) ParseIngestInterval() time.Duration {
	d, err := time.ParseDuration(s.IngestInterval)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// AlertsConfig configures the movers digest and its destinations.
type AlertsConfig struct {
	TopMovers   int           `yaml:"top_movers"`
	MinMomentum float64       `yaml:"min_momentum"`
	Slack       SlackConfig   `yaml:"slack"`
	Discord     DiscordConfig `yaml:"discord"`
	Webhook     WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // console or json
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			BaseURL:           "https://listen-api.listennotes.com/api/v2",
			Timeout:           "30s",
			RequestsPerSecond: 2,
		},
		Ingest: IngestConfig{
			Regions:     []string{"us"},
			Categories:  ranking.DefaultCategories(),
			Limit:       ranking.MaxPageSize,
			Concurrency: 4,
		},
		Schedule: ScheduleConfig{
			IngestInterval: "24h",
			EpisodeLimit:   25,
		},
		Alerts: AlertsConfig{TopMovers: 10},
		Server: ServerConfig{Port: 8080},
		Log:    LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.Ingest.Limit = ranking.ClampPageSize(cfg.Ingest.Limit)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("LISTENNOTES_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("LISTENNOTES_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LISTENNOTES_LIMIT: %w", err)
		}
		cfg.Ingest.Limit = n
	}
	if v := os.Getenv("LISTENNOTES_REGIONS"); v != "" {
		var regions []string
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				regions = append(regions, r)
			}
		}
		cfg.Ingest.Regions = regions
	}
	if v := os.Getenv("PODCHARTS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("PODCHARTS_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Webhook.URL = v
		cfg.Alerts.Webhook.Enabled = true
	}
	if v := os.Getenv("PODCHARTS_WEBHOOK_SECRET"); v != "" {
		cfg.Alerts.Webhook.Secret = v
	}
	return nil
}

// Validate checks the settings every command needs. Commands that call the
// provider also need an API key.
func (c *Config) Validate(requireProvider bool) error {
	var errs []error
	if strings.TrimSpace(c.Database.URL) == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if requireProvider && strings.TrimSpace(c.Provider.APIKey) == "" {
		errs = append(errs, ErrMissingAPIKey)
	}
	if len(c.Ingest.Categories) == 0 {
		errs = append(errs, errors.New("at least one category is required"))
	}
	return errors.Join(errs...)
}
