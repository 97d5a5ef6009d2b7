// Package config loads relay configuration.
//
// Sources are applied in order, later ones winning:
//
//  1. Defaults()
//  2. an optional YAML file
//  3. a .env file in the working directory (never overrides real env vars)
//  4. RELAY_* environment variables
//
// The result is checked with Validate before use.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "RELAY_"

// Config is the full relay configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" envPrefix:"LOG_"`
	Store      StoreConfig      `yaml:"store" envPrefix:"STORE_"`
	Redis      RedisConfig      `yaml:"redis" envPrefix:"REDIS_"`
	Ownership  OwnershipConfig  `yaml:"ownership" envPrefix:"OWNERSHIP_"`
	Router     RouterConfig     `yaml:"router" envPrefix:"ROUTER_"`
	Supervisor SupervisorConfig `yaml:"supervisor" envPrefix:"SUPERVISOR_"`
	Intake     IntakeConfig     `yaml:"intake" envPrefix:"INTAKE_"`
	Telegram   TelegramConfig   `yaml:"telegram" envPrefix:"TELEGRAM_"`
	Slack      SlackConfig      `yaml:"slack" envPrefix:"SLACK_"`
	Discord    DiscordConfig    `yaml:"discord" envPrefix:"DISCORD_"`
	Publisher  PublisherConfig  `yaml:"publisher" envPrefix:"PUBLISHER_"`
	Translator TranslatorConfig `yaml:"translator" envPrefix:"TRANSLATOR_"`
	API        APIConfig        `yaml:"api" envPrefix:"API_"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"FORMAT"` // console or json
}

type StoreConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"` // memory, file, sqlite, postgres
	Path   string `yaml:"path" env:"PATH"`
	URL    string `yaml:"url" env:"URL"`
}

// RedisConfig enables the idempotency seen-cache when URL is set.
type RedisConfig struct {
	URL     string        `yaml:"url" env:"URL"`
	SeenTTL time.Duration `yaml:"seen_ttl" env:"SEEN_TTL"`
}

type OwnershipConfig struct {
	TTL           time.Duration `yaml:"ttl" env:"TTL"`
	MaxEntries    int           `yaml:"max_entries" env:"MAX_ENTRIES"`
	SweepEvery    int           `yaml:"sweep_every" env:"SWEEP_EVERY"`
	EvictFraction float64       `yaml:"evict_fraction" env:"EVICT_FRACTION"`
	// FailOpen authorizes replies to threads whose signal has no recorded sender.
	FailOpen      bool          `yaml:"fail_open" env:"FAIL_OPEN"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	SweepSchedule string        `yaml:"sweep_schedule" env:"SWEEP_SCHEDULE"` // cron, optional
}

type RouterConfig struct {
	Markers []string `yaml:"markers" env:"MARKERS" envSeparator:","`
}

type SupervisorConfig struct {
	GracePeriod time.Duration `yaml:"grace_period" env:"GRACE_PERIOD"`
}

type IntakeConfig struct {
	QueueSize    int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	RecoverAfter time.Duration `yaml:"recover_after" env:"RECOVER_AFTER"` // records older than this are "interrupted" on startup
}

// TelegramConfig configures the Telegram source and, when selected, publisher.
type TelegramConfig struct {
	Token       string  `yaml:"token" env:"TOKEN"`
	APIServer   string  `yaml:"api_server" env:"API_SERVER"`
	SourceChats []int64 `yaml:"source_chats" env:"SOURCE_CHATS" envSeparator:","` // empty accepts every chat
	DestChatID  int64   `yaml:"dest_chat_id" env:"DEST_CHAT_ID"`
}

type SlackConfig struct {
	Token     string `yaml:"token" env:"TOKEN"`
	ChannelID string `yaml:"channel_id" env:"CHANNEL_ID"`
}

type DiscordConfig struct {
	Token     string `yaml:"token" env:"TOKEN"`
	ChannelID string `yaml:"channel_id" env:"CHANNEL_ID"`
}

// PublisherConfig selects the destination channel.
type PublisherConfig struct {
	Type        string `yaml:"type" env:"TYPE"` // telegram, slack, discord, console
	Template    string `yaml:"template" env:"TEMPLATE"`
	TemplateDir string `yaml:"template_dir" env:"TEMPLATE_DIR"`
}

type TranslatorConfig struct {
	Provider       string        `yaml:"provider" env:"PROVIDER"` // none, openai, moonshot, anthropic
	APIKey         string        `yaml:"api_key" env:"API_KEY"`
	APIBase        string        `yaml:"api_base" env:"API_BASE"`
	Model          string        `yaml:"model" env:"MODEL"`
	TargetLanguage string        `yaml:"target_language" env:"TARGET_LANGUAGE"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type APIConfig struct {
	Enabled     bool     `yaml:"enabled" env:"ENABLED"`
	Addr        string   `yaml:"addr" env:"ADDR"`
	Token       string   `yaml:"token" env:"TOKEN"`
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
}

// Defaults returns a configuration that runs locally with no credentials:
// SQLite store, console publisher, passthrough translation.
func Defaults() *Config {
	return &Config{
		Log:   LogConfig{Level: "info", Format: "console"},
		Store: StoreConfig{Driver: "sqlite", Path: "./data/relay.db"},
		Redis: RedisConfig{SeenTTL: 24 * time.Hour},
		Ownership: OwnershipConfig{
			TTL:           6 * time.Hour,
			MaxEntries:    10000,
			SweepEvery:    100,
			EvictFraction: 0.2,
			FailOpen:      true,
			SweepInterval: time.Minute,
		},
		Router:     RouterConfig{Markers: []string{"#signal"}},
		Supervisor: SupervisorConfig{GracePeriod: 30 * time.Second},
		Intake:     IntakeConfig{QueueSize: 256, RecoverAfter: 10 * time.Minute},
		Publisher:  PublisherConfig{Type: "console", Template: "plain"},
		Translator: TranslatorConfig{Provider: "none", TargetLanguage: "English", Timeout: 20 * time.Second},
		API:        APIConfig{Enabled: true, Addr: ":8080"},
	}
}

// Load builds the configuration. path may be empty to skip the YAML file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Load .env file if it exists (for development)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseEnv overlays RELAY_* environment variables onto target.
func ParseEnv(target *Config) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Store.Driver) {
	case "memory", "file", "json", "sqlite", "sqlite3":
	case "postgres", "postgresql":
		if c.Store.URL == "" {
			errs = append(errs, errors.New("store.url is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	if c.Ownership.TTL <= 0 {
		errs = append(errs, errors.New("ownership.ttl must be positive"))
	}
	if c.Ownership.MaxEntries <= 0 {
		errs = append(errs, errors.New("ownership.max_entries must be positive"))
	}
	if c.Ownership.EvictFraction <= 0 || c.Ownership.EvictFraction > 1 {
		errs = append(errs, errors.New("ownership.evict_fraction must be in (0, 1]"))
	}
	if len(c.Router.Markers) == 0 {
		errs = append(errs, errors.New("router.markers must not be empty"))
	}

	switch strings.ToLower(c.Publisher.Type) {
	case "console":
	case "telegram":
		if c.Telegram.Token == "" || c.Telegram.DestChatID == 0 {
			errs = append(errs, errors.New("telegram publisher needs telegram.token and telegram.dest_chat_id"))
		}
	case "slack":
		if c.Slack.Token == "" || c.Slack.ChannelID == "" {
			errs = append(errs, errors.New("slack publisher needs slack.token and slack.channel_id"))
		}
	case "discord":
		if c.Discord.Token == "" || c.Discord.ChannelID == "" {
			errs = append(errs, errors.New("discord publisher needs discord.token and discord.channel_id"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown publisher.type %q", c.Publisher.Type))
	}

	switch strings.ToLower(c.Translator.Provider) {
	case "", "none", "passthrough":
	case "openai", "moonshot", "anthropic", "claude":
		if c.Translator.APIKey == "" {
			errs = append(errs, fmt.Errorf("translator %s needs translator.api_key", c.Translator.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown translator.provider %q", c.Translator.Provider))
	}

	if c.API.Enabled && c.API.Addr == "" {
		errs = append(errs, errors.New("api.addr is required when the API is enabled"))
	}

	return errors.Join(errs...)
}

// TelegramSourceEnabled reports whether the Telegram long-polling source should run.
func (c *Config) TelegramSourceEnabled() bool {
	return c.Telegram.Token != ""
}
