// Package config provides YAML-based configuration loading for inspectyard.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level inspectyard configuration, loaded from
// inspectyard.yaml (or inspectyard.toml).
type Config struct {
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Notify    NotifyConfig    `yaml:"notify" toml:"notify"`
	Schedule  ScheduleConfig  `yaml:"schedule" toml:"schedule"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	Agents    []AgentConfig   `yaml:"agents" toml:"agents"`
}

// DatabaseConfig selects the SQL backend. DSN wins over the discrete fields.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" toml:"driver"`
	DSN      string `yaml:"dsn" toml:"dsn"`
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Name     string `yaml:"name" toml:"name"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port      int    `yaml:"port" toml:"port"`
	PublicURL string `yaml:"public_url" toml:"public_url"`
}

// NotifyConfig selects the outbound messaging backend.
type NotifyConfig struct {
	Backend string        `yaml:"backend" toml:"backend"`
	Twilio  TwilioConfig  `yaml:"twilio" toml:"twilio"`
	Slack   SlackConfig   `yaml:"slack" toml:"slack"`
	Discord DiscordConfig `yaml:"discord" toml:"discord"`
}

// TwilioConfig holds WhatsApp sender settings. Credentials normally come
// from TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid" toml:"account_sid"`
	AuthToken  string `yaml:"auth_token" toml:"auth_token"`
	From       string `yaml:"from" toml:"from"`
}

// SlackConfig holds Slack bot settings.
type SlackConfig struct {
	BotToken string `yaml:"bot_token" toml:"bot_token"`
	AppToken string `yaml:"app_token" toml:"app_token"`
}

// DiscordConfig holds Discord bot settings.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token" toml:"bot_token"`
}

// ScheduleConfig controls timer offsets and recurring notifications.
type ScheduleConfig struct {
	ReminderOffset  Duration `yaml:"reminder_offset" toml:"reminder_offset"`
	FollowUpAfter   Duration `yaml:"follow_up_after" toml:"follow_up_after"`
	StatusInterval  Duration `yaml:"status_interval" toml:"status_interval"`
	DailyReport     string   `yaml:"daily_report" toml:"daily_report"`
	Timezone        string   `yaml:"timezone" toml:"timezone"`
	FireConcurrency int      `yaml:"fire_concurrency" toml:"fire_concurrency"`
}

// TelemetryConfig configures the OTLP exporter. Empty endpoint disables it.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure" toml:"insecure"`
}

// AgentConfig seeds an agent into the roster.
type AgentConfig struct {
	Address         string   `yaml:"phone" toml:"phone"`
	Name            string   `yaml:"name" toml:"name"`
	Email           string   `yaml:"email" toml:"email"`
	Zone            string   `yaml:"zone" toml:"zone"`
	Specializations []string `yaml:"specializations" toml:"specializations"`
	ExperienceYears int      `yaml:"experience_years" toml:"experience_years"`
	Rating          float64  `yaml:"rating" toml:"rating"`
}

// Duration is a time.Duration that unmarshals from strings like "90s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// UnmarshalText implements encoding.TextUnmarshaler, which go-toml uses.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Load reads a YAML or TOML config file from path and returns a validated
// Config. The format is chosen by file extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTOML(data)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return finish(&cfg)
}

// ParseTOML unmarshals TOML bytes into a validated Config.
func ParseTOML(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse toml: %w", err)
	}
	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv loads KEY=value pairs from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load env %s: %w", p, err)
		}
	}
	return nil
}

// applyEnv fills secrets from the environment when the file leaves them empty.
func (c *Config) applyEnv() {
	setFromEnv(&c.Notify.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	setFromEnv(&c.Notify.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	setFromEnv(&c.Notify.Twilio.From, "TWILIO_WHATSAPP_NUMBER")
	setFromEnv(&c.Notify.Slack.BotToken, "SLACK_BOT_TOKEN")
	setFromEnv(&c.Notify.Slack.AppToken, "SLACK_APP_TOKEN")
	setFromEnv(&c.Notify.Discord.BotToken, "DISCORD_BOT_TOKEN")
	setFromEnv(&c.Database.Password, "INSPECTYARD_DB_PASSWORD")
	setFromEnv(&c.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func setFromEnv(dst *string, key string) {
	if *dst != "" {
		return
	}
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.DSN == "" {
			c.Database.DSN = "inspectyard.db"
		}
	case "mysql":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	case "postgres":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
		if c.Database.User == "" {
			c.Database.User = "postgres"
		}
	}
	if c.Database.Name == "" {
		c.Database.Name = "inspectyard"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Notify.Backend == "" {
		c.Notify.Backend = "log"
	}
	if c.Schedule.ReminderOffset.Duration == 0 {
		c.Schedule.ReminderOffset.Duration = time.Minute
	}
	if c.Schedule.FollowUpAfter.Duration == 0 {
		c.Schedule.FollowUpAfter.Duration = 48 * time.Hour
	}
	if c.Schedule.StatusInterval.Duration == 0 {
		c.Schedule.StatusInterval.Duration = 24 * time.Hour
	}
	if c.Schedule.DailyReport == "" {
		c.Schedule.DailyReport = "0 18 * * *"
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "UTC"
	}
	if c.Schedule.FireConcurrency == 0 {
		c.Schedule.FireConcurrency = 4
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of sqlite, mysql, postgres", c.Database.Driver))
	}
	switch c.Notify.Backend {
	case "log":
	case "twilio":
		if c.Notify.Twilio.AccountSID == "" || c.Notify.Twilio.AuthToken == "" {
			errs = append(errs, "notify.twilio requires account_sid and auth_token")
		}
		if c.Notify.Twilio.From == "" {
			errs = append(errs, "notify.twilio.from is required")
		}
	case "slack":
		if c.Notify.Slack.BotToken == "" {
			errs = append(errs, "notify.slack.bot_token is required")
		}
	case "discord":
		if c.Notify.Discord.BotToken == "" {
			errs = append(errs, "notify.discord.bot_token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("notify.backend %q is not one of log, twilio, slack, discord", c.Notify.Backend))
	}
	if c.Schedule.ReminderOffset.Duration < 0 {
		errs = append(errs, "schedule.reminder_offset must not be negative")
	}
	if c.Schedule.StatusInterval.Duration < 0 {
		errs = append(errs, "schedule.status_interval must not be negative")
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("schedule.timezone %q: %v", c.Schedule.Timezone, err))
	}
	seen := make(map[string]bool)
	for i, a := range c.Agents {
		if a.Address == "" {
			errs = append(errs, fmt.Sprintf("agents[%d].phone is required", i))
			continue
		}
		if seen[a.Address] {
			errs = append(errs, fmt.Sprintf("agents[%d].phone %q is duplicated", i, a.Address))
		}
		seen[a.Address] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Location returns the configured schedule timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
