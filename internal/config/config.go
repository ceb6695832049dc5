// Package config provides YAML-based configuration loading for Pitchside.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported chat platforms.
const (
	PlatformDiscord = "discord"
	PlatformSlack   = "slack"
)

// Supported database drivers.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Config is the top-level Pitchside configuration, loaded from config.yaml.
type Config struct {
	Platform string         `yaml:"platform"`
	Discord  DiscordConfig  `yaml:"discord"`
	Slack    SlackConfig    `yaml:"slack"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Draft    DraftConfig    `yaml:"draft"`
	Sweep    SweepConfig    `yaml:"sweep"`
	API      APIConfig      `yaml:"api"`
	Log      LogConfig      `yaml:"log"`
}

// DiscordConfig holds bot credentials for the Discord gateway.
type DiscordConfig struct {
	Token   string `yaml:"token"`
	AppID   string `yaml:"app_id"`
	GuildID string `yaml:"guild_id"`
}

// SlackConfig holds tokens for the Slack socket-mode gateway.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token"`
	Command  string `yaml:"command"`
}

// DatabaseConfig selects and addresses the persistent store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Path     string `yaml:"path"`
}

// RedisConfig addresses the draft session store. An empty Addr keeps draft
// sessions in process memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DraftConfig tunes the captain draft.
type DraftConfig struct {
	IdleTimeoutSec int `yaml:"idle_timeout_sec"`
}

// IdleTimeout returns the draft idle timeout as a duration.
func (d DraftConfig) IdleTimeout() time.Duration {
	return time.Duration(d.IdleTimeoutSec) * time.Second
}

// SweepConfig schedules the background sweeper.
type SweepConfig struct {
	Cron            string `yaml:"cron"`
	ChallengeTTLMin int    `yaml:"challenge_ttl_min"`
}

// ChallengeTTL returns the maximum challenge age, or 0 when disabled.
func (s SweepConfig) ChallengeTTL() time.Duration {
	return time.Duration(s.ChallengeTTLMin) * time.Minute
}

// APIConfig configures the read-only status API.
type APIConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Environment variables that override secrets from the YAML file.
const (
	EnvDiscordToken  = "PITCHSIDE_DISCORD_TOKEN"
	EnvSlackBotToken = "PITCHSIDE_SLACK_BOT_TOKEN"
	EnvSlackAppToken = "PITCHSIDE_SLACK_APP_TOKEN"
	EnvDBPassword    = "PITCHSIDE_DB_PASSWORD"
)

// Load reads a YAML config file from path, applies environment overrides
// (including a .env file next to the working directory, if any) and returns
// a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	return parse(data, os.Getenv)
}

// Parse unmarshals YAML bytes into a validated Config without consulting
// the environment.
func Parse(data []byte) (*Config, error) {
	return parse(data, func(string) string { return "" })
}

func parse(data []byte, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(getenv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides secrets with non-empty environment values.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvDiscordToken); v != "" {
		c.Discord.Token = v
	}
	if v := getenv(EnvSlackBotToken); v != "" {
		c.Slack.BotToken = v
	}
	if v := getenv(EnvSlackAppToken); v != "" {
		c.Slack.AppToken = v
	}
	if v := getenv(EnvDBPassword); v != "" {
		c.Database.Password = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = PlatformDiscord
	}
	if c.Slack.Command == "" {
		c.Slack.Command = "/pitch"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverMySQL
	}
	if c.Database.Driver == DriverMySQL {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.Name == "" {
			c.Database.Name = "pitchside"
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		c.Database.Path = "pitchside.db"
	}
	if c.Draft.IdleTimeoutSec == 0 {
		c.Draft.IdleTimeoutSec = 138
	}
	if c.Sweep.Cron == "" {
		c.Sweep.Cron = "* * * * *"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Platform {
	case PlatformDiscord:
		if c.Discord.Token == "" {
			errs = append(errs, "discord.token is required")
		}
	case PlatformSlack:
		if c.Slack.BotToken == "" {
			errs = append(errs, "slack.bot_token is required")
		}
		if c.Slack.AppToken == "" {
			errs = append(errs, "slack.app_token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("platform %q is not supported (use discord or slack)", c.Platform))
	}
	switch c.Database.Driver {
	case DriverMySQL, DriverSQLite:
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (use mysql or sqlite)", c.Database.Driver))
	}
	if c.Draft.IdleTimeoutSec < 0 {
		errs = append(errs, "draft.idle_timeout_sec must not be negative")
	}
	if c.Sweep.ChallengeTTLMin < 0 {
		errs = append(errs, "sweep.challenge_ttl_min must not be negative")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not supported (use console or json)", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
