package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config models stayops.yml. Environment variables prefixed STAYOPS_ fill
// defaults before the file is decoded over them.
type Config struct {
	Addr         string        `yaml:"addr"`
	DatabasePath string        `yaml:"database_path"`
	Timezone     string        `yaml:"timezone"`
	CronSecret   string        `yaml:"cron_secret"`
	JWTSecret    string        `yaml:"jwt_secret"`
	APITimeout   time.Duration `yaml:"timeout"`
	Log          LogConfig     `yaml:"log"`
	Reminders    struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"reminders"`
	Notify NotifyConfig `yaml:"notify"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Env   string `yaml:"env"`
}

type NotifyConfig struct {
	Concurrency int           `yaml:"concurrency"`
	SMTP        SMTPConfig    `yaml:"smtp"`
	Webhook     WebhookConfig `yaml:"webhook"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

func (c SMTPConfig) Enabled() bool { return c.Host != "" }

type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
}

func (c WebhookConfig) Enabled() bool { return c.URL != "" }

const (
	DefaultReminderInterval = 7 * 24 * time.Hour
	DefaultConcurrency      = 4
)

// Default returns the configuration used when no file or env is present.
func Default() *Config {
	cfg := &Config{
		Addr:         "127.0.0.1:8080",
		DatabasePath: "",
		Timezone:     "UTC",
		APITimeout:   30 * time.Second,
		Log:          LogConfig{Level: "info", Env: "development"},
	}
	cfg.Reminders.Interval = DefaultReminderInterval
	cfg.Notify.Concurrency = DefaultConcurrency
	cfg.Notify.SMTP.Port = 587
	cfg.Notify.Webhook.Timeout = 5 * time.Second
	return cfg
}

// Load reads .env (optional), applies STAYOPS_* environment variables, then
// decodes the YAML file at path when path is non-empty.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := Default()
	cfg.applyEnv()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config yaml: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromYAML parses and validates config from raw YAML bytes over the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Addr = getEnv("STAYOPS_ADDR", c.Addr)
	c.DatabasePath = getEnv("STAYOPS_DATABASE_PATH", c.DatabasePath)
	c.Timezone = getEnv("STAYOPS_TIMEZONE", c.Timezone)
	c.CronSecret = getEnv("STAYOPS_CRON_SECRET", c.CronSecret)
	c.JWTSecret = getEnv("STAYOPS_JWT_SECRET", c.JWTSecret)
	c.Log.Level = getEnv("STAYOPS_LOG_LEVEL", c.Log.Level)
	c.Log.Env = getEnv("STAYOPS_LOG_ENV", c.Log.Env)
	c.Reminders.Interval = getEnvAsDuration("STAYOPS_REMINDER_INTERVAL", c.Reminders.Interval)
	c.Notify.Concurrency = getEnvAsInt("STAYOPS_NOTIFY_CONCURRENCY", c.Notify.Concurrency)
	c.Notify.SMTP.Host = getEnv("STAYOPS_SMTP_HOST", c.Notify.SMTP.Host)
	c.Notify.SMTP.Port = getEnvAsInt("STAYOPS_SMTP_PORT", c.Notify.SMTP.Port)
	c.Notify.SMTP.Username = getEnv("STAYOPS_SMTP_USERNAME", c.Notify.SMTP.Username)
	c.Notify.SMTP.Password = getEnv("STAYOPS_SMTP_PASSWORD", c.Notify.SMTP.Password)
	c.Notify.SMTP.From = getEnv("STAYOPS_SMTP_FROM", c.Notify.SMTP.From)
	c.Notify.Webhook.URL = getEnv("STAYOPS_WEBHOOK_URL", c.Notify.Webhook.URL)
	c.Notify.Webhook.Secret = getEnv("STAYOPS_WEBHOOK_SECRET", c.Notify.Webhook.Secret)
}

// Validate checks values that would otherwise fail deep inside a sweep.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config.timezone %q: %w", c.Timezone, err)
	}
	if c.Reminders.Interval <= 0 {
		return fmt.Errorf("config.reminders.interval must be positive")
	}
	if c.Notify.Concurrency <= 0 {
		return fmt.Errorf("config.notify.concurrency must be positive")
	}
	if c.Notify.SMTP.Enabled() && c.Notify.SMTP.From == "" {
		return fmt.Errorf("config.notify.smtp.from is required when smtp.host is set")
	}
	return nil
}

// ValidateServe adds the checks required to expose the HTTP endpoints.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.CronSecret == "" {
		return fmt.Errorf("config.cron_secret (STAYOPS_CRON_SECRET) is required to serve")
	}
	return nil
}

// Location returns the operating time zone used for calendar dates.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
