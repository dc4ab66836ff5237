// Package config loads the service configuration: defaults, then a YAML
// file with ${VAR} expansion, then a .env file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/bot"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/connectivity"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/horosafe"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/janitor"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/observability"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/webhook"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/whatsapp"
)

// EnvProduction turns on webhook signature verification.
const EnvProduction = "production"

// Config holds all restobot configuration.
type Config struct {
	Env        string `yaml:"env"`
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
	LogLevel   string `yaml:"log_level"`

	WhatsApp  WhatsAppConfig     `yaml:"whatsapp"`
	Staff     StaffConfig        `yaml:"staff"`
	AMQP      AMQPConfig         `yaml:"amqp"`
	Queue     QueueConfig        `yaml:"queue"`
	Bot       BotConfig          `yaml:"bot"`
	Pricing   map[string]float64 `yaml:"pricing"`
	Retention RetentionConfig    `yaml:"retention"`
	Schedules janitor.Schedules  `yaml:"schedules"`
	RateLimit RateLimitConfig    `yaml:"rate_limit"`
	Breaker   BreakerConfig      `yaml:"breaker"`
	Retry     RetryConfig        `yaml:"retry"`
}

// WhatsAppConfig identifies the business number and its secrets. The four
// credentials are required.
type WhatsAppConfig struct {
	PhoneNumberID string        `yaml:"phone_number_id"`
	AccessToken   string        `yaml:"access_token"`
	VerifyToken   string        `yaml:"verify_token"`
	AppSecret     string        `yaml:"app_secret"`
	APIVersion    string        `yaml:"api_version"`
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
}

// StaffConfig signs and bounds staff tokens.
type StaffConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// AMQPConfig selects the event broker. An empty URL keeps events in the
// SQLite journal.
type AMQPConfig struct {
	URL          string        `yaml:"url"`
	Exchange     string        `yaml:"exchange"`
	DialAttempts int           `yaml:"dial_attempts"`
	DialDelay    time.Duration `yaml:"dial_delay"`
}

// QueueConfig tunes the webhook queue and its worker.
type QueueConfig struct {
	Visibility   time.Duration `yaml:"visibility"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	Backoff      time.Duration `yaml:"backoff"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
	BatchSize    int           `yaml:"batch_size"`
	Concurrency  int           `yaml:"concurrency"`
}

// BotConfig holds the restaurant wording and the service window length.
type BotConfig struct {
	RestaurantName string        `yaml:"restaurant_name"`
	Currency       string        `yaml:"currency"`
	ServiceWindow  time.Duration `yaml:"service_window"`
}

// RetentionConfig is in days; 0 keeps rows forever.
type RetentionConfig struct {
	AuditDays      int `yaml:"audit_days"`
	EventDays      int `yaml:"event_days"`
	HeartbeatDays  int `yaml:"heartbeat_days"`
	DeadLetterDays int `yaml:"dead_letter_days"`
}

// RateLimitConfig is requests per minute and client IP; 0 disables.
type RateLimitConfig struct {
	Webhook int `yaml:"webhook"`
	API     int `yaml:"api"`
}

type BreakerConfig struct {
	Threshold    int           `yaml:"threshold"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

type RetryConfig struct {
	MaxRetries  int           `yaml:"max_retries"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// Default returns the configuration used for every field the file and the
// environment leave unset.
func Default() *Config {
	return &Config{
		Env:        "development",
		ListenAddr: ":8080",
		DBPath:     "restobot.db",
		LogLevel:   "info",
		WhatsApp: WhatsAppConfig{
			APIVersion: whatsapp.DefaultAPIVersion,
			BaseURL:    whatsapp.DefaultBaseURL,
			Timeout:    15 * time.Second,
		},
		Staff: StaffConfig{TokenTTL: 12 * time.Hour},
		AMQP: AMQPConfig{
			Exchange:     "restobot.events",
			DialAttempts: 5,
			DialDelay:    2 * time.Second,
		},
		Queue: QueueConfig{
			Visibility:   60 * time.Second,
			PollInterval: time.Second,
			MaxAttempts:  5,
			Backoff:      2 * time.Second,
			JobTimeout:   30 * time.Second,
			BatchSize:    10,
			Concurrency:  4,
		},
		Bot: BotConfig{
			RestaurantName: bot.DefaultCopy.RestaurantName,
			Currency:       bot.DefaultCopy.Currency,
			ServiceWindow:  webhook.DefaultServiceWindow,
		},
		Pricing: webhook.DefaultRates(),
		Retention: RetentionConfig{
			AuditDays:      90,
			EventDays:      30,
			HeartbeatDays:  7,
			DeadLetterDays: 14,
		},
		Schedules: janitor.DefaultSchedules,
		RateLimit: RateLimitConfig{Webhook: 600, API: 120},
		Breaker:   BreakerConfig{Threshold: 5, ResetTimeout: 30 * time.Second},
		Retry:     RetryConfig{MaxRetries: 2, BaseBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second},
	}
}

// Validate returns the first missing or invalid setting.
func (c *Config) Validate() error {
	required := []struct{ name, value string }{
		{"whatsapp.phone_number_id (WHATSAPP_PHONE_NUMBER_ID)", c.WhatsApp.PhoneNumberID},
		{"whatsapp.access_token (WHATSAPP_ACCESS_TOKEN)", c.WhatsApp.AccessToken},
		{"whatsapp.verify_token (WHATSAPP_VERIFY_TOKEN)", c.WhatsApp.VerifyToken},
		{"whatsapp.app_secret (WHATSAPP_APP_SECRET)", c.WhatsApp.AppSecret},
		{"db_path (DB_PATH)", c.DBPath},
		{"listen_addr (LISTEN_ADDR)", c.ListenAddr},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("config: %s is required", r.name)
		}
	}
	if err := horosafe.ValidateSecret([]byte(c.Staff.JWTSecret)); err != nil {
		return fmt.Errorf("config: staff.jwt_secret (STAFF_JWT_SECRET): %w", err)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Queue.BatchSize <= 0 || c.Queue.Concurrency <= 0 {
		return errors.New("config: queue.batch_size and queue.concurrency must be positive")
	}
	if c.Queue.Visibility <= 0 {
		return errors.New("config: queue.visibility must be positive")
	}
	// A job still running when its claim expires is handed to a second worker.
	if c.Queue.JobTimeout <= 0 || c.Queue.JobTimeout >= c.Queue.Visibility {
		return fmt.Errorf("config: queue.job_timeout (%s) must be positive and shorter than queue.visibility (%s)",
			c.Queue.JobTimeout, c.Queue.Visibility)
	}
	if c.Bot.ServiceWindow <= 0 {
		return errors.New("config: bot.service_window must be positive")
	}
	for category, rate := range c.Pricing {
		if rate < 0 {
			return fmt.Errorf("config: pricing.%s is negative", category)
		}
	}
	return nil
}

// Production reports whether the service runs with production checks.
func (c *Config) Production() bool { return c.Env == EnvProduction }

// ParseLevel maps debug, info, warn and error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("config: unknown log level %q", s)
}

func (c *Config) Level() slog.Level {
	lvl, _ := ParseLevel(c.LogLevel)
	return lvl
}

func (c *Config) ClientConfig() whatsapp.Config {
	return whatsapp.Config{
		PhoneNumberID: c.WhatsApp.PhoneNumberID,
		AccessToken:   c.WhatsApp.AccessToken,
		APIVersion:    c.WhatsApp.APIVersion,
		BaseURL:       c.WhatsApp.BaseURL,
	}
}

func (c *Config) HandlerConfig() webhook.HandlerConfig {
	return webhook.HandlerConfig{
		VerifyToken:      c.WhatsApp.VerifyToken,
		AppSecret:        c.WhatsApp.AppSecret,
		VerifySignatures: c.Production(),
	}
}

func (c *Config) Copy() bot.Copy {
	return bot.Copy{RestaurantName: c.Bot.RestaurantName, Currency: c.Bot.Currency}
}

func (c *Config) Rates() webhook.Rates { return webhook.Rates(c.Pricing) }

func (c *Config) RetryPolicy() connectivity.RetryPolicy {
	return connectivity.RetryPolicy{
		MaxRetries:  c.Retry.MaxRetries,
		BaseBackoff: c.Retry.BaseBackoff,
		MaxBackoff:  c.Retry.MaxBackoff,
	}
}

func (c *Config) RetentionPolicy() observability.RetentionConfig {
	return observability.RetentionConfig{
		AuditDays:      c.Retention.AuditDays,
		EventDays:      c.Retention.EventDays,
		HeartbeatsDays: c.Retention.HeartbeatDays,
	}
}

// DeadLetterKeep is how long dead letters are kept before pruning.
func (c *Config) DeadLetterKeep() time.Duration {
	return time.Duration(c.Retention.DeadLetterDays) * 24 * time.Hour
}
