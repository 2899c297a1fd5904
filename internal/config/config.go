// File: internal/config/config.go
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

type RuntimeConfig struct {
	Dev bool
}

type BotConfig struct {
	Token       string `yaml:"token"`
	Username    string `yaml:"username"`
	Workers     int    `yaml:"workers"`      // inbound event workers
	PollTimeout int    `yaml:"poll_timeout"` // long-poll timeout, seconds
	Noop        bool   `yaml:"noop"`         // log outbound calls instead of sending
}

// ChannelsConfig maps each plan to the channel it unlocks.
type ChannelsConfig struct {
	Daily   int64 `yaml:"daily"`
	Monthly int64 `yaml:"monthly"`
	Yearly  int64 `yaml:"yearly"`
}

type OperatorConfig struct {
	ChatID int64 `yaml:"chat_id"`
}

type TransportConfig struct {
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	RateLimit   float64       `yaml:"rate_limit"` // outbound requests per second
}

type SweeperConfig struct {
	Interval     time.Duration `yaml:"interval"`
	StartupDelay time.Duration `yaml:"startup_delay"`
	BatchSize    int           `yaml:"batch_size"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
}

type ReminderConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	WithinDays int           `yaml:"within_days"`
}

// CodeAttemptsConfig bounds how many codes one user may try per window.
type CodeAttemptsConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Config struct {
	Bot          BotConfig          `yaml:"bot"`
	Channels     ChannelsConfig     `yaml:"channels"`
	Operator     OperatorConfig     `yaml:"operator"`
	Transport    TransportConfig    `yaml:"transport"`
	Sweeper      SweeperConfig      `yaml:"sweeper"`
	Reminder     ReminderConfig     `yaml:"reminder"`
	CodeAttempts CodeAttemptsConfig `yaml:"code_attempts"`
	Log          LogConfig          `yaml:"log"`
	Admin        AdminConfig        `yaml:"admin"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, overlays secrets from .env and the
// environment, applies defaults and validates the result.
func LoadConfig(path string, dev bool) (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse builds a Config from raw YAML plus the process environment.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		cfg.Bot.Token = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ADMIN_JWT_SECRET"); v != "" {
		cfg.Admin.JWTSecret = v
	}
	if v := os.Getenv("OPERATOR_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("OPERATOR_CHAT_ID: %w", err)
		}
		cfg.Operator.ChatID = id
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Bot.Workers <= 0 {
		cfg.Bot.Workers = 8
	}
	if cfg.Bot.PollTimeout <= 0 {
		cfg.Bot.PollTimeout = 30
	}
	if cfg.Transport.MaxRetries <= 0 {
		cfg.Transport.MaxRetries = 5
	}
	if cfg.Transport.RetryDelay <= 0 {
		cfg.Transport.RetryDelay = 10 * time.Second
	}
	if cfg.Transport.CallTimeout <= 0 {
		cfg.Transport.CallTimeout = 15 * time.Second
	}
	if cfg.Transport.RateLimit <= 0 {
		cfg.Transport.RateLimit = 25
	}
	if cfg.Sweeper.Interval <= 0 {
		cfg.Sweeper.Interval = 5 * time.Minute
	}
	if cfg.Sweeper.StartupDelay <= 0 {
		cfg.Sweeper.StartupDelay = 10 * time.Second
	}
	if cfg.Sweeper.BatchSize <= 0 {
		cfg.Sweeper.BatchSize = 200
	}
	if cfg.Sweeper.LockTTL <= 0 {
		cfg.Sweeper.LockTTL = cfg.Sweeper.Interval
	}
	if cfg.Reminder.Interval <= 0 {
		cfg.Reminder.Interval = time.Hour
	}
	if cfg.Reminder.WithinDays <= 0 {
		cfg.Reminder.WithinDays = 1
	}
	if cfg.CodeAttempts.Limit <= 0 {
		cfg.CodeAttempts.Limit = 5
	}
	if cfg.CodeAttempts.Window <= 0 {
		cfg.CodeAttempts.Window = 10 * time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 8080
	}
}

func (c *Config) validate() error {
	if c.Bot.Token == "" && !c.Runtime.Dev && !c.Bot.Noop {
		return errors.New("bot.token is required")
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Channels.Daily == 0 || c.Channels.Monthly == 0 || c.Channels.Yearly == 0 {
		return errors.New("channels.daily, channels.monthly and channels.yearly are required")
	}
	return nil
}
