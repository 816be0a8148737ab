package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	DefaultDatabaseURL = "daily_tasks.db"
	DefaultKVPath      = "daily_tasks_kv.db"
	DefaultHTTPAddr    = ":8080"
)

// Config keeps runtime settings for the application.
type Config struct {
	TelegramToken  string
	TelegramChatID int64

	DatabaseURL   string
	StorageDriver string
	KVPath        string

	NotifyBackend    string
	NotifySink       string
	NotifyRatePerSec int

	ResyncInterval time.Duration
	ResyncAt       string

	HTTPAddr string

	LogLevel  string
	LogFormat string
}

type fileConfig struct {
	Telegram struct {
		Token  string `toml:"token"`
		ChatID int64  `toml:"chat_id"`
	} `toml:"telegram"`
	Storage struct {
		DatabaseURL string `toml:"database_url"`
		Driver      string `toml:"driver"`
		KVPath      string `toml:"kv_path"`
	} `toml:"storage"`
	Notify struct {
		Backend    string `toml:"backend"`
		Sink       string `toml:"sink"`
		RatePerSec int    `toml:"rate_per_sec"`
	} `toml:"notify"`
	Scheduler struct {
		ResyncIntervalHours *int   `toml:"resync_interval_hours"`
		ResyncAt            string `toml:"resync_at"`
	} `toml:"scheduler"`
	HTTP struct {
		Addr *string `toml:"addr"`
	} `toml:"http"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
}

// Load reads configuration from an optional TOML file (CONFIG_FILE) and then
// from environment variables, which take precedence.
func Load() (Config, error) {
	cfg := defaultConfig()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return cfg, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.validate()
}

func defaultConfig() Config {
	return Config{
		DatabaseURL:      DefaultDatabaseURL,
		StorageDriver:    "gorm",
		KVPath:           DefaultKVPath,
		NotifyBackend:    "cron",
		NotifySink:       "log",
		NotifyRatePerSec: 1,
		ResyncInterval:   6 * time.Hour,
		HTTPAddr:         DefaultHTTPAddr,
		LogLevel:         "info",
		LogFormat:        "console",
	}
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}

	setString(&cfg.TelegramToken, fc.Telegram.Token)
	if fc.Telegram.ChatID != 0 {
		cfg.TelegramChatID = fc.Telegram.ChatID
	}
	setString(&cfg.DatabaseURL, fc.Storage.DatabaseURL)
	setString(&cfg.StorageDriver, fc.Storage.Driver)
	setString(&cfg.KVPath, fc.Storage.KVPath)
	setString(&cfg.NotifyBackend, fc.Notify.Backend)
	setString(&cfg.NotifySink, fc.Notify.Sink)
	if fc.Notify.RatePerSec > 0 {
		cfg.NotifyRatePerSec = fc.Notify.RatePerSec
	}
	if fc.Scheduler.ResyncIntervalHours != nil {
		cfg.ResyncInterval = time.Duration(*fc.Scheduler.ResyncIntervalHours) * time.Hour
	}
	setString(&cfg.ResyncAt, fc.Scheduler.ResyncAt)
	if fc.HTTP.Addr != nil {
		cfg.HTTPAddr = strings.TrimSpace(*fc.HTTP.Addr)
	}
	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.LogFormat, fc.Log.Format)
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.TelegramToken, os.Getenv("TELEGRAM_TOKEN"))
	if raw := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}
	setString(&cfg.DatabaseURL, os.Getenv("DATABASE_URL"))
	setString(&cfg.StorageDriver, os.Getenv("STORAGE_DRIVER"))
	setString(&cfg.KVPath, os.Getenv("KV_PATH"))
	setString(&cfg.NotifyBackend, os.Getenv("NOTIFY_BACKEND"))
	setString(&cfg.NotifySink, os.Getenv("NOTIFY_SINK"))
	if raw := strings.TrimSpace(os.Getenv("NOTIFY_RATE_PER_SEC")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return fmt.Errorf("NOTIFY_RATE_PER_SEC must be a positive integer, got %q", raw)
		}
		cfg.NotifyRatePerSec = n
	}
	if raw, ok := os.LookupEnv("RESYNC_INTERVAL_HOURS"); ok {
		cfg.ResyncInterval = parseInterval(strings.TrimSpace(raw))
	}
	setString(&cfg.ResyncAt, os.Getenv("RESYNC_AT"))
	if raw, ok := os.LookupEnv("HTTP_ADDR"); ok {
		cfg.HTTPAddr = strings.TrimSpace(raw)
	}
	setString(&cfg.LogLevel, os.Getenv("LOG_LEVEL"))
	setString(&cfg.LogFormat, os.Getenv("LOG_FORMAT"))
	return nil
}

func (c Config) validate() error {
	var errs []error
	switch c.StorageDriver {
	case "gorm", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.StorageDriver))
	}
	switch c.NotifyBackend {
	case "cron", "timer":
	default:
		errs = append(errs, fmt.Errorf("unknown notify backend %q", c.NotifyBackend))
	}
	switch c.NotifySink {
	case "log":
	case "telegram":
		if c.TelegramToken == "" || c.TelegramChatID == 0 {
			errs = append(errs, errors.New("telegram sink requires TELEGRAM_TOKEN and TELEGRAM_CHAT_ID"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notify sink %q", c.NotifySink))
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		errs = append(errs, errors.New("TELEGRAM_CHAT_ID is required when TELEGRAM_TOKEN is set"))
	}
	return errors.Join(errs...)
}

// BotEnabled reports whether the Telegram front end should start.
func (c Config) BotEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

func setString(dst *string, raw string) {
	if v := strings.TrimSpace(raw); v != "" {
		*dst = v
	}
}

func parseInterval(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	hours, err := time.ParseDuration(raw + "h")
	if err != nil || hours <= 0 {
		return 0
	}
	return hours
}
