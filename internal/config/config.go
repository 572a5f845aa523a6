// Package config loads the service configuration from a YAML file and
// environment variables, with environment taking precedence.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"respira-triage/internal/triage"
)

type HTTP struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type Database struct {
	URL           string `mapstructure:"url"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

type Telegram struct {
	Token        string `mapstructure:"token"`
	DoctorChatID int64  `mapstructure:"doctor_chat_id"`
}

type OpenAI struct {
	APIKey      string        `mapstructure:"api_key"`
	ChatModel   string        `mapstructure:"chat_model"`
	VisionModel string        `mapstructure:"vision_model"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type Storage struct {
	Bucket       string        `mapstructure:"bucket"`
	SignedURLTTL time.Duration `mapstructure:"signed_url_ttl"`
}

type Triage struct {
	Alpha                float64       `mapstructure:"alpha"`
	Thresholds           string        `mapstructure:"thresholds"`
	ImageRequestCooldown time.Duration `mapstructure:"image_request_cooldown"`
	DefaultCountryCode   string        `mapstructure:"default_country_code"`
	FollowUpDays         int           `mapstructure:"follow_up_days"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	HTTP     HTTP     `mapstructure:"http"`
	Database Database `mapstructure:"database"`
	Telegram Telegram `mapstructure:"telegram"`
	OpenAI   OpenAI   `mapstructure:"openai"`
	Storage  Storage  `mapstructure:"storage"`
	Triage   Triage   `mapstructure:"triage"`
	Log      Log      `mapstructure:"log"`
}

// Load reads configs/config.yml when present and overlays RESPIRA_* environment
// variables (RESPIRA_DATABASE_URL, RESPIRA_TELEGRAM_TOKEN, ...).
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http.port", "8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.migrations_dir", "migrations")
	v.SetDefault("openai.chat_model", "gpt-4o-mini")
	v.SetDefault("openai.vision_model", "gpt-4o-mini")
	v.SetDefault("openai.timeout", 20*time.Second)
	v.SetDefault("storage.signed_url_ttl", 15*time.Minute)
	v.SetDefault("triage.alpha", triage.DefaultAlpha)
	v.SetDefault("triage.thresholds", "0.4|0.7")
	v.SetDefault("triage.image_request_cooldown", triage.DefaultImageRequestCooldown)
	v.SetDefault("triage.default_country_code", "+62")
	v.SetDefault("triage.follow_up_days", 7)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("RESPIRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secret-bearing keys have no default and may be absent from the config
	// file; bind them explicitly so Unmarshal sees the env values.
	for _, key := range []string{"database.url", "telegram.token", "openai.api_key", "storage.bucket"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database.url is required")
	}
	return &cfg, nil
}

// SeverityThresholds parses the "low|high" threshold pair, falling back to
// the defaults when the value is malformed or non-ascending.
func (c *Config) SeverityThresholds() [2]float64 {
	parts := strings.Split(c.Triage.Thresholds, "|")
	if len(parts) != 2 {
		return triage.DefaultThresholds
	}
	low, errLow := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	high, errHigh := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errLow != nil || errHigh != nil {
		return triage.DefaultThresholds
	}
	return triage.NormalizeThresholds([2]float64{low, high})
}

// Alpha returns the clamped image-weight blend factor.
func (c *Config) Alpha() float64 {
	return triage.ClampAlpha(c.Triage.Alpha)
}
