// Package config loads the formbot configuration: the reusable core sections plus
// the bot's own database, weather, redis, broadcast and secrets sections.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/formbot/core/config"
	coredatabase "github.com/m3rciful/formbot/core/database"
	"github.com/m3rciful/formbot/core/scheduler"
	"github.com/m3rciful/formbot/core/secrets"
)

const (
	DefaultWeatherURL       = "https://api.openweathermap.org/data/2.5/weather"
	DefaultBroadcastMessage = "Daily reminder: have a great day!"
)

// WeatherConfig points at an OpenWeatherMap compatible endpoint.
type WeatherConfig struct {
	BaseURL  string        `yaml:"base_url" envconfig:"WEATHER_BASE_URL"`
	APIKey   string        `yaml:"api_key" envconfig:"WEATHER_API_KEY"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"WEATHER_TIMEOUT"`
	CacheTTL time.Duration `yaml:"cache_ttl" envconfig:"WEATHER_CACHE_TTL"`
}

// RedisConfig enables the weather cache when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string        `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" envconfig:"REDIS_DB"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"REDIS_TIMEOUT"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Addr) != "" }

// BroadcastConfig schedules the daily notification.
type BroadcastConfig struct {
	Enabled       bool          `yaml:"enabled" envconfig:"BROADCAST_ENABLED"`
	Time          string        `yaml:"time" envconfig:"BROADCAST_TIME"`
	Timezone      string        `yaml:"timezone" envconfig:"BROADCAST_TIMEZONE"`
	Message       string        `yaml:"message" envconfig:"BROADCAST_MESSAGE"`
	RatePerSecond float64       `yaml:"rate_per_second" envconfig:"BROADCAST_RATE_PER_SECOND"`
	CheckInterval time.Duration `yaml:"check_interval" envconfig:"BROADCAST_CHECK_INTERVAL"`
	Grace         time.Duration `yaml:"grace" envconfig:"BROADCAST_GRACE"`

	// Filled by Normalize.
	Hour     int            `yaml:"-" ignored:"true"`
	Minute   int            `yaml:"-" ignored:"true"`
	Location *time.Location `yaml:"-" ignored:"true"`
}

// SecretsConfig resolves empty secret fields from SSM Parameter Store.
type SecretsConfig struct {
	Enabled bool          `yaml:"enabled" envconfig:"SECRETS_ENABLED"`
	Region  string        `yaml:"region" envconfig:"AWS_REGION"`
	Prefix  string        `yaml:"prefix" envconfig:"SECRETS_PREFIX"`
	Timeout time.Duration `yaml:"timeout" envconfig:"SECRETS_TIMEOUT"`
}

// Config is the full bot configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database  coredatabase.Config `yaml:"database"`
	Weather   WeatherConfig       `yaml:"weather"`
	Redis     RedisConfig         `yaml:"redis"`
	Broadcast BroadcastConfig     `yaml:"broadcast"`
	Secrets   SecretsConfig       `yaml:"secrets"`
}

// CoreConfig exposes the embedded core configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// test seam
var newSecretsGetter = func(ctx context.Context, region string) (secrets.Getter, error) {
	return secrets.NewFromEnv(ctx, region)
}

// Load reads path, overlays .env and the environment, resolves secrets and validates.
func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := resolveSecrets(ctx, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolveSecrets(ctx context.Context, cfg *Config) error {
	if !cfg.Secrets.Enabled {
		return nil
	}
	g, err := newSecretsGetter(ctx, cfg.Secrets.Region)
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	prefix := cfg.Secrets.Prefix
	if prefix == "" {
		prefix = "/formbot/"
	}
	err = secrets.Resolve(ctx, g, prefix, cfg.Secrets.Timeout,
		secrets.Target{Name: "bot_token", Dest: &cfg.Telegram.Token},
		secrets.Target{Name: "webhook_secret_token", Dest: &cfg.Webhook.SecretToken},
		secrets.Target{Name: "db_password", Dest: &cfg.Database.Password},
		secrets.Target{Name: "weather_api_key", Dest: &cfg.Weather.APIKey},
		secrets.Target{Name: "redis_password", Dest: &cfg.Redis.Password},
	)
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	return nil
}

// Normalize validates cfg and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return err
	}
	if err := cfg.Database.Normalize(); err != nil {
		return err
	}

	w := &cfg.Weather
	w.BaseURL = strings.TrimSpace(w.BaseURL)
	if w.BaseURL == "" {
		w.BaseURL = DefaultWeatherURL
	}
	w.APIKey = strings.TrimSpace(w.APIKey)
	if w.Timeout <= 0 {
		w.Timeout = 5 * time.Second
	}
	if w.CacheTTL <= 0 {
		w.CacheTTL = 10 * time.Minute
	}

	if cfg.Redis.Timeout <= 0 {
		cfg.Redis.Timeout = 2 * time.Second
	}
	if cfg.Redis.DB < 0 {
		return fmt.Errorf("redis.db must be >= 0")
	}

	if cfg.Secrets.Timeout <= 0 {
		cfg.Secrets.Timeout = 5 * time.Second
	}

	return normalizeBroadcast(&cfg.Broadcast)
}

func normalizeBroadcast(b *BroadcastConfig) error {
	if strings.TrimSpace(b.Message) == "" {
		b.Message = DefaultBroadcastMessage
	}
	if b.RatePerSecond <= 0 {
		b.RatePerSecond = 20
	}
	if b.CheckInterval <= 0 {
		b.CheckInterval = time.Second
	}
	if b.Grace <= 0 {
		b.Grace = time.Minute
	}
	b.Location = time.Local
	if tz := strings.TrimSpace(b.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("broadcast.timezone %q: %w", b.Timezone, err)
		}
		b.Location = loc
	}
	if !b.Enabled {
		return nil
	}
	if strings.TrimSpace(b.Time) == "" {
		return fmt.Errorf("broadcast.time is required when broadcast is enabled")
	}
	h, m, err := scheduler.ParseClock(b.Time)
	if err != nil {
		return fmt.Errorf("broadcast.time: %w", err)
	}
	b.Hour, b.Minute = h, m
	return nil
}
