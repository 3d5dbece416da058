// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// checkout creation attempts allowed per user and window; needs redis
	CheckoutRateLimit  int           `yaml:"checkout_rate_limit"`
	CheckoutRateWindow time.Duration `yaml:"checkout_rate_window"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"` // empty disables locking and caching
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`      // course cache ttl
	LockTTL  time.Duration `yaml:"lock_ttl"` // checkout init lock ttl
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	Currency      string `yaml:"currency"`
	ClientURL     string `yaml:"client_url"` // base for success/cancel redirects
}

type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret"`
	CookieName string `yaml:"cookie_name"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"` // empty disables event publishing
	Topic   string   `yaml:"topic"`
	Workers int      `yaml:"workers"`
}

type SchedulerConfig struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Stripe    StripeConfig    `yaml:"stripe"`
	Auth      AuthConfig      `yaml:"auth"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, applies environment overrides for
// secrets and fills defaults.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse is LoadConfig without the file read.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)

	// defaults
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.CheckoutRateLimit <= 0 {
		cfg.Server.CheckoutRateLimit = 10
	}
	cfg.Server.CheckoutRateWindow = normalizeTTL(cfg.Server.CheckoutRateWindow, time.Minute)
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL, time.Hour)
	cfg.Redis.LockTTL = normalizeTTL(cfg.Redis.LockTTL, 30*time.Second)
	if cfg.Stripe.Currency == "" {
		cfg.Stripe.Currency = "inr"
	}
	cfg.Stripe.Currency = strings.ToLower(cfg.Stripe.Currency)
	cfg.Stripe.ClientURL = strings.TrimRight(cfg.Stripe.ClientURL, "/")
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = "accessToken"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "payment-events"
	}
	if cfg.Kafka.Workers <= 0 {
		cfg.Kafka.Workers = 2
	}
	cfg.Scheduler.ReconcileInterval = normalizeTTL(cfg.Scheduler.ReconcileInterval, 5*time.Minute)
	cfg.Scheduler.StaleAfter = normalizeTTL(cfg.Scheduler.StaleAfter, 30*time.Minute)

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Stripe.SecretKey == "" {
		return nil, errors.New("stripe.secret_key is required")
	}
	if cfg.Stripe.WebhookSecret == "" {
		return nil, errors.New("stripe.webhook_secret is required")
	}
	if cfg.Stripe.ClientURL == "" {
		return nil, errors.New("stripe.client_url is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := map[string]*string{
		"DATABASE_URL":          &cfg.Database.URL,
		"STRIPE_SECRET_KEY":     &cfg.Stripe.SecretKey,
		"STRIPE_WEBHOOK_SECRET": &cfg.Stripe.WebhookSecret,
		"JWT_SECRET":            &cfg.Auth.JWTSecret,
	}
	for env, dst := range overrides {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
}

func normalizeTTL(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
