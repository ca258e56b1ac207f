package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`
	BaseURL     string `env:"BASE_URL,required" validate:"required,url"`

	GatewayURL string `env:"GATEWAY_URL" envDefault:"https://auth.robokassa.ru/Merchant/Index.aspx" validate:"required,url"`

	// Test-mode password overrides for the gateway sandbox. When the stored
	// settings row is in test mode these take precedence over the persisted
	// passwords.
	GatewayTestPassOne string `env:"ROBOKASSA_TEST_PASS_ONE"`
	GatewayTestPassTwo string `env:"ROBOKASSA_TEST_PASS_TWO"`

	ProviderBaseURL        string `env:"PROVIDER_BASE_URL" envDefault:"https://partners-api.airalo.com/v2" validate:"required,url"`
	ProviderTimeoutSeconds int    `env:"PROVIDER_TIMEOUT_SECONDS" envDefault:"60" validate:"min=1,max=300"`

	CacheProvider         string `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisConnectionString string `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis"`

	EncryptionKey string `env:"ENCRYPTION_KEY,required" validate:"required,len=32"`

	// Customer notifications are optional; without an API key orders are
	// still fulfilled, just silently.
	EmailProvider string `env:"EMAIL_PROVIDER" envDefault:"resend" validate:"omitempty,oneof=resend"`
	ResendAPIKey  string `env:"RESEND_API_KEY"`
	EmailFrom     string `env:"EMAIL_FROM" validate:"required_with=ResendAPIKey"`

	SentryDSN string `env:"SENTRY_DSN"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	Port      string     `env:"PORT" envDefault:"8080"`
}

var configValidator = validator.New()

func Load() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	baseURL := strings.TrimSpace(c.BaseURL)
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Hostname() == "" {
		return fmt.Errorf("BASE_URL must be a valid absolute URL")
	}
	if !isLocalHost(parsed.Hostname()) && !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("BASE_URL must use https outside local development")
	}

	return nil
}

func isLocalHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
