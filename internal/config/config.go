// Package config содержит логику чтения конфигурации сервиса накоплений.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Config содержит параметры конфигурации сервиса накоплений.
type Config struct {
	RunAddress             string `env:"RUN_ADDRESS"`
	DatabaseURI            string `env:"DATABASE_URI"`
	DeliveryServiceAddress string `env:"DELIVERY_SERVICE_ADDRESS"`

	AuthSecret string `env:"AUTH_SECRET" envDefault:"dreamsaver-secret"`

	StripeSecretKey     string        `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	StripeAPIURL        string        `env:"STRIPE_API_URL"`
	AppID               string        `env:"APP_ID" envDefault:"dreamsaver"`
	Currency            string        `env:"CURRENCY" envDefault:"pkr"`
	CheckoutTTL         time.Duration `env:"CHECKOUT_TTL" envDefault:"30m"`
	PublicURL           string        `env:"PUBLIC_URL" envDefault:"http://localhost:3000"`

	RedisURL string `env:"REDIS_URL"`
	NATSURL  string `env:"NATS_URL"`

	DraftSweepInterval time.Duration   `env:"DRAFT_SWEEP_INTERVAL" envDefault:"1h"`
	NotifyInterval     time.Duration   `env:"NOTIFY_INTERVAL" envDefault:"5s"`
	RefundFeePercent   decimal.Decimal `env:"REFUND_FEE_PERCENT" envDefault:"10"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envDeliveryAddress := cfg.DeliveryServiceAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.DeliveryServiceAddress, "r", "", "delivery service address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envDeliveryAddress != "" {
		cfg.DeliveryServiceAddress = envDeliveryAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.RefundFeePercent.IsNegative() || cfg.RefundFeePercent.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("refund fee percent must be within [0, 100], got %s", cfg.RefundFeePercent)
	}

	return cfg, nil
}
