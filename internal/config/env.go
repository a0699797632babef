package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"ticketbackend/internal/domain/models"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"gopkg.in/yaml.v3"
)

const (
	GatewayStripe = "stripe"
	GatewayMock   = "mock"
)

type Config struct {
	AppAddr  string         `yaml:"app_addr"`
	GinMode  string         `yaml:"gin_mode"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	CORS     CORSConfig     `yaml:"cors"`
	Payments Payments       `yaml:"payments"`
	Booking  BookingConfig  `yaml:"booking"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Payments is handed to the payment service at construction time.
type Payments struct {
	Gateway             string        `yaml:"gateway"`
	StripeSecretKey     string        `yaml:"stripe_secret_key"`
	StripeWebhookSecret string        `yaml:"stripe_webhook_secret"`
	MockWebhookSecret   string        `yaml:"mock_webhook_secret"`
	MockCheckoutURL     string        `yaml:"mock_checkout_url"`
	Currency            string        `yaml:"currency"`
	PlatformFeePercent  string        `yaml:"platform_fee_percent"`
	GatewayFeePercent   string        `yaml:"gateway_fee_percent"`
	GatewayFeeFixed     string        `yaml:"gateway_fee_fixed"`
	ProcessingFeeFixed  string        `yaml:"processing_fee_fixed"`
	GatewayTimeout      time.Duration `yaml:"gateway_timeout"`
}

type BookingConfig struct {
	PlaceholderFare string `yaml:"placeholder_fare"`
	Timezone        string `yaml:"timezone"`
}

// Default returns a config that runs locally against SQLite and the mock gateway.
func Default() Config {
	return Config{
		AppAddr: ":8080",
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "ticketing.db",
		},
		Auth: AuthConfig{TokenTTL: 24 * time.Hour},
		CORS: CORSConfig{AllowedOrigins: []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		}},
		Payments: Payments{
			Gateway:            GatewayMock,
			MockWebhookSecret:  "whsec_mock",
			MockCheckoutURL:    "http://localhost:8080/mock-checkout",
			Currency:           "USD",
			PlatformFeePercent: "5",
			GatewayFeePercent:  "2.9",
			GatewayFeeFixed:    "0.30",
			ProcessingFeeFixed: "0",
			GatewayTimeout:     10 * time.Second,
		},
		Booking: BookingConfig{
			PlaceholderFare: "100.00",
			Timezone:        "UTC",
		},
	}
}

// Load reads .env (best effort), then the YAML file named by CONFIG_FILE or
// path, then environment overrides.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("APP_ADDR", &cfg.AppAddr)
	str("GIN_MODE", &cfg.GinMode)
	str("DB_DRIVER", &cfg.Database.Driver)
	str("DB_DSN", &cfg.Database.DSN)
	str("JWT_SECRET", &cfg.Auth.JWTSecret)
	str("PAYMENT_GATEWAY", &cfg.Payments.Gateway)
	str("STRIPE_SECRET_KEY", &cfg.Payments.StripeSecretKey)
	str("STRIPE_WEBHOOK_SECRET", &cfg.Payments.StripeWebhookSecret)
	str("MOCK_WEBHOOK_SECRET", &cfg.Payments.MockWebhookSecret)
	str("MOCK_CHECKOUT_URL", &cfg.Payments.MockCheckoutURL)
	str("PAYMENT_CURRENCY", &cfg.Payments.Currency)
	str("PLATFORM_FEE_PERCENT", &cfg.Payments.PlatformFeePercent)
	str("GATEWAY_FEE_PERCENT", &cfg.Payments.GatewayFeePercent)
	str("GATEWAY_FEE_FIXED", &cfg.Payments.GatewayFeeFixed)
	str("PROCESSING_FEE_FIXED", &cfg.Payments.ProcessingFeeFixed)
	str("PLACEHOLDER_FARE", &cfg.Booking.PlaceholderFare)
	str("BOOKING_TIMEZONE", &cfg.Booking.Timezone)

	if env := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); env != "" {
		cfg.CORS.AllowedOrigins = nil
		for _, o := range strings.Split(env, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORS.AllowedOrigins = append(cfg.CORS.AllowedOrigins, o)
			}
		}
	}

	if err := dur("GATEWAY_TIMEOUT", &cfg.Payments.GatewayTimeout); err != nil {
		return err
	}
	return dur("JWT_TTL", &cfg.Auth.TokenTTL)
}

// Validate reports every bad or missing value at once so a misconfigured
// deployment fails at startup.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Database.Driver {
	case "mysql", "sqlite3":
	default:
		add("database.driver must be mysql or sqlite3, got %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		add("database.dsn is required")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		add("JWT_SECRET is required")
	}
	if c.Auth.TokenTTL <= 0 {
		add("auth.token_ttl must be positive")
	}

	p := c.Payments
	switch p.Gateway {
	case GatewayStripe:
		if p.StripeSecretKey == "" {
			add("STRIPE_SECRET_KEY is required for the stripe gateway")
		}
		if p.StripeWebhookSecret == "" {
			add("STRIPE_WEBHOOK_SECRET is required for the stripe gateway")
		}
	case GatewayMock:
		if p.MockWebhookSecret == "" {
			add("MOCK_WEBHOOK_SECRET is required for the mock gateway")
		}
	default:
		add("PAYMENT_GATEWAY must be stripe or mock, got %q", p.Gateway)
	}
	if _, err := currency.ParseISO(p.Currency); err != nil {
		add("PAYMENT_CURRENCY %q is not an ISO 4217 code", p.Currency)
	}
	if _, err := p.FeeSchedule(); err != nil {
		add("%v", err)
	}
	if p.GatewayTimeout <= 0 {
		add("GATEWAY_TIMEOUT must be positive")
	}

	if fare, err := c.Booking.PlaceholderFareAmount(); err != nil || !fare.IsPositive() {
		add("PLACEHOLDER_FARE must be a positive decimal, got %q", c.Booking.PlaceholderFare)
	}
	if _, err := c.Booking.Location(); err != nil {
		add("BOOKING_TIMEZONE: %v", err)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// FeeSchedule parses the fee settings.
func (p Payments) FeeSchedule() (models.FeeSchedule, error) {
	parse := func(name, v string) (decimal.Decimal, error) {
		if strings.TrimSpace(v) == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, fmt.Errorf("%s: invalid decimal %q", name, v)
		}
		if d.IsNegative() {
			return decimal.Zero, fmt.Errorf("%s must not be negative", name)
		}
		return d, nil
	}

	var (
		fs  models.FeeSchedule
		err error
	)
	if fs.PlatformPercent, err = parse("PLATFORM_FEE_PERCENT", p.PlatformFeePercent); err != nil {
		return fs, err
	}
	if fs.GatewayPercent, err = parse("GATEWAY_FEE_PERCENT", p.GatewayFeePercent); err != nil {
		return fs, err
	}
	if fs.GatewayFixed, err = parse("GATEWAY_FEE_FIXED", p.GatewayFeeFixed); err != nil {
		return fs, err
	}
	if fs.ProcessingFixed, err = parse("PROCESSING_FEE_FIXED", p.ProcessingFeeFixed); err != nil {
		return fs, err
	}
	return fs, nil
}

func (b BookingConfig) PlaceholderFareAmount() (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(b.PlaceholderFare))
}

func (b BookingConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(b.Timezone) == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(b.Timezone)
}
