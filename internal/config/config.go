// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Store backends for ENTITLEMENT_STORE.
const (
	StoreSQLite   = "sqlite"
	StoreSupabase = "supabase"
)

// Config is the complete runtime configuration.
type Config struct {
	HTTPAddr   string   `env:"HTTP_ADDR" envDefault:":8080"`
	PublicURL  string   `env:"PUBLIC_URL"`
	TLSDomains []string `env:"TLS_DOMAINS" envSeparator:","`

	Log LogConfig

	DBPath           string `env:"DB_PATH" envDefault:"data/proservice.db"`
	EntitlementStore string `env:"ENTITLEMENT_STORE" envDefault:"sqlite"`

	Stripe   StripeConfig
	Plan     PlanConfig
	Supabase SupabaseConfig

	ReconcileSchedule string `env:"RECONCILE_SCHEDULE" envDefault:"@every 5m"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// StripeConfig holds the billing provider secrets. SecretKey and
// WebhookSecret are separate credentials and never substitute for each other.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	PriceID       string `env:"STRIPE_PRICE_ID"`
}

// PlanConfig describes the inline recurring price used when no PriceID is set.
// Amount is in the currency's smallest unit (yen have no minor unit).
type PlanConfig struct {
	Name        string `env:"PLAN_NAME" envDefault:"ProService Pro"`
	Description string `env:"PLAN_DESCRIPTION" envDefault:"Monthly plan with premium features and priority support"`
	Amount      int64  `env:"PLAN_AMOUNT" envDefault:"2980"`
	Currency    string `env:"PLAN_CURRENCY" envDefault:"jpy"`
	Interval    string `env:"PLAN_INTERVAL" envDefault:"month"`
}

type SupabaseConfig struct {
	URL            string `env:"SUPABASE_URL"`
	ServiceRoleKey string `env:"SUPABASE_SERVICE_ROLE_KEY"`
	JWTSecret      string `env:"SUPABASE_JWT_SECRET"`
	JWTIssuer      string `env:"SUPABASE_JWT_ISSUER"`
}

// Load reads an optional .env file, then the process environment. Variables
// already set in the environment win over the file.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: reading env file: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would make the process unusable. Missing
// billing secrets are not fatal here: the affected endpoints report them.
func (c *Config) Validate() error {
	switch c.EntitlementStore {
	case StoreSQLite:
	case StoreSupabase:
		if c.Supabase.URL == "" || c.Supabase.ServiceRoleKey == "" {
			return fmt.Errorf("config: ENTITLEMENT_STORE=supabase requires SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY")
		}
	default:
		return fmt.Errorf("config: unknown ENTITLEMENT_STORE %q", c.EntitlementStore)
	}

	if c.Stripe.PriceID == "" {
		if c.Plan.Amount <= 0 {
			return fmt.Errorf("config: PLAN_AMOUNT must be positive")
		}
		switch c.Plan.Interval {
		case "day", "week", "month", "year":
		default:
			return fmt.Errorf("config: PLAN_INTERVAL must be day, week, month or year, got %q", c.Plan.Interval)
		}
	}

	return nil
}

// Warnings lists settings that are absent but only disable part of the
// service. Callers log them at startup.
func (c *Config) Warnings() []string {
	var w []string
	if c.Stripe.SecretKey == "" {
		w = append(w, "STRIPE_SECRET_KEY is not set; checkout requests will fail")
	}
	if c.Stripe.WebhookSecret == "" {
		w = append(w, "STRIPE_WEBHOOK_SECRET is not set; webhook deliveries will be rejected")
	}
	if c.Supabase.JWTSecret == "" {
		w = append(w, "SUPABASE_JWT_SECRET is not set; checkout trusts caller-supplied identity and profile endpoints are disabled")
	}
	return w
}

// SlogLevel maps LOG_LEVEL to a slog.Level, defaulting to info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger: JSON when LOG_FORMAT=json, text
// otherwise.
func (c LogConfig) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
