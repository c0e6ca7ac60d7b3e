package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "data/proservice.db", cfg.DBPath)
	assert.Equal(t, StoreSQLite, cfg.EntitlementStore)
	assert.Equal(t, "ProService Pro", cfg.Plan.Name)
	assert.Equal(t, int64(2980), cfg.Plan.Amount)
	assert.Equal(t, "jpy", cfg.Plan.Currency)
	assert.Equal(t, "month", cfg.Plan.Interval)
	assert.Equal(t, "@every 5m", cfg.ReconcileSchedule)
	assert.Empty(t, cfg.TLSDomains)
}

func TestLoad_FromEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_456")
	t.Setenv("TLS_DOMAINS", "pro.example.com,www.pro.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, "sk_test_123", cfg.Stripe.SecretKey)
	assert.Equal(t, "whsec_456", cfg.Stripe.WebhookSecret)
	assert.Equal(t, []string{"pro.example.com", "www.pro.example.com"}, cfg.TLSDomains)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PLAN_AMOUNT=4980\nPUBLIC_URL=https://pro.example.com\n"), 0o600))

	// Variables from the real environment take precedence over the file.
	t.Setenv("PUBLIC_URL", "https://override.example.com")
	// godotenv sets what it loads; make sure the test does not leak it.
	t.Setenv("PLAN_AMOUNT", "")
	os.Unsetenv("PLAN_AMOUNT")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(4980), cfg.Plan.Amount)
	assert.Equal(t, "https://override.example.com", cfg.PublicURL)
}

func TestLoad_MissingEnvFileIsFine(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := Load()
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			EntitlementStore: StoreSQLite,
			Plan:             PlanConfig{Amount: 2980, Interval: "month"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "unknown store", mutate: func(c *Config) { c.EntitlementStore = "redis" }, wantErr: true},
		{name: "supabase without credentials", mutate: func(c *Config) { c.EntitlementStore = StoreSupabase }, wantErr: true},
		{
			name: "supabase with credentials",
			mutate: func(c *Config) {
				c.EntitlementStore = StoreSupabase
				c.Supabase.URL = "https://abc.supabase.co"
				c.Supabase.ServiceRoleKey = "service-role"
			},
		},
		{name: "zero amount", mutate: func(c *Config) { c.Plan.Amount = 0 }, wantErr: true},
		{name: "bad interval", mutate: func(c *Config) { c.Plan.Interval = "fortnight" }, wantErr: true},
		{
			name: "price id skips plan checks",
			mutate: func(c *Config) {
				c.Stripe.PriceID = "price_123"
				c.Plan.Amount = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWarnings(t *testing.T) {
	c := &Config{}
	assert.Len(t, c.Warnings(), 3)

	c.Stripe = StripeConfig{SecretKey: "sk", WebhookSecret: "whsec"}
	c.Supabase.JWTSecret = "secret"
	assert.Empty(t, c.Warnings())
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LogConfig{Level: "DEBUG"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, LogConfig{Level: "warning"}.SlogLevel())
	assert.Equal(t, slog.LevelError, LogConfig{Level: "error"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LogConfig{Level: "verbose"}.SlogLevel())
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
