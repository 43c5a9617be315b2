package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/safari?sslmode=disable")
		t.Setenv("JWT_SECRET", "secret")
		for _, key := range []string{"PORT", "SERVICE_FEE_RATE", "CHILD_DISCOUNT_FACTOR", "DEFAULT_CURRENCY", "PAYMENT_PROVIDER", "PAYMENT_QUERY_TIMEOUT", "RECONCILE_JOB_SCHEDULE", "SMS_MODE", "ENVIRONMENT"} {
			t.Setenv(key, "")
		}

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.Server.Port)
		assert.True(t, cfg.Pricing.ServiceFeeRate.Equal(decimal.RequireFromString("0.05")))
		assert.True(t, cfg.Pricing.ChildDiscountFactor.Equal(decimal.RequireFromString("0.7")))
		assert.Equal(t, "USD", cfg.Pricing.DefaultCurrency)
		assert.Equal(t, "payable", cfg.Payment.Provider)
		assert.Equal(t, 10*time.Second, cfg.Payment.QueryTimeout)
		assert.Equal(t, "0 */5 * * * *", cfg.Reconciliation.Schedule)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/safari?sslmode=disable")
		t.Setenv("JWT_SECRET", "secret")
		t.Setenv("SERVICE_FEE_RATE", "0.08")
		t.Setenv("DEFAULT_CURRENCY", "kes")
		t.Setenv("PAYMENT_QUERY_TIMEOUT", "3s")
		t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

		cfg, err := Load()
		require.NoError(t, err)

		assert.True(t, cfg.Pricing.ServiceFeeRate.Equal(decimal.RequireFromString("0.08")))
		assert.Equal(t, "KES", cfg.Pricing.DefaultCurrency)
		assert.Equal(t, 3*time.Second, cfg.Payment.QueryTimeout)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	})

	t.Run("invalid values fall back to defaults", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/safari?sslmode=disable")
		t.Setenv("JWT_SECRET", "secret")
		t.Setenv("SERVICE_FEE_RATE", "five percent")
		t.Setenv("REDIS_DB", "x")

		cfg, err := Load()
		require.NoError(t, err)

		assert.True(t, cfg.Pricing.ServiceFeeRate.Equal(decimal.RequireFromString("0.05")))
		assert.Equal(t, 0, cfg.Redis.DB)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Environment: "development"},
			Database: DatabaseConfig{URL: "postgres://localhost/safari"},
			JWT:      JWTConfig{Secret: "secret"},
			Pricing: PricingConfig{
				ServiceFeeRate:      decimal.RequireFromString("0.05"),
				ChildDiscountFactor: decimal.RequireFromString("0.7"),
			},
			Payment: PaymentConfig{Provider: "payable", QueryTimeout: time.Second},
			SMS:     SMSConfig{Mode: "dev"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing database url", mutate: func(c *Config) { c.Database.URL = "" }, wantErr: "DATABASE_URL is required"},
		{name: "missing jwt secret", mutate: func(c *Config) { c.JWT.Secret = "" }, wantErr: "JWT_SECRET is required"},
		{name: "fee rate of one", mutate: func(c *Config) { c.Pricing.ServiceFeeRate = decimal.NewFromInt(1) }, wantErr: "SERVICE_FEE_RATE"},
		{name: "child factor above one", mutate: func(c *Config) { c.Pricing.ChildDiscountFactor = decimal.RequireFromString("1.2") }, wantErr: "CHILD_DISCOUNT_FACTOR"},
		{name: "unknown provider", mutate: func(c *Config) { c.Payment.Provider = "paypal" }, wantErr: "invalid PAYMENT_PROVIDER"},
		{name: "stripe without key", mutate: func(c *Config) { c.Payment.Provider = "stripe" }, wantErr: "STRIPE_SECRET_KEY"},
		{
			name: "payable production without credentials",
			mutate: func(c *Config) {
				c.Server.Environment = "production"
			},
			wantErr: "PAYABLE_MERCHANT_KEY",
		},
		{name: "zero query timeout", mutate: func(c *Config) { c.Payment.QueryTimeout = 0 }, wantErr: "PAYMENT_QUERY_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
