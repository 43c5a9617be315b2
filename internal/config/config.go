package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration (tokens are issued by the auth provider)
	JWT JWTConfig

	// Pricing constants
	Pricing PricingConfig

	// Payment gateway configuration
	Payment PaymentConfig

	// Redis configuration (idempotency locks)
	Redis RedisConfig

	// RabbitMQ configuration (booking events)
	RabbitMQ RabbitMQConfig

	// SMS configuration (booking confirmations)
	SMS SMSConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// CORS configuration
	CORS CORSConfig

	// Reconciliation job configuration
	Reconciliation ReconciliationConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret string
	Issuer string
}

// PricingConfig holds platform-level pricing constants
type PricingConfig struct {
	ServiceFeeRate      decimal.Decimal // fraction of the subtotal, 0.05 = 5%
	ChildDiscountFactor decimal.Decimal // used when a tour does not set its own
	DefaultCurrency     string
}

// PaymentConfig holds payment gateway configuration
type PaymentConfig struct {
	Provider        string // "payable" or "stripe"
	Environment     string // "sandbox" or "production"
	MerchantKey     string // PAYable merchant key
	MerchantToken   string // PAYable merchant token (SECRET - never expose to client)
	LogoURL         string // Merchant logo URL for payment page
	ReturnURL       string // URL the customer lands on after paying
	CancelURL       string // URL the customer lands on after abandoning checkout
	CallbackURL     string // Server callback URL for payment notifications
	StripeSecretKey string
	InitiateTimeout time.Duration
	QueryTimeout    time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr           string // empty disables the idempotency lock
	Password       string
	DB             int
	IdempotencyTTL time.Duration
}

// RabbitMQConfig holds broker settings
type RabbitMQConfig struct {
	URL      string // empty uses the no-op publisher
	Exchange string
}

// SMSConfig holds SMS gateway configuration
type SMSConfig struct {
	Mode   string // "dev" logs messages, "production" sends them
	APIKey string // Dialog esmsqk key
	Mask   string // Dialog SMS mask/source address
}

// RateLimitConfig holds per-IP rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// ReconciliationConfig controls the stale payment attempt re-poll job
type ReconciliationConfig struct {
	Enabled    bool
	Schedule   string // cron expression with seconds
	StaleAfter time.Duration
	BatchSize  int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			Issuer: getEnv("JWT_ISSUER", "safaritrail-auth"),
		},
		Pricing: PricingConfig{
			ServiceFeeRate:      getEnvAsDecimal("SERVICE_FEE_RATE", decimal.RequireFromString("0.05")),
			ChildDiscountFactor: getEnvAsDecimal("CHILD_DISCOUNT_FACTOR", decimal.RequireFromString("0.7")),
			DefaultCurrency:     strings.ToUpper(getEnv("DEFAULT_CURRENCY", "USD")),
		},
		Payment: PaymentConfig{
			Provider:        strings.ToLower(getEnv("PAYMENT_PROVIDER", "payable")),
			Environment:     getEnv("PAYABLE_ENVIRONMENT", "sandbox"),
			MerchantKey:     getEnv("PAYABLE_MERCHANT_KEY", ""),
			MerchantToken:   getEnv("PAYABLE_MERCHANT_TOKEN", ""),
			LogoURL:         getEnv("PAYABLE_LOGO_URL", ""),
			ReturnURL:       getEnv("PAYMENT_RETURN_URL", ""),
			CancelURL:       getEnv("PAYMENT_CANCEL_URL", ""),
			CallbackURL:     getEnv("PAYMENT_CALLBACK_URL", ""),
			StripeSecretKey: getEnv("STRIPE_SECRET_KEY", ""),
			InitiateTimeout: getEnvAsDuration("PAYMENT_INITIATE_TIMEOUT", 15*time.Second),
			QueryTimeout:    getEnvAsDuration("PAYMENT_QUERY_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", ""),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvAsInt("REDIS_DB", 0),
			IdempotencyTTL: getEnvAsDuration("IDEMPOTENCY_LOCK_TTL", 30*time.Second),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "booking_events"),
		},
		SMS: SMSConfig{
			Mode:   getEnv("SMS_MODE", "dev"),
			APIKey: getEnv("DIALOG_SMS_ESMSQK", ""),
			Mask:   getEnv("DIALOG_SMS_MASK", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 120),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization", "Idempotency-Key"}),
		},
		Reconciliation: ReconciliationConfig{
			Enabled:    getEnvAsBool("RECONCILE_JOB_ENABLED", true),
			Schedule:   getEnv("RECONCILE_JOB_SCHEDULE", "0 */5 * * * *"),
			StaleAfter: getEnvAsDuration("RECONCILE_STALE_AFTER", 15*time.Minute),
			BatchSize:  getEnvAsInt("RECONCILE_BATCH_SIZE", 50),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Pricing.ServiceFeeRate.IsNegative() || c.Pricing.ServiceFeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("SERVICE_FEE_RATE must be in [0, 1)")
	}

	if c.Pricing.ChildDiscountFactor.IsNegative() || c.Pricing.ChildDiscountFactor.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("CHILD_DISCOUNT_FACTOR must be in [0, 1]")
	}

	switch c.Payment.Provider {
	case "payable":
		if c.Server.Environment == "production" && (c.Payment.MerchantKey == "" || c.Payment.MerchantToken == "") {
			return fmt.Errorf("PAYABLE_MERCHANT_KEY and PAYABLE_MERCHANT_TOKEN are required in production")
		}
	case "stripe":
		if c.Payment.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required when PAYMENT_PROVIDER=stripe")
		}
	default:
		return fmt.Errorf("invalid PAYMENT_PROVIDER: %s (must be 'payable' or 'stripe')", c.Payment.Provider)
	}

	if c.Payment.QueryTimeout <= 0 {
		return fmt.Errorf("PAYMENT_QUERY_TIMEOUT must be positive")
	}

	if c.SMS.Mode == "production" && c.SMS.APIKey == "" {
		return fmt.Errorf("DIALOG_SMS_ESMSQK is required in production SMS mode")
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		log.Printf("Invalid decimal value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
