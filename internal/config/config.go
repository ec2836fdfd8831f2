package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

	// Gateway verification.
	StripeWebhookSecret string
	PayPalClientID      string
	PayPalSecret        string
	PayPalWebhookID     string
	PayPalBaseURL       string

	// Order policy.
	MinOrderAmount int64
	PricePolicy    string
	RatePerMille   float64
	MinMemberDays  int

	// Economy API session.
	EconomyBaseURL string
	GroupsBaseURL  string
	UsersBaseURL   string
	EconomyCookie  string
	GroupID        int64
	SettleDelay    time.Duration

	// Ops notifications.
	OpsWebhookURL string

	DBType     string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
}

const (
	// PricePolicyExact requires the listed item price to equal the required
	// price derived from the order amount.
	PricePolicyExact = "exact"
	// PricePolicyAtLeast accepts any listed price covering the required price.
	PricePolicyAtLeast = "at_least"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "bloxmart"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		StripeWebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
		PayPalClientID:      strings.TrimSpace(getenv("PAYPAL_CLIENT_ID", "")),
		PayPalSecret:        strings.TrimSpace(getenv("PAYPAL_SECRET", "")),
		PayPalWebhookID:     strings.TrimSpace(getenv("PAYPAL_WEBHOOK_ID", "")),
		PayPalBaseURL:       strings.TrimSpace(getenv("PAYPAL_BASE_URL", "https://api-m.paypal.com")),

		MinOrderAmount: getenvInt64("MIN_ORDER_AMOUNT", 100),
		PricePolicy:    normalizePricePolicy(getenv("PRICE_POLICY", PricePolicyExact)),
		RatePerMille:   getenvFloat("RATE_PER_MILLE", 5.50),
		MinMemberDays:  int(getenvInt64("MIN_MEMBER_DAYS", 14)),

		EconomyBaseURL: strings.TrimSpace(getenv("ECONOMY_BASE_URL", "https://economy.roblox.com")),
		GroupsBaseURL:  strings.TrimSpace(getenv("GROUPS_BASE_URL", "https://groups.roblox.com")),
		UsersBaseURL:   strings.TrimSpace(getenv("USERS_BASE_URL", "https://users.roblox.com")),
		EconomyCookie:  strings.TrimSpace(getenv("ECONOMY_COOKIE", "")),
		GroupID:        getenvInt64("GROUP_ID", 0),
		SettleDelay:    getenvDuration("SETTLE_DELAY", 3*time.Second),

		OpsWebhookURL: strings.TrimSpace(getenv("OPS_WEBHOOK_URL", "")),

		DBType:     getenv("DATABASE_TYPE", "postgres"),
		DBHost:     getenv("DATABASE_HOST", "localhost"),
		DBPort:     getenv("DATABASE_PORT", "5432"),
		DBName:     getenv("DATABASE_NAME", "bloxmart"),
		DBUser:     getenv("DATABASE_USER", "postgres"),
		DBPassword: getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:  getenv("DATABASE_SSLMODE", "disable"),
	}

	return cfg
}

func normalizePricePolicy(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case PricePolicyAtLeast:
		return PricePolicyAtLeast
	default:
		return PricePolicyExact
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
