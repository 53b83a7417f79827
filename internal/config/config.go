package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// JWT
	JWTSecret        string
	JWTAccessExpiry  time.Duration
	JWTRefreshExpiry time.Duration

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceIDs      map[string]string // price ID -> tier

	// Apple In-App Purchases
	AppleSharedSecret string
	AppleProductIDs   map[string]string // product ID -> tier

	// Private prediction service
	PrivateAPIURL    string
	PrivateAPISecret string
	PredictTimeout   time.Duration

	// Admin
	AdminEmails string
	AdminToken  string

	// Server
	Port        string
	CORSOrigins string

	// Feature toggles
	DemoMode         bool
	AnalyticsEnabled bool
}

func Load() *Config {
	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "mirroros_public"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTAccessExpiry:  parseDuration(getEnv("JWT_ACCESS_EXPIRY", "24h")),
		JWTRefreshExpiry: parseDuration(getEnv("JWT_REFRESH_EXPIRY", "720h")),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripePriceIDs:      loadStripePrices(),

		AppleSharedSecret: getEnv("APPLE_SHARED_SECRET", ""),
		AppleProductIDs:   loadAppleProducts(),

		PrivateAPIURL:    getEnv("PRIVATE_API_URL", ""),
		PrivateAPISecret: getEnv("PRIVATE_API_SECRET", ""),
		PredictTimeout:   parseDuration(getEnv("PREDICT_TIMEOUT", "30s")),

		AdminEmails: getEnv("ADMIN_EMAILS", ""),
		AdminToken:  getEnv("ADMIN_TOKEN", ""),

		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),

		DemoMode:         parseBool(getEnv("DEMO_MODE", "false")),
		AnalyticsEnabled: parseBool(getEnv("PREDICTION_ANALYTICS", "false")),
	}
}

// loadStripePrices maps the configured Stripe price IDs to tiers. Checkout
// requests with a price ID outside this map are rejected.
func loadStripePrices() map[string]string {
	prices := make(map[string]string)
	for env, tier := range map[string]string{
		"STRIPE_PRICE_PRO_MONTHLY":        "pro",
		"STRIPE_PRICE_PRO_YEARLY":         "pro",
		"STRIPE_PRICE_ENTERPRISE_MONTHLY": "enterprise",
		"STRIPE_PRICE_ENTERPRISE_YEARLY":  "enterprise",
	} {
		if id := os.Getenv(env); id != "" {
			prices[id] = tier
		}
	}
	return prices
}

// loadAppleProducts maps App Store product IDs to tiers. Unlisted products
// default to pro, which matches how the iOS app is shipped today.
func loadAppleProducts() map[string]string {
	products := make(map[string]string)
	for env, tier := range map[string]string{
		"APPLE_PRODUCT_PRO_MONTHLY":        "pro",
		"APPLE_PRODUCT_PRO_YEARLY":         "pro",
		"APPLE_PRODUCT_ENTERPRISE_MONTHLY": "enterprise",
	} {
		if id := os.Getenv(env); id != "" {
			products[id] = tier
		}
	}
	return products
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

// AdminEmailList returns the configured admin emails, lowercased.
func (c *Config) AdminEmailList() []string {
	if c.AdminEmails == "" {
		return nil
	}
	parts := strings.Split(c.AdminEmails, ",")
	emails := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.ToLower(strings.TrimSpace(p)); trimmed != "" {
			emails = append(emails, trimmed)
		}
	}
	return emails
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return b
}
