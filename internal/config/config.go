package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
//
// The Stripe and ledger credentials are deliberately not required at load
// time: a missing secret surfaces as a per-request misconfiguration response
// from the billing handlers, which keeps that failure path testable without
// tearing down the process.
type Config struct {
	AppEnv              string
	Port                string
	CORSAllowedOrigins  []string
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIBaseURL    string
	WebhookTolerance    time.Duration
	WebhookMaxBodyBytes int64
	LedgerURL           string
	LedgerServiceKey    string
	LedgerTimeout       time.Duration
	CheckoutSuccessURL  string
	CheckoutCancelURL   string
	CurrencyCode        string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:              valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                valueOrDefault(k.String("PORT"), "8080"),
		CORSAllowedOrigins:  splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		StripeSecretKey:     strings.TrimSpace(k.String("STRIPE_SECRET_KEY")),
		StripeWebhookSecret: strings.TrimSpace(k.String("STRIPE_WEBHOOK_SECRET")),
		StripeAPIBaseURL:    valueOrDefault(strings.TrimSpace(k.String("STRIPE_API_BASE_URL")), "https://api.stripe.com"),
		WebhookTolerance:    parseDuration(k.String("WEBHOOK_TOLERANCE"), "5m"),
		WebhookMaxBodyBytes: int64(parseInt(k.String("WEBHOOK_MAX_BODY_BYTES"), 1<<20)),
		LedgerURL:           strings.TrimRight(strings.TrimSpace(k.String("LEDGER_URL")), "/"),
		LedgerServiceKey:    strings.TrimSpace(k.String("LEDGER_SERVICE_KEY")),
		LedgerTimeout:       parseDuration(k.String("LEDGER_TIMEOUT"), "10s"),
		CheckoutSuccessURL:  strings.TrimSpace(k.String("CHECKOUT_SUCCESS_URL")),
		CheckoutCancelURL:   strings.TrimSpace(k.String("CHECKOUT_CANCEL_URL")),
		CurrencyCode:        strings.ToLower(valueOrDefault(k.String("CURRENCY_CODE"), "usd")),
	}

	if cfg.LedgerURL != "" {
		if _, err := url.ParseRequestURI(cfg.LedgerURL); err != nil {
			return nil, fmt.Errorf("LEDGER_URL is not a valid URL: %w", err)
		}
	}
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = 5 * time.Minute
	}
	if cfg.WebhookMaxBodyBytes <= 0 {
		cfg.WebhookMaxBodyBytes = 1 << 20
	}

	return cfg, nil
}

// BillingConfigured reports whether the webhook pipeline has every credential
// it needs. The handlers consult this per request.
func (c *Config) BillingConfigured() bool {
	return c.StripeSecretKey != "" && c.StripeWebhookSecret != "" &&
		c.LedgerURL != "" && c.LedgerServiceKey != ""
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}

// LoadForTests allows tests to override environment variables without touching
// the real environment.
func LoadForTests(vars map[string]string) (*Config, error) {
	original := make(map[string]string, len(vars))
	for key := range vars {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, vars[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
