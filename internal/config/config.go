// Package config loads and validates the custodian engine's environment
// configuration.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TransportMode selects how the front-end adapter receives updates; the
// engine itself only needs to know whether webhook-specific validation
// applies.
type TransportMode string

const (
	TransportPolling TransportMode = "polling"
	TransportWebhook TransportMode = "webhook"
)

// Config is the fully-resolved, validated environment configuration.
type Config struct {
	Env string // "development", "testing", "production"

	TransportToken string
	TransportMode  TransportMode
	WebhookURL     string
	WebhookSecret  string

	OwnerID int64

	MasterEncryptionKey []byte // decoded, exactly 32 bytes

	RPCURL string

	DatabaseURL string

	HTTPHost  string
	HTTPPort  int
	PublicURL string

	DCAAmountQuote string // decimal string, parsed by callers with shopspring/decimal
	DCAIntervalMS  int64
	DCAMaxCatchup  int

	QuoteBaseURL string
	QuoteAPIKey  string

	RateLimitWindowMS    int64
	RateLimitMaxRequests int

	DevWalletPrivateKey string

	TrackedAssets   []string // SPL/other asset script hashes tracked alongside the native balance
	BalanceCacheTTL time.Duration

	SwapConfirmTimeout time.Duration

	LogLevel  string
	LogFormat string

	MetricsEnabled bool
}

func (c *Config) IsDevelopment() bool { return c.Env == "development" }
func (c *Config) IsTesting() bool     { return c.Env == "testing" }
func (c *Config) IsProduction() bool  { return c.Env == "production" }

// Load reads and validates the configuration from the process environment.
func Load() (*Config, error) {
	cfg := &Config{
		Env:                 getEnv("APP_ENV", "development"),
		TransportToken:      getEnv("TRANSPORT_TOKEN", ""),
		TransportMode:       TransportMode(getEnv("TRANSPORT_MODE", string(TransportPolling))),
		WebhookURL:          getEnv("WEBHOOK_URL", ""),
		WebhookSecret:       getEnv("WEBHOOK_SECRET", ""),
		RPCURL:              getEnv("RPC_URL", ""),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		HTTPHost:            getEnv("HTTP_HOST", "0.0.0.0"),
		PublicURL:           getEnv("PUBLIC_URL", ""),
		DCAAmountQuote:      getEnv("DCA_AMOUNT_QUOTE", ""),
		QuoteBaseURL:        getEnv("QUOTE_BASE_URL", ""),
		QuoteAPIKey:         getEnv("QUOTE_API_KEY", ""),
		DevWalletPrivateKey: getEnv("DEV_WALLET_PRIVATE_KEY", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "text"),
	}

	var err error
	if cfg.OwnerID, err = getIntEnv("OWNER_ID", 0); err != nil {
		return nil, fmt.Errorf("OWNER_ID: %w", err)
	}
	if cfg.HTTPPort, err = getIntEnv32("HTTP_PORT", 8080); err != nil {
		return nil, fmt.Errorf("HTTP_PORT: %w", err)
	}
	if cfg.DCAIntervalMS, err = getIntEnv("DCA_INTERVAL_MS", 0); err != nil {
		return nil, fmt.Errorf("DCA_INTERVAL_MS: %w", err)
	}
	if cfg.DCAMaxCatchup, err = getIntEnv32("DCA_MAX_CATCHUP", 100); err != nil {
		return nil, fmt.Errorf("DCA_MAX_CATCHUP: %w", err)
	}
	if cfg.RateLimitWindowMS, err = getIntEnv("RATE_LIMIT_WINDOW_MS", 60_000); err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_WINDOW_MS: %w", err)
	}
	if cfg.RateLimitMaxRequests, err = getIntEnv32("RATE_LIMIT_MAX_REQUESTS", 20); err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_MAX_REQUESTS: %w", err)
	}
	cfg.MetricsEnabled = getBoolEnv("METRICS_ENABLED", true)

	timeoutMS, err := getIntEnv("SWAP_CONFIRM_TIMEOUT_MS", 15_000)
	if err != nil {
		return nil, fmt.Errorf("SWAP_CONFIRM_TIMEOUT_MS: %w", err)
	}
	cfg.SwapConfirmTimeout = time.Duration(timeoutMS) * time.Millisecond

	balanceTTLMS, err := getIntEnv("BALANCE_CACHE_TTL_MS", 60_000)
	if err != nil {
		return nil, fmt.Errorf("BALANCE_CACHE_TTL_MS: %w", err)
	}
	cfg.BalanceCacheTTL = time.Duration(balanceTTLMS) * time.Millisecond

	if assets := getEnv("TRACKED_ASSETS", ""); assets != "" {
		for _, a := range strings.Split(assets, ",") {
			if a = strings.TrimSpace(a); a != "" {
				cfg.TrackedAssets = append(cfg.TrackedAssets, a)
			}
		}
	}

	keyB64 := getEnv("MASTER_ENCRYPTION_KEY", "")
	if keyB64 != "" {
		key, err := base64.StdEncoding.DecodeString(keyB64)
		if err != nil {
			return nil, fmt.Errorf("MASTER_ENCRYPTION_KEY: invalid base64: %w", err)
		}
		cfg.MasterEncryptionKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the fatal-on-failure checks, tightened for
// production mode.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.TransportToken) == "" {
		return fmt.Errorf("TRANSPORT_TOKEN is required")
	}
	if c.OwnerID <= 0 {
		return fmt.Errorf("OWNER_ID must be a positive integer")
	}
	if len(c.MasterEncryptionKey) != 32 {
		return fmt.Errorf("MASTER_ENCRYPTION_KEY must decode to exactly 32 bytes, got %d", len(c.MasterEncryptionKey))
	}
	if c.DCAIntervalMS <= 0 {
		return fmt.Errorf("DCA_INTERVAL_MS must be positive")
	}
	if strings.TrimSpace(c.DCAAmountQuote) == "" {
		return fmt.Errorf("DCA_AMOUNT_QUOTE is required")
	}
	if strings.TrimSpace(c.QuoteBaseURL) == "" {
		return fmt.Errorf("QUOTE_BASE_URL is required")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT out of range: %d", c.HTTPPort)
	}
	if c.TransportMode == TransportWebhook {
		if !strings.HasPrefix(c.WebhookURL, "https://") {
			return fmt.Errorf("WEBHOOK_URL must be HTTPS when TRANSPORT_MODE=webhook")
		}
	}

	if c.IsProduction() {
		if !strings.HasPrefix(c.RPCURL, "https://") {
			return fmt.Errorf("RPC_URL must be HTTPS in production")
		}
		if c.DevWalletPrivateKey != "" {
			return fmt.Errorf("DEV_WALLET_PRIVATE_KEY must not be set in production")
		}
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int64) (int64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", v, err)
	}
	return n, nil
}

func getIntEnv32(key string, fallback int) (int, error) {
	n, err := getIntEnv(key, int64(fallback))
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func getBoolEnv(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
