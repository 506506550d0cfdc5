// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment selects the provider endpoints and credential set.
type Environment string

const (
	Sandbox    Environment = "sandbox"
	Production Environment = "production"
)

// placeholderMarkers are fragments left behind by unrendered deploy templates.
var placeholderMarkers = []string{"${", "{{", "<", "%7B", "%7b"}

// ProviderCredentials holds one provider's OAuth client settings. Either
// field may be empty; the provider client reports it when first used.
type ProviderCredentials struct {
	ClientID string
	Secret   string
}

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr      string
	DBPath          string
	SecretKey       []byte // 32 bytes; nil when MARKETPAY_SECRET_KEY is unset
	StateSigningKey []byte
	AdminKey        string
	Environment     Environment
	AppBaseURL      string
	Square          ProviderCredentials
	Stripe          ProviderCredentials
	RedisAddr       string
	ProviderTimeout time.Duration
	StoreTimeout    time.Duration
	ScanInterval    time.Duration // 0 disables the background drift scan
}

// IsProduction reports whether live provider endpoints are in use.
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// RedirectURL returns the OAuth callback URL for provider, or "" when
// APP_BASE_URL is not configured.
func (c *Config) RedirectURL(provider string) string {
	if c.AppBaseURL == "" {
		return ""
	}
	return c.AppBaseURL + "/oauth/" + provider + "/callback"
}

// Load reads configuration from a .env file (if present) and environment
// variables, and returns a validated Config. Variables already set in the
// environment win over .env entries. The .env file is read afresh on every
// call and never copied into the process environment, so a later Load sees
// edits to it.
//
// Provider credentials and APP_BASE_URL are optional at startup; requests
// that need them fail with a configuration error. Malformed values fail here.
func Load() (*Config, error) {
	dotenv, err := godotenv.Read()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	env := source(dotenv)

	cfg := &Config{
		ListenAddr: env.or("MARKETPAY_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:     env.or("MARKETPAY_DB_PATH", "marketpay.db"),
		AdminKey:   env.get("MARKETPAY_ADMIN_KEY"),
		RedisAddr:  env.get("MARKETPAY_REDIS_ADDR"),
	}

	if v := env.get("MARKETPAY_STATE_SIGNING_KEY"); v != "" {
		cfg.StateSigningKey = []byte(v)
	}

	if v := env.get("MARKETPAY_SECRET_KEY"); v != "" {
		key, err := hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("MARKETPAY_SECRET_KEY must be hex-encoded: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("MARKETPAY_SECRET_KEY must decode to 32 bytes, got %d", len(key))
		}
		cfg.SecretKey = key
	}

	switch mode := Environment(strings.ToLower(env.or("MARKETPAY_ENVIRONMENT", string(Sandbox)))); mode {
	case Sandbox, Production:
		cfg.Environment = mode
	default:
		return nil, fmt.Errorf("MARKETPAY_ENVIRONMENT must be sandbox or production, got %q", mode)
	}

	baseURL, err := parseBaseURL(env.get("APP_BASE_URL"))
	if err != nil {
		return nil, err
	}
	cfg.AppBaseURL = baseURL

	if cfg.IsProduction() {
		cfg.Square = ProviderCredentials{
			ClientID: env.first("SQUARE_PRODUCTION_CLIENT_ID", "SQUARE_CLIENT_ID"),
			Secret:   env.first("SQUARE_PRODUCTION_CLIENT_SECRET", "SQUARE_CLIENT_SECRET"),
		}
		cfg.Stripe = ProviderCredentials{
			ClientID: env.first("STRIPE_LIVE_CLIENT_ID", "STRIPE_CLIENT_ID"),
			Secret:   env.first("STRIPE_LIVE_SECRET_KEY", "STRIPE_SECRET_KEY"),
		}
	} else {
		cfg.Square = ProviderCredentials{
			ClientID: env.first("SQUARE_SANDBOX_CLIENT_ID", "SQUARE_CLIENT_ID"),
			Secret:   env.first("SQUARE_SANDBOX_CLIENT_SECRET", "SQUARE_CLIENT_SECRET"),
		}
		cfg.Stripe = ProviderCredentials{
			ClientID: env.first("STRIPE_TEST_CLIENT_ID", "STRIPE_CLIENT_ID"),
			Secret:   env.first("STRIPE_TEST_SECRET_KEY", "STRIPE_SECRET_KEY"),
		}
	}

	if cfg.ProviderTimeout, err = env.positiveDuration("MARKETPAY_PROVIDER_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.StoreTimeout, err = env.positiveDuration("MARKETPAY_STORE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}

	if v, ok := env.lookup("MARKETPAY_SCAN_INTERVAL"); ok && v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("MARKETPAY_SCAN_INTERVAL has invalid duration %q: %w", v, err)
		}
		if parsed < 0 {
			return nil, fmt.Errorf("MARKETPAY_SCAN_INTERVAL must not be negative, got %s", parsed)
		}
		cfg.ScanInterval = parsed
	}

	return cfg, nil
}

// parseBaseURL validates APP_BASE_URL. Empty is allowed.
func parseBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	for _, marker := range placeholderMarkers {
		if strings.Contains(raw, marker) {
			return "", fmt.Errorf("APP_BASE_URL contains an unresolved placeholder: %q", raw)
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("APP_BASE_URL is not a valid URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("APP_BASE_URL must be an absolute http(s) URL, got %q", raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

// source resolves settings from the process environment first, then from
// the parsed .env file.
type source map[string]string

func (s source) lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}
	v, ok := s[key]
	return v, ok
}

func (s source) get(key string) string {
	v, _ := s.lookup(key)
	return v
}

func (s source) positiveDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := s.lookup(key)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, parsed)
	}
	return parsed, nil
}

func (s source) or(key, def string) string {
	if v, ok := s.lookup(key); ok && v != "" {
		return v
	}
	return def
}

// first returns the first non-empty value among keys.
func (s source) first(keys ...string) string {
	for _, k := range keys {
		if v := s.get(k); v != "" {
			return v
		}
	}
	return ""
}
