// Package config loads service settings. Values come from built in
// defaults, then an optional YAML file, then SITEGATE_ prefixed
// environment variables, each layer overriding the previous one.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	sitegate "github.com/goliatone/go-sitegate"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable read by Load
const EnvPrefix = "SITEGATE"

// EnvConfigFile names the environment variable holding the YAML file path
const EnvConfigFile = "SITEGATE_CONFIG"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the configuration for the sitegate service.
type Config struct {
	SigningKey          string        `envconfig:"SIGNING_KEY" yaml:"signing_key"`
	AdminPINHash        string        `envconfig:"ADMIN_PIN_HASH" yaml:"admin_pin_hash"`
	Issuer              string        `envconfig:"ISSUER" yaml:"issuer"`
	AccessTokenTTL      time.Duration `envconfig:"ACCESS_TOKEN_TTL" yaml:"access_token_ttl"`
	RefreshTokenTTL     time.Duration `envconfig:"REFRESH_TOKEN_TTL" yaml:"refresh_token_ttl"`
	RotateRefreshTokens bool          `envconfig:"ROTATE_REFRESH_TOKENS" yaml:"rotate_refresh_tokens"`
	SessionTTL          time.Duration `envconfig:"SESSION_TTL" yaml:"session_ttl"`
	SecureCookies       bool          `envconfig:"SECURE_COOKIES" yaml:"secure_cookies"`

	HTTPPort int `envconfig:"HTTP_PORT" yaml:"http_port"`

	DBDriver string `envconfig:"DB_DRIVER" yaml:"db_driver"`
	DBDSN    string `envconfig:"DB_DSN" yaml:"db_dsn"`

	// CacheDir empty keeps the cache in memory
	CacheDir      string        `envconfig:"CACHE_DIR" yaml:"cache_dir"`
	CacheEntryTTL time.Duration `envconfig:"CACHE_ENTRY_TTL" yaml:"cache_entry_ttl"`

	LoginRatePerSecond float64 `envconfig:"LOGIN_RATE_PER_SECOND" yaml:"login_rate_per_second"`
	LoginBurst         int     `envconfig:"LOGIN_BURST" yaml:"login_burst"`

	FederatedJWKSURL      string `envconfig:"FEDERATED_JWKS_URL" yaml:"federated_jwks_url"`
	FederatedSharedSecret string `envconfig:"FEDERATED_SHARED_SECRET" yaml:"federated_shared_secret"`
	FederatedKeyID        string `envconfig:"FEDERATED_KEY_ID" yaml:"federated_key_id"`
	FederatedIssuer       string `envconfig:"FEDERATED_ISSUER" yaml:"federated_issuer"`
	FederatedAudience     string `envconfig:"FEDERATED_AUDIENCE" yaml:"federated_audience"`
	FederatedProvider     string `envconfig:"FEDERATED_PROVIDER" yaml:"federated_provider"`
	FederatedCookie       string `envconfig:"FEDERATED_COOKIE" yaml:"federated_cookie"`

	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" yaml:"reconcile_interval"`
	ReconcileBuffer   int           `envconfig:"RECONCILE_BUFFER" yaml:"reconcile_buffer"`

	IdempotentBookmarks bool `envconfig:"IDEMPOTENT_BOOKMARKS" yaml:"idempotent_bookmarks"`

	LogLevel string `envconfig:"LOG_LEVEL" yaml:"log_level"`
	Debug    bool   `envconfig:"DEBUG" yaml:"debug"`
}

var _ sitegate.Config = (*Config)(nil)

// Default returns the base configuration every layer starts from.
func Default() *Config {
	return &Config{
		Issuer:             "sitegate",
		AccessTokenTTL:     sitegate.DefaultAccessTokenTTL,
		RefreshTokenTTL:    sitegate.DefaultRefreshTokenTTL,
		SessionTTL:         sitegate.DefaultSessionTTL,
		HTTPPort:           8080,
		DBDriver:           DriverSQLite,
		DBDSN:              "file:sitegate.db?cache=shared",
		CacheEntryTTL:      10 * time.Minute,
		LoginRatePerSecond: 0.2,
		LoginBurst:         5,
		FederatedCookie:    "federatedSession",
		ReconcileInterval:  time.Minute,
		ReconcileBuffer:    256,
		LogLevel:           "info",
	}
}

// Load builds the configuration. path may be empty, in which case the
// SITEGATE_CONFIG variable is consulted and, if unset, no file is read.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return nil
}

// Validate fails closed: the service must not start without a signing key
// or an admin PIN hash. Every problem is reported at once.
func (c *Config) Validate() error {
	violations := map[string]string{}

	if c.SigningKey == "" {
		violations["signing_key.required"] = "SITEGATE_SIGNING_KEY is required"
	} else if len(c.SigningKey) < 32 {
		violations["signing_key.length"] = "signing key must be at least 32 bytes"
	}
	if c.AdminPINHash == "" {
		violations["admin_pin_hash.required"] = "SITEGATE_ADMIN_PIN_HASH is required"
	}
	if c.AccessTokenTTL <= 0 {
		violations["access_token_ttl.positive"] = "access token TTL must be positive"
	}
	if c.RefreshTokenTTL < c.AccessTokenTTL {
		violations["refresh_token_ttl.min"] = "refresh token TTL must not be shorter than the access token TTL"
	}
	if c.DBDriver != DriverSQLite && c.DBDriver != DriverPostgres {
		violations["db_driver.supported"] = "db driver must be sqlite or postgres"
	}
	if c.DBDSN == "" {
		violations["db_dsn.required"] = "database DSN is required"
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		violations["http_port.range"] = "http port must be between 1 and 65535"
	}
	if c.LoginRatePerSecond <= 0 || c.LoginBurst <= 0 {
		violations["login_rate.positive"] = "login rate and burst must be positive"
	}

	if len(violations) > 0 {
		return sitegate.NewValidationError(violations)
	}
	return nil
}

// FederatedEnabled reports whether a federated key source is configured
func (c *Config) FederatedEnabled() bool {
	return c.FederatedJWKSURL != "" || c.FederatedSharedSecret != ""
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func (c *Config) GetSigningKey() string {
	return c.SigningKey
}

func (c *Config) GetAdminPINHash() string {
	return c.AdminPINHash
}

func (c *Config) GetIssuer() string {
	return c.Issuer
}

func (c *Config) GetAccessTokenTTL() time.Duration {
	return c.AccessTokenTTL
}

func (c *Config) GetRefreshTokenTTL() time.Duration {
	return c.RefreshTokenTTL
}

func (c *Config) GetRotateRefreshTokens() bool {
	return c.RotateRefreshTokens
}

func (c *Config) GetSecureCookies() bool {
	return c.SecureCookies
}
