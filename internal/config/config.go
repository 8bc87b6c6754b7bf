// Package config loads and validates SDK config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds authenticator SDK configuration loaded from the environment.
type Config struct {
	// OrgURL is the base URL of the authorization server organization (e.g. https://acme.example.com).
	OrgURL string `mapstructure:"AUTHN_ORG_URL"`
	// OIDCClientID is the OAuth client id the host app authenticates with; sent as the authenticator key lookup.
	OIDCClientID string `mapstructure:"AUTHN_OIDC_CLIENT_ID"`
	// DBPath is the path of the sqlite database file holding enrollment state.
	DBPath string `mapstructure:"AUTHN_DB_PATH"`
	// KeyStoreDir is the directory the software key store writes key material under.
	KeyStoreDir string `mapstructure:"AUTHN_KEYSTORE_DIR"`
	// APSEnvironment is the push environment reported on enroll ("development" or "production").
	APSEnvironment string `mapstructure:"AUTHN_APS_ENVIRONMENT"`
	// AppInstanceName is the human-readable device/app name sent in device signals.
	AppInstanceName string `mapstructure:"AUTHN_APP_INSTANCE_NAME"`
	// HTTPTimeout is the network timeout for server calls (e.g. "30s").
	HTTPTimeout string `mapstructure:"AUTHN_HTTP_TIMEOUT"`
	// ClockSkew is the allowed clock skew for device-bind token validation (e.g. "60s").
	ClockSkew string `mapstructure:"AUTHN_CLOCK_SKEW"`
	// PushClockSkew is the allowed clock skew for push challenge validation (e.g. "300s").
	PushClockSkew string `mapstructure:"AUTHN_PUSH_CLOCK_SKEW"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored. Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("AUTHN_ORG_URL", "")
	v.SetDefault("AUTHN_OIDC_CLIENT_ID", "")
	v.SetDefault("AUTHN_DB_PATH", "authenticator.db")
	v.SetDefault("AUTHN_KEYSTORE_DIR", ".authenticator-keys")
	v.SetDefault("AUTHN_APS_ENVIRONMENT", "production")
	v.SetDefault("AUTHN_APP_INSTANCE_NAME", "")
	v.SetDefault("AUTHN_HTTP_TIMEOUT", "30s")
	v.SetDefault("AUTHN_CLOCK_SKEW", "60s")
	v.SetDefault("AUTHN_PUSH_CLOCK_SKEW", "300s")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.OrgURL == "" {
		return nil, errors.New("config: AUTHN_ORG_URL must be set")
	}
	if !strings.HasPrefix(cfg.OrgURL, "https://") && !strings.HasPrefix(cfg.OrgURL, "http://") {
		return nil, errors.New("config: AUTHN_ORG_URL must be an http(s) URL")
	}
	if cfg.OIDCClientID == "" {
		return nil, errors.New("config: AUTHN_OIDC_CLIENT_ID must be set")
	}
	if cfg.APSEnvironment != "development" && cfg.APSEnvironment != "production" {
		return nil, errors.New("config: AUTHN_APS_ENVIRONMENT must be development or production")
	}

	return &cfg, nil
}

// Timeout parses HTTPTimeout as a time.Duration. Returns 30s if unset or invalid.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.HTTPTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// Skew parses ClockSkew as a time.Duration. Returns 60s if unset or invalid.
func (c *Config) Skew() time.Duration {
	d, err := time.ParseDuration(c.ClockSkew)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// PushSkew parses PushClockSkew as a time.Duration. Returns 300s if unset or invalid.
func (c *Config) PushSkew() time.Duration {
	d, err := time.ParseDuration(c.PushClockSkew)
	if err != nil || d <= 0 {
		return 300 * time.Second
	}
	return d
}
