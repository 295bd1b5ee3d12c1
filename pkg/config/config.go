// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads the gateway configuration from environment variables
// and flags. Every knob has a default; only the upstream identity provider
// URL is required for the login flow to work.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	gateerr "github.com/lanolabs/authgate/pkg/errors"
)

// Defaults.
const (
	DefaultListenAddress   = ":8080"
	DefaultDatabasePath    = "authgate.db"
	DefaultIssuer          = "https://auth.lanolabs.dev"
	DefaultCookieDomain    = "lanolabs.dev"
	DefaultCodeTTL         = 5 * time.Minute
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
	DefaultSessionTTL      = 7 * 24 * time.Hour
	DefaultIdentityTTL     = 5 * time.Minute
	DefaultOutboxBatchSize = 50
	DefaultOutboxTick      = 5 * time.Second
	DefaultRateLimit       = 60
	DefaultRateWindow      = time.Minute
)

// Config is the resolved gateway configuration.
type Config struct {
	// ListenAddress is the HTTP bind address.
	ListenAddress string

	// DatabasePath is the sqlite database path. Empty means in-memory.
	DatabasePath string

	// Issuer is the external base URL advertised in the discovery document.
	Issuer string

	// RedisURL enables the redis cache tier and redis rate limiting when set.
	RedisURL string

	// CookieDomain is the parent domain session cookies are scoped to.
	CookieDomain string

	// CookieSecure controls the Secure cookie attribute. Disable only for
	// local development over plain HTTP.
	CookieSecure bool

	// UpstreamURL is the identity provider's password verification endpoint.
	UpstreamURL string

	// ProjectionURL is the outbox delivery target. Empty disables the worker.
	ProjectionURL string

	// ProjectionToken is the bearer credential for the projection target.
	ProjectionToken string

	CodeTTL         time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	SessionTTL      time.Duration
	IdentityTTL     time.Duration

	OutboxBatchSize int
	OutboxTick      time.Duration

	// RateLimit is the request budget per RateWindow per caller.
	RateLimit  int
	RateWindow time.Duration

	// CreateIfMissing provisions unknown JWT subjects as users on first
	// resolution.
	CreateIfMissing bool
}

// envPrefix namespaces every environment variable, e.g. AUTHGATE_LISTEN_ADDRESS.
const envPrefix = "AUTHGATE"

// Load reads configuration from the environment with defaults applied.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen-address", DefaultListenAddress)
	v.SetDefault("database-path", DefaultDatabasePath)
	v.SetDefault("issuer", DefaultIssuer)
	v.SetDefault("redis-url", "")
	v.SetDefault("cookie-domain", DefaultCookieDomain)
	v.SetDefault("cookie-secure", true)
	v.SetDefault("upstream-url", "")
	v.SetDefault("projection-url", "")
	v.SetDefault("projection-token", "")
	v.SetDefault("code-ttl", DefaultCodeTTL)
	v.SetDefault("access-token-ttl", DefaultAccessTokenTTL)
	v.SetDefault("refresh-token-ttl", DefaultRefreshTokenTTL)
	v.SetDefault("session-ttl", DefaultSessionTTL)
	v.SetDefault("identity-ttl", DefaultIdentityTTL)
	v.SetDefault("outbox-batch-size", DefaultOutboxBatchSize)
	v.SetDefault("outbox-tick", DefaultOutboxTick)
	v.SetDefault("rate-limit", DefaultRateLimit)
	v.SetDefault("rate-window", DefaultRateWindow)
	v.SetDefault("create-if-missing", false)

	cfg := &Config{
		ListenAddress:   v.GetString("listen-address"),
		DatabasePath:    v.GetString("database-path"),
		Issuer:          strings.TrimRight(v.GetString("issuer"), "/"),
		RedisURL:        v.GetString("redis-url"),
		CookieDomain:    v.GetString("cookie-domain"),
		CookieSecure:    v.GetBool("cookie-secure"),
		UpstreamURL:     v.GetString("upstream-url"),
		ProjectionURL:   v.GetString("projection-url"),
		ProjectionToken: v.GetString("projection-token"),
		CodeTTL:         v.GetDuration("code-ttl"),
		AccessTokenTTL:  v.GetDuration("access-token-ttl"),
		RefreshTokenTTL: v.GetDuration("refresh-token-ttl"),
		SessionTTL:      v.GetDuration("session-ttl"),
		IdentityTTL:     v.GetDuration("identity-ttl"),
		OutboxBatchSize: v.GetInt("outbox-batch-size"),
		OutboxTick:      v.GetDuration("outbox-tick"),
		RateLimit:       v.GetInt("rate-limit"),
		RateWindow:      v.GetDuration("rate-window"),
		CreateIfMissing: v.GetBool("create-if-missing"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ListenAddress == "" {
		return gateerr.NewValidationError("listen address must not be empty", nil)
	}
	if c.Issuer == "" {
		return gateerr.NewValidationError("issuer must not be empty", nil)
	}
	for name, ttl := range map[string]time.Duration{
		"code-ttl":          c.CodeTTL,
		"access-token-ttl":  c.AccessTokenTTL,
		"refresh-token-ttl": c.RefreshTokenTTL,
		"session-ttl":       c.SessionTTL,
		"identity-ttl":      c.IdentityTTL,
		"outbox-tick":       c.OutboxTick,
		"rate-window":       c.RateWindow,
	} {
		if ttl <= 0 {
			return gateerr.NewValidationError(name+" must be positive", nil)
		}
	}
	if c.OutboxBatchSize <= 0 {
		return gateerr.NewValidationError("outbox-batch-size must be positive", nil)
	}
	if c.RateLimit <= 0 {
		return gateerr.NewValidationError("rate-limit must be positive", nil)
	}
	return nil
}
