// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gateerr "github.com/lanolabs/authgate/pkg/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddress, cfg.ListenAddress)
	assert.Equal(t, DefaultDatabasePath, cfg.DatabasePath)
	assert.Equal(t, DefaultIssuer, cfg.Issuer)
	assert.Empty(t, cfg.RedisURL)
	assert.True(t, cfg.CookieSecure)
	assert.Equal(t, DefaultCodeTTL, cfg.CodeTTL)
	assert.Equal(t, DefaultRefreshTokenTTL, cfg.RefreshTokenTTL)
	assert.Equal(t, DefaultOutboxBatchSize, cfg.OutboxBatchSize)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimit)
	assert.False(t, cfg.CreateIfMissing)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("AUTHGATE_LISTEN_ADDRESS", ":9999")
	t.Setenv("AUTHGATE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("AUTHGATE_COOKIE_DOMAIN", "example.dev")
	t.Setenv("AUTHGATE_ACCESS_TOKEN_TTL", "30m")
	t.Setenv("AUTHGATE_OUTBOX_BATCH_SIZE", "10")
	t.Setenv("AUTHGATE_CREATE_IF_MISSING", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ListenAddress)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "example.dev", cfg.CookieDomain)
	assert.Equal(t, 30*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 10, cfg.OutboxBatchSize)
	assert.True(t, cfg.CreateIfMissing)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero code ttl", "AUTHGATE_CODE_TTL", "0s"},
		{"negative rate window", "AUTHGATE_RATE_WINDOW", "-1m"},
		{"zero batch size", "AUTHGATE_OUTBOX_BATCH_SIZE", "0"},
		{"zero rate limit", "AUTHGATE_RATE_LIMIT", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.True(t, gateerr.IsValidation(err))
		})
	}
}
