// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lanolabs/authgate/pkg/api"
	"github.com/lanolabs/authgate/pkg/apikey"
	"github.com/lanolabs/authgate/pkg/audit"
	"github.com/lanolabs/authgate/pkg/cache"
	"github.com/lanolabs/authgate/pkg/config"
	"github.com/lanolabs/authgate/pkg/events"
	"github.com/lanolabs/authgate/pkg/identity"
	"github.com/lanolabs/authgate/pkg/logger"
	"github.com/lanolabs/authgate/pkg/oauth"
	"github.com/lanolabs/authgate/pkg/outbox"
	"github.com/lanolabs/authgate/pkg/ratelimit"
	"github.com/lanolabs/authgate/pkg/session"
	"github.com/lanolabs/authgate/pkg/storage/sqlite"
	"github.com/lanolabs/authgate/pkg/telemetry"
	"github.com/lanolabs/authgate/pkg/upstream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authentication gateway",
	Long: `Start the gateway HTTP server and, when a projection endpoint is
configured, the outbox delivery worker. All configuration comes from
AUTHGATE_* environment variables; the flags below override the most
commonly changed values.`,
	RunE: runServe,
}

const cacheKeyPrefix = "authgate:"

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides AUTHGATE_LISTEN_ADDRESS)")
	serveCmd.Flags().String("database", "", "SQLite database path (overrides AUTHGATE_DATABASE_PATH)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Flags().Changed("address") {
		cfg.ListenAddress, _ = cmd.Flags().GetString("address")
	}
	if cmd.Flags().Changed("database") {
		cfg.DatabasePath, _ = cmd.Flags().GetString("database")
	}

	store, err := sqlite.New(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	metrics := telemetry.New()

	// Cache tiers, fastest first. The database layer is authoritative; the
	// redis tier only joins when configured.
	memoryLayer := cache.NewMemoryLayer(cache.MemoryConfig{})
	defer memoryLayer.Close()
	layers := []cache.Layer{memoryLayer}

	var redisLayer *cache.RedisLayer
	if cfg.RedisURL != "" {
		redisLayer, err = cache.NewRedisLayer(ctx, cache.RedisConfig{
			URL:       cfg.RedisURL,
			KeyPrefix: cacheKeyPrefix,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisLayer.Close()
		layers = append(layers, redisLayer)
		logger.Infow("redis cache tier enabled")
	}
	layers = append(layers, cache.NewDatabaseLayer(store.States()))
	tiered := cache.NewTiered(metrics, layers...)

	recorder := events.NewRecorder()
	auditor := audit.New(recorder)
	sessions := session.New(store, recorder, auditor, session.Config{TTL: cfg.SessionTTL})
	keys := apikey.New(store, recorder, auditor)
	engine := oauth.New(store, recorder, auditor, tiered, oauth.Config{
		CodeTTL:         cfg.CodeTTL,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
	})
	resolver := identity.New(store, tiered, keys, recorder, identity.Config{
		TTL:             cfg.IdentityTTL,
		CreateIfMissing: cfg.CreateIfMissing,
	})

	// Revocations drop cached identity resolutions immediately.
	engine.OnRevoke(resolver.InvalidateBearerHash)
	sessions.OnRevoke(resolver.InvalidateSessionHash)
	keys.OnInvalidate(resolver.InvalidateAPIKeyHash)

	limitCfg := ratelimit.Config{Limit: cfg.RateLimit, Window: cfg.RateWindow}
	var limiter ratelimit.Limiter
	if redisLayer != nil {
		// The limiter adds its own "ratelimit:" segment under this prefix.
		limiter = ratelimit.NewRedisLimiter(redisLayer.Client(), cacheKeyPrefix, limitCfg)
	} else {
		limiter = ratelimit.NewMemoryLimiter(limitCfg)
	}

	var provider upstream.Provider
	if cfg.UpstreamURL != "" {
		provider = upstream.NewHTTPProvider(cfg.UpstreamURL, 0)
	} else {
		logger.Warnw("no upstream identity provider configured, password login is disabled")
	}

	var worker *outbox.Worker
	if cfg.ProjectionURL != "" {
		projection := outbox.NewHTTPProjection(cfg.ProjectionURL, cfg.ProjectionToken)
		worker = outbox.New(store, projection, metrics, outbox.Config{
			TickInterval: cfg.OutboxTick,
			BatchSize:    cfg.OutboxBatchSize,
		})
	} else {
		logger.Warnw("no projection endpoint configured, outbox delivery is disabled")
	}

	handler := api.NewRouter(api.Deps{
		Store:    store,
		OAuth:    engine,
		Sessions: sessions,
		Keys:     keys,
		Identity: resolver,
		Upstream: provider,
		Worker:   worker,
		Metrics:  metrics,
		Limiter:  limiter,
		Cookies: session.CookieConfig{
			Domain: cfg.CookieDomain,
			Secure: cfg.CookieSecure,
		},
		Issuer: cfg.Issuer,
	})

	logger.Infow("starting authentication gateway",
		"address", cfg.ListenAddress,
		"database", cfg.DatabasePath,
		"issuer", cfg.Issuer,
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return api.Serve(ctx, cfg.ListenAddress, handler)
	})
	if worker != nil {
		group.Go(func() error {
			return worker.Run(ctx)
		})
	}
	return group.Wait()
}
