// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// RedisConfig holds connection configuration for the durable KV tier.
type RedisConfig struct {
	// URL is a redis:// connection URL.
	URL string

	// KeyPrefix namespaces the gateway's keys, e.g. "authgate:".
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisLayer is the durable KV tier. It is treated strictly as a cache:
// its failures are reported to the tiered composite, which logs and moves
// on to the authoritative tier.
type RedisLayer struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ Layer = (*RedisLayer)(nil)

// NewRedisLayer connects to Redis and verifies connectivity.
func NewRedisLayer(ctx context.Context, cfg RedisConfig) (*RedisLayer, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis URL is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisLayer{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

// NewRedisLayerWithClient creates a RedisLayer with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisLayerWithClient(client redis.UniversalClient, keyPrefix string) *RedisLayer {
	return &RedisLayer{client: client, keyPrefix: keyPrefix}
}

// Client exposes the underlying connection so other Redis-backed components
// (the rate limiter) can share it.
func (r *RedisLayer) Client() redis.UniversalClient {
	return r.client
}

// Name implements Layer.
func (*RedisLayer) Name() string { return LayerRedis }

// Get implements Layer.
func (r *RedisLayer) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return value, nil
}

// Set implements Layer.
func (r *RedisLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete implements Layer.
func (r *RedisLayer) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the Redis client connection.
func (r *RedisLayer) Close() error {
	return r.client.Close()
}

// Ping checks Redis connectivity (health check).
func (r *RedisLayer) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
