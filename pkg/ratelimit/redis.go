// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lanolabs/authgate/pkg/logger"
)

// RedisLimiter is a sliding-window limiter shared across instances. Each
// key maps to a sorted set of request timestamps scored in unix
// nanoseconds; entries older than the window are pruned on every check.
type RedisLimiter struct {
	client    redis.UniversalClient
	keyPrefix string
	cfg       Config
	now       func() time.Time
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a Redis-backed sliding-window limiter.
func NewRedisLimiter(client redis.UniversalClient, keyPrefix string, cfg Config) *RedisLimiter {
	return &RedisLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Allow implements Limiter. Redis failures allow the request.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := r.now()
	redisKey := r.keyPrefix + "ratelimit:" + key
	cutoff := strconv.FormatInt(now.Add(-r.cfg.Window).UnixNano(), 10)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", cutoff)
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return r.failOpen(key, err), nil
	}

	count := int(countCmd.Val())
	decision := Decision{Limit: r.cfg.Limit, ResetAt: now.Add(r.cfg.Window)}

	if count >= r.cfg.Limit {
		if oldest, err := r.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result(); err == nil && len(oldest) > 0 {
			decision.ResetAt = time.Unix(0, int64(oldest[0].Score)).Add(r.cfg.Window)
		}
		return decision, nil
	}

	member := strconv.FormatInt(now.UnixNano(), 10)
	pipe = r.client.TxPipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, redisKey, r.cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return r.failOpen(key, err), nil
	}

	decision.Allowed = true
	decision.Remaining = r.cfg.Limit - count - 1
	return decision, nil
}

func (r *RedisLimiter) failOpen(key string, err error) Decision {
	logger.Warnw("rate limiter store unavailable, allowing request",
		"key", key,
		"error", err.Error(),
	)
	return Decision{
		Allowed:   true,
		Limit:     r.cfg.Limit,
		Remaining: r.cfg.Limit,
		ResetAt:   r.now().Add(r.cfg.Window),
	}
}
