// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(Config{Limit: 3, Window: time.Minute})
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := range 3 {
		decision, err := limiter.Allow(ctx, "client-a")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, 3, decision.Limit)
		assert.Equal(t, 2-i, decision.Remaining)
	}

	decision, err := limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, now.Add(time.Minute), decision.ResetAt)

	// Other keys are unaffected.
	decision, err = limiter.Allow(ctx, "client-b")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// Once the window slides past the oldest request, capacity returns.
	now = now.Add(61 * time.Second)
	decision, err = limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestRedisLimiterSlidingWindow(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewRedisLimiter(client, "authgate:", Config{Limit: 2, Window: time.Minute})
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	decision, err := limiter.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1, decision.Remaining)

	now = now.Add(time.Second)
	decision, err = limiter.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)

	now = now.Add(time.Second)
	decision, err = limiter.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	// Advancing past the first request's window frees one slot.
	now = now.Add(time.Minute)
	decision, err = limiter.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// Exactly one ratelimit segment under the caller's prefix.
	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, "authgate:ratelimit:1.2.3.4", keys[0])
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	limiter := NewRedisLimiter(client, "authgate:", Config{Limit: 1, Window: time.Minute})

	for range 3 {
		decision, err := limiter.Allow(context.Background(), "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}
}
