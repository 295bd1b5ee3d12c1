// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLayerRoundTrip(t *testing.T) {
	t.Parallel()

	m := NewMemoryLayer(MemoryConfig{})
	defer m.Close()
	ctx := context.Background()

	_, err := m.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	value, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)

	require.NoError(t, m.Delete(ctx, "k"))
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryLayerExpiry(t *testing.T) {
	t.Parallel()

	m := NewMemoryLayer(MemoryConfig{})
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryLayerCapDropsNewKeys(t *testing.T) {
	t.Parallel()

	m := NewMemoryLayer(MemoryConfig{MaxKeys: 2})
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, m.Set(ctx, "c", []byte("3"), time.Minute))

	assert.Equal(t, 2, m.Len())
	_, err := m.Get(ctx, "c")
	assert.ErrorIs(t, err, ErrMiss)

	// Existing keys can still be updated at capacity.
	require.NoError(t, m.Set(ctx, "a", []byte("1b"), time.Minute))
	value, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1b"), value)
}

func TestRedisLayer(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	layer := NewRedisLayerWithClient(client, "authgate:")
	defer layer.Close()
	ctx := context.Background()

	_, err := layer.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, layer.Set(ctx, "k", []byte("v"), time.Minute))
	value, err := layer.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)

	// The key prefix namespaces raw Redis keys.
	assert.True(t, mr.Exists("authgate:k"))

	mr.FastForward(2 * time.Minute)
	_, err = layer.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

// failingLayer simulates an unavailable tier.
type failingLayer struct {
	name string
}

func (f *failingLayer) Name() string { return f.name }

func (*failingLayer) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("tier unavailable")
}

func (*failingLayer) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("tier unavailable")
}

func (*failingLayer) Delete(context.Context, string) error {
	return errors.New("tier unavailable")
}

func TestTieredWarmsUpperLayers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l1 := NewMemoryLayer(MemoryConfig{})
	defer l1.Close()
	l2 := NewMemoryLayer(MemoryConfig{})
	defer l2.Close()

	tiered := NewTiered(nil, l1, l2)

	// Seed only the bottom tier, as if the process had restarted.
	require.NoError(t, l2.Set(ctx, "k", []byte("v"), time.Minute))

	value, servedBy, err := tiered.Get(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
	assert.Equal(t, LayerMemory, servedBy)

	// The hit warmed L1, so the next read is served there.
	value, err = l1.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}

func TestTieredFallsThroughFailedUpperTier(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bottom := NewMemoryLayer(MemoryConfig{})
	defer bottom.Close()

	tiered := NewTiered(nil, &failingLayer{name: LayerRedis}, bottom)

	// Writes succeed despite the broken upper tier.
	require.NoError(t, tiered.Set(ctx, "k", []byte("v"), time.Minute))

	value, servedBy, err := tiered.Get(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
	assert.Equal(t, bottom.Name(), servedBy)

	require.NoError(t, tiered.Delete(ctx, "k"))
	_, _, err = tiered.Get(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestTieredAuthoritativeFailurePropagates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	top := NewMemoryLayer(MemoryConfig{})
	defer top.Close()

	tiered := NewTiered(nil, top, &failingLayer{name: LayerDatabase})

	_, _, err := tiered.Get(ctx, "k", time.Minute)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)

	assert.Error(t, tiered.Set(ctx, "k", []byte("v"), time.Minute))
	assert.Error(t, tiered.Delete(ctx, "k"))
}

func TestTieredMissEverywhere(t *testing.T) {
	t.Parallel()

	l1 := NewMemoryLayer(MemoryConfig{})
	defer l1.Close()
	l2 := NewMemoryLayer(MemoryConfig{})
	defer l2.Close()

	_, _, err := NewTiered(nil, l1, l2).Get(context.Background(), "absent", time.Minute)
	assert.ErrorIs(t, err, ErrMiss)
}
