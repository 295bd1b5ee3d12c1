// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package cache implements the gateway's tiered cache: an in-process map,
// an optional Redis tier shared across instances, and the authoritative
// relational bottom tier. Reads walk the tiers top-down; writes and
// invalidations go to every reachable tier.
package cache

import (
	"context"
	"errors"
	"time"
)

// Layer names reported on hits.
const (
	LayerMemory   = "memory"
	LayerRedis    = "redis"
	LayerDatabase = "database"
)

// ErrMiss is returned by a layer when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Layer is a single cache tier.
type Layer interface {
	// Name identifies the layer in logs and metrics.
	Name() string

	// Get returns the value for key, or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
