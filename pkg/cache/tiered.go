// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/lanolabs/authgate/pkg/logger"
	"github.com/lanolabs/authgate/pkg/telemetry"
)

// Tiered composes cache layers ordered fastest-first. The final layer is
// authoritative: its errors propagate, while upper-layer errors are logged
// and swallowed so a Redis or memory outage never blocks a request.
type Tiered struct {
	layers  []Layer
	metrics *telemetry.Metrics
}

// NewTiered creates a tiered cache. Layers must be ordered fastest-first
// and the last layer must be the authoritative one. metrics may be nil.
func NewTiered(metrics *telemetry.Metrics, layers ...Layer) *Tiered {
	return &Tiered{layers: layers, metrics: metrics}
}

// Get walks the tiers top-down and returns the first hit together with the
// name of the layer that served it. On a hit below the top, the layers
// above are warmed with warmTTL so the next read is served faster.
func (t *Tiered) Get(ctx context.Context, key string, warmTTL time.Duration) ([]byte, string, error) {
	for i, layer := range t.layers {
		value, err := layer.Get(ctx, key)
		if err == nil {
			t.count(layer.Name(), "hit")
			t.warm(ctx, key, value, warmTTL, i)
			return value, layer.Name(), nil
		}
		if errors.Is(err, ErrMiss) {
			t.count(layer.Name(), "miss")
			continue
		}

		t.count(layer.Name(), "error")
		if t.isAuthoritative(i) {
			return nil, "", err
		}
		logger.Warnw("cache layer failed, falling through",
			"layer", layer.Name(),
			"error", err.Error(),
		)
	}
	return nil, "", ErrMiss
}

// Set writes to every layer, best-effort above the authoritative tier.
func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var authErr error
	for i, layer := range t.layers {
		err := layer.Set(ctx, key, value, ttl)
		if err == nil {
			continue
		}
		if t.isAuthoritative(i) {
			authErr = err
			continue
		}
		logger.Warnw("cache layer write failed",
			"layer", layer.Name(),
			"error", err.Error(),
		)
	}
	return authErr
}

// Delete invalidates the key in every layer. The authoritative tier's
// error is returned; upper-tier failures are logged.
func (t *Tiered) Delete(ctx context.Context, key string) error {
	var authErr error
	for i, layer := range t.layers {
		err := layer.Delete(ctx, key)
		if err == nil {
			continue
		}
		if t.isAuthoritative(i) {
			authErr = err
			continue
		}
		logger.Warnw("cache layer delete failed",
			"layer", layer.Name(),
			"error", err.Error(),
		)
	}
	return authErr
}

func (t *Tiered) isAuthoritative(i int) bool {
	return i == len(t.layers)-1
}

// warm writes a value served by layer i into every layer above it.
func (t *Tiered) warm(ctx context.Context, key string, value []byte, ttl time.Duration, servedBy int) {
	if ttl <= 0 {
		return
	}
	for i := range servedBy {
		if err := t.layers[i].Set(ctx, key, value, ttl); err != nil {
			logger.Debugw("cache warm failed",
				"layer", t.layers[i].Name(),
				"error", err.Error(),
			)
		}
	}
}

func (t *Tiered) count(layer, outcome string) {
	if t.metrics != nil {
		t.metrics.CacheRequests.WithLabelValues(layer, outcome).Inc()
	}
}
