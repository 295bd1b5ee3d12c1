// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit implements sliding-window request limiting. Limiters
// fail open: when the backing store is unavailable the request is allowed
// and the failure is logged, so an outage degrades protection rather than
// availability.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a limiter check, carrying the metadata the
// HTTP layer exposes in RateLimit-* headers.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Config bounds a sliding window.
type Config struct {
	// Limit is the maximum number of requests per window.
	Limit int

	// Window is the sliding interval.
	Window time.Duration
}
