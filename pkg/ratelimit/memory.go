// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is an in-process sliding-window limiter. It tracks request
// timestamps per key and prunes entries outside the window on each check.
// Suitable for single-instance deployments and as the fallback when Redis
// is not configured.
type MemoryLimiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter creates an in-process sliding-window limiter.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	return &MemoryLimiter{
		cfg:     cfg,
		now:     time.Now,
		windows: make(map[string][]time.Time),
	}
}

// Allow implements Limiter.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()
	cutoff := now.Add(-m.cfg.Window)

	m.mu.Lock()
	defer m.mu.Unlock()

	stamps := m.windows[key]
	live := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}

	decision := Decision{
		Limit:   m.cfg.Limit,
		ResetAt: resetAt(live, now, m.cfg.Window),
	}

	if len(live) >= m.cfg.Limit {
		m.windows[key] = live
		return decision, nil
	}

	live = append(live, now)
	m.windows[key] = live
	decision.Allowed = true
	decision.Remaining = m.cfg.Limit - len(live)
	decision.ResetAt = resetAt(live, now, m.cfg.Window)
	return decision, nil
}

// resetAt reports when the oldest in-window request ages out.
func resetAt(stamps []time.Time, now time.Time, window time.Duration) time.Time {
	if len(stamps) == 0 {
		return now.Add(window)
	}
	return stamps[0].Add(window)
}
