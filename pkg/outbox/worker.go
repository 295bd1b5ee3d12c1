// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package outbox drains the transactional outbox to the external
// projection: bounded batches per tick, exponential backoff between
// attempts, dead-lettering after the attempt budget.
package outbox

import (
	"context"
	"time"

	"github.com/lanolabs/authgate/pkg/logger"
	"github.com/lanolabs/authgate/pkg/storage"
	"github.com/lanolabs/authgate/pkg/telemetry"
)

// Defaults.
const (
	DefaultTickInterval   = 5 * time.Second
	DefaultBatchSize      = 50
	DefaultAttemptTimeout = 10 * time.Second
	DefaultMaxAttempts    = 5
	DefaultBaseDelay      = 30 * time.Second
	DefaultMaxDelay       = time.Hour
)

// Config holds the worker's knobs. Zero fields take the defaults.
type Config struct {
	TickInterval   time.Duration
	BatchSize      int
	AttemptTimeout time.Duration
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	return c
}

// Worker drains the outbox.
type Worker struct {
	store      storage.Store
	projection Projection
	metrics    *telemetry.Metrics
	cfg        Config
	now        func() time.Time
}

// New creates the worker. metrics may be nil.
func New(store storage.Store, projection Projection, metrics *telemetry.Metrics, cfg Config) *Worker {
	return &Worker{
		store:      store,
		projection: projection,
		metrics:    metrics,
		cfg:        cfg.withDefaults(),
		now:        time.Now,
	}
}

// Run drains the outbox on every tick until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	logger.Infow("outbox worker started",
		"tick", w.cfg.TickInterval.String(),
		"batch_size", w.cfg.BatchSize,
	)
	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("outbox worker stopped")
			return nil
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil {
				logger.Errorw("outbox tick failed", "error", err.Error())
			}
		}
	}
}

// Tick processes one bounded batch of due entries, then refreshes the
// health gauges.
func (w *Worker) Tick(ctx context.Context) error {
	now := w.now()
	due, err := w.store.Outbox().FetchDue(ctx, w.cfg.BatchSize, now)
	if err != nil {
		return err
	}

	for _, entry := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.process(ctx, entry)
	}

	w.refreshGauges(ctx)
	return nil
}

// process attempts one delivery and records the outcome.
func (w *Worker) process(ctx context.Context, entry *storage.OutboxEntry) {
	event, err := w.store.Events().GetEvent(ctx, entry.EventID)
	if err != nil {
		// A missing event cannot ever deliver; dead-letter immediately.
		logger.Errorw("outbox entry references missing event",
			"outbox_id", entry.ID,
			"event_id", entry.EventID,
		)
		_ = w.store.Outbox().MarkFailed(ctx, entry.ID, entry.Attempts, "event not found")
		return
	}

	// Each attempt gets its own deadline, independent of the request that
	// enqueued the row.
	attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.AttemptTimeout)
	err = w.projection.Deliver(attemptCtx, event)
	cancel()

	now := w.now()
	if err == nil {
		w.count("sent")
		if err := w.store.Outbox().MarkSent(ctx, entry.ID, now); err != nil {
			logger.Errorw("marking outbox entry sent", "outbox_id", entry.ID, "error", err.Error())
		}
		return
	}

	attempts := entry.Attempts + 1
	if attempts >= w.cfg.MaxAttempts {
		w.count("dead_letter")
		logger.Errorw("outbox entry dead-lettered",
			"outbox_id", entry.ID,
			"event_id", entry.EventID,
			"attempts", attempts,
			"error", err.Error(),
		)
		if err := w.store.Outbox().MarkFailed(ctx, entry.ID, attempts, err.Error()); err != nil {
			logger.Errorw("marking outbox entry failed", "outbox_id", entry.ID, "error", err.Error())
		}
		return
	}

	w.count("retry")
	next := now.Add(w.delay(entry.Attempts))
	logger.Warnw("outbox delivery failed, scheduling retry",
		"outbox_id", entry.ID,
		"attempts", attempts,
		"next_attempt_at", next.Format(time.RFC3339),
		"error", err.Error(),
	)
	if err := w.store.Outbox().MarkRetry(ctx, entry.ID, attempts, next, err.Error()); err != nil {
		logger.Errorw("marking outbox entry for retry", "outbox_id", entry.ID, "error", err.Error())
	}
}

// delay computes min(base * 2^attempts, cap) for the given prior-attempt
// count.
func (w *Worker) delay(attempts int) time.Duration {
	d := w.cfg.BaseDelay
	for range attempts {
		d *= 2
		if d >= w.cfg.MaxDelay {
			return w.cfg.MaxDelay
		}
	}
	return d
}

// Stats reports outbox health for probes.
func (w *Worker) Stats(ctx context.Context) (*storage.OutboxStats, error) {
	return w.store.Outbox().Stats(ctx)
}

func (w *Worker) refreshGauges(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	stats, err := w.store.Outbox().Stats(ctx)
	if err != nil {
		logger.Debugw("reading outbox stats", "error", err.Error())
		return
	}
	w.metrics.OutboxPending.Set(float64(stats.Pending))
	w.metrics.OutboxFailed.Set(float64(stats.Failed))
	w.metrics.OutboxOldestPending.Set(float64(stats.OldestPendingSeconds))
}

func (w *Worker) count(outcome string) {
	if w.metrics != nil {
		w.metrics.OutboxDeliveries.WithLabelValues(outcome).Inc()
	}
}
