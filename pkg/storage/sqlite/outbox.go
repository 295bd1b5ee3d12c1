// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lanolabs/authgate/pkg/storage"
)

type outboxStore struct {
	q querier
}

var _ storage.OutboxStore = (*outboxStore)(nil)

const outboxColumns = `id, event_id, destination, status, attempts,
	next_attempt_at, error, created_at, updated_at`

func (s *outboxStore) Enqueue(ctx context.Context, entry *storage.OutboxEntry) error {
	now := time.Now()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Destination == "" {
		entry.Destination = storage.DefaultOutboxDestination
	}
	if entry.Status == "" {
		entry.Status = storage.OutboxStatusPending
	}
	if entry.NextAttemptAt.IsZero() {
		entry.NextAttemptAt = now
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO outbox (
			id, event_id, destination, status, attempts, next_attempt_at,
			error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.EventID,
		entry.Destination,
		entry.Status,
		entry.Attempts,
		fmtTime(entry.NextAttemptAt),
		entry.Error,
		fmtTime(entry.CreatedAt),
		fmtTime(entry.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("enqueueing outbox entry: %w", err)
	}
	return nil
}

func (s *outboxStore) FetchDue(ctx context.Context, limit int, now time.Time) ([]*storage.OutboxEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+outboxColumns+` FROM outbox
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY next_attempt_at
		LIMIT ?`,
		storage.OutboxStatusPending, fmtTime(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying due outbox entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*storage.OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outbox rows: %w", err)
	}
	return entries, nil
}

func (s *outboxStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, id, `
		UPDATE outbox SET status = ?, error = '', updated_at = ? WHERE id = ?`,
		storage.OutboxStatusSent, fmtTime(at), id,
	)
}

func (s *outboxStore) MarkRetry(
	ctx context.Context, id string, attempts int, nextAttempt time.Time, deliveryErr string,
) error {
	return s.update(ctx, id, `
		UPDATE outbox
		SET attempts = ?, next_attempt_at = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		attempts, fmtTime(nextAttempt), truncateError(deliveryErr),
		fmtTime(time.Now()), id,
	)
}

func (s *outboxStore) MarkFailed(ctx context.Context, id string, attempts int, deliveryErr string) error {
	return s.update(ctx, id, `
		UPDATE outbox
		SET status = ?, attempts = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		storage.OutboxStatusFailed, attempts, truncateError(deliveryErr),
		fmtTime(time.Now()), id,
	)
}

func (s *outboxStore) update(ctx context.Context, id, query string, args ...any) error {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating outbox entry %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *outboxStore) Stats(ctx context.Context) (*storage.OutboxStats, error) {
	stats := &storage.OutboxStats{}

	var oldest sql.NullString
	err := s.q.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN status = 'pending' THEN 1 END),
			COUNT(CASE WHEN status = 'failed' THEN 1 END),
			MIN(CASE WHEN status = 'pending' THEN created_at END)
		FROM outbox`,
	).Scan(&stats.Pending, &stats.Failed, &oldest)
	if err != nil {
		return nil, fmt.Errorf("querying outbox stats: %w", err)
	}

	if oldest.Valid {
		t, err := parseTime(oldest.String)
		if err != nil {
			return nil, err
		}
		stats.OldestPendingSeconds = int64(time.Since(t).Seconds())
	}
	return stats, nil
}

// maxErrorLength bounds stored delivery errors so a chatty projection
// endpoint cannot bloat the table.
const maxErrorLength = 512

func truncateError(s string) string {
	if len(s) > maxErrorLength {
		return s[:maxErrorLength]
	}
	return s
}

func scanOutbox(sc scanner) (*storage.OutboxEntry, error) {
	var (
		e                               storage.OutboxEntry
		nextStr, createdStr, updatedStr string
	)

	err := sc.Scan(
		&e.ID, &e.EventID, &e.Destination, &e.Status, &e.Attempts,
		&nextStr, &e.Error, &createdStr, &updatedStr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning outbox row: %w", err)
	}

	if e.NextAttemptAt, err = parseTime(nextStr); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, err
	}
	return &e, nil
}
