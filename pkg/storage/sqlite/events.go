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

type eventStore struct {
	q querier
}

var _ storage.EventStore = (*eventStore)(nil)

const eventColumns = `event_id, aggregate_type, aggregate_id, version,
	event_type, event_type_version, payload, metadata, occurred_at`

// AppendEvent reads the aggregate's current max version and inserts the next
// one in a single statement pair. Callers run this inside the mutating
// transaction, which is what makes per-aggregate versions contiguous: the
// UNIQUE (aggregate_type, aggregate_id, version) constraint turns any racing
// writer into a retryable conflict.
func (s *eventStore) AppendEvent(ctx context.Context, event *storage.Event) error {
	var version int64
	err := s.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM events
		WHERE aggregate_type = ? AND aggregate_id = ?`,
		event.AggregateType, event.AggregateID,
	).Scan(&version)
	if err != nil {
		return fmt.Errorf("computing next event version: %w", err)
	}

	metadata, err := encodeMap(event.Metadata)
	if err != nil {
		return err
	}

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.EventTypeVersion == 0 {
		event.EventTypeVersion = 1
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	payload := string(event.Payload)
	if payload == "" {
		payload = "{}"
	}
	event.Version = version

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO events (
			event_id, aggregate_type, aggregate_id, version, event_type,
			event_type_version, payload, metadata, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID,
		event.AggregateType,
		event.AggregateID,
		event.Version,
		event.EventType,
		event.EventTypeVersion,
		payload,
		metadata,
		fmtTime(event.OccurredAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

func (s *eventStore) GetEvent(ctx context.Context, eventID string) (*storage.Event, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE event_id = ?`,
		eventID,
	)
	return scanEvent(row)
}

func (s *eventStore) ListEventsByAggregate(
	ctx context.Context, aggregateType, aggregateID string,
) ([]*storage.Event, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE aggregate_type = ? AND aggregate_id = ?
		ORDER BY version`,
		aggregateType, aggregateID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*storage.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}
	return events, nil
}

func scanEvent(sc scanner) (*storage.Event, error) {
	var (
		e                 storage.Event
		payload, metadata string
		occurredStr       string
	)

	err := sc.Scan(
		&e.EventID, &e.AggregateType, &e.AggregateID, &e.Version,
		&e.EventType, &e.EventTypeVersion, &payload, &metadata, &occurredStr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning event row: %w", err)
	}

	e.Payload = []byte(payload)
	if e.Metadata, err = decodeMap(metadata); err != nil {
		return nil, err
	}
	if e.OccurredAt, err = parseTime(occurredStr); err != nil {
		return nil, err
	}
	return &e, nil
}
