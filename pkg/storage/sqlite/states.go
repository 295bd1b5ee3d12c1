// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lanolabs/authgate/pkg/storage"
)

type stateStore struct {
	q querier
}

var _ storage.StateStore = (*stateStore)(nil)

func (s *stateStore) PutState(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	now := time.Now()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO oauth_states (key, value, expires_at, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at`,
		key, value, fmtTime(expiresAt), fmtTime(now),
	)
	if err != nil {
		return fmt.Errorf("storing oauth state: %w", err)
	}
	return nil
}

func (s *stateStore) GetState(ctx context.Context, key string) ([]byte, error) {
	var (
		value      []byte
		expiresStr string
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT value, expires_at FROM oauth_states WHERE key = ?`,
		key,
	).Scan(&value, &expiresStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("querying oauth state: %w", err)
	}

	expiresAt, err := parseTime(expiresStr)
	if err != nil {
		return nil, err
	}
	if !time.Now().Before(expiresAt) {
		// Expired rows read as missing; the sweeper deletes them later.
		return nil, storage.ErrNotFound
	}
	return value, nil
}

func (s *stateStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM oauth_states WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting oauth state: %w", err)
	}
	return nil
}

func (s *stateStore) DeleteExpiredStates(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM oauth_states WHERE expires_at < ?`,
		fmtTime(before),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired oauth states: %w", err)
	}
	return res.RowsAffected()
}
