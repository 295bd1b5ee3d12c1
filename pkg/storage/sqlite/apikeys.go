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

type apiKeyStore struct {
	q querier
}

var _ storage.APIKeyStore = (*apiKeyStore)(nil)

const apiKeyColumns = `id, name, key_hash, user_id, access_level, permissions,
	expires_at, last_used_at, is_active, created_at, updated_at`

func (s *apiKeyStore) InsertKey(ctx context.Context, key *storage.APIKey) error {
	permissions, err := encodeStrings(key.Permissions)
	if err != nil {
		return err
	}

	now := time.Now()
	if key.CreatedAt.IsZero() {
		key.CreatedAt = now
	}
	key.UpdatedAt = now

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO api_keys (
			id, name, key_hash, user_id, access_level, permissions,
			expires_at, last_used_at, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID,
		key.Name,
		key.KeyHash,
		key.UserID,
		key.AccessLevel,
		permissions,
		fmtNullTime(key.ExpiresAt),
		fmtNullTime(key.LastUsedAt),
		key.IsActive,
		fmtTime(key.CreatedAt),
		fmtTime(key.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting api key: %w", err)
	}
	return nil
}

func (s *apiKeyStore) GetKeyByHash(ctx context.Context, keyHash string) (*storage.APIKey, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ?`,
		keyHash,
	)
	return scanAPIKey(row)
}

func (s *apiKeyStore) GetKeyByID(ctx context.Context, id string) (*storage.APIKey, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`,
		id,
	)
	return scanAPIKey(row)
}

func (s *apiKeyStore) ListKeysByUser(ctx context.Context, userID string) ([]*storage.APIKey, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id = ? ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []*storage.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating api key rows: %w", err)
	}
	return keys, nil
}

func (s *apiKeyStore) ActiveKeyNameExists(ctx context.Context, userID, name string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM api_keys WHERE user_id = ? AND name = ? AND is_active = 1
		)`,
		userID, name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking api key name: %w", err)
	}
	return exists, nil
}

func (s *apiKeyStore) ReplaceKeyHash(ctx context.Context, id, newHash string, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE api_keys SET key_hash = ?, updated_at = ? WHERE id = ?`,
		newHash, fmtTime(at), id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("replacing api key hash: %w", err)
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

func (s *apiKeyStore) DeactivateKey(ctx context.Context, id string, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE api_keys SET is_active = 0, updated_at = ? WHERE id = ?`,
		fmtTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("deactivating api key: %w", err)
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

func (s *apiKeyStore) DeleteKey(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting api key: %w", err)
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

func (s *apiKeyStore) UpdateKeyLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
		fmtTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("updating api key last_used_at: %w", err)
	}
	return nil
}

// ImportLegacyKey loads a row imported from the previous key store.
func (s *apiKeyStore) ImportLegacyKey(ctx context.Context, key *storage.APIKey) error {
	permissions, err := encodeStrings(key.Permissions)
	if err != nil {
		return err
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO legacy_api_keys (
			id, name, key_hash, user_id, access_level, permissions,
			expires_at, is_active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID,
		key.Name,
		key.KeyHash,
		key.UserID,
		key.AccessLevel,
		permissions,
		fmtNullTime(key.ExpiresAt),
		key.IsActive,
		fmtTime(key.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("importing legacy api key: %w", err)
	}
	return nil
}

// GetLegacyKeyByHash reads the migration-window table. Legacy rows carry no
// rotation metadata; they validate or they don't.
func (s *apiKeyStore) GetLegacyKeyByHash(ctx context.Context, keyHash string) (*storage.APIKey, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, name, key_hash, user_id, access_level, permissions,
			expires_at, is_active, created_at
		FROM legacy_api_keys WHERE key_hash = ?`,
		keyHash,
	)

	var (
		k           storage.APIKey
		permissions string
		expiresAt   sql.NullString
		createdStr  string
	)
	err := row.Scan(
		&k.ID, &k.Name, &k.KeyHash, &k.UserID, &k.AccessLevel, &permissions,
		&expiresAt, &k.IsActive, &createdStr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning legacy api key row: %w", err)
	}

	if k.Permissions, err = decodeStrings(permissions); err != nil {
		return nil, err
	}
	if k.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, err
	}
	if k.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	return &k, nil
}

func scanAPIKey(sc scanner) (*storage.APIKey, error) {
	var (
		k                      storage.APIKey
		permissions            string
		expiresAt, lastUsedAt  sql.NullString
		createdStr, updatedStr string
	)

	err := sc.Scan(
		&k.ID, &k.Name, &k.KeyHash, &k.UserID, &k.AccessLevel, &permissions,
		&expiresAt, &lastUsedAt, &k.IsActive, &createdStr, &updatedStr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning api key row: %w", err)
	}

	if k.Permissions, err = decodeStrings(permissions); err != nil {
		return nil, err
	}
	if k.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, err
	}
	if k.LastUsedAt, err = parseNullTime(lastUsedAt); err != nil {
		return nil, err
	}
	if k.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	if k.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, err
	}
	return &k, nil
}
