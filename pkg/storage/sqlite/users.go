// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lanolabs/authgate/pkg/storage"
)

type userStore struct {
	q querier
}

var _ storage.UserStore = (*userStore)(nil)

const userColumns = `user_id, email, role, provider, raw_metadata, created_at,
	last_sign_in_at, updated_at`

// UpsertUser inserts or updates the account keyed on user_id. Emails are
// normalized to lowercase before storage.
func (s *userStore) UpsertUser(ctx context.Context, user *storage.UserAccount) error {
	metadata, err := encodeMap(user.RawMetadata)
	if err != nil {
		return err
	}

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	user.Email = strings.ToLower(user.Email)

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO user_accounts (
			user_id, email, role, provider, raw_metadata, created_at,
			last_sign_in_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			email = excluded.email,
			role = excluded.role,
			provider = excluded.provider,
			raw_metadata = excluded.raw_metadata,
			last_sign_in_at = COALESCE(excluded.last_sign_in_at, user_accounts.last_sign_in_at),
			updated_at = excluded.updated_at`,
		user.UserID,
		user.Email,
		user.Role,
		user.Provider,
		metadata,
		fmtTime(user.CreatedAt),
		fmtNullTime(user.LastSignInAt),
		fmtTime(user.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting user account: %w", err)
	}
	return nil
}

func (s *userStore) GetUser(ctx context.Context, userID string) (*storage.UserAccount, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM user_accounts WHERE user_id = ?`,
		userID,
	)
	return scanUser(row)
}

func (s *userStore) GetUserByEmail(ctx context.Context, email string) (*storage.UserAccount, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM user_accounts WHERE email = ?`,
		strings.ToLower(email),
	)
	return scanUser(row)
}

func scanUser(sc scanner) (*storage.UserAccount, error) {
	var (
		u                      storage.UserAccount
		metadata               string
		lastSignIn             sql.NullString
		createdStr, updatedStr string
	)

	err := sc.Scan(
		&u.UserID, &u.Email, &u.Role, &u.Provider, &metadata,
		&createdStr, &lastSignIn, &updatedStr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning user account row: %w", err)
	}

	if u.RawMetadata, err = decodeMap(metadata); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	if u.LastSignInAt, err = parseNullTime(lastSignIn); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, err
	}
	return &u, nil
}
