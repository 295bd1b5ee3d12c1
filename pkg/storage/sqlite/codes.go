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

type codeStore struct {
	q querier
}

var _ storage.CodeStore = (*codeStore)(nil)

const codeColumns = `id, code_hash, client_id, user_id, code_challenge,
	code_challenge_method, redirect_uri, scope, state, ip_address, user_agent,
	expires_at, consumed, consumed_at, created_at`

func (s *codeStore) InsertCode(ctx context.Context, code *storage.AuthorizationCode) error {
	scope, err := encodeStrings(code.Scope)
	if err != nil {
		return err
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now()
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO oauth_authorization_codes (
			id, code_hash, client_id, user_id, code_challenge,
			code_challenge_method, redirect_uri, scope, state, ip_address,
			user_agent, expires_at, consumed, consumed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?)`,
		code.ID,
		code.CodeHash,
		code.ClientID,
		code.UserID,
		code.CodeChallenge,
		code.CodeChallengeMethod,
		code.RedirectURI,
		scope,
		code.State,
		code.IPAddress,
		code.UserAgent,
		fmtTime(code.ExpiresAt),
		fmtTime(code.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting authorization code: %w", err)
	}
	return nil
}

func (s *codeStore) GetCodeByHash(ctx context.Context, codeHash string) (*storage.AuthorizationCode, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+codeColumns+` FROM oauth_authorization_codes WHERE code_hash = ?`,
		codeHash,
	)
	return scanCode(row)
}

// MarkCodeConsumed flips the consumed flag iff it was still clear. The
// guarded UPDATE is the serialization point for one-time consumption:
// concurrent /token requests on the same code observe at most one success.
func (s *codeStore) MarkCodeConsumed(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE oauth_authorization_codes
		SET consumed = 1, consumed_at = ?
		WHERE id = ? AND consumed = 0`,
		fmtTime(at), id,
	)
	if err != nil {
		return false, fmt.Errorf("consuming authorization code: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return affected == 1, nil
}

func (s *codeStore) DeleteExpiredCodes(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM oauth_authorization_codes WHERE expires_at < ?`,
		fmtTime(before),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired authorization codes: %w", err)
	}
	return res.RowsAffected()
}

func scanCode(sc scanner) (*storage.AuthorizationCode, error) {
	var (
		c                        storage.AuthorizationCode
		scope                    string
		expiresAtStr, createdStr string
		consumedAt               sql.NullString
	)

	err := sc.Scan(
		&c.ID, &c.CodeHash, &c.ClientID, &c.UserID, &c.CodeChallenge,
		&c.CodeChallengeMethod, &c.RedirectURI, &scope, &c.State,
		&c.IPAddress, &c.UserAgent, &expiresAtStr, &c.Consumed,
		&consumedAt, &createdStr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning authorization code row: %w", err)
	}

	if c.Scope, err = decodeStrings(scope); err != nil {
		return nil, err
	}
	if c.ExpiresAt, err = parseTime(expiresAtStr); err != nil {
		return nil, err
	}
	if c.ConsumedAt, err = parseNullTime(consumedAt); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	return &c, nil
}
