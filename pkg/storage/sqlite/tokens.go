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

type tokenStore struct {
	q querier
}

var _ storage.TokenStore = (*tokenStore)(nil)

const tokenColumns = `id, token_hash, token_type, client_id, user_id, scope,
	parent_token_id, code_id, expires_at, revoked, revoked_at, revoked_reason,
	created_at`

func (s *tokenStore) InsertToken(ctx context.Context, token *storage.OAuthToken) error {
	scope, err := encodeStrings(token.Scope)
	if err != nil {
		return err
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	var parent, codeID any
	if token.ParentTokenID != nil {
		parent = *token.ParentTokenID
	}
	if token.CodeID != nil {
		codeID = *token.CodeID
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO oauth_tokens (
			id, token_hash, token_type, client_id, user_id, scope,
			parent_token_id, code_id, expires_at, revoked, revoked_at,
			revoked_reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, '', ?)`,
		token.ID,
		token.TokenHash,
		string(token.TokenType),
		token.ClientID,
		token.UserID,
		scope,
		parent,
		codeID,
		fmtTime(token.ExpiresAt),
		fmtTime(token.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting oauth token: %w", err)
	}
	return nil
}

func (s *tokenStore) GetTokenByHash(ctx context.Context, tokenHash string) (*storage.OAuthToken, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM oauth_tokens WHERE token_hash = ?`,
		tokenHash,
	)
	return scanToken(row)
}

func (s *tokenStore) GetTokenByID(ctx context.Context, id string) (*storage.OAuthToken, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM oauth_tokens WHERE id = ?`,
		id,
	)
	return scanToken(row)
}

func (s *tokenStore) ListChildTokens(ctx context.Context, parentID string) ([]*storage.OAuthToken, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM oauth_tokens WHERE parent_token_id = ?`,
		parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying child tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tokens []*storage.OAuthToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating token rows: %w", err)
	}
	return tokens, nil
}

func (s *tokenStore) GetRefreshByCodeID(ctx context.Context, codeID string) (*storage.OAuthToken, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM oauth_tokens WHERE code_id = ? AND token_type = 'refresh'`,
		codeID,
	)
	return scanToken(row)
}

// RevokeToken records a revocation reason on a live token. Already-revoked
// tokens keep their original reason so replay forensics stay intact.
func (s *tokenStore) RevokeToken(ctx context.Context, id, reason string, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE oauth_tokens
		SET revoked = 1, revoked_at = ?, revoked_reason = ?
		WHERE id = ? AND revoked = 0`,
		fmtTime(at), reason, id,
	)
	if err != nil {
		return fmt.Errorf("revoking oauth token: %w", err)
	}
	return nil
}

func scanToken(sc scanner) (*storage.OAuthToken, error) {
	var (
		t                         storage.OAuthToken
		tokenType, scope          string
		parent, codeID, revokedAt sql.NullString
		expiresAtStr, createdStr  string
	)

	err := sc.Scan(
		&t.ID, &t.TokenHash, &tokenType, &t.ClientID, &t.UserID, &scope,
		&parent, &codeID, &expiresAtStr, &t.Revoked, &revokedAt,
		&t.RevokedReason, &createdStr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning oauth token row: %w", err)
	}

	t.TokenType = storage.TokenType(tokenType)
	if parent.Valid {
		p := parent.String
		t.ParentTokenID = &p
	}
	if codeID.Valid {
		c := codeID.String
		t.CodeID = &c
	}
	if t.Scope, err = decodeStrings(scope); err != nil {
		return nil, err
	}
	if t.ExpiresAt, err = parseTime(expiresAtStr); err != nil {
		return nil, err
	}
	if t.RevokedAt, err = parseNullTime(revokedAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	return &t, nil
}
