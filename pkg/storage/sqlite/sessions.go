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

type sessionStore struct {
	q querier
}

var _ storage.SessionStore = (*sessionStore)(nil)

const sessionColumns = `id, user_id, platform, token_hash, refresh_token_hash,
	client_id, scope, ip_address, user_agent, metadata, expires_at,
	last_used_at, created_at`

func (s *sessionStore) InsertSession(ctx context.Context, session *storage.Session) error {
	scope, err := encodeStrings(session.Scope)
	if err != nil {
		return err
	}
	metadata, err := encodeMap(session.Metadata)
	if err != nil {
		return err
	}

	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastUsedAt.IsZero() {
		session.LastUsedAt = now
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO sessions (
			id, user_id, platform, token_hash, refresh_token_hash, client_id,
			scope, ip_address, user_agent, metadata, expires_at, last_used_at,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.UserID,
		session.Platform,
		session.TokenHash,
		session.RefreshTokenHash,
		session.ClientID,
		scope,
		session.IPAddress,
		session.UserAgent,
		metadata,
		fmtTime(session.ExpiresAt),
		fmtTime(session.LastUsedAt),
		fmtTime(session.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (s *sessionStore) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*storage.Session, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token_hash = ?`,
		tokenHash,
	)
	return scanSession(row)
}

func (s *sessionStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE sessions SET last_used_at = ? WHERE id = ?`,
		fmtTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
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

func (s *sessionStore) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) (*storage.Session, error) {
	session, err := s.GetSessionByTokenHash(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, session.ID); err != nil {
		return nil, fmt.Errorf("deleting session: %w", err)
	}
	return session, nil
}

func (s *sessionStore) DeleteSessionsByUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("deleting user sessions: %w", err)
	}
	return res.RowsAffected()
}

func scanSession(sc scanner) (*storage.Session, error) {
	var (
		sess                                 storage.Session
		scope, metadata                      string
		expiresAtStr, lastUsedStr, createdAt string
	)

	err := sc.Scan(
		&sess.ID, &sess.UserID, &sess.Platform, &sess.TokenHash,
		&sess.RefreshTokenHash, &sess.ClientID, &scope, &sess.IPAddress,
		&sess.UserAgent, &metadata, &expiresAtStr, &lastUsedStr, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning session row: %w", err)
	}

	if sess.Scope, err = decodeStrings(scope); err != nil {
		return nil, err
	}
	if sess.Metadata, err = decodeMap(metadata); err != nil {
		return nil, err
	}
	if sess.ExpiresAt, err = parseTime(expiresAtStr); err != nil {
		return nil, err
	}
	if sess.LastUsedAt, err = parseTime(lastUsedStr); err != nil {
		return nil, err
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &sess, nil
}
