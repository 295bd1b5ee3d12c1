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

type clientStore struct {
	q querier
}

var _ storage.ClientStore = (*clientStore)(nil)

const clientColumns = `client_id, name, client_type, application_type, require_pkce,
	allowed_code_challenge_methods, allowed_redirect_uris, allowed_scopes,
	default_scopes, status, created_at, updated_at`

func (s *clientStore) CreateClient(ctx context.Context, client *storage.OAuthClient) error {
	methods, err := encodeStrings(client.AllowedCodeChallengeMethods)
	if err != nil {
		return err
	}
	uris, err := encodeStrings(client.AllowedRedirectURIs)
	if err != nil {
		return err
	}
	allowed, err := encodeStrings(client.AllowedScopes)
	if err != nil {
		return err
	}
	defaults, err := encodeStrings(client.DefaultScopes)
	if err != nil {
		return err
	}

	now := time.Now()
	if client.CreatedAt.IsZero() {
		client.CreatedAt = now
	}
	client.UpdatedAt = now

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO oauth_clients (
			client_id, name, client_type, application_type, require_pkce,
			allowed_code_challenge_methods, allowed_redirect_uris,
			allowed_scopes, default_scopes, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		client.ClientID,
		client.Name,
		string(client.ClientType),
		client.ApplicationType,
		client.RequirePKCE,
		methods,
		uris,
		allowed,
		defaults,
		string(client.Status),
		fmtTime(client.CreatedAt),
		fmtTime(client.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting oauth client: %w", err)
	}
	return nil
}

func (s *clientStore) GetClient(ctx context.Context, clientID string) (*storage.OAuthClient, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM oauth_clients WHERE client_id = ?`,
		clientID,
	)
	return scanClient(row)
}

func (s *clientStore) UpdateClient(ctx context.Context, client *storage.OAuthClient) error {
	methods, err := encodeStrings(client.AllowedCodeChallengeMethods)
	if err != nil {
		return err
	}
	uris, err := encodeStrings(client.AllowedRedirectURIs)
	if err != nil {
		return err
	}
	allowed, err := encodeStrings(client.AllowedScopes)
	if err != nil {
		return err
	}
	defaults, err := encodeStrings(client.DefaultScopes)
	if err != nil {
		return err
	}

	client.UpdatedAt = time.Now()

	res, err := s.q.ExecContext(ctx, `
		UPDATE oauth_clients SET
			name = ?, client_type = ?, application_type = ?, require_pkce = ?,
			allowed_code_challenge_methods = ?, allowed_redirect_uris = ?,
			allowed_scopes = ?, default_scopes = ?, status = ?, updated_at = ?
		WHERE client_id = ?`,
		client.Name,
		string(client.ClientType),
		client.ApplicationType,
		client.RequirePKCE,
		methods,
		uris,
		allowed,
		defaults,
		string(client.Status),
		fmtTime(client.UpdatedAt),
		client.ClientID,
	)
	if err != nil {
		return fmt.Errorf("updating oauth client: %w", err)
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

func scanClient(sc scanner) (*storage.OAuthClient, error) {
	var (
		c                                  storage.OAuthClient
		clientType, status                 string
		methods, uris, allowed, defaults   string
		createdAtStr, updatedAtStr         string
	)

	err := sc.Scan(
		&c.ClientID, &c.Name, &clientType, &c.ApplicationType, &c.RequirePKCE,
		&methods, &uris, &allowed, &defaults, &status,
		&createdAtStr, &updatedAtStr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning oauth client row: %w", err)
	}

	c.ClientType = storage.ClientType(clientType)
	c.Status = storage.ClientStatus(status)
	if c.AllowedCodeChallengeMethods, err = decodeStrings(methods); err != nil {
		return nil, err
	}
	if c.AllowedRedirectURIs, err = decodeStrings(uris); err != nil {
		return nil, err
	}
	if c.AllowedScopes, err = decodeStrings(allowed); err != nil {
		return nil, err
	}
	if c.DefaultScopes, err = decodeStrings(defaults); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, err
	}
	return &c, nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface{ Scan(dest ...any) error }
