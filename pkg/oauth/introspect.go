// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"errors"

	"github.com/lanolabs/authgate/pkg/crypto"
	gateerr "github.com/lanolabs/authgate/pkg/errors"
	"github.com/lanolabs/authgate/pkg/storage"
)

// Introspection is the /oauth/introspect response. Inactive tokens reveal
// nothing beyond the active flag.
type Introspection struct {
	Active    bool   `json:"active"`
	ClientID  string `json:"client_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
}

// Introspect reports whether a presented token is live. Unknown tokens are
// not an error; they are simply inactive.
func (e *Engine) Introspect(ctx context.Context, token string) (*Introspection, error) {
	inactive := &Introspection{Active: false}
	if token == "" {
		return inactive, nil
	}

	stored, err := e.store.Tokens().GetTokenByHash(ctx, crypto.HashSecret(token))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return inactive, nil
		}
		return nil, gateerr.NewPersistenceError("looking up token", err)
	}
	if !stored.IsLive(e.now()) {
		return inactive, nil
	}

	return &Introspection{
		Active:    true,
		ClientID:  stored.ClientID,
		UserID:    stored.UserID,
		Scope:     JoinScope(stored.Scope),
		TokenType: string(stored.TokenType),
		Exp:       stored.ExpiresAt.Unix(),
		Iat:       stored.CreatedAt.Unix(),
	}, nil
}

// Revoke invalidates a presented token. Revoking a refresh token takes down
// its whole subtree; revoking an access token affects only that token.
// Unknown tokens and repeat calls are silent successes, per revocation
// privacy norms.
func (e *Engine) Revoke(ctx context.Context, token, ipAddress, userAgent string) error {
	if token == "" {
		return nil
	}
	hash := crypto.HashSecret(token)

	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		stored, err := tx.Tokens().GetTokenByHash(ctx, hash)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			return err
		}

		now := e.now()
		if stored.TokenType == storage.TokenTypeRefresh {
			if err := e.revokeSubtree(ctx, tx, stored, storage.RevokedReasonRevoked, now); err != nil {
				return err
			}
		} else if !stored.Revoked {
			if err := e.revokeTokenRecorded(ctx, tx, stored, storage.RevokedReasonRevoked, now); err != nil {
				return err
			}
		}

		return e.auditor.RecordOAuth(ctx, tx, &storage.OAuthAuditEntry{
			EventType: "token_revoked",
			ClientID:  stored.ClientID,
			UserID:    stored.UserID,
			Success:   true,
			IPAddress: ipAddress,
			UserAgent: userAgent,
		})
	})
	if err != nil {
		return gateerr.NewPersistenceError("revoking token", err)
	}
	return nil
}
