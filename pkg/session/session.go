// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session issues and validates opaque browser sessions. The store
// only ever sees SHA-256 hashes; the plain token lives in the cookie.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lanolabs/authgate/pkg/audit"
	"github.com/lanolabs/authgate/pkg/crypto"
	gateerr "github.com/lanolabs/authgate/pkg/errors"
	"github.com/lanolabs/authgate/pkg/events"
	"github.com/lanolabs/authgate/pkg/storage"
)

// Platforms a session can be minted for.
const (
	PlatformWeb = "web"
	PlatformMCP = "mcp"
	PlatformCLI = "cli"
	PlatformAPI = "api"
)

// DefaultTTL is the session lifetime when none is requested.
const DefaultTTL = 7 * 24 * time.Hour

// Config holds session engine settings.
type Config struct {
	// TTL is the default session lifetime.
	TTL time.Duration
}

// Engine manages browser and platform sessions.
type Engine struct {
	store    storage.Store
	recorder *events.Recorder
	auditor  *audit.Auditor
	cfg      Config
	now      func() time.Time

	// invalidate is called with the token hash of every revoked session so
	// cached identity resolutions can be dropped. Optional.
	invalidate func(ctx context.Context, tokenHash string)
}

// New creates the session engine.
func New(store storage.Store, recorder *events.Recorder, auditor *audit.Auditor, cfg Config) *Engine {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Engine{
		store:    store,
		recorder: recorder,
		auditor:  auditor,
		cfg:      cfg,
		now:      time.Now,
	}
}

// OnRevoke registers a hook invoked with the token hash of each revoked
// session.
func (e *Engine) OnRevoke(fn func(ctx context.Context, tokenHash string)) {
	e.invalidate = fn
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	UserID   string
	Platform string
	ClientID string
	Scope    []string

	// RefreshToken, when present, is hashed and stored alongside the
	// session so platform flows can look it up later.
	RefreshToken string

	IPAddress string
	UserAgent string
	Metadata  map[string]any

	// TTL overrides the configured default when positive.
	TTL time.Duration
}

// Create mints a session and returns it with the plain token. The token
// appears nowhere else.
func (e *Engine) Create(ctx context.Context, params CreateParams) (*storage.Session, string, error) {
	if params.UserID == "" {
		return nil, "", gateerr.NewValidationError("user_id is required", nil)
	}
	if params.Platform == "" {
		params.Platform = PlatformWeb
	}

	plain, err := crypto.NewOpaqueToken(crypto.SessionTokenBytes)
	if err != nil {
		return nil, "", gateerr.NewServiceError("generating session token", err)
	}

	ttl := params.TTL
	if ttl <= 0 {
		ttl = e.cfg.TTL
	}

	now := e.now()
	session := &storage.Session{
		ID:         uuid.NewString(),
		UserID:     params.UserID,
		Platform:   params.Platform,
		TokenHash:  crypto.HashSecret(plain),
		ClientID:   params.ClientID,
		Scope:      params.Scope,
		IPAddress:  params.IPAddress,
		UserAgent:  params.UserAgent,
		Metadata:   params.Metadata,
		ExpiresAt:  now.Add(ttl),
		LastUsedAt: now,
		CreatedAt:  now,
	}
	if params.RefreshToken != "" {
		session.RefreshTokenHash = crypto.HashSecret(params.RefreshToken)
	}

	err = e.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.Sessions().InsertSession(ctx, session); err != nil {
			return err
		}
		_, err := e.recorder.Record(ctx, tx, storage.AggregateSession, session.ID,
			events.TypeSessionCreated, events.SessionPayload{
				SessionID: session.ID,
				UserID:    session.UserID,
				Platform:  session.Platform,
				ClientID:  session.ClientID,
				ExpiresAt: session.ExpiresAt,
			})
		if err != nil {
			return err
		}
		return e.auditor.Record(ctx, tx, &storage.AuditEntry{
			EventType: "session_created",
			UserID:    session.UserID,
			Success:   true,
			IPAddress: params.IPAddress,
			UserAgent: params.UserAgent,
		})
	})
	if err != nil {
		return nil, "", gateerr.NewPersistenceError("storing session", err)
	}

	return session, plain, nil
}

// Find returns the live session for a presented token.
func (e *Engine) Find(ctx context.Context, token string) (*storage.Session, error) {
	if token == "" {
		return nil, gateerr.NewAuthenticationError("no session token presented", nil)
	}

	session, err := e.store.Sessions().GetSessionByTokenHash(ctx, crypto.HashSecret(token))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, gateerr.NewAuthenticationError("session not found", nil)
		}
		return nil, gateerr.NewPersistenceError("looking up session", err)
	}
	if !e.now().Before(session.ExpiresAt) {
		return nil, gateerr.NewAuthenticationError("session has expired", nil)
	}
	return session, nil
}

// Touch bumps last_used_at. Deliberately outside any transaction; losing a
// touch is harmless.
func (e *Engine) Touch(ctx context.Context, sessionID string) error {
	return e.store.Sessions().TouchSession(ctx, sessionID, e.now())
}

// Revoke deletes the session for a presented token and emits
// SessionRevoked. Unknown tokens are a silent success so logout is
// idempotent.
func (e *Engine) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	tokenHash := crypto.HashSecret(token)

	var revoked *storage.Session
	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		session, err := tx.Sessions().DeleteSessionByTokenHash(ctx, tokenHash)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			return err
		}
		revoked = session

		_, err = e.recorder.Record(ctx, tx, storage.AggregateSession, session.ID,
			events.TypeSessionRevoked, events.SessionPayload{
				SessionID: session.ID,
				UserID:    session.UserID,
				Platform:  session.Platform,
			})
		if err != nil {
			return err
		}
		return e.auditor.Record(ctx, tx, &storage.AuditEntry{
			EventType: "session_revoked",
			UserID:    session.UserID,
			Success:   true,
		})
	})
	if err != nil {
		return gateerr.NewPersistenceError("revoking session", err)
	}

	if revoked != nil && e.invalidate != nil {
		e.invalidate(ctx, tokenHash)
	}
	return nil
}

// RevokeAllForUser bulk-deletes a user's sessions. Per the forced-signout
// contract this emits no per-session events.
func (e *Engine) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	deleted, err := e.store.Sessions().DeleteSessionsByUser(ctx, userID)
	if err != nil {
		return 0, gateerr.NewPersistenceError("revoking user sessions", err)
	}
	return deleted, nil
}
