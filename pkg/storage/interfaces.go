// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the persistence gateway: typed repositories over
// the authoritative relational store, plus the transaction discipline that
// lets every state change commit atomically with its event-log append and
// outbox enqueue.
package storage

import (
	"context"
	"time"
)

// ClientStore persists OAuth clients.
type ClientStore interface {
	CreateClient(ctx context.Context, client *OAuthClient) error
	// GetClient looks up a client by its case-insensitive client_id.
	GetClient(ctx context.Context, clientID string) (*OAuthClient, error)
	UpdateClient(ctx context.Context, client *OAuthClient) error
}

// CodeStore persists authorization codes.
type CodeStore interface {
	InsertCode(ctx context.Context, code *AuthorizationCode) error
	GetCodeByHash(ctx context.Context, codeHash string) (*AuthorizationCode, error)
	// MarkCodeConsumed flips the consumed flag iff it was not already set.
	// It returns false when the code was consumed by a concurrent request,
	// which callers must treat as replay.
	MarkCodeConsumed(ctx context.Context, id string, at time.Time) (bool, error)
	DeleteExpiredCodes(ctx context.Context, before time.Time) (int64, error)
}

// TokenStore persists OAuth access and refresh tokens.
type TokenStore interface {
	InsertToken(ctx context.Context, token *OAuthToken) error
	GetTokenByHash(ctx context.Context, tokenHash string) (*OAuthToken, error)
	GetTokenByID(ctx context.Context, id string) (*OAuthToken, error)
	// ListChildTokens returns the direct children of a token in the
	// rotation tree, revoked or not.
	ListChildTokens(ctx context.Context, parentID string) ([]*OAuthToken, error)
	// GetRefreshByCodeID returns the root refresh token minted when the
	// given authorization code was consumed.
	GetRefreshByCodeID(ctx context.Context, codeID string) (*OAuthToken, error)
	// RevokeToken marks a single token revoked with a reason. Revoking an
	// already-revoked token is a no-op that preserves the original reason.
	RevokeToken(ctx context.Context, id, reason string, at time.Time) error
}

// SessionStore persists browser sessions.
type SessionStore interface {
	InsertSession(ctx context.Context, session *Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	// TouchSession updates last_used_at only.
	TouchSession(ctx context.Context, id string, at time.Time) error
	// DeleteSessionByTokenHash removes a session and returns it, or
	// ErrNotFound when no such session exists.
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	DeleteSessionsByUser(ctx context.Context, userID string) (int64, error)
}

// APIKeyStore persists API keys.
type APIKeyStore interface {
	InsertKey(ctx context.Context, key *APIKey) error
	GetKeyByHash(ctx context.Context, keyHash string) (*APIKey, error)
	GetKeyByID(ctx context.Context, id string) (*APIKey, error)
	ListKeysByUser(ctx context.Context, userID string) ([]*APIKey, error)
	// ActiveKeyNameExists reports whether the user already has an active
	// key with the given name.
	ActiveKeyNameExists(ctx context.Context, userID, name string) (bool, error)
	// ReplaceKeyHash overwrites the stored hash during rotation. The prior
	// value becomes unusable the moment this commits.
	ReplaceKeyHash(ctx context.Context, id, newHash string, at time.Time) error
	DeactivateKey(ctx context.Context, id string, at time.Time) error
	DeleteKey(ctx context.Context, id string) error
	UpdateKeyLastUsed(ctx context.Context, id string, at time.Time) error
	// GetLegacyKeyByHash consults the legacy key table kept for the prefix
	// migration window. The current table takes precedence.
	GetLegacyKeyByHash(ctx context.Context, keyHash string) (*APIKey, error)
	// ImportLegacyKey loads a row into the legacy table. Only the one-time
	// import from the previous key store uses this.
	ImportLegacyKey(ctx context.Context, key *APIKey) error
}

// UserStore persists user accounts.
type UserStore interface {
	// UpsertUser inserts or updates a user account keyed on user_id.
	UpsertUser(ctx context.Context, user *UserAccount) error
	GetUser(ctx context.Context, userID string) (*UserAccount, error)
	GetUserByEmail(ctx context.Context, email string) (*UserAccount, error)
}

// EventStore is the append-only event log.
type EventStore interface {
	// AppendEvent assigns the next contiguous version for the event's
	// aggregate and inserts the row. The event's EventID and Version
	// fields are populated on return. Must be called inside a transaction
	// so the version read and the insert are atomic.
	AppendEvent(ctx context.Context, event *Event) error
	GetEvent(ctx context.Context, eventID string) (*Event, error)
	ListEventsByAggregate(ctx context.Context, aggregateType, aggregateID string) ([]*Event, error)
}

// OutboxStore persists and drains outbox entries.
type OutboxStore interface {
	Enqueue(ctx context.Context, entry *OutboxEntry) error
	// FetchDue returns up to limit pending entries whose next_attempt_at
	// is not after now, oldest first.
	FetchDue(ctx context.Context, limit int, now time.Time) ([]*OutboxEntry, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	// MarkRetry increments attempts and schedules the next attempt.
	MarkRetry(ctx context.Context, id string, attempts int, nextAttempt time.Time, deliveryErr string) error
	MarkFailed(ctx context.Context, id string, attempts int, deliveryErr string) error
	Stats(ctx context.Context) (*OutboxStats, error)
}

// StateStore is the authoritative bottom tier for short-lived OAuth state,
// CSRF tokens, device codes and OTP states. It must keep working when the
// in-memory and durable-KV cache tiers are down.
type StateStore interface {
	PutState(ctx context.Context, key string, value []byte, expiresAt time.Time) error
	// GetState returns ErrNotFound for missing or expired keys.
	GetState(ctx context.Context, key string) ([]byte, error)
	DeleteState(ctx context.Context, key string) error
	DeleteExpiredStates(ctx context.Context, before time.Time) (int64, error)
}

// AuditStore persists audit records.
type AuditStore interface {
	InsertAudit(ctx context.Context, entry *AuditEntry) error
	InsertOAuthAudit(ctx context.Context, entry *OAuthAuditEntry) error
}

// Tx exposes every repository bound to a single open transaction.
type Tx interface {
	Clients() ClientStore
	Codes() CodeStore
	Tokens() TokenStore
	Sessions() SessionStore
	APIKeys() APIKeyStore
	Users() UserStore
	Events() EventStore
	Outbox() OutboxStore
	Audit() AuditStore
}

// Store is the persistence gateway. Repository accessors operate in
// autocommit mode; WithTx runs a function inside a single transaction,
// retrying transient serialization failures.
type Store interface {
	Clients() ClientStore
	Codes() CodeStore
	Tokens() TokenStore
	Sessions() SessionStore
	APIKeys() APIKeyStore
	Users() UserStore
	Events() EventStore
	Outbox() OutboxStore
	States() StateStore
	Audit() AuditStore

	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
