// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import "time"

// ClientType distinguishes public clients (CLIs, extensions) from
// confidential ones (servers holding a secret).
type ClientType string

// Client types.
const (
	ClientTypePublic       ClientType = "public"
	ClientTypeConfidential ClientType = "confidential"
)

// ClientStatus is the lifecycle status of an OAuth client.
type ClientStatus string

// Client statuses.
const (
	ClientStatusActive   ClientStatus = "active"
	ClientStatusDisabled ClientStatus = "disabled"
)

// OAuthClient is a registered OAuth application.
type OAuthClient struct {
	ClientID                    string
	Name                        string
	ClientType                  ClientType
	ApplicationType             string
	RequirePKCE                 bool
	AllowedCodeChallengeMethods []string
	AllowedRedirectURIs         []string
	AllowedScopes               []string
	DefaultScopes               []string
	Status                      ClientStatus
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

// IsActive reports whether the client may participate in new grants.
func (c *OAuthClient) IsActive() bool {
	return c.Status == ClientStatusActive
}

// AuthorizationCode is the stored form of an issued authorization code.
// Only the SHA-256 of the code is persisted.
type AuthorizationCode struct {
	ID                  string
	CodeHash            string
	ClientID            string
	UserID              string
	CodeChallenge       string
	CodeChallengeMethod string
	RedirectURI         string
	Scope               []string
	State               string
	IPAddress           string
	UserAgent           string
	ExpiresAt           time.Time
	Consumed            bool
	ConsumedAt          *time.Time
	CreatedAt           time.Time
}

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

// Token types.
const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Revocation reasons recorded on oauth_tokens rows.
const (
	RevokedReasonExpired         = "expired"
	RevokedReasonRotated         = "rotated"
	RevokedReasonAncestorRotated = "ancestor_rotated"
	RevokedReasonRevoked         = "revoked"
)

// OAuthToken is a stored access or refresh token. Tokens form a rotation
// tree linked by ParentTokenID: an access token points at the refresh that
// issued it, and a rotated refresh points at the refresh it replaced.
// CodeID is set only on the root refresh of a grant, linking it to the
// authorization code that produced it.
type OAuthToken struct {
	ID            string
	TokenHash     string
	TokenType     TokenType
	ClientID      string
	UserID        string
	Scope         []string
	ParentTokenID *string
	CodeID        *string
	ExpiresAt     time.Time
	Revoked       bool
	RevokedAt     *time.Time
	RevokedReason string
	CreatedAt     time.Time
}

// IsLive reports whether the token is neither revoked nor expired at now.
func (t *OAuthToken) IsLive(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// Session is a browser (or platform) session backed by an opaque token.
type Session struct {
	ID               string
	UserID           string
	Platform         string
	TokenHash        string
	RefreshTokenHash string
	ClientID         string
	Scope            []string
	IPAddress        string
	UserAgent        string
	Metadata         map[string]any
	ExpiresAt        time.Time
	LastUsedAt       time.Time
	CreatedAt        time.Time
}

// API key access levels.
const (
	AccessLevelPublic        = "public"
	AccessLevelAuthenticated = "authenticated"
	AccessLevelTeam          = "team"
	AccessLevelAdmin         = "admin"
	AccessLevelEnterprise    = "enterprise"
)

// APIKey is a stored API key. The plain value is never persisted; KeyHash is
// the SHA-256 of the full key string including its prefix.
type APIKey struct {
	ID          string
	Name        string
	KeyHash     string
	UserID      string
	AccessLevel string
	Permissions []string
	ExpiresAt   *time.Time
	LastUsedAt  *time.Time
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserAccount is the gateway's view of a user. The upstream identity
// provider remains the store of record; rows here are upserted on user_id.
type UserAccount struct {
	UserID       string
	Email        string
	Role         string
	Provider     string
	RawMetadata  map[string]any
	CreatedAt    time.Time
	LastSignInAt *time.Time
	UpdatedAt    time.Time
}

// Aggregate types for the event log.
const (
	AggregateUser    = "user"
	AggregateClient  = "client"
	AggregateSession = "session"
	AggregateToken   = "token"
	AggregateAPIKey  = "api_key"
)

// Event is an immutable entry in the append-only event log. Versions are
// contiguous per aggregate starting at 1 and assigned inside the mutating
// transaction.
type Event struct {
	EventID          string
	AggregateType    string
	AggregateID      string
	Version          int64
	EventType        string
	EventTypeVersion int
	Payload          []byte
	Metadata         map[string]any
	OccurredAt       time.Time
}

// Outbox entry statuses.
const (
	OutboxStatusPending = "pending"
	OutboxStatusSent    = "sent"
	OutboxStatusFailed  = "failed"
)

// DefaultOutboxDestination is the destination recorded for projection rows.
const DefaultOutboxDestination = "projection"

// OutboxEntry drives at-least-once delivery of an event to an external
// projection. Rows are inserted in the same transaction as their event.
type OutboxEntry struct {
	ID            string
	EventID       string
	Destination   string
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OutboxStats summarizes outbox health for probes.
type OutboxStats struct {
	Pending              int64 `json:"pending"`
	Failed               int64 `json:"failed"`
	OldestPendingSeconds int64 `json:"oldest_pending_seconds"`
}

// AuditEntry is an immutable operational record.
type AuditEntry struct {
	ID               string
	EventType        string
	UserID           string
	Success          bool
	ErrorCode        string
	ErrorDescription string
	IPAddress        string
	UserAgent        string
	Metadata         map[string]any
	CreatedAt        time.Time
}

// OAuthAuditEntry is an immutable record of an OAuth protocol interaction.
type OAuthAuditEntry struct {
	ID               string
	EventType        string
	ClientID         string
	UserID           string
	Success          bool
	ErrorCode        string
	ErrorDescription string
	IPAddress        string
	UserAgent        string
	Metadata         map[string]any
	CreatedAt        time.Time
}
