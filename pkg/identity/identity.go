// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package identity resolves any credential the gateway accepts to the one
// canonical identity downstream services see. Resolutions flow through the
// tiered cache with bounded staleness; revocation hooks invalidate the
// affected keys early.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lanolabs/authgate/pkg/apikey"
	"github.com/lanolabs/authgate/pkg/cache"
	"github.com/lanolabs/authgate/pkg/crypto"
	gateerr "github.com/lanolabs/authgate/pkg/errors"
	"github.com/lanolabs/authgate/pkg/events"
	"github.com/lanolabs/authgate/pkg/logger"
	"github.com/lanolabs/authgate/pkg/storage"
)

// Auth methods a credential can arrive by.
const (
	MethodOAuthBearer   = "oauth_bearer"
	MethodSessionCookie = "session_cookie"
	MethodAPIKey        = "api_key"
	MethodJWT           = "jwt"
)

// DefaultTTL bounds how stale a cached resolution may be.
const DefaultTTL = 5 * time.Minute

// apiKeyHashPrefixLen is how much of an API key's hash appears in its cache
// key.
const apiKeyHashPrefixLen = 16

// Identity is a resolved canonical identity.
type Identity struct {
	AuthID         string    `json:"auth_id"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Email          string    `json:"email,omitempty"`
	AuthMethod     string    `json:"auth_method"`
	CredentialID   string    `json:"credential_id"`
	Scope          []string  `json:"scope,omitempty"`
	AccessLevel    string    `json:"access_level,omitempty"`
	ResolvedAt     time.Time `json:"resolved_at"`

	// FromCache and CacheLayer report how the resolution was served. They
	// are not part of the cached record.
	FromCache  bool   `json:"-"`
	CacheLayer string `json:"-"`
}

// Config holds resolver settings.
type Config struct {
	// TTL for cached resolutions. Zero means DefaultTTL.
	TTL time.Duration

	// CreateIfMissing provisions a minimal user account when a valid
	// credential maps to a user the gateway has not seen yet.
	CreateIfMissing bool
}

// Resolver maps credentials to identities.
type Resolver struct {
	store    storage.Store
	cache    *cache.Tiered
	keys     *apikey.Engine
	recorder *events.Recorder
	cfg      Config
	now      func() time.Time
}

// New creates the resolver. tiered may be nil, which disables caching.
func New(store storage.Store, tiered *cache.Tiered, keys *apikey.Engine, recorder *events.Recorder, cfg Config) *Resolver {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Resolver{
		store:    store,
		cache:    tiered,
		keys:     keys,
		recorder: recorder,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Resolve maps (method, credential) to the canonical identity.
func (r *Resolver) Resolve(ctx context.Context, method, credential string) (*Identity, error) {
	if credential == "" {
		return nil, gateerr.NewAuthenticationError("no credential presented", nil)
	}

	key, err := cacheKey(method, credential)
	if err != nil {
		return nil, err
	}

	if cached := r.fromCache(ctx, key); cached != nil {
		return cached, nil
	}

	identity, err := r.resolveAuthoritative(ctx, method, credential)
	if err != nil {
		return nil, err
	}

	if err := r.ensureUser(ctx, identity); err != nil {
		return nil, err
	}

	r.put(ctx, key, identity)
	return identity, nil
}

func (r *Resolver) fromCache(ctx context.Context, key string) *Identity {
	if r.cache == nil {
		return nil
	}
	data, layer, err := r.cache.Get(ctx, key, r.cfg.TTL)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			logger.Warnw("identity cache read failed", "error", err.Error())
		}
		return nil
	}

	var identity Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		logger.Warnw("dropping undecodable identity cache entry", "key", key)
		_ = r.cache.Delete(ctx, key)
		return nil
	}
	identity.FromCache = true
	identity.CacheLayer = layer
	return &identity
}

func (r *Resolver) put(ctx context.Context, key string, identity *Identity) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(identity)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, data, r.cfg.TTL); err != nil {
		logger.Warnw("identity cache write failed", "error", err.Error())
	}
}

func (r *Resolver) resolveAuthoritative(ctx context.Context, method, credential string) (*Identity, error) {
	switch method {
	case MethodOAuthBearer:
		return r.resolveBearer(ctx, credential)
	case MethodSessionCookie:
		return r.resolveSession(ctx, credential)
	case MethodAPIKey:
		return r.resolveAPIKey(ctx, credential)
	case MethodJWT:
		return r.resolveSubject(ctx, credential)
	default:
		return nil, gateerr.NewValidationError("unknown auth method", nil)
	}
}

func (r *Resolver) resolveBearer(ctx context.Context, credential string) (*Identity, error) {
	token, err := r.store.Tokens().GetTokenByHash(ctx, crypto.HashSecret(credential))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, gateerr.NewAuthenticationError("unknown bearer token", nil)
		}
		return nil, gateerr.NewPersistenceError("looking up bearer token", err)
	}
	if token.TokenType != storage.TokenTypeAccess || !token.IsLive(r.now()) {
		return nil, gateerr.NewAuthenticationError("bearer token is not active", nil)
	}
	return &Identity{
		AuthID:       token.UserID,
		AuthMethod:   MethodOAuthBearer,
		CredentialID: token.ID,
		Scope:        token.Scope,
		ResolvedAt:   r.now(),
	}, nil
}

func (r *Resolver) resolveSession(ctx context.Context, credential string) (*Identity, error) {
	session, err := r.store.Sessions().GetSessionByTokenHash(ctx, crypto.HashSecret(credential))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, gateerr.NewAuthenticationError("unknown session", nil)
		}
		return nil, gateerr.NewPersistenceError("looking up session", err)
	}
	if !r.now().Before(session.ExpiresAt) {
		return nil, gateerr.NewAuthenticationError("session has expired", nil)
	}
	return &Identity{
		AuthID:       session.UserID,
		AuthMethod:   MethodSessionCookie,
		CredentialID: session.ID,
		Scope:        session.Scope,
		ResolvedAt:   r.now(),
	}, nil
}

func (r *Resolver) resolveAPIKey(ctx context.Context, credential string) (*Identity, error) {
	result, err := r.keys.Validate(ctx, credential)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, gateerr.NewAuthenticationError("api key is not valid", nil)
	}
	return &Identity{
		AuthID:       result.UserID,
		AuthMethod:   MethodAPIKey,
		CredentialID: result.KeyID,
		AccessLevel:  result.AccessLevel,
		ResolvedAt:   r.now(),
	}, nil
}

// resolveSubject handles pre-verified JWT subjects. The gateway issues no
// JWTs; an upstream verifier hands over the subject claim.
func (r *Resolver) resolveSubject(ctx context.Context, subject string) (*Identity, error) {
	return &Identity{
		AuthID:       subject,
		AuthMethod:   MethodJWT,
		CredentialID: subject,
		ResolvedAt:   r.now(),
	}, nil
}

// ensureUser enriches the identity from the user account, provisioning one
// when allowed.
func (r *Resolver) ensureUser(ctx context.Context, identity *Identity) error {
	user, err := r.store.Users().GetUser(ctx, identity.AuthID)
	if err == nil {
		identity.Email = user.Email
		if org, ok := user.RawMetadata["organization_id"].(string); ok {
			identity.OrganizationID = org
		}
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return gateerr.NewPersistenceError("loading user account", err)
	}
	if !r.cfg.CreateIfMissing {
		return nil
	}

	err = r.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.Users().UpsertUser(ctx, &storage.UserAccount{UserID: identity.AuthID}); err != nil {
			return err
		}
		_, err := r.recorder.Record(ctx, tx, storage.AggregateUser, identity.AuthID,
			events.TypeUserUpserted, events.UserPayload{UserID: identity.AuthID})
		return err
	})
	if err != nil {
		return gateerr.NewPersistenceError("provisioning user account", err)
	}
	return nil
}

// cacheKey builds uai:{method}:{safe_identifier}. Raw secrets never appear
// in a key: tokens use their full hash and API keys a hash prefix.
func cacheKey(method, credential string) (string, error) {
	switch method {
	case MethodOAuthBearer, MethodSessionCookie:
		return "uai:" + method + ":" + crypto.HashSecret(credential), nil
	case MethodAPIKey:
		return "uai:" + method + ":" + crypto.HashSecret(credential)[:apiKeyHashPrefixLen], nil
	case MethodJWT:
		return "uai:" + method + ":" + credential, nil
	default:
		return "", gateerr.NewValidationError("unknown auth method", nil)
	}
}

// InvalidateBearerHash drops the cached resolution for a revoked OAuth
// token, given its stored hash.
func (r *Resolver) InvalidateBearerHash(ctx context.Context, tokenHash string) {
	r.drop(ctx, "uai:"+MethodOAuthBearer+":"+tokenHash)
}

// InvalidateSessionHash drops the cached resolution for a revoked session.
func (r *Resolver) InvalidateSessionHash(ctx context.Context, tokenHash string) {
	r.drop(ctx, "uai:"+MethodSessionCookie+":"+tokenHash)
}

// InvalidateAPIKeyHash drops the cached resolution for a rotated or revoked
// API key.
func (r *Resolver) InvalidateAPIKeyHash(ctx context.Context, keyHash string) {
	r.drop(ctx, "uai:"+MethodAPIKey+":"+keyHash[:apiKeyHashPrefixLen])
}

func (r *Resolver) drop(ctx context.Context, key string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, key); err != nil {
		logger.Warnw("identity cache invalidation failed", "key", key, "error", err.Error())
	}
}
