// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oauth implements the authorization-code grant with PKCE: code
// issuance and one-time consumption, opaque token issuance with refresh
// rotation and chain revocation, revocation and introspection.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/lanolabs/authgate/pkg/audit"
	"github.com/lanolabs/authgate/pkg/cache"
	"github.com/lanolabs/authgate/pkg/crypto"
	gateerr "github.com/lanolabs/authgate/pkg/errors"
	"github.com/lanolabs/authgate/pkg/events"
	"github.com/lanolabs/authgate/pkg/storage"
)

// Default lifetimes.
const (
	DefaultCodeTTL         = 5 * time.Minute
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
	DefaultClientCacheTTL  = time.Hour
)

// Config holds the engine's lifetimes. Zero fields take the defaults.
type Config struct {
	CodeTTL         time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ClientCacheTTL  time.Duration
}

func (c Config) withDefaults() Config {
	if c.CodeTTL <= 0 {
		c.CodeTTL = DefaultCodeTTL
	}
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if c.ClientCacheTTL <= 0 {
		c.ClientCacheTTL = DefaultClientCacheTTL
	}
	return c
}

// Engine drives the OAuth protocol state machine over the persistence
// gateway. All mutations commit atomically with their event-log appends.
type Engine struct {
	store    storage.Store
	recorder *events.Recorder
	auditor  *audit.Auditor
	clients  *cache.Tiered
	cfg      Config
	now      func() time.Time

	// invalidate is called with the hash of every token revoked by the
	// engine so cached identity resolutions can be dropped. Optional.
	invalidate func(ctx context.Context, tokenHash string)
}

// OnRevoke registers a hook invoked with the hash of each revoked token.
func (e *Engine) OnRevoke(fn func(ctx context.Context, tokenHash string)) {
	e.invalidate = fn
}

// New creates the engine. clients is the tiered cache used as a read
// fast-path for client records and may be nil.
func New(store storage.Store, recorder *events.Recorder, auditor *audit.Auditor, clients *cache.Tiered, cfg Config) *Engine {
	return &Engine{
		store:    store,
		recorder: recorder,
		auditor:  auditor,
		clients:  clients,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

func clientCacheKey(clientID string) string {
	return "oauth:client:" + clientID
}

// getClient reads a client through the cache fast-path. The clients table
// stays authoritative: any cache trouble falls through to a direct read.
func (e *Engine) getClient(ctx context.Context, clientID string) (*storage.OAuthClient, error) {
	key := clientCacheKey(clientID)
	if e.clients != nil {
		if data, _, err := e.clients.Get(ctx, key, e.cfg.ClientCacheTTL); err == nil {
			var client storage.OAuthClient
			if json.Unmarshal(data, &client) == nil {
				return &client, nil
			}
		}
	}

	client, err := e.store.Clients().GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if e.clients != nil {
		if data, err := json.Marshal(client); err == nil {
			_ = e.clients.Set(ctx, key, data, e.cfg.ClientCacheTTL)
		}
	}
	return client, nil
}

// InvalidateClient drops a client's cache entry after an admin mutation.
func (e *Engine) InvalidateClient(ctx context.Context, clientID string) {
	if e.clients == nil {
		return
	}
	_ = e.clients.Delete(ctx, clientCacheKey(clientID))
}

// AuthorizeRequest carries the /oauth/authorize inputs plus the
// authenticated subject established by the session layer.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string

	UserID    string
	IPAddress string
	UserAgent string
}

// AuthorizeResult is a successful authorization: the plain code exists only
// here and in the redirect built from it.
type AuthorizeResult struct {
	Code        string
	State       string
	RedirectURI string
	Scope       []string
}

// Authorize validates the request and issues an authorization code bound to
// the client, redirect URI, scopes and PKCE challenge.
func (e *Engine) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	client, err := e.getClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, e.authorizeFailure(ctx, req, protocolErr(ErrInvalidClient, "unknown client"))
		}
		return nil, gateerr.NewPersistenceError("loading oauth client", err)
	}
	if !client.IsActive() {
		return nil, e.authorizeFailure(ctx, req, protocolErr(ErrUnauthorizedClient, "client is disabled"))
	}

	// Redirect URI matching is exact-string. Until it passes, errors must
	// not be delivered on the redirect.
	if req.RedirectURI == "" || !slices.Contains(client.AllowedRedirectURIs, req.RedirectURI) {
		return nil, e.authorizeFailure(ctx, req, protocolErr(ErrInvalidRequest, "redirect_uri is not registered for this client"))
	}

	if perr := e.validateAuthorize(client, req); perr != nil {
		perr.SafeRedirect = true
		return nil, e.authorizeFailure(ctx, req, perr)
	}

	scopes, perr := resolveScopes(client, ParseScope(req.Scope))
	if perr != nil {
		perr.SafeRedirect = true
		return nil, e.authorizeFailure(ctx, req, perr)
	}

	plain, err := crypto.NewOpaqueToken(crypto.AuthorizationCodeBytes)
	if err != nil {
		return nil, gateerr.NewServiceError("generating authorization code", err)
	}

	now := e.now()
	code := &storage.AuthorizationCode{
		ID:                  uuid.NewString(),
		CodeHash:            crypto.HashSecret(plain),
		ClientID:            client.ClientID,
		UserID:              req.UserID,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		RedirectURI:         req.RedirectURI,
		Scope:               scopes,
		State:               req.State,
		IPAddress:           req.IPAddress,
		UserAgent:           req.UserAgent,
		ExpiresAt:           now.Add(e.cfg.CodeTTL),
		CreatedAt:           now,
	}

	err = e.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.Codes().InsertCode(ctx, code); err != nil {
			return err
		}
		return e.auditor.RecordOAuth(ctx, tx, &storage.OAuthAuditEntry{
			EventType: "authorization_code_issued",
			ClientID:  client.ClientID,
			UserID:    req.UserID,
			Success:   true,
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
		})
	})
	if err != nil {
		return nil, gateerr.NewPersistenceError("storing authorization code", err)
	}

	return &AuthorizeResult{
		Code:        plain,
		State:       req.State,
		RedirectURI: req.RedirectURI,
		Scope:       scopes,
	}, nil
}

// validateAuthorize checks the protocol parameters once the client and
// redirect URI are established.
func (e *Engine) validateAuthorize(client *storage.OAuthClient, req AuthorizeRequest) *ProtocolError {
	if req.ResponseType != "code" {
		return protocolErr(ErrInvalidRequest, "response_type must be code")
	}
	if req.UserID == "" {
		return protocolErr(ErrAccessDenied, "caller is not authenticated")
	}

	if req.CodeChallenge == "" {
		if client.RequirePKCE {
			return protocolErr(ErrInvalidRequest, "code_challenge is required")
		}
		return nil
	}

	method := req.CodeChallengeMethod
	if method == "" {
		method = crypto.MethodS256
	}
	if !slices.Contains(client.AllowedCodeChallengeMethods, method) {
		return protocolErr(ErrInvalidRequest, "code_challenge_method is not allowed")
	}
	if method == crypto.MethodPlain && client.ClientType == storage.ClientTypePublic {
		return protocolErr(ErrInvalidRequest, "plain challenges are not allowed for public clients")
	}
	return nil
}

// authorizeFailure audits a rejected authorization and returns the protocol
// error for rendering.
func (e *Engine) authorizeFailure(ctx context.Context, req AuthorizeRequest, perr *ProtocolError) error {
	e.auditor.RecordOAuthFailure(ctx, e.store, &storage.OAuthAuditEntry{
		EventType:        "authorization_rejected",
		ClientID:         req.ClientID,
		UserID:           req.UserID,
		ErrorCode:        perr.Code,
		ErrorDescription: perr.Description,
		IPAddress:        req.IPAddress,
		UserAgent:        req.UserAgent,
	})
	return perr
}
