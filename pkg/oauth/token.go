// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lanolabs/authgate/pkg/crypto"
	gateerr "github.com/lanolabs/authgate/pkg/errors"
	"github.com/lanolabs/authgate/pkg/events"
	"github.com/lanolabs/authgate/pkg/storage"
)

// Supported grant types.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
)

// TokenRequest carries the /oauth/token inputs for both grant types.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	CodeVerifier string
	RefreshToken string
	Scope        string

	IPAddress string
	UserAgent string
}

// TokenResponse is the successful token endpoint body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// Token executes a token grant. Protocol failures come back as
// *ProtocolError; note that replay defenses commit their revocations even
// though the grant fails.
func (e *Engine) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	var (
		resp *TokenResponse
		perr *ProtocolError
	)

	var runGrant func(ctx context.Context, tx storage.Tx, req TokenRequest) (*TokenResponse, *ProtocolError, error)
	switch req.GrantType {
	case GrantAuthorizationCode:
		runGrant = e.exchangeCode
	case GrantRefreshToken:
		runGrant = e.refreshGrant
	default:
		perr = protocolErr(ErrUnsupportedGrantType, "grant_type must be authorization_code or refresh_token")
		e.tokenFailure(ctx, req, perr)
		return nil, perr
	}

	// Failure paths return nil from the transaction function so that replay
	// revocations and in-transaction audit rows still commit.
	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		r, p, err := runGrant(ctx, tx, req)
		resp, perr = r, p
		return err
	})
	if err != nil {
		return nil, gateerr.NewPersistenceError("executing token grant", err)
	}
	if perr != nil {
		return nil, perr
	}
	return resp, nil
}

// exchangeCode consumes an authorization code under the one-shot guard and
// issues the grant's first refresh/access pair.
func (e *Engine) exchangeCode(ctx context.Context, tx storage.Tx, req TokenRequest) (*TokenResponse, *ProtocolError, error) {
	if req.Code == "" {
		return e.grantRejected(ctx, tx, req, protocolErr(ErrInvalidRequest, "code is required"))
	}

	now := e.now()
	code, err := tx.Codes().GetCodeByHash(ctx, crypto.HashSecret(req.Code))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return e.grantRejected(ctx, tx, req, protocolErr(ErrInvalidGrant, "authorization code is invalid"))
		}
		return nil, nil, err
	}

	if code.Consumed {
		// Replay of a consumed code revokes everything derived from it.
		if err := e.revokeChainForCode(ctx, tx, code.ID, now); err != nil {
			return nil, nil, err
		}
		return e.grantRejected(ctx, tx, req, protocolErr(ErrInvalidGrant, "authorization code is invalid"))
	}

	consumed, err := tx.Codes().MarkCodeConsumed(ctx, code.ID, now)
	if err != nil {
		return nil, nil, err
	}
	if !consumed {
		// Lost the consumption race: treat exactly like replay.
		if err := e.revokeChainForCode(ctx, tx, code.ID, now); err != nil {
			return nil, nil, err
		}
		return e.grantRejected(ctx, tx, req, protocolErr(ErrInvalidGrant, "authorization code is invalid"))
	}

	// From here the code stays consumed regardless of outcome, so a stolen
	// code cannot be retried with a corrected verifier.
	if !now.Before(code.ExpiresAt) {
		return e.grantRejected(ctx, tx, req, protocolErr(ErrInvalidGrant, "authorization code has expired"))
	}
	if !strings.EqualFold(req.ClientID, code.ClientID) {
		return e.grantRejected(ctx, tx, req, protocolErr(ErrInvalidGrant, "authorization code was issued to a different client"))
	}
	if req.RedirectURI != code.RedirectURI {
		return e.grantRejected(ctx, tx, req, protocolErr(ErrInvalidGrant, "redirect_uri does not match the authorization request"))
	}
	if code.CodeChallenge != "" {
		method := code.CodeChallengeMethod
		if method == "" {
			method = crypto.MethodS256
		}
		if req.CodeVerifier == "" || !crypto.VerifyPKCE(code.CodeChallenge, req.CodeVerifier, method) {
			return e.grantRejected(ctx, tx, req, protocolErr(ErrInvalidGrant, "code verifier does not satisfy the challenge"))
		}
	}

	resp, err := e.issuePair(ctx, tx, code.ClientID, code.UserID, code.Scope, nil, &code.ID, now)
	if err != nil {
		return nil, nil, err
	}

	err = e.auditor.RecordOAuth(ctx, tx, &storage.OAuthAuditEntry{
		EventType: "token_issued",
		ClientID:  code.ClientID,
		UserID:    code.UserID,
		Success:   true,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		return nil, nil, err
	}
	return resp, nil, nil
}

// refreshGrant rotates a refresh token: the presented token and its live
// children are revoked and a fresh pair is issued in the same transaction.
func (e *Engine) refreshGrant(ctx context.Context, tx storage.Tx, req TokenRequest) (*TokenResponse, *ProtocolError, error) {
	if req.RefreshToken == "" {
		return e.grantRejected(ctx, tx, req, protocolErr(ErrInvalidRequest, "refresh_token is required"))
	}

	now := e.now()
	token, err := tx.Tokens().GetTokenByHash(ctx, crypto.HashSecret(req.RefreshToken))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return e.grantRejected(ctx, tx, req, protocolErr(ErrInvalidGrant, "refresh token is invalid"))
		}
		return nil, nil, err
	}

	if token.TokenType != storage.TokenTypeRefresh ||
		!strings.EqualFold(req.ClientID, token.ClientID) {
		return e.grantRejected(ctx, tx, req, protocolErr(ErrInvalidGrant, "refresh token is invalid"))
	}

	if token.Revoked {
		// Reuse of a rotated refresh is replay: take down the whole chain,
		// including the pair that replaced it.
		if err := e.revokeChainFrom(ctx, tx, token, storage.RevokedReasonRevoked, now); err != nil {
			return nil, nil, err
		}
		return e.grantRejected(ctx, tx, req, protocolErr(ErrInvalidGrant, "refresh token is invalid"))
	}

	if !now.Before(token.ExpiresAt) {
		if err := e.revokeChainFrom(ctx, tx, token, storage.RevokedReasonExpired, now); err != nil {
			return nil, nil, err
		}
		return e.grantRejected(ctx, tx, req, protocolErr(ErrInvalidGrant, "refresh token has expired"))
	}

	scope, perr := narrowScopes(token.Scope, ParseScope(req.Scope))
	if perr != nil {
		return e.grantRejected(ctx, tx, req, perr)
	}

	if err := e.revokeTokenRecorded(ctx, tx, token, storage.RevokedReasonRotated, now); err != nil {
		return nil, nil, err
	}
	children, err := tx.Tokens().ListChildTokens(ctx, token.ID)
	if err != nil {
		return nil, nil, err
	}
	for _, child := range children {
		if !child.Revoked {
			if err := e.revokeTokenRecorded(ctx, tx, child, storage.RevokedReasonAncestorRotated, now); err != nil {
				return nil, nil, err
			}
		}
	}

	resp, err := e.issuePair(ctx, tx, token.ClientID, token.UserID, scope, &token.ID, nil, now)
	if err != nil {
		return nil, nil, err
	}

	err = e.auditor.RecordOAuth(ctx, tx, &storage.OAuthAuditEntry{
		EventType: "token_refreshed",
		ClientID:  token.ClientID,
		UserID:    token.UserID,
		Success:   true,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		return nil, nil, err
	}
	return resp, nil, nil
}

// issuePair mints a refresh token and an access token whose parent is the
// refresh. parentID links a rotated refresh to its predecessor; codeID links
// a grant's root refresh to its authorization code.
func (e *Engine) issuePair(
	ctx context.Context,
	tx storage.Tx,
	clientID, userID string,
	scope []string,
	parentID, codeID *string,
	now time.Time,
) (*TokenResponse, error) {
	refreshPlain, err := crypto.NewOpaqueToken(crypto.RefreshTokenBytes)
	if err != nil {
		return nil, err
	}
	accessPlain, err := crypto.NewOpaqueToken(crypto.AccessTokenBytes)
	if err != nil {
		return nil, err
	}

	refresh := &storage.OAuthToken{
		ID:            uuid.NewString(),
		TokenHash:     crypto.HashSecret(refreshPlain),
		TokenType:     storage.TokenTypeRefresh,
		ClientID:      clientID,
		UserID:        userID,
		Scope:         scope,
		ParentTokenID: parentID,
		CodeID:        codeID,
		ExpiresAt:     now.Add(e.cfg.RefreshTokenTTL),
		CreatedAt:     now,
	}
	access := &storage.OAuthToken{
		ID:            uuid.NewString(),
		TokenHash:     crypto.HashSecret(accessPlain),
		TokenType:     storage.TokenTypeAccess,
		ClientID:      clientID,
		UserID:        userID,
		Scope:         scope,
		ParentTokenID: &refresh.ID,
		ExpiresAt:     now.Add(e.cfg.AccessTokenTTL),
		CreatedAt:     now,
	}

	for _, t := range []*storage.OAuthToken{refresh, access} {
		if err := tx.Tokens().InsertToken(ctx, t); err != nil {
			return nil, err
		}
		_, err := e.recorder.Record(ctx, tx, storage.AggregateToken, t.ID,
			events.TypeTokenIssued, tokenPayload(t, ""))
		if err != nil {
			return nil, err
		}
	}

	return &TokenResponse{
		AccessToken:  accessPlain,
		TokenType:    "Bearer",
		ExpiresIn:    int64(e.cfg.AccessTokenTTL.Seconds()),
		RefreshToken: refreshPlain,
		Scope:        JoinScope(scope),
	}, nil
}

// revokeTokenRecorded revokes one live token and appends its TokenRevoked
// event.
func (e *Engine) revokeTokenRecorded(ctx context.Context, tx storage.Tx, token *storage.OAuthToken, reason string, at time.Time) error {
	if err := tx.Tokens().RevokeToken(ctx, token.ID, reason, at); err != nil {
		return err
	}
	if e.invalidate != nil {
		e.invalidate(ctx, token.TokenHash)
	}
	_, err := e.recorder.Record(ctx, tx, storage.AggregateToken, token.ID,
		events.TypeTokenRevoked, tokenPayload(token, reason))
	return err
}

// revokeSubtree revokes every live token in the tree rooted at token.
// Already-revoked nodes keep their reason but are still traversed, since
// their children may be live.
func (e *Engine) revokeSubtree(ctx context.Context, tx storage.Tx, token *storage.OAuthToken, reason string, at time.Time) error {
	queue := []*storage.OAuthToken{token}
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]

		if !t.Revoked {
			if err := e.revokeTokenRecorded(ctx, tx, t, reason, at); err != nil {
				return err
			}
		}

		children, err := tx.Tokens().ListChildTokens(ctx, t.ID)
		if err != nil {
			return err
		}
		queue = append(queue, children...)
	}
	return nil
}

// revokeChainFrom revokes the entire rotation chain containing token, found
// by walking to the root refresh and revoking its subtree.
func (e *Engine) revokeChainFrom(ctx context.Context, tx storage.Tx, token *storage.OAuthToken, reason string, at time.Time) error {
	root := token
	for root.ParentTokenID != nil {
		parent, err := tx.Tokens().GetTokenByID(ctx, *root.ParentTokenID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				break
			}
			return err
		}
		root = parent
	}
	return e.revokeSubtree(ctx, tx, root, reason, at)
}

// revokeChainForCode revokes the token chain derived from an authorization
// code. A code consumed without issuing tokens has no chain; that is fine.
func (e *Engine) revokeChainForCode(ctx context.Context, tx storage.Tx, codeID string, at time.Time) error {
	root, err := tx.Tokens().GetRefreshByCodeID(ctx, codeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	return e.revokeSubtree(ctx, tx, root, storage.RevokedReasonRevoked, at)
}

// grantRejected audits a failed grant on the live transaction and hands the
// protocol error back for rendering.
func (e *Engine) grantRejected(ctx context.Context, tx storage.Tx, req TokenRequest, perr *ProtocolError) (*TokenResponse, *ProtocolError, error) {
	err := e.auditor.RecordOAuth(ctx, tx, &storage.OAuthAuditEntry{
		EventType:        "token_rejected",
		ClientID:         req.ClientID,
		ErrorCode:        perr.Code,
		ErrorDescription: perr.Description,
		IPAddress:        req.IPAddress,
		UserAgent:        req.UserAgent,
	})
	if err != nil {
		return nil, nil, err
	}
	return nil, perr, nil
}

// tokenFailure audits failures that happen before a transaction is open.
func (e *Engine) tokenFailure(ctx context.Context, req TokenRequest, perr *ProtocolError) {
	e.auditor.RecordOAuthFailure(ctx, e.store, &storage.OAuthAuditEntry{
		EventType:        "token_rejected",
		ClientID:         req.ClientID,
		ErrorCode:        perr.Code,
		ErrorDescription: perr.Description,
		IPAddress:        req.IPAddress,
		UserAgent:        req.UserAgent,
	})
}

func tokenPayload(t *storage.OAuthToken, reason string) events.TokenPayload {
	p := events.TokenPayload{
		TokenID:   t.ID,
		TokenType: string(t.TokenType),
		ClientID:  t.ClientID,
		UserID:    t.UserID,
		Reason:    reason,
	}
	if t.ParentTokenID != nil {
		p.ParentTokenID = *t.ParentTokenID
	}
	return p
}
