// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/lanolabs/authgate/pkg/api/errors"
	"github.com/lanolabs/authgate/pkg/apikey"
	gateerr "github.com/lanolabs/authgate/pkg/errors"
	"github.com/lanolabs/authgate/pkg/events"
	"github.com/lanolabs/authgate/pkg/identity"
	"github.com/lanolabs/authgate/pkg/logger"
	"github.com/lanolabs/authgate/pkg/session"
	"github.com/lanolabs/authgate/pkg/storage"
	"github.com/lanolabs/authgate/pkg/upstream"
)

// AuthRoutes defines the routes for login, logout and credential
// verification.
type AuthRoutes struct {
	sessions *session.Engine
	resolver *identity.Resolver
	provider upstream.Provider
	store    storage.Store
	recorder *events.Recorder
	cookies  session.CookieConfig
}

// AuthRouter creates the /v1/auth router. loginLimit, when non-nil, rate
// limits the login endpoint.
func AuthRouter(
	sessions *session.Engine,
	resolver *identity.Resolver,
	provider upstream.Provider,
	store storage.Store,
	cookies session.CookieConfig,
	loginLimit func(http.Handler) http.Handler,
) http.Handler {
	routes := AuthRoutes{
		sessions: sessions,
		resolver: resolver,
		provider: provider,
		store:    store,
		recorder: events.NewRecorder(),
		cookies:  cookies,
	}

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		if loginLimit != nil {
			r.Use(loginLimit)
		}
		r.Post("/login", apierrors.ErrorHandler(routes.login))
	})
	r.Post("/logout", apierrors.ErrorHandler(routes.logout))
	r.Get("/session", apierrors.ErrorHandler(routes.session))
	r.Post("/verify", apierrors.ErrorHandler(routes.verify))
	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	UserID         string    `json:"user_id"`
	Email          string    `json:"email"`
	OrganizationID string    `json:"organization_id,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// login delegates credential verification to the upstream identity provider
// and mints a browser session on success.
func (a *AuthRoutes) login(w http.ResponseWriter, r *http.Request) error {
	if a.provider == nil {
		return gateerr.NewServiceError("no identity provider configured", nil)
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return gateerr.NewValidationError("request body is not valid JSON", err)
	}
	if req.Email == "" || req.Password == "" {
		return gateerr.NewValidationError("email and password are required", nil)
	}

	verified, err := a.provider.VerifyPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		return err
	}

	// The provider stays the store of record; the local row only mirrors
	// what downstream resolution needs.
	now := time.Now()
	account := &storage.UserAccount{
		UserID:       verified.UserID,
		Email:        verified.Email,
		LastSignInAt: &now,
	}
	if verified.OrganizationID != "" {
		account.RawMetadata = map[string]any{"organization_id": verified.OrganizationID}
	}
	err = a.store.WithTx(r.Context(), func(tx storage.Tx) error {
		if err := tx.Users().UpsertUser(r.Context(), account); err != nil {
			return err
		}
		_, err := a.recorder.Record(r.Context(), tx, storage.AggregateUser, verified.UserID,
			events.TypeUserUpserted, events.UserPayload{
				UserID: verified.UserID,
				Email:  verified.Email,
			})
		return err
	})
	if err != nil {
		return gateerr.NewPersistenceError("recording sign-in", err)
	}

	sess, token, err := a.sessions.Create(r.Context(), session.CreateParams{
		UserID:    verified.UserID,
		Platform:  session.PlatformWeb,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		return err
	}

	http.SetCookie(w, a.cookies.NewCookie(token, sess.ExpiresAt))
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(loginResponse{
		UserID:         verified.UserID,
		Email:          verified.Email,
		OrganizationID: verified.OrganizationID,
		ExpiresAt:      sess.ExpiresAt,
	})
}

// logout revokes the presented session and clears the cookie. Logging out
// without a session is a success.
func (a *AuthRoutes) logout(w http.ResponseWriter, r *http.Request) error {
	if cookie, err := r.Cookie(session.CookieName); err == nil {
		if err := a.sessions.Revoke(r.Context(), cookie.Value); err != nil {
			return err
		}
	}
	http.SetCookie(w, a.cookies.ClearCookie())
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type sessionResponse struct {
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	Platform   string    `json:"platform"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// session returns the current session's metadata.
func (a *AuthRoutes) session(w http.ResponseWriter, r *http.Request) error {
	cookie, err := r.Cookie(session.CookieName)
	if err != nil {
		return gateerr.NewAuthenticationError("no session cookie presented", nil)
	}
	sess, err := a.sessions.Find(r.Context(), cookie.Value)
	if err != nil {
		return err
	}

	if err := a.sessions.Touch(r.Context(), sess.ID); err != nil {
		logger.Debugw("touching session", "session_id", sess.ID, "error", err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(sessionResponse{
		SessionID:  sess.ID,
		UserID:     sess.UserID,
		Platform:   sess.Platform,
		ExpiresAt:  sess.ExpiresAt,
		LastUsedAt: sess.LastUsedAt,
		CreatedAt:  sess.CreatedAt,
	})
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Active      bool     `json:"active"`
	AuthID      string   `json:"auth_id,omitempty"`
	AuthMethod  string   `json:"auth_method,omitempty"`
	Scope       []string `json:"scope,omitempty"`
	AccessLevel string   `json:"access_level,omitempty"`
	CacheLayer  string   `json:"cache_layer,omitempty"`
}

// verify validates a presented bearer token or API key. Like introspection,
// an invalid credential is not an error; it is simply inactive.
func (a *AuthRoutes) verify(w http.ResponseWriter, r *http.Request) error {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return gateerr.NewValidationError("request body is not valid JSON", err)
	}
	if req.Token == "" {
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			req.Token = strings.TrimPrefix(header, "Bearer ")
		}
	}

	w.Header().Set("Content-Type", "application/json")

	resolved, err := a.resolver.Resolve(r.Context(), credentialMethod(req.Token), req.Token)
	if err != nil {
		if gateerr.IsAuthentication(err) {
			return json.NewEncoder(w).Encode(verifyResponse{Active: false})
		}
		return err
	}

	return json.NewEncoder(w).Encode(verifyResponse{
		Active:      true,
		AuthID:      resolved.AuthID,
		AuthMethod:  resolved.AuthMethod,
		Scope:       resolved.Scope,
		AccessLevel: resolved.AccessLevel,
		CacheLayer:  resolved.CacheLayer,
	})
}

// credentialMethod classifies an opaque credential by its shape. API keys
// are the only credential class with a prefix.
func credentialMethod(credential string) string {
	if strings.HasPrefix(credential, apikey.Prefix) {
		return identity.MethodAPIKey
	}
	for _, p := range apikey.LegacyPrefixes {
		if strings.HasPrefix(credential, p) {
			return identity.MethodAPIKey
		}
	}
	return identity.MethodOAuthBearer
}
