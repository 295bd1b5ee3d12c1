// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/lanolabs/authgate/pkg/api/errors"
	"github.com/lanolabs/authgate/pkg/apikey"
	gateerr "github.com/lanolabs/authgate/pkg/errors"
	"github.com/lanolabs/authgate/pkg/identity"
	"github.com/lanolabs/authgate/pkg/session"
	"github.com/lanolabs/authgate/pkg/storage"
)

type contextKey string

const identityKey contextKey = "identity"

// IdentityFromContext returns the resolved identity the authentication
// middleware attached to the request, or nil outside authenticated routes.
func IdentityFromContext(ctx context.Context) *identity.Identity {
	resolved, _ := ctx.Value(identityKey).(*identity.Identity)
	return resolved
}

// Authenticate resolves the request's credential (bearer token, API key or
// session cookie) and attaches the identity to the context. Requests with no
// valid credential get 401.
func Authenticate(resolver *identity.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return apierrors.ErrorHandler(func(w http.ResponseWriter, r *http.Request) error {
			method, credential := requestCredential(r)
			if credential == "" {
				return gateerr.NewAuthenticationError("no credential presented", nil)
			}

			resolved, err := resolver.Resolve(r.Context(), method, credential)
			if err != nil {
				return err
			}

			ctx := context.WithValue(r.Context(), identityKey, resolved)
			next.ServeHTTP(w, r.WithContext(ctx))
			return nil
		})
	}
}

// requestCredential extracts the strongest credential the request carries:
// the Authorization header wins over the session cookie.
func requestCredential(r *http.Request) (method, credential string) {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimPrefix(header, "Bearer ")
		return credentialMethod(token), token
	}
	if cookie, err := r.Cookie(session.CookieName); err == nil && cookie.Value != "" {
		return identity.MethodSessionCookie, cookie.Value
	}
	return "", ""
}

// APIKeyRoutes defines the routes for API key management.
type APIKeyRoutes struct {
	keys *apikey.Engine
}

// APIKeyRouter creates the /v1/api-keys router. Every route requires an
// authenticated caller; keys are scoped to the caller's identity.
func APIKeyRouter(keys *apikey.Engine, resolver *identity.Resolver) http.Handler {
	routes := APIKeyRoutes{keys: keys}

	r := chi.NewRouter()
	r.Use(Authenticate(resolver))
	r.Post("/", apierrors.ErrorHandler(routes.create))
	r.Get("/", apierrors.ErrorHandler(routes.list))
	r.Get("/{id}", apierrors.ErrorHandler(routes.get))
	r.Post("/{id}/rotate", apierrors.ErrorHandler(routes.rotate))
	r.Delete("/{id}", apierrors.ErrorHandler(routes.revoke))
	return r
}

type createKeyRequest struct {
	Name          string   `json:"name"`
	AccessLevel   string   `json:"access_level"`
	Permissions   []string `json:"permissions"`
	ExpiresInDays *int     `json:"expires_in_days"`
}

type apiKeyResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	AccessLevel string     `json:"access_level"`
	Permissions []string   `json:"permissions,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`

	// Key carries the plain value and appears only in create and rotate
	// responses.
	Key string `json:"key,omitempty"`
}

func keyResponse(key *storage.APIKey, plain string) apiKeyResponse {
	return apiKeyResponse{
		ID:          key.ID,
		Name:        key.Name,
		AccessLevel: key.AccessLevel,
		Permissions: key.Permissions,
		ExpiresAt:   key.ExpiresAt,
		LastUsedAt:  key.LastUsedAt,
		IsActive:    key.IsActive,
		CreatedAt:   key.CreatedAt,
		Key:         plain,
	}
}

func (k *APIKeyRoutes) create(w http.ResponseWriter, r *http.Request) error {
	caller := IdentityFromContext(r.Context())

	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return gateerr.NewValidationError("request body is not valid JSON", err)
	}

	minted, err := k.keys.Mint(r.Context(), apikey.MintParams{
		UserID:        caller.AuthID,
		Name:          req.Name,
		AccessLevel:   req.AccessLevel,
		Permissions:   req.Permissions,
		ExpiresInDays: req.ExpiresInDays,
	})
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	return json.NewEncoder(w).Encode(keyResponse(minted.Key, minted.Plain))
}

func (k *APIKeyRoutes) list(w http.ResponseWriter, r *http.Request) error {
	caller := IdentityFromContext(r.Context())

	keys, err := k.keys.List(r.Context(), caller.AuthID)
	if err != nil {
		return err
	}

	responses := make([]apiKeyResponse, 0, len(keys))
	for _, key := range keys {
		responses = append(responses, keyResponse(key, ""))
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(responses)
}

func (k *APIKeyRoutes) get(w http.ResponseWriter, r *http.Request) error {
	caller := IdentityFromContext(r.Context())

	key, err := k.keys.Get(r.Context(), caller.AuthID, chi.URLParam(r, "id"))
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(keyResponse(key, ""))
}

func (k *APIKeyRoutes) rotate(w http.ResponseWriter, r *http.Request) error {
	caller := IdentityFromContext(r.Context())

	minted, err := k.keys.Rotate(r.Context(), caller.AuthID, chi.URLParam(r, "id"))
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(keyResponse(minted.Key, minted.Plain))
}

func (k *APIKeyRoutes) revoke(w http.ResponseWriter, r *http.Request) error {
	caller := IdentityFromContext(r.Context())
	hard := r.URL.Query().Get("hard") == "true"

	if err := k.keys.Revoke(r.Context(), caller.AuthID, chi.URLParam(r, "id"), hard); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}
