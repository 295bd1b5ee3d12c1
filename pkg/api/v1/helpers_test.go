// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/lanolabs/authgate/pkg/apikey"
	"github.com/lanolabs/authgate/pkg/audit"
	"github.com/lanolabs/authgate/pkg/cache"
	gateerr "github.com/lanolabs/authgate/pkg/errors"
	"github.com/lanolabs/authgate/pkg/events"
	"github.com/lanolabs/authgate/pkg/identity"
	"github.com/lanolabs/authgate/pkg/oauth"
	"github.com/lanolabs/authgate/pkg/session"
	"github.com/lanolabs/authgate/pkg/storage"
	"github.com/lanolabs/authgate/pkg/storage/sqlite"
	"github.com/lanolabs/authgate/pkg/upstream"
)

// RFC 7636 appendix B test vector.
const (
	testVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	testChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	testRedirect  = "http://127.0.0.1:8989/callback"
)

type fixture struct {
	store    storage.Store
	oauth    *oauth.Engine
	sessions *session.Engine
	keys     *apikey.Engine
	resolver *identity.Resolver
	cookies  session.CookieConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	memory := cache.NewMemoryLayer(cache.MemoryConfig{})
	t.Cleanup(memory.Close)
	tiered := cache.NewTiered(nil, memory, cache.NewDatabaseLayer(store.States()))

	recorder := events.NewRecorder()
	auditor := audit.New(recorder)
	sessions := session.New(store, recorder, auditor, session.Config{})
	keys := apikey.New(store, recorder, auditor)
	engine := oauth.New(store, recorder, auditor, tiered, oauth.Config{})
	resolver := identity.New(store, tiered, keys, recorder, identity.Config{})

	engine.OnRevoke(resolver.InvalidateBearerHash)
	sessions.OnRevoke(resolver.InvalidateSessionHash)
	keys.OnInvalidate(resolver.InvalidateAPIKeyHash)

	require.NoError(t, store.Clients().CreateClient(ctx, &storage.OAuthClient{
		ClientID:                    "vscode-extension",
		Name:                        "VS Code Extension",
		ClientType:                  storage.ClientTypePublic,
		RequirePKCE:                 true,
		AllowedCodeChallengeMethods: []string{"S256"},
		AllowedRedirectURIs:         []string{testRedirect},
		AllowedScopes:               []string{"memories:read", "memories:write"},
		DefaultScopes:               []string{"memories:read"},
		Status:                      storage.ClientStatusActive,
	}))
	require.NoError(t, store.Users().UpsertUser(ctx, &storage.UserAccount{
		UserID:      "u1",
		Email:       "dev@lanolabs.dev",
		RawMetadata: map[string]any{"organization_id": "org-1"},
	}))

	return &fixture{
		store:    store,
		oauth:    engine,
		sessions: sessions,
		keys:     keys,
		resolver: resolver,
		cookies:  session.CookieConfig{Domain: "lanolabs.dev", Secure: true},
	}
}

// router assembles the same route tree the server mounts, without the
// package cycle that importing pkg/api here would create.
func (f *fixture) router(provider upstream.Provider) http.Handler {
	r := chi.NewRouter()
	r.Mount("/oauth", OAuthRouter(f.oauth, f.sessions))
	r.Mount("/v1/auth", AuthRouter(f.sessions, f.resolver, provider, f.store, f.cookies, nil))
	r.Mount("/v1/api-keys", APIKeyRouter(f.keys, f.resolver))
	r.Mount("/health", HealthRouter(f.store, nil))
	r.Mount("/.well-known", DiscoveryRouter("https://auth.lanolabs.dev"))
	return r
}

// fakeProvider verifies a single hard-coded credential pair.
type fakeProvider struct{}

func (fakeProvider) VerifyPassword(_ context.Context, email, password string) (*upstream.Identity, error) {
	if email == "dev@lanolabs.dev" && password == "correct horse" {
		return &upstream.Identity{
			UserID:         "u1",
			Email:          email,
			OrganizationID: "org-1",
		}, nil
	}
	return nil, gateerr.NewAuthenticationError("invalid credentials", nil)
}

// sessionCookie mints a session for u1 and returns its cookie.
func (f *fixture) sessionCookie(t *testing.T) *http.Cookie {
	t.Helper()
	sess, token, err := f.sessions.Create(context.Background(), session.CreateParams{UserID: "u1"})
	require.NoError(t, err)
	return f.cookies.NewCookie(token, sess.ExpiresAt)
}

func doRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}
