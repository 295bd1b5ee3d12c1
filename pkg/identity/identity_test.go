// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanolabs/authgate/pkg/apikey"
	"github.com/lanolabs/authgate/pkg/audit"
	"github.com/lanolabs/authgate/pkg/cache"
	"github.com/lanolabs/authgate/pkg/crypto"
	gateerr "github.com/lanolabs/authgate/pkg/errors"
	"github.com/lanolabs/authgate/pkg/events"
	"github.com/lanolabs/authgate/pkg/session"
	"github.com/lanolabs/authgate/pkg/storage"
	"github.com/lanolabs/authgate/pkg/storage/sqlite"
)

type fixture struct {
	store    storage.Store
	resolver *Resolver
	keys     *apikey.Engine
	sessions *session.Engine
}

func newFixture(t *testing.T, cfg Config) *fixture {
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
	keys := apikey.New(store, recorder, auditor)
	sessions := session.New(store, recorder, auditor, session.Config{})

	resolver := New(store, tiered, keys, recorder, cfg)
	keys.OnInvalidate(resolver.InvalidateAPIKeyHash)
	sessions.OnRevoke(resolver.InvalidateSessionHash)

	require.NoError(t, store.Users().UpsertUser(ctx, &storage.UserAccount{
		UserID:      "u1",
		Email:       "dev@lanolabs.dev",
		RawMetadata: map[string]any{"organization_id": "org-1"},
	}))

	return &fixture{store: store, resolver: resolver, keys: keys, sessions: sessions}
}

func TestCredentialsResolveToSameIdentity(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	minted, err := f.keys.Mint(ctx, apikey.MintParams{UserID: "u1", Name: "ci"})
	require.NoError(t, err)
	_, sessionToken, err := f.sessions.Create(ctx, session.CreateParams{UserID: "u1"})
	require.NoError(t, err)

	byKey, err := f.resolver.Resolve(ctx, MethodAPIKey, minted.Plain)
	require.NoError(t, err)
	bySession, err := f.resolver.Resolve(ctx, MethodSessionCookie, sessionToken)
	require.NoError(t, err)

	assert.Equal(t, "u1", byKey.AuthID)
	assert.Equal(t, byKey.AuthID, bySession.AuthID)
	assert.Equal(t, "dev@lanolabs.dev", byKey.Email)
	assert.Equal(t, "org-1", byKey.OrganizationID)
	assert.Equal(t, MethodAPIKey, byKey.AuthMethod)
	assert.NotEqual(t, byKey.CredentialID, bySession.CredentialID)
}

func TestResolveServesFromCache(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	minted, err := f.keys.Mint(ctx, apikey.MintParams{UserID: "u1", Name: "ci"})
	require.NoError(t, err)

	first, err := f.resolver.Resolve(ctx, MethodAPIKey, minted.Plain)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.resolver.Resolve(ctx, MethodAPIKey, minted.Plain)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, cache.LayerMemory, second.CacheLayer)
	assert.Equal(t, first.AuthID, second.AuthID)
}

func TestRevocationInvalidatesCache(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	minted, err := f.keys.Mint(ctx, apikey.MintParams{UserID: "u1", Name: "ci"})
	require.NoError(t, err)

	_, err = f.resolver.Resolve(ctx, MethodAPIKey, minted.Plain)
	require.NoError(t, err)

	// Revocation drops the cache entry, so the next resolve sees the store.
	require.NoError(t, f.keys.Revoke(ctx, "u1", minted.Key.ID, false))

	_, err = f.resolver.Resolve(ctx, MethodAPIKey, minted.Plain)
	assert.True(t, gateerr.IsAuthentication(err))
}

func TestSessionRevocationInvalidatesCache(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, token, err := f.sessions.Create(ctx, session.CreateParams{UserID: "u1"})
	require.NoError(t, err)

	_, err = f.resolver.Resolve(ctx, MethodSessionCookie, token)
	require.NoError(t, err)

	require.NoError(t, f.sessions.Revoke(ctx, token))

	_, err = f.resolver.Resolve(ctx, MethodSessionCookie, token)
	assert.True(t, gateerr.IsAuthentication(err))
}

func TestCreateIfMissingProvisionsUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{CreateIfMissing: true})
	ctx := context.Background()

	identity, err := f.resolver.Resolve(ctx, MethodJWT, "22222222-2222-2222-2222-222222222222")
	require.NoError(t, err)
	assert.Equal(t, "22222222-2222-2222-2222-222222222222", identity.AuthID)

	user, err := f.store.Users().GetUser(ctx, identity.AuthID)
	require.NoError(t, err)
	assert.Equal(t, identity.AuthID, user.UserID)

	evts, err := f.store.Events().ListEventsByAggregate(ctx, storage.AggregateUser, identity.AuthID)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, events.TypeUserUpserted, evts[0].EventType)
}

func TestCacheKeyNeverHoldsSecrets(t *testing.T) {
	t.Parallel()

	plain := apikey.Prefix + strings.Repeat("ab", 32)
	key, err := cacheKey(MethodAPIKey, plain)
	require.NoError(t, err)
	assert.NotContains(t, key, plain)
	assert.Equal(t, "uai:api_key:"+crypto.HashSecret(plain)[:apiKeyHashPrefixLen], key)

	key, err = cacheKey(MethodSessionCookie, "session-token")
	require.NoError(t, err)
	assert.Equal(t, "uai:session_cookie:"+crypto.HashSecret("session-token"), key)

	_, err = cacheKey("carrier_pigeon", "x")
	assert.True(t, gateerr.IsValidation(err))
}

func TestStalenessBoundedByTTL(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{TTL: 50 * time.Millisecond})
	ctx := context.Background()

	minted, err := f.keys.Mint(ctx, apikey.MintParams{UserID: "u1", Name: "ci"})
	require.NoError(t, err)

	_, err = f.resolver.Resolve(ctx, MethodAPIKey, minted.Plain)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	// Entry expired in every layer; resolution is authoritative again.
	resolved, err := f.resolver.Resolve(ctx, MethodAPIKey, minted.Plain)
	require.NoError(t, err)
	assert.False(t, resolved.FromCache)
}
