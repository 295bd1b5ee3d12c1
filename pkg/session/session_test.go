// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanolabs/authgate/pkg/audit"
	gateerr "github.com/lanolabs/authgate/pkg/errors"
	"github.com/lanolabs/authgate/pkg/events"
	"github.com/lanolabs/authgate/pkg/storage"
	"github.com/lanolabs/authgate/pkg/storage/sqlite"
)

func newTestEngine(t *testing.T) (*Engine, storage.Store) {
	t.Helper()

	store, err := sqlite.New(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	recorder := events.NewRecorder()
	return New(store, recorder, audit.New(recorder), Config{}), store
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	engine, store := newTestEngine(t)
	ctx := context.Background()

	created, token, err := engine.Create(ctx, CreateParams{
		UserID:    "u1",
		Platform:  PlatformWeb,
		IPAddress: "10.0.0.1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.NotContains(t, created.TokenHash, token)

	found, err := engine.Find(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "u1", found.UserID)

	require.NoError(t, engine.Revoke(ctx, token))

	_, err = engine.Find(ctx, token)
	assert.True(t, gateerr.IsAuthentication(err))

	// Lifecycle leaves a created and a revoked event on the aggregate.
	evts, err := store.Events().ListEventsByAggregate(ctx, storage.AggregateSession, created.ID)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, events.TypeSessionCreated, evts[0].EventType)
	assert.Equal(t, events.TypeSessionRevoked, evts[1].EventType)

	// Logout is idempotent.
	require.NoError(t, engine.Revoke(ctx, token))
}

func TestFindExpiredSession(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return start }

	_, token, err := engine.Create(ctx, CreateParams{UserID: "u1", TTL: time.Hour})
	require.NoError(t, err)

	engine.now = func() time.Time { return start.Add(2 * time.Hour) }
	_, err = engine.Find(ctx, token)
	assert.True(t, gateerr.IsAuthentication(err))
}

func TestRevokeAllForUser(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	var tokens []string
	for range 3 {
		_, token, err := engine.Create(ctx, CreateParams{UserID: "u1"})
		require.NoError(t, err)
		tokens = append(tokens, token)
	}
	_, other, err := engine.Create(ctx, CreateParams{UserID: "u2"})
	require.NoError(t, err)

	deleted, err := engine.RevokeAllForUser(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)

	for _, token := range tokens {
		_, err := engine.Find(ctx, token)
		assert.True(t, gateerr.IsAuthentication(err))
	}
	_, err = engine.Find(ctx, other)
	assert.NoError(t, err)
}

func TestRevokeHookFires(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	var invalidated []string
	engine.OnRevoke(func(_ context.Context, tokenHash string) {
		invalidated = append(invalidated, tokenHash)
	})

	_, token, err := engine.Create(ctx, CreateParams{UserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, engine.Revoke(ctx, token))
	assert.Len(t, invalidated, 1)

	// No hook for unknown tokens.
	require.NoError(t, engine.Revoke(ctx, "unknown"))
	assert.Len(t, invalidated, 1)
}

func TestCookieContract(t *testing.T) {
	t.Parallel()

	cfg := CookieConfig{Domain: "lanolabs.dev", Secure: true}
	expires := time.Now().Add(time.Hour)

	cookie := cfg.NewCookie("tok", expires)
	assert.Equal(t, CookieName, cookie.Name)
	assert.Equal(t, "tok", cookie.Value)
	assert.Equal(t, ".lanolabs.dev", cookie.Domain)
	assert.Equal(t, "/", cookie.Path)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	clear := cfg.ClearCookie()
	assert.Equal(t, -1, clear.MaxAge)
	assert.Empty(t, clear.Value)

	// Already-dotted domains pass through unchanged.
	assert.Equal(t, ".lanolabs.dev", CookieConfig{Domain: ".lanolabs.dev"}.NewCookie("t", expires).Domain)
}
