// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanolabs/authgate/pkg/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testClient(id string) *storage.OAuthClient {
	return &storage.OAuthClient{
		ClientID:                    id,
		Name:                        "Test Client",
		ClientType:                  storage.ClientTypePublic,
		ApplicationType:             "cli",
		RequirePKCE:                 true,
		AllowedCodeChallengeMethods: []string{"S256"},
		AllowedRedirectURIs:         []string{"http://127.0.0.1:8989/callback"},
		AllowedScopes:               []string{"memories:read", "memories:write"},
		DefaultScopes:               []string{"memories:read"},
		Status:                      storage.ClientStatusActive,
	}
}

func TestClientRoundTrip(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Clients().CreateClient(ctx, testClient("cli-app")))

	got, err := store.Clients().GetClient(ctx, "cli-app")
	require.NoError(t, err)
	assert.Equal(t, "cli-app", got.ClientID)
	assert.True(t, got.RequirePKCE)
	assert.Equal(t, []string{"S256"}, got.AllowedCodeChallengeMethods)
	assert.True(t, got.IsActive())

	// client_id lookups are case-insensitive.
	got, err = store.Clients().GetClient(ctx, "CLI-APP")
	require.NoError(t, err)
	assert.Equal(t, "cli-app", got.ClientID)

	err = store.Clients().CreateClient(ctx, testClient("cli-app"))
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	_, err = store.Clients().GetClient(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateClient(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	client := testClient("cli-app")
	require.NoError(t, store.Clients().CreateClient(ctx, client))

	client.Status = storage.ClientStatusDisabled
	require.NoError(t, store.Clients().UpdateClient(ctx, client))

	got, err := store.Clients().GetClient(ctx, "cli-app")
	require.NoError(t, err)
	assert.False(t, got.IsActive())

	err = store.Clients().UpdateClient(ctx, testClient("missing"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCodeConsumedExactlyOnce(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Clients().CreateClient(ctx, testClient("cli-app")))

	code := &storage.AuthorizationCode{
		ID:                  uuid.NewString(),
		CodeHash:            "deadbeef",
		ClientID:            "cli-app",
		UserID:              uuid.NewString(),
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
		RedirectURI:         "http://127.0.0.1:8989/callback",
		Scope:               []string{"memories:read"},
		State:               "xyz",
		ExpiresAt:           time.Now().Add(5 * time.Minute),
	}
	require.NoError(t, store.Codes().InsertCode(ctx, code))

	got, err := store.Codes().GetCodeByHash(ctx, "deadbeef")
	require.NoError(t, err)
	assert.False(t, got.Consumed)

	ok, err := store.Codes().MarkCodeConsumed(ctx, code.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	// Second consumption loses.
	ok, err = store.Codes().MarkCodeConsumed(ctx, code.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = store.Codes().GetCodeByHash(ctx, "deadbeef")
	require.NoError(t, err)
	assert.True(t, got.Consumed)
	require.NotNil(t, got.ConsumedAt)
}

func TestDeleteExpiredCodes(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Clients().CreateClient(ctx, testClient("cli-app")))

	for i, expiry := range []time.Duration{-time.Minute, time.Minute} {
		code := &storage.AuthorizationCode{
			ID:          uuid.NewString(),
			CodeHash:    uuid.NewString(),
			ClientID:    "cli-app",
			UserID:      uuid.NewString(),
			RedirectURI: "http://127.0.0.1:8989/callback",
			ExpiresAt:   time.Now().Add(expiry),
		}
		require.NoError(t, store.Codes().InsertCode(ctx, code), "code %d", i)
	}

	deleted, err := store.Codes().DeleteExpiredCodes(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestTokenChain(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	userID := uuid.NewString()
	refresh := &storage.OAuthToken{
		ID:        uuid.NewString(),
		TokenHash: "r1",
		TokenType: storage.TokenTypeRefresh,
		ClientID:  "cli-app",
		UserID:    userID,
		Scope:     []string{"memories:read"},
		ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
	}
	require.NoError(t, store.Tokens().InsertToken(ctx, refresh))

	access := &storage.OAuthToken{
		ID:            uuid.NewString(),
		TokenHash:     "a1",
		TokenType:     storage.TokenTypeAccess,
		ClientID:      "cli-app",
		UserID:        userID,
		Scope:         []string{"memories:read"},
		ParentTokenID: &refresh.ID,
		ExpiresAt:     time.Now().Add(15 * time.Minute),
	}
	require.NoError(t, store.Tokens().InsertToken(ctx, access))

	children, err := store.Tokens().ListChildTokens(ctx, refresh.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, access.ID, children[0].ID)

	require.NoError(t, store.Tokens().RevokeToken(ctx, refresh.ID, storage.RevokedReasonRotated, time.Now()))

	got, err := store.Tokens().GetTokenByID(ctx, refresh.ID)
	require.NoError(t, err)
	assert.True(t, got.Revoked)
	assert.Equal(t, storage.RevokedReasonRotated, got.RevokedReason)

	// Revoking again keeps the original reason.
	require.NoError(t, store.Tokens().RevokeToken(ctx, refresh.ID, storage.RevokedReasonRevoked, time.Now()))
	got, err = store.Tokens().GetTokenByID(ctx, refresh.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.RevokedReasonRotated, got.RevokedReason)
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	userID := uuid.NewString()
	sess := &storage.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Platform:  "web",
		TokenHash: "s1",
		Scope:     []string{"memories:read"},
		Metadata:  map[string]any{"device": "laptop"},
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, store.Sessions().InsertSession(ctx, sess))

	got, err := store.Sessions().GetSessionByTokenHash(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, userID, got.UserID)
	assert.Equal(t, "laptop", got.Metadata["device"])

	later := time.Now().Add(time.Minute)
	require.NoError(t, store.Sessions().TouchSession(ctx, sess.ID, later))
	got, err = store.Sessions().GetSessionByTokenHash(ctx, "s1")
	require.NoError(t, err)
	assert.WithinDuration(t, later, got.LastUsedAt, time.Second)

	deleted, err := store.Sessions().DeleteSessionByTokenHash(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, deleted.ID)

	_, err = store.Sessions().GetSessionByTokenHash(ctx, "s1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteSessionsByUser(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	userID := uuid.NewString()
	for _, hash := range []string{"s1", "s2"} {
		require.NoError(t, store.Sessions().InsertSession(ctx, &storage.Session{
			ID:        uuid.NewString(),
			UserID:    userID,
			Platform:  "web",
			TokenHash: hash,
			ExpiresAt: time.Now().Add(time.Hour),
		}))
	}

	count, err := store.Sessions().DeleteSessionsByUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestAPIKeyStore(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	userID := uuid.NewString()
	key := &storage.APIKey{
		ID:          uuid.NewString(),
		Name:        "ci",
		KeyHash:     "h1",
		UserID:      userID,
		AccessLevel: storage.AccessLevelAuthenticated,
		Permissions: []string{"memories:read"},
		IsActive:    true,
	}
	require.NoError(t, store.APIKeys().InsertKey(ctx, key))

	exists, err := store.APIKeys().ActiveKeyNameExists(ctx, userID, "ci")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.APIKeys().ActiveKeyNameExists(ctx, userID, "deploy")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.APIKeys().ReplaceKeyHash(ctx, key.ID, "h2", time.Now()))
	_, err = store.APIKeys().GetKeyByHash(ctx, "h1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	got, err := store.APIKeys().GetKeyByHash(ctx, "h2")
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)

	require.NoError(t, store.APIKeys().DeactivateKey(ctx, key.ID, time.Now()))
	exists, err = store.APIKeys().ActiveKeyNameExists(ctx, userID, "ci")
	require.NoError(t, err)
	assert.False(t, exists)

	keys, err := store.APIKeys().ListKeysByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	require.NoError(t, store.APIKeys().DeleteKey(ctx, key.ID))
	assert.ErrorIs(t, store.APIKeys().DeleteKey(ctx, key.ID), storage.ErrNotFound)
}

func TestUserUpsert(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	userID := uuid.NewString()
	signIn := time.Now()
	require.NoError(t, store.Users().UpsertUser(ctx, &storage.UserAccount{
		UserID:       userID,
		Email:        "Alice@Example.COM",
		Role:         "member",
		LastSignInAt: &signIn,
	}))

	got, err := store.Users().GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)
	require.NotNil(t, got.LastSignInAt)

	// Second upsert keeps last_sign_in_at when not provided.
	require.NoError(t, store.Users().UpsertUser(ctx, &storage.UserAccount{
		UserID: userID,
		Email:  "alice@example.com",
		Role:   "admin",
	}))
	got, err = store.Users().GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "admin", got.Role)
	assert.NotNil(t, got.LastSignInAt)

	byEmail, err := store.Users().GetUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, userID, byEmail.UserID)
}

func TestEventVersionsContiguous(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	aggregateID := uuid.NewString()
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		for range 3 {
			e := &storage.Event{
				AggregateType: storage.AggregateSession,
				AggregateID:   aggregateID,
				EventType:     "SessionCreated",
				Payload:       []byte(`{"platform":"web"}`),
			}
			if err := tx.Events().AppendEvent(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	events, err := store.Events().ListEventsByAggregate(ctx, storage.AggregateSession, aggregateID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Version)
		assert.Equal(t, 1, e.EventTypeVersion)
	}

	// A different aggregate starts over at 1.
	other := &storage.Event{
		AggregateType: storage.AggregateSession,
		AggregateID:   uuid.NewString(),
		EventType:     "SessionCreated",
	}
	require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.Events().AppendEvent(ctx, other)
	}))
	assert.Equal(t, int64(1), other.Version)
}

func TestOutboxLifecycle(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	event := &storage.Event{
		AggregateType: storage.AggregateUser,
		AggregateID:   uuid.NewString(),
		EventType:     "UserUpserted",
	}
	var entry storage.OutboxEntry
	require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.Events().AppendEvent(ctx, event); err != nil {
			return err
		}
		entry.EventID = event.EventID
		return tx.Outbox().Enqueue(ctx, &entry)
	}))

	due, err := store.Outbox().FetchDue(ctx, 10, time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, storage.OutboxStatusPending, due[0].Status)
	assert.Equal(t, storage.DefaultOutboxDestination, due[0].Destination)

	// Retry pushes next_attempt_at into the future.
	next := time.Now().Add(time.Minute)
	require.NoError(t, store.Outbox().MarkRetry(ctx, entry.ID, 1, next, "connection refused"))
	due, err = store.Outbox().FetchDue(ctx, 10, time.Now())
	require.NoError(t, err)
	assert.Empty(t, due)

	stats, err := store.Outbox().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(0), stats.Failed)

	require.NoError(t, store.Outbox().MarkFailed(ctx, entry.ID, 5, "still down"))
	stats, err = store.Outbox().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Pending)
	assert.Equal(t, int64(1), stats.Failed)

	require.NoError(t, store.Outbox().MarkSent(ctx, entry.ID, time.Now()))
}

func TestStateStoreExpiry(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.States().PutState(ctx, "csrf:abc", []byte("blob"), time.Now().Add(time.Minute)))

	value, err := store.States().GetState(ctx, "csrf:abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), value)

	// Overwrite is allowed.
	require.NoError(t, store.States().PutState(ctx, "csrf:abc", []byte("blob2"), time.Now().Add(time.Minute)))
	value, err = store.States().GetState(ctx, "csrf:abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob2"), value)

	// Expired keys read as missing and are swept.
	require.NoError(t, store.States().PutState(ctx, "otp:old", []byte("x"), time.Now().Add(-time.Second)))
	_, err = store.States().GetState(ctx, "otp:old")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	swept, err := store.States().DeleteExpiredStates(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	sentinel := assert.AnError
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.Users().UpsertUser(ctx, &storage.UserAccount{
			UserID: "u1",
			Email:  "a@b.c",
		}); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	_, err = store.Users().GetUser(ctx, "u1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAuditInserts(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Audit().InsertAudit(ctx, &storage.AuditEntry{
		EventType: "login",
		UserID:    uuid.NewString(),
		Success:   true,
		IPAddress: "192.0.2.1",
	}))
	require.NoError(t, store.Audit().InsertOAuthAudit(ctx, &storage.OAuthAuditEntry{
		EventType: "token_exchange",
		ClientID:  "cli-app",
		Success:   false,
		ErrorCode: "invalid_grant",
	}))
}
