// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanolabs/authgate/pkg/apikey"
	"github.com/lanolabs/authgate/pkg/events"
	"github.com/lanolabs/authgate/pkg/session"
	"github.com/lanolabs/authgate/pkg/storage"
)

func postJSON(t *testing.T, handler http.Handler, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return doRequest(handler, req)
}

func TestLoginSetsSessionCookie(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	handler := f.router(fakeProvider{})

	rec := postJSON(t, handler, "/v1/auth/login", loginRequest{
		Email:    "dev@lanolabs.dev",
		Password: "correct horse",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "u1", resp.UserID)
	assert.Equal(t, "org-1", resp.OrganizationID)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	assert.Equal(t, session.CookieName, cookie.Name)
	assert.NotEmpty(t, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, "lanolabs.dev", cookie.Domain)

	// The cookie authenticates the session endpoint.
	req := httptest.NewRequest(http.MethodGet, "/v1/auth/session", nil)
	req.AddCookie(cookie)
	rec = doRequest(handler, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var sess sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, "u1", sess.UserID)
	assert.Equal(t, session.PlatformWeb, sess.Platform)
}

func TestLoginRecordsUserUpsertEvent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	handler := f.router(fakeProvider{})

	rec := postJSON(t, handler, "/v1/auth/login", loginRequest{
		Email:    "dev@lanolabs.dev",
		Password: "correct horse",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The sign-in mirror commits through the event path: the user aggregate
	// carries a UserUpserted event, and every event has its outbox row.
	evts, err := f.store.Events().ListEventsByAggregate(context.Background(), storage.AggregateUser, "u1")
	require.NoError(t, err)

	var upsert *storage.Event
	for _, evt := range evts {
		if evt.EventType == events.TypeUserUpserted {
			upsert = evt
		}
	}
	require.NotNil(t, upsert, "login did not record UserUpserted")

	var payload events.UserPayload
	require.NoError(t, json.Unmarshal(upsert.Payload, &payload))
	assert.Equal(t, "u1", payload.UserID)
	assert.Equal(t, "dev@lanolabs.dev", payload.Email)

	stats, err := f.store.Outbox().Stats(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, stats.Pending)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	handler := f.router(fakeProvider{})

	rec := postJSON(t, handler, "/v1/auth/login", loginRequest{
		Email:    "dev@lanolabs.dev",
		Password: "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestLoginValidatesBody(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	handler := f.router(fakeProvider{})

	rec := postJSON(t, handler, "/v1/auth/login", loginRequest{Email: "dev@lanolabs.dev"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutRevokesSessionAndClearsCookie(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	handler := f.router(fakeProvider{})
	cookie := f.sessionCookie(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil)
	req.AddCookie(cookie)
	rec := doRequest(handler, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, session.CookieName, cleared[0].Name)
	assert.Empty(t, cleared[0].Value)
	assert.Negative(t, cleared[0].MaxAge)

	// The session is gone.
	req = httptest.NewRequest(http.MethodGet, "/v1/auth/session", nil)
	req.AddCookie(cookie)
	rec = doRequest(handler, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutWithoutSessionSucceeds(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	handler := f.router(fakeProvider{})

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil)
	rec := doRequest(handler, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestVerifyAPIKey(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	handler := f.router(fakeProvider{})

	minted, err := f.keys.Mint(context.Background(), apikey.MintParams{UserID: "u1", Name: "ci"})
	require.NoError(t, err)

	rec := postJSON(t, handler, "/v1/auth/verify", verifyRequest{Token: minted.Plain})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp verifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Active)
	assert.Equal(t, "u1", resp.AuthID)
	assert.Equal(t, "api_key", resp.AuthMethod)
}

func TestVerifyUnknownCredentialIsInactive(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	handler := f.router(fakeProvider{})

	rec := postJSON(t, handler, "/v1/auth/verify", verifyRequest{Token: "bogus"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp verifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Active)
	assert.Empty(t, resp.AuthID)
}
