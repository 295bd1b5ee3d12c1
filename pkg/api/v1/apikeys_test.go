// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keyPattern = regexp.MustCompile(`^lano_[0-9a-f]{64}$`)

func TestAPIKeysRequireAuthentication(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	handler := f.router(fakeProvider{})

	req := httptest.NewRequest(http.MethodGet, "/v1/api-keys/", nil)
	rec := doRequest(handler, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyLifecycleOverHTTP(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	handler := f.router(fakeProvider{})
	cookie := f.sessionCookie(t)

	// Create.
	rec := postJSON(t, handler, "/v1/api-keys/", createKeyRequest{Name: "ci"}, cookie)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created apiKeyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Regexp(t, keyPattern, created.Key)
	assert.Equal(t, "authenticated", created.AccessLevel)
	assert.True(t, created.IsActive)

	// List never carries the plain value.
	req := httptest.NewRequest(http.MethodGet, "/v1/api-keys/", nil)
	req.AddCookie(cookie)
	rec = doRequest(handler, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []apiKeyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Empty(t, listed[0].Key)
	assert.Equal(t, created.ID, listed[0].ID)

	// The minted key authenticates requests itself.
	req = httptest.NewRequest(http.MethodGet, "/v1/api-keys/"+created.ID, nil)
	req.Header.Set("Authorization", "Bearer "+created.Key)
	rec = doRequest(handler, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Rotate: new plain value, old one stops working.
	req = httptest.NewRequest(http.MethodPost, "/v1/api-keys/"+created.ID+"/rotate", nil)
	req.AddCookie(cookie)
	rec = doRequest(handler, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rotated apiKeyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rotated))
	assert.Regexp(t, keyPattern, rotated.Key)
	assert.NotEqual(t, created.Key, rotated.Key)

	req = httptest.NewRequest(http.MethodGet, "/v1/api-keys/"+created.ID, nil)
	req.Header.Set("Authorization", "Bearer "+created.Key)
	rec = doRequest(handler, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Soft revoke keeps the row with is_active cleared.
	req = httptest.NewRequest(http.MethodDelete, "/v1/api-keys/"+created.ID, nil)
	req.AddCookie(cookie)
	rec = doRequest(handler, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/api-keys/"+created.ID, nil)
	req.AddCookie(cookie)
	rec = doRequest(handler, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var revoked apiKeyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &revoked))
	assert.False(t, revoked.IsActive)
}

func TestAPIKeyValidationErrorsOverHTTP(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	handler := f.router(fakeProvider{})
	cookie := f.sessionCookie(t)

	// Missing name.
	rec := postJSON(t, handler, "/v1/api-keys/", createKeyRequest{}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Out-of-range expiry.
	days := 4000
	rec = postJSON(t, handler, "/v1/api-keys/", createKeyRequest{Name: "ci", ExpiresInDays: &days}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Duplicate active name conflicts.
	rec = postJSON(t, handler, "/v1/api-keys/", createKeyRequest{Name: "ci"}, cookie)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = postJSON(t, handler, "/v1/api-keys/", createKeyRequest{Name: "ci"}, cookie)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Foreign key IDs are invisible.
	req := httptest.NewRequest(http.MethodGet, "/v1/api-keys/not-mine", nil)
	req.AddCookie(cookie)
	rec = doRequest(handler, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
