// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package upstream verifies primary credentials against the identity
// provider that owns them. The gateway never stores passwords; login
// delegates here and only mints sessions for identities the provider
// vouches for.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	gateerr "github.com/lanolabs/authgate/pkg/errors"
	"github.com/lanolabs/authgate/pkg/logger"
)

// DefaultTimeout bounds a single verification call.
const DefaultTimeout = 10 * time.Second

// Identity is what the provider asserts about a verified credential.
type Identity struct {
	UserID         string `json:"user_id"`
	Email          string `json:"email"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// Provider verifies an email/password pair. Implementations must return an
// authentication error for bad credentials and keep transport failures
// distinguishable from rejections.
type Provider interface {
	VerifyPassword(ctx context.Context, email, password string) (*Identity, error)
}

// HTTPProvider verifies credentials against an HTTP identity provider.
type HTTPProvider struct {
	client  *http.Client
	url     string
	timeout time.Duration
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider creates the provider client for the given verify endpoint.
func NewHTTPProvider(url string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPProvider{
		client:  &http.Client{},
		url:     url,
		timeout: timeout,
	}
}

type verifyRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyPassword implements Provider. A 401 or 403 from the provider is an
// authentication failure; anything else unexpected is an upstream error.
func (p *HTTPProvider) VerifyPassword(ctx context.Context, email, password string) (*Identity, error) {
	body, err := json.Marshal(verifyRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("marshaling verify request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, gateerr.NewServiceError("identity provider unreachable", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, gateerr.NewAuthenticationError("invalid credentials", nil)
	default:
		logger.Warnw("unexpected identity provider response", "status", resp.StatusCode)
		return nil, gateerr.NewServiceError(
			fmt.Sprintf("identity provider responded %d", resp.StatusCode), nil)
	}

	var identity Identity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return nil, gateerr.NewServiceError("decoding identity provider response", err)
	}
	if identity.UserID == "" {
		return nil, gateerr.NewServiceError("identity provider returned no user id", nil)
	}
	return &identity, nil
}
