// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"net/http"
	"time"
)

// CookieName is the session cookie's name.
const CookieName = "authgate_session"

// CookieConfig is the shared-subdomain cookie contract.
type CookieConfig struct {
	// Domain is the parent domain the cookie is scoped to, with or without
	// a leading dot.
	Domain string

	// Secure may be disabled for local development only.
	Secure bool
}

// cookieDomain normalizes the configured parent domain to the dotted form
// so the cookie spans all subdomains.
func (c CookieConfig) cookieDomain() string {
	if c.Domain == "" || c.Domain[0] == '.' {
		return c.Domain
	}
	return "." + c.Domain
}

// NewCookie builds the session cookie carrying the plain token.
func (c CookieConfig) NewCookie(token string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Domain:   c.cookieDomain(),
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie builds the expired cookie that removes the session from the
// browser.
func (c CookieConfig) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   c.cookieDomain(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
