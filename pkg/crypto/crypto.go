// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package crypto holds the credential primitives shared by every engine:
// opaque secret generation, deterministic SHA-256 hashing for lookup by
// hash, PKCE S256 verification, and constant-time comparison.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/oauth2"
)

// Secret sizes in bytes. All secrets carry at least 256 bits of entropy,
// which is the compensating control for storing unsalted SHA-256 hashes.
const (
	// AuthorizationCodeBytes is the size of authorization codes.
	AuthorizationCodeBytes = 48

	// AccessTokenBytes is the size of access tokens.
	AccessTokenBytes = 48

	// RefreshTokenBytes is the size of refresh tokens.
	RefreshTokenBytes = 64

	// SessionTokenBytes is the size of browser session tokens.
	SessionTokenBytes = 48

	// APIKeyBytes is the size of the random tail of an API key.
	// Hex encoded this yields 64 characters after the prefix.
	APIKeyBytes = 32
)

// PKCE challenge methods.
const (
	// MethodS256 hashes the verifier with SHA-256 (RFC 7636 section 4.2).
	MethodS256 = "S256"

	// MethodPlain compares the verifier directly. Only honored for
	// confidential clients that explicitly allow it.
	MethodPlain = "plain"
)

// NewOpaqueToken draws n bytes of cryptographic randomness and encodes them
// as base64url without padding. The returned string is the only form the
// secret ever takes outside the client that receives it.
func NewOpaqueToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewHexSecret draws n bytes of cryptographic randomness and encodes them as
// lowercase hex. Used for the API key tail where a restricted alphabet is
// part of the published key format.
func NewHexSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashSecret returns the lowercase hex SHA-256 of the UTF-8 bytes of s.
// The hash is deliberately unsalted: lookups work by hashing the presented
// secret and querying for the digest.
func HashSecret(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ComputeS256Challenge computes the PKCE code_challenge for a verifier using
// the S256 method: base64url-no-pad of SHA256(verifier).
func ComputeS256Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// VerifyPKCE reports whether verifier satisfies challenge under the given
// method. Unknown methods never verify.
func VerifyPKCE(challenge, verifier, method string) bool {
	switch method {
	case MethodS256:
		return ConstantTimeEquals(ComputeS256Challenge(verifier), challenge)
	case MethodPlain:
		return ConstantTimeEquals(verifier, challenge)
	default:
		return false
	}
}

// ConstantTimeEquals compares two strings in constant time.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
