// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpaqueToken(t *testing.T) {
	t.Parallel()

	tok, err := NewOpaqueToken(AccessTokenBytes)
	require.NoError(t, err)
	// 48 bytes base64url-no-pad encode to 64 characters.
	assert.Len(t, tok, 64)

	other, err := NewOpaqueToken(AccessTokenBytes)
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)
}

func TestNewHexSecret(t *testing.T) {
	t.Parallel()

	s, err := NewHexSecret(APIKeyBytes)
	require.NoError(t, err)
	assert.Len(t, s, 64)
	assert.Regexp(t, "^[0-9a-f]{64}$", s)
}

func TestHashSecretDeterministic(t *testing.T) {
	t.Parallel()

	// Known SHA-256 vector.
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		HashSecret("hello"))
	assert.Equal(t, HashSecret("secret"), HashSecret("secret"))
	assert.NotEqual(t, HashSecret("secret"), HashSecret("secrets"))
}

func TestVerifyPKCE(t *testing.T) {
	t.Parallel()

	// RFC 7636 appendix B test vector.
	const (
		verifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
		challenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	)

	tests := []struct {
		name      string
		challenge string
		verifier  string
		method    string
		want      bool
	}{
		{"s256 match", challenge, verifier, MethodS256, true},
		{"s256 mismatch", challenge, "wrong-verifier-wrong-verifier-wrong-verifie", MethodS256, false},
		{"plain match", "abc", "abc", MethodPlain, true},
		{"plain mismatch", "abc", "abd", MethodPlain, false},
		{"unknown method", challenge, verifier, "S512", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, VerifyPKCE(tt.challenge, tt.verifier, tt.method))
		})
	}
}

func TestComputeS256Challenge(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		ComputeS256Challenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
}

func TestConstantTimeEquals(t *testing.T) {
	t.Parallel()

	assert.True(t, ConstantTimeEquals("same", "same"))
	assert.False(t, ConstantTimeEquals("same", "diff"))
	assert.False(t, ConstantTimeEquals("same", "same-but-longer"))
}
