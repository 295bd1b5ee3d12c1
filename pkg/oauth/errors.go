// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import "errors"

// OAuth protocol error codes (RFC 6749 sections 4.1.2.1 and 5.2).
const (
	ErrInvalidRequest       = "invalid_request"
	ErrInvalidClient        = "invalid_client"
	ErrInvalidGrant         = "invalid_grant"
	ErrInvalidScope         = "invalid_scope"
	ErrUnauthorizedClient   = "unauthorized_client"
	ErrUnsupportedGrantType = "unsupported_grant_type"
	ErrAccessDenied         = "access_denied"
)

// ProtocolError is an OAuth protocol failure carried as a value. The HTTP
// surface renders it per RFC conventions instead of the generic error
// mapping.
type ProtocolError struct {
	// Code is one of the RFC error codes above.
	Code string

	// Description is a concise, non-leaky human-readable detail.
	Description string

	// SafeRedirect is true when the request's redirect_uri was validated
	// against the client allow-list, so the error may be delivered on the
	// redirect. When false the error must be rendered directly and no
	// redirect issued.
	SafeRedirect bool
}

// Error implements error.
func (e *ProtocolError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

func protocolErr(code, description string) *ProtocolError {
	return &ProtocolError{Code: code, Description: description}
}

// AsProtocolError extracts a ProtocolError from an error chain.
func AsProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	ok := errors.As(err, &pe)
	return pe, ok
}
