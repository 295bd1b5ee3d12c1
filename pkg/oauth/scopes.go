// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"slices"
	"strings"

	"github.com/lanolabs/authgate/pkg/storage"
)

// ApplicationTypeMCP marks clients that speak the Model Context Protocol.
// Such clients get the standard MCP scopes without per-client registration.
const ApplicationTypeMCP = "mcp"

// mcpImplicitScopes is the standard scope set granted implicitly to MCP
// application types.
var mcpImplicitScopes = []string{"mcp:tools", "mcp:resources", "mcp:prompts"}

// ParseScope splits a space-delimited scope parameter.
func ParseScope(raw string) []string {
	return strings.Fields(raw)
}

// JoinScope renders a scope list as the wire form.
func JoinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

// allowedScopesFor is the client's registered allow-list plus any implicit
// grants its application type carries.
func allowedScopesFor(client *storage.OAuthClient) []string {
	allowed := client.AllowedScopes
	if client.ApplicationType == ApplicationTypeMCP {
		for _, s := range mcpImplicitScopes {
			if !slices.Contains(allowed, s) {
				allowed = append(allowed, s)
			}
		}
	}
	return allowed
}

// resolveScopes applies the grant scope rules: empty requested yields the
// client defaults; any requested scope outside the allow-list fails the
// whole request.
func resolveScopes(client *storage.OAuthClient, requested []string) ([]string, *ProtocolError) {
	if len(requested) == 0 {
		return slices.Clone(client.DefaultScopes), nil
	}

	allowed := allowedScopesFor(client)
	for _, s := range requested {
		if !slices.Contains(allowed, s) {
			return nil, protocolErr(ErrInvalidScope, "scope not allowed for this client")
		}
	}
	return slices.Clone(requested), nil
}

// narrowScopes applies the refresh-grant scope rules: empty inherits the
// prior scope; otherwise the requested set must be a subset of it.
func narrowScopes(prior, requested []string) ([]string, *ProtocolError) {
	if len(requested) == 0 {
		return slices.Clone(prior), nil
	}
	for _, s := range requested {
		if !slices.Contains(prior, s) {
			return nil, protocolErr(ErrInvalidScope, "scope exceeds the original grant")
		}
	}
	return slices.Clone(requested), nil
}
