// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors provides HTTP error handling utilities for the API.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	gateerr "github.com/lanolabs/authgate/pkg/errors"
	"github.com/lanolabs/authgate/pkg/logger"
	"github.com/lanolabs/authgate/pkg/oauth"
)

// HandlerWithError is an HTTP handler that can return an error. Handlers
// return errors instead of writing error responses themselves, so status
// mapping and sanitization live in one place.
type HandlerWithError func(http.ResponseWriter, *http.Request) error

// ErrorHandler wraps a HandlerWithError and converts returned errors into
// HTTP responses:
//   - *oauth.ProtocolError renders the RFC 6749 error body; invalid_client
//     gets 401 with WWW-Authenticate, everything else 400
//   - typed engine errors map through errors.Code; 5xx detail is logged and
//     replaced with a generic message
func ErrorHandler(fn HandlerWithError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}

		var perr *oauth.ProtocolError
		if errors.As(err, &perr) {
			WriteProtocolError(w, perr)
			return
		}

		code := gateerr.Code(err)
		if code >= http.StatusInternalServerError {
			logger.Errorw("internal server error",
				"path", r.URL.Path,
				"error", err.Error(),
			)
			writeJSONError(w, code, http.StatusText(code))
			return
		}

		// 4xx bodies carry the engine's message, never the cause chain.
		var gerr *gateerr.Error
		if errors.As(err, &gerr) {
			writeJSONError(w, code, gerr.Message)
			return
		}
		writeJSONError(w, code, err.Error())
	}
}

// WriteProtocolError renders an OAuth protocol error per RFC 6749 §5.2.
func WriteProtocolError(w http.ResponseWriter, perr *oauth.ProtocolError) {
	status := http.StatusBadRequest
	if perr.Code == oauth.ErrInvalidClient {
		w.Header().Set("WWW-Authenticate", `Bearer realm="authgate"`)
		status = http.StatusUnauthorized
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             perr.Code,
		"error_description": perr.Description,
	})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
