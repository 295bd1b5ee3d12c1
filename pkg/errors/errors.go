// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the typed error kinds raised by the gateway engines
// and their mapping to HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error types
const (
	// ErrValidation is returned when a request carries malformed or missing parameters
	ErrValidation = "validation"

	// ErrAuthentication is returned when no valid credential was presented
	ErrAuthentication = "authentication"

	// ErrAuthorization is returned when a valid credential is not permitted to act
	ErrAuthorization = "authorization"

	// ErrNotFound is returned when a requested resource does not exist
	ErrNotFound = "not_found"

	// ErrConflict is returned when a uniqueness constraint is violated
	ErrConflict = "conflict"

	// ErrRateLimit is returned when a rate-limit window is exhausted
	ErrRateLimit = "rate_limit"

	// ErrPersistence is returned when the relational store fails
	ErrPersistence = "persistence"

	// ErrService is returned for other upstream failures
	ErrService = "service"
)

// Error represents an error raised by one of the gateway engines
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string, cause error) *Error {
	return NewError(ErrValidation, message, cause)
}

// NewAuthenticationError creates a new authentication error
func NewAuthenticationError(message string, cause error) *Error {
	return NewError(ErrAuthentication, message, cause)
}

// NewAuthorizationError creates a new authorization error
func NewAuthorizationError(message string, cause error) *Error {
	return NewError(ErrAuthorization, message, cause)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *Error {
	return NewError(ErrNotFound, message, cause)
}

// NewConflictError creates a new conflict error
func NewConflictError(message string, cause error) *Error {
	return NewError(ErrConflict, message, cause)
}

// NewRateLimitError creates a new rate limit error
func NewRateLimitError(message string, cause error) *Error {
	return NewError(ErrRateLimit, message, cause)
}

// NewPersistenceError creates a new persistence error
func NewPersistenceError(message string, cause error) *Error {
	return NewError(ErrPersistence, message, cause)
}

// NewServiceError creates a new service error
func NewServiceError(message string, cause error) *Error {
	return NewError(ErrService, message, cause)
}

// is checks whether err is an *Error of the given type
func is(err error, errorType string) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errorType
}

// IsValidation checks if the error is a validation error
func IsValidation(err error) bool { return is(err, ErrValidation) }

// IsAuthentication checks if the error is an authentication error
func IsAuthentication(err error) bool { return is(err, ErrAuthentication) }

// IsAuthorization checks if the error is an authorization error
func IsAuthorization(err error) bool { return is(err, ErrAuthorization) }

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool { return is(err, ErrNotFound) }

// IsConflict checks if the error is a conflict error
func IsConflict(err error) bool { return is(err, ErrConflict) }

// IsRateLimit checks if the error is a rate limit error
func IsRateLimit(err error) bool { return is(err, ErrRateLimit) }

// IsPersistence checks if the error is a persistence error
func IsPersistence(err error) bool { return is(err, ErrPersistence) }

// Code maps an error to an HTTP status code. Unknown errors map to 500 so
// that internal detail never leaks to the client.
func Code(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Type {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrAuthentication:
		return http.StatusUnauthorized
	case ErrAuthorization:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
