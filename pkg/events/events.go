// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events defines the auth event vocabulary and the transactional
// recorder that appends an event and enqueues its outbox row atomically with
// the state change that produced it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lanolabs/authgate/pkg/storage"
)

// Event types emitted by the gateway engines.
const (
	TypeSessionCreated  = "SessionCreated"
	TypeSessionRevoked  = "SessionRevoked"
	TypeTokenIssued     = "TokenIssued"
	TypeTokenRevoked    = "TokenRevoked"
	TypeUserUpserted    = "UserUpserted"
	TypeAuthEventLogged = "AuthEventLogged"
	TypeAPIKeyCreated   = "APIKeyCreated"
	TypeAPIKeyRotated   = "APIKeyRotated"
	TypeAPIKeyRevoked   = "APIKeyRevoked"
)

// SessionPayload is the payload schema for session events.
type SessionPayload struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Platform  string    `json:"platform"`
	ClientID  string    `json:"client_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// TokenPayload is the payload schema for token events. Token values and
// hashes are deliberately absent.
type TokenPayload struct {
	TokenID       string `json:"token_id"`
	TokenType     string `json:"token_type"`
	ClientID      string `json:"client_id"`
	UserID        string `json:"user_id"`
	ParentTokenID string `json:"parent_token_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// UserPayload is the payload schema for user events.
type UserPayload struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Role     string `json:"role,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// APIKeyPayload is the payload schema for API key events. The key value and
// its hash never appear here.
type APIKeyPayload struct {
	KeyID       string `json:"key_id"`
	Name        string `json:"name"`
	UserID      string `json:"user_id"`
	AccessLevel string `json:"access_level"`
}

// AuditPayload is the payload schema for AuthEventLogged events.
type AuditPayload struct {
	EventType        string `json:"event_type"`
	UserID           string `json:"user_id,omitempty"`
	ClientID         string `json:"client_id,omitempty"`
	Success          bool   `json:"success"`
	ErrorCode        string `json:"error_code,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Recorder appends events and their outbox rows. All methods must run on a
// storage.Tx so the append-and-enqueue pair commits with the mutation.
type Recorder struct{}

// NewRecorder creates a Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record serializes payload, appends the event to the aggregate's log and
// enqueues exactly one outbox row for it.
func (*Recorder) Record(
	ctx context.Context,
	tx storage.Tx,
	aggregateType, aggregateID, eventType string,
	payload any,
) (*storage.Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling event payload: %w", err)
	}

	event := &storage.Event{
		AggregateType:    aggregateType,
		AggregateID:      aggregateID,
		EventType:        eventType,
		EventTypeVersion: 1,
		Payload:          data,
		OccurredAt:       time.Now(),
	}
	if err := tx.Events().AppendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("appending event: %w", err)
	}

	entry := &storage.OutboxEntry{EventID: event.EventID}
	if err := tx.Outbox().Enqueue(ctx, entry); err != nil {
		return nil, fmt.Errorf("enqueueing outbox entry: %w", err)
	}

	return event, nil
}
