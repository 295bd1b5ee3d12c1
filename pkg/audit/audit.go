// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package audit writes immutable operational records. Every record lands in
// its local table for operator visibility and is mirrored onto the event log
// as AuthEventLogged, so the outbox projects it downstream.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lanolabs/authgate/pkg/events"
	"github.com/lanolabs/authgate/pkg/logger"
	"github.com/lanolabs/authgate/pkg/storage"
)

// Auditor records general and OAuth-protocol audit entries.
type Auditor struct {
	recorder *events.Recorder
}

// New creates an Auditor.
func New(recorder *events.Recorder) *Auditor {
	return &Auditor{recorder: recorder}
}

// Record writes an audit entry and its AuthEventLogged event on the caller's
// transaction.
func (a *Auditor) Record(ctx context.Context, tx storage.Tx, entry *storage.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	if err := tx.Audit().InsertAudit(ctx, entry); err != nil {
		return err
	}

	_, err := a.recorder.Record(ctx, tx, storage.AggregateUser, auditAggregateID(entry.UserID),
		events.TypeAuthEventLogged, events.AuditPayload{
			EventType:        entry.EventType,
			UserID:           entry.UserID,
			Success:          entry.Success,
			ErrorCode:        entry.ErrorCode,
			ErrorDescription: entry.ErrorDescription,
		})
	return err
}

// RecordOAuth writes an OAuth audit entry and its AuthEventLogged event on
// the caller's transaction.
func (a *Auditor) RecordOAuth(ctx context.Context, tx storage.Tx, entry *storage.OAuthAuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	if err := tx.Audit().InsertOAuthAudit(ctx, entry); err != nil {
		return err
	}

	aggregateType := storage.AggregateClient
	aggregateID := entry.ClientID
	if aggregateID == "" {
		aggregateType = storage.AggregateUser
		aggregateID = auditAggregateID(entry.UserID)
	}

	_, err := a.recorder.Record(ctx, tx, aggregateType, aggregateID,
		events.TypeAuthEventLogged, events.AuditPayload{
			EventType:        entry.EventType,
			UserID:           entry.UserID,
			ClientID:         entry.ClientID,
			Success:          entry.Success,
			ErrorCode:        entry.ErrorCode,
			ErrorDescription: entry.ErrorDescription,
		})
	return err
}

// RecordOAuthFailure audits a failed protocol interaction in its own
// transaction. Failure paths roll back the operation's transaction, so the
// record needs a fresh one; audit trouble is logged, never surfaced.
func (a *Auditor) RecordOAuthFailure(ctx context.Context, store storage.Store, entry *storage.OAuthAuditEntry) {
	entry.Success = false
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		return a.RecordOAuth(ctx, tx, entry)
	})
	if err != nil {
		logger.Errorw("recording oauth audit entry",
			"event_type", entry.EventType,
			"error", err.Error(),
		)
	}
}

// RecordFailure audits a failed operation in its own transaction.
func (a *Auditor) RecordFailure(ctx context.Context, store storage.Store, entry *storage.AuditEntry) {
	entry.Success = false
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		return a.Record(ctx, tx, entry)
	})
	if err != nil {
		logger.Errorw("recording audit entry",
			"event_type", entry.EventType,
			"error", err.Error(),
		)
	}
}

// auditAggregateID keeps unattributed records on a stable aggregate so their
// versions stay contiguous.
func auditAggregateID(userID string) string {
	if userID == "" {
		return "system"
	}
	return userID
}
