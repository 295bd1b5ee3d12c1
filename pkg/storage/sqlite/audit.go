// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lanolabs/authgate/pkg/storage"
)

type auditStore struct {
	q querier
}

var _ storage.AuditStore = (*auditStore)(nil)

func (s *auditStore) InsertAudit(ctx context.Context, entry *storage.AuditEntry) error {
	metadata, err := encodeMap(entry.Metadata)
	if err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, event_type, user_id, success, error_code, error_description,
			ip_address, user_agent, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.EventType,
		entry.UserID,
		entry.Success,
		entry.ErrorCode,
		entry.ErrorDescription,
		entry.IPAddress,
		entry.UserAgent,
		metadata,
		fmtTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func (s *auditStore) InsertOAuthAudit(ctx context.Context, entry *storage.OAuthAuditEntry) error {
	metadata, err := encodeMap(entry.Metadata)
	if err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO oauth_audit_log (
			id, event_type, client_id, user_id, success, error_code,
			error_description, ip_address, user_agent, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.EventType,
		entry.ClientID,
		entry.UserID,
		entry.Success,
		entry.ErrorCode,
		entry.ErrorDescription,
		entry.IPAddress,
		entry.UserAgent,
		metadata,
		fmtTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting oauth audit entry: %w", err)
	}
	return nil
}
