// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package apikey

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lanolabs/authgate/pkg/crypto"
	gateerr "github.com/lanolabs/authgate/pkg/errors"
	"github.com/lanolabs/authgate/pkg/logger"
	"github.com/lanolabs/authgate/pkg/storage"
)

// Invalid-key reasons. Validation deliberately reveals nothing finer.
const (
	ReasonNotFound      = "not_found"
	ReasonExpired       = "expired"
	ReasonRevoked       = "revoked"
	ReasonInvalidFormat = "invalid_format"
)

// Validation is the outcome of validating a presented key.
type Validation struct {
	Valid  bool
	Reason string

	KeyID       string
	UserID      string
	AccessLevel string
	Permissions []string

	// Legacy is true when the key carried a deprecated prefix.
	Legacy bool
}

func invalid(reason string) *Validation {
	return &Validation{Reason: reason}
}

// Validate checks a presented key on the hot path. The current table takes
// precedence over the legacy one; a match there still honors is_active and
// expiry, and bumps last_used_at off the request path.
func (e *Engine) Validate(ctx context.Context, presented string) (*Validation, error) {
	prefix, legacy, ok := classifyPrefix(presented)
	if !ok {
		return invalid(ReasonInvalidFormat), nil
	}
	if legacy {
		logger.Warnw("api key with deprecated prefix presented", "prefix", prefix)
	}

	hash := crypto.HashSecret(presented)
	legacyRow := false
	key, err := e.store.APIKeys().GetKeyByHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, gateerr.NewPersistenceError("looking up api key", err)
		}
		key, err = e.store.APIKeys().GetLegacyKeyByHash(ctx, hash)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return invalid(ReasonNotFound), nil
			}
			return nil, gateerr.NewPersistenceError("looking up legacy api key", err)
		}
		legacyRow = true
	}

	// The lookup already keyed on the digest; the explicit compare keeps
	// the validation predicate constant-time end to end.
	if !crypto.ConstantTimeEquals(hash, key.KeyHash) {
		return invalid(ReasonNotFound), nil
	}

	now := e.now()
	if !key.IsActive {
		return invalid(ReasonRevoked), nil
	}
	if key.ExpiresAt != nil && !now.Before(*key.ExpiresAt) {
		return invalid(ReasonExpired), nil
	}

	// The legacy table carries no last_used_at column; tracking starts when
	// the key is rotated into the current table.
	if !legacyRow {
		e.touch(key.ID, now)
	}

	return &Validation{
		Valid:       true,
		KeyID:       key.ID,
		UserID:      key.UserID,
		AccessLevel: key.AccessLevel,
		Permissions: key.Permissions,
		Legacy:      legacy,
	}, nil
}

// classifyPrefix reports which accepted prefix the key carries, if any, and
// whether that prefix is deprecated.
func classifyPrefix(presented string) (prefix string, legacy, ok bool) {
	if strings.HasPrefix(presented, Prefix) && len(presented) > len(Prefix) {
		return Prefix, false, true
	}
	for _, p := range LegacyPrefixes {
		if strings.HasPrefix(presented, p) && len(presented) > len(p) {
			return p, true, true
		}
	}
	return "", false, false
}

// asyncTouch is the default last-used updater: fire and forget with its own
// deadline so the hot path never waits on it.
func (e *Engine) asyncTouch(keyID string, at time.Time) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.store.APIKeys().UpdateKeyLastUsed(ctx, keyID, at); err != nil {
			logger.Debugw("updating api key last_used_at",
				"key_id", keyID,
				"error", err.Error(),
			)
		}
	}()
}
