// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package apikey implements the API key lifecycle: minting, rotation,
// revocation and hot-path validation. The plain key string exists only in
// the create and rotate responses; everywhere else the gateway knows the
// SHA-256 hash.
package apikey

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/lanolabs/authgate/pkg/audit"
	"github.com/lanolabs/authgate/pkg/crypto"
	gateerr "github.com/lanolabs/authgate/pkg/errors"
	"github.com/lanolabs/authgate/pkg/events"
	"github.com/lanolabs/authgate/pkg/storage"
)

// Prefix is the canonical key prefix. LegacyPrefixes are accepted on read
// paths for the migration window; keys minted or rotated today always carry
// Prefix.
const Prefix = "lano_"

// LegacyPrefixes are still honored during validation.
var LegacyPrefixes = []string{"lanokey_", "sk_lano_"}

// MaxExpiryDays bounds expires_in_days.
const MaxExpiryDays = 3650

var accessLevels = []string{
	storage.AccessLevelPublic,
	storage.AccessLevelAuthenticated,
	storage.AccessLevelTeam,
	storage.AccessLevelAdmin,
	storage.AccessLevelEnterprise,
}

// Engine manages API keys.
type Engine struct {
	store    storage.Store
	recorder *events.Recorder
	auditor  *audit.Auditor
	now      func() time.Time

	// touch updates last_used_at off the hot path. Overridable in tests.
	touch func(keyID string, at time.Time)

	// invalidate is called with the hash of any key that stops being
	// valid, so cached identity resolutions can be dropped. Optional.
	invalidate func(ctx context.Context, keyHash string)
}

// New creates the engine.
func New(store storage.Store, recorder *events.Recorder, auditor *audit.Auditor) *Engine {
	e := &Engine{
		store:    store,
		recorder: recorder,
		auditor:  auditor,
		now:      time.Now,
	}
	e.touch = e.asyncTouch
	return e
}

// OnInvalidate registers a hook invoked with the hash of each key that is
// rotated or revoked.
func (e *Engine) OnInvalidate(fn func(ctx context.Context, keyHash string)) {
	e.invalidate = fn
}

// MintParams are the inputs to Mint.
type MintParams struct {
	UserID      string
	Name        string
	AccessLevel string
	Permissions []string

	// ExpiresInDays, when set, must lie in [1, MaxExpiryDays].
	ExpiresInDays *int
}

// Minted pairs the stored key with its plain value. The plain value is not
// recoverable afterwards.
type Minted struct {
	Key   *storage.APIKey
	Plain string
}

// Mint validates the request and creates a key.
func (e *Engine) Mint(ctx context.Context, params MintParams) (*Minted, error) {
	if params.UserID == "" {
		return nil, gateerr.NewValidationError("user_id is required", nil)
	}
	if params.Name == "" {
		return nil, gateerr.NewValidationError("name is required", nil)
	}
	if params.AccessLevel == "" {
		params.AccessLevel = storage.AccessLevelAuthenticated
	}
	if !slices.Contains(accessLevels, params.AccessLevel) {
		return nil, gateerr.NewValidationError("unknown access_level", nil)
	}
	if params.ExpiresInDays != nil && (*params.ExpiresInDays < 1 || *params.ExpiresInDays > MaxExpiryDays) {
		return nil, gateerr.NewValidationError("expires_in_days must be between 1 and 3650", nil)
	}

	exists, err := e.store.APIKeys().ActiveKeyNameExists(ctx, params.UserID, params.Name)
	if err != nil {
		return nil, gateerr.NewPersistenceError("checking key name", err)
	}
	if exists {
		return nil, gateerr.NewConflictError("an active key with this name already exists", nil)
	}

	plain, err := newKeyValue()
	if err != nil {
		return nil, err
	}

	now := e.now()
	key := &storage.APIKey{
		ID:          uuid.NewString(),
		Name:        params.Name,
		KeyHash:     crypto.HashSecret(plain),
		UserID:      params.UserID,
		AccessLevel: params.AccessLevel,
		Permissions: params.Permissions,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if params.ExpiresInDays != nil {
		expires := now.AddDate(0, 0, *params.ExpiresInDays)
		key.ExpiresAt = &expires
	}

	err = e.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.APIKeys().InsertKey(ctx, key); err != nil {
			return err
		}
		_, err := e.recorder.Record(ctx, tx, storage.AggregateAPIKey, key.ID,
			events.TypeAPIKeyCreated, keyPayload(key))
		if err != nil {
			return err
		}
		return e.auditor.Record(ctx, tx, &storage.AuditEntry{
			EventType: "api_key_created",
			UserID:    key.UserID,
			Success:   true,
		})
	})
	if err != nil {
		return nil, gateerr.NewPersistenceError("storing api key", err)
	}

	return &Minted{Key: key, Plain: plain}, nil
}

// Get returns a key's metadata, scoped to its owner. Another user's key is
// indistinguishable from a missing one.
func (e *Engine) Get(ctx context.Context, userID, keyID string) (*storage.APIKey, error) {
	key, err := e.store.APIKeys().GetKeyByID(ctx, keyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, gateerr.NewNotFoundError("api key not found", nil)
		}
		return nil, gateerr.NewPersistenceError("loading api key", err)
	}
	if key.UserID != userID {
		return nil, gateerr.NewNotFoundError("api key not found", nil)
	}
	return key, nil
}

// List returns a user's keys, active and inactive.
func (e *Engine) List(ctx context.Context, userID string) ([]*storage.APIKey, error) {
	keys, err := e.store.APIKeys().ListKeysByUser(ctx, userID)
	if err != nil {
		return nil, gateerr.NewPersistenceError("listing api keys", err)
	}
	return keys, nil
}

// Rotate replaces a key's secret in place. The prior value stops working
// the instant the new hash commits. Legacy-prefixed keys come out of
// rotation carrying the canonical prefix.
func (e *Engine) Rotate(ctx context.Context, userID, keyID string) (*Minted, error) {
	key, err := e.Get(ctx, userID, keyID)
	if err != nil {
		return nil, err
	}
	if !key.IsActive {
		return nil, gateerr.NewAuthorizationError("cannot rotate a revoked key", nil)
	}

	plain, err := newKeyValue()
	if err != nil {
		return nil, err
	}
	oldHash := key.KeyHash
	now := e.now()

	err = e.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.APIKeys().ReplaceKeyHash(ctx, keyID, crypto.HashSecret(plain), now); err != nil {
			return err
		}
		_, err := e.recorder.Record(ctx, tx, storage.AggregateAPIKey, keyID,
			events.TypeAPIKeyRotated, keyPayload(key))
		if err != nil {
			return err
		}
		return e.auditor.Record(ctx, tx, &storage.AuditEntry{
			EventType: "api_key_rotated",
			UserID:    key.UserID,
			Success:   true,
		})
	})
	if err != nil {
		return nil, gateerr.NewPersistenceError("rotating api key", err)
	}

	if e.invalidate != nil {
		e.invalidate(ctx, oldHash)
	}

	key.KeyHash = crypto.HashSecret(plain)
	key.UpdatedAt = now
	return &Minted{Key: key, Plain: plain}, nil
}

// Revoke disables a key. Hard revocation deletes the row; soft revocation
// keeps it for audit with is_active cleared.
func (e *Engine) Revoke(ctx context.Context, userID, keyID string, hard bool) error {
	key, err := e.Get(ctx, userID, keyID)
	if err != nil {
		return err
	}
	now := e.now()

	err = e.store.WithTx(ctx, func(tx storage.Tx) error {
		if hard {
			if err := tx.APIKeys().DeleteKey(ctx, keyID); err != nil {
				return err
			}
		} else {
			if err := tx.APIKeys().DeactivateKey(ctx, keyID, now); err != nil {
				return err
			}
		}
		_, err := e.recorder.Record(ctx, tx, storage.AggregateAPIKey, keyID,
			events.TypeAPIKeyRevoked, keyPayload(key))
		if err != nil {
			return err
		}
		return e.auditor.Record(ctx, tx, &storage.AuditEntry{
			EventType: "api_key_revoked",
			UserID:    key.UserID,
			Success:   true,
		})
	})
	if err != nil {
		return gateerr.NewPersistenceError("revoking api key", err)
	}

	if e.invalidate != nil {
		e.invalidate(ctx, key.KeyHash)
	}
	return nil
}

// newKeyValue mints a canonical-prefix key: the prefix plus 64 hex chars.
func newKeyValue() (string, error) {
	tail, err := crypto.NewHexSecret(crypto.APIKeyBytes)
	if err != nil {
		return "", gateerr.NewServiceError("generating api key", err)
	}
	return Prefix + tail, nil
}

func keyPayload(key *storage.APIKey) events.APIKeyPayload {
	return events.APIKeyPayload{
		KeyID:       key.ID,
		Name:        key.Name,
		UserID:      key.UserID,
		AccessLevel: key.AccessLevel,
	}
}
