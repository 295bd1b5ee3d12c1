// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/lanolabs/authgate/pkg/storage"
)

// DatabaseLayer is the authoritative bottom tier, backed by the
// oauth_states table. Short-lived OAuth state, CSRF tokens, device codes
// and OTP states survive a full outage of the upper tiers because this one
// is always present.
type DatabaseLayer struct {
	states storage.StateStore
}

var _ Layer = (*DatabaseLayer)(nil)

// NewDatabaseLayer creates the authoritative tier over a StateStore.
func NewDatabaseLayer(states storage.StateStore) *DatabaseLayer {
	return &DatabaseLayer{states: states}
}

// Name implements Layer.
func (*DatabaseLayer) Name() string { return LayerDatabase }

// Get implements Layer.
func (d *DatabaseLayer) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := d.states.GetState(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrMiss
		}
		return nil, err
	}
	return value, nil
}

// Set implements Layer.
func (d *DatabaseLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return d.states.PutState(ctx, key, value, time.Now().Add(ttl))
}

// Delete implements Layer.
func (d *DatabaseLayer) Delete(ctx context.Context, key string) error {
	return d.states.DeleteState(ctx, key)
}
