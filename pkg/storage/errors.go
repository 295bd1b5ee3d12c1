// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import "errors"

// Sentinel errors returned by storage implementations.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when an insert violates a uniqueness
	// constraint.
	ErrAlreadyExists = errors.New("already exists")
)
