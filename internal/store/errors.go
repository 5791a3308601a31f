// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package store

import "errors"

// Sentinel errors for store operations, checked with errors.Is.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates an empty collection or key.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDatabase indicates a general backend failure.
	ErrDatabase = errors.New("database error")
)
