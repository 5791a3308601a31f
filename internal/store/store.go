// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package store

import "context"

// Record is a single keyed value within a collection.
type Record struct {
	Key   string
	Value []byte
}

// RecordStore durably stores and retrieves opaque records keyed by
// (collection, key). Callers own the encoding of values.
type RecordStore interface {
	// Get returns the value stored under key, or an error wrapping
	// ErrNotFound when no such record exists.
	Get(ctx context.Context, collection, key string) ([]byte, error)

	// Put creates or replaces the record under key.
	Put(ctx context.Context, collection, key string, value []byte) error

	// List returns every record in the collection ordered by key.
	List(ctx context.Context, collection string) ([]Record, error)

	Close() error
}
