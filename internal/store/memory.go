// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var _ RecordStore = (*MemoryStore)(nil)

// MemoryStore is a process-local RecordStore. Records do not survive a
// restart; it backs tests and the "memory" storage backend.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, collection, key string) ([]byte, error) {
	if err := CheckKey(collection, key); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.collections[collection][key]
	if !ok {
		return nil, fmt.Errorf("record %s/%s: %w", collection, key, ErrNotFound)
	}
	return slices.Clone(v), nil
}

func (m *MemoryStore) Put(_ context.Context, collection, key string, value []byte) error {
	if err := CheckKey(collection, key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[collection]
	if !ok {
		c = make(map[string][]byte)
		m.collections[collection] = c
	}
	c[key] = slices.Clone(value)
	return nil
}

func (m *MemoryStore) List(_ context.Context, collection string) ([]Record, error) {
	if collection == "" {
		return nil, fmt.Errorf("empty collection: %w", ErrInvalidInput)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	c := m.collections[collection]
	out := make([]Record, 0, len(c))
	for k, v := range c {
		out = append(out, Record{Key: k, Value: slices.Clone(v)})
	}
	slices.SortFunc(out, func(a, b Record) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

// CheckKey rejects an empty collection or key. Backends call it before
// touching storage.
func CheckKey(collection, key string) error {
	if collection == "" || key == "" {
		return fmt.Errorf("collection and key are required: %w", ErrInvalidInput)
	}
	return nil
}
