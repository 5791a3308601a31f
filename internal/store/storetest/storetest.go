// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

// Package storetest holds the behavioural suite every store.RecordStore
// backend must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tally-dev/tally/internal/store"
)

// Run exercises a fresh RecordStore returned by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) store.RecordStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s := open(t)
		_, err := s.Get(ctx, "proposals", "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Put(ctx, "proposals", "a", []byte(`{"v":1}`)))

		got, err := s.Get(ctx, "proposals", "a")
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":1}`, string(got))
	})

	t.Run("put replaces", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Put(ctx, "proposals", "a", []byte("one")))
		require.NoError(t, s.Put(ctx, "proposals", "a", []byte("two")))

		got, err := s.Get(ctx, "proposals", "a")
		require.NoError(t, err)
		assert.Equal(t, "two", string(got))
	})

	t.Run("collections are isolated", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Put(ctx, "proposals", "k", []byte("p")))
		require.NoError(t, s.Put(ctx, "audit", "k", []byte("a")))

		got, err := s.Get(ctx, "audit", "k")
		require.NoError(t, err)
		assert.Equal(t, "a", string(got))

		recs, err := s.List(ctx, "proposals")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "p", string(recs[0].Value))
	})

	t.Run("list is ordered by key", func(t *testing.T) {
		s := open(t)
		for _, k := range []string{"c", "a", "b"} {
			require.NoError(t, s.Put(ctx, "audit", k, []byte(k)))
		}

		recs, err := s.List(ctx, "audit")
		require.NoError(t, err)
		keys := make([]string, 0, len(recs))
		for _, r := range recs {
			keys = append(keys, r.Key)
		}
		assert.Equal(t, []string{"a", "b", "c"}, keys)
	})

	t.Run("list empty collection", func(t *testing.T) {
		s := open(t)
		recs, err := s.List(ctx, "actions")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("empty key rejected", func(t *testing.T) {
		s := open(t)
		assert.ErrorIs(t, s.Put(ctx, "proposals", "", []byte("x")), store.ErrInvalidInput)
		_, err := s.Get(ctx, "", "a")
		assert.ErrorIs(t, err, store.ErrInvalidInput)
	})

	t.Run("concurrent puts", func(t *testing.T) {
		s := open(t)
		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, s.Put(ctx, "audit", fmt.Sprintf("k%02d", i), []byte("v")))
			}(i)
		}
		wg.Wait()

		recs, err := s.List(ctx, "audit")
		require.NoError(t, err)
		assert.Len(t, recs, 20)
	})
}
