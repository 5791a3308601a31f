// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tally-dev/tally/internal/store/sqlite"
)

// testDBPath returns a temp SQLite database path.
func testDBPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name+".db")
}

func openTestStore(t *testing.T) *sqlite.RecordStore {
	t.Helper()
	s, err := sqlite.NewRecordStore(testDBPath(t, "records"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
