// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tally-dev/tally/internal/store"
)

func init() {
	store.RegisterBackend("sqlite", newRecordStore)
}

func newRecordStore(dataPath string) (store.RecordStore, error) {
	if dataPath == "" {
		dataPath = "."
	}
	if err := os.MkdirAll(dataPath, 0o750); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", dataPath, err)
	}
	return NewRecordStore(filepath.Join(dataPath, "tally.db"))
}
