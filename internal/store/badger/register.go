// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package badger

import (
	"path/filepath"

	"github.com/tally-dev/tally/internal/store"
)

func init() {
	store.RegisterBackend("badger", func(dataPath string) (store.RecordStore, error) {
		if dataPath == "" {
			dataPath = "."
		}
		return Open(DefaultConfig(filepath.Join(dataPath, "badger")))
	})
}
