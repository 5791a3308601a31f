// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package store

// StorageConfig controls which backend the store factory uses.
type StorageConfig struct {
	Backend string // "sqlite" (default), "badger" or "memory".
	Path    string // Directory holding the backend's files; ignored by "memory".
}
