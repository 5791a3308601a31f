// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package store

import (
	"sync"

	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

// Factory opens a RecordStore rooted at dataPath.
type Factory func(dataPath string) (RecordStore, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers a factory for a named storage backend.
// Backend packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Backends returns the names of all registered backends.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}

// resolveBackend returns the effective backend name, defaulting to "sqlite".
func resolveBackend(cfg *StorageConfig) string {
	if cfg == nil || cfg.Backend == "" {
		return "sqlite"
	}
	return cfg.Backend
}

// Open creates the RecordStore selected by cfg.
func Open(cfg *StorageConfig) (RecordStore, error) {
	backend := resolveBackend(cfg)

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, tallyerr.Errorf(tallyerr.CodeStoreBackendUnsupported, "unsupported storage backend: %q", backend)
	}

	var path string
	if cfg != nil {
		path = cfg.Path
	}
	return factory(path)
}

func init() {
	RegisterBackend("memory", func(string) (RecordStore, error) {
		return NewMemoryStore(), nil
	})
}
