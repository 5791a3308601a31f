// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

// Package badger provides a store.RecordStore on BadgerDB. Each record is
// stored under the key "<collection>/<key>", so a prefix scan yields a
// collection in key order.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/tally-dev/tally/internal/store"
)

var _ store.RecordStore = (*RecordStore)(nil)

// Config controls how the database is opened.
type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	InMemory   bool
	SyncWrites bool

	// Logger receives Badger's internal logs. Nil disables them.
	Logger *slog.Logger
}

// DefaultConfig returns a durable configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// RecordStore implements store.RecordStore backed by BadgerDB.
type RecordStore struct {
	db *badger.DB
}

// Open opens (or creates) a Badger database according to cfg.
func Open(cfg Config) (*RecordStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger database: %w", err)
	}
	return &RecordStore{db: db}, nil
}

func (s *RecordStore) Close() error {
	return s.db.Close()
}

func recordKey(collection, key string) []byte {
	return []byte(collection + "/" + key)
}

func (s *RecordStore) Get(_ context.Context, collection, key string) ([]byte, error) {
	if err := store.CheckKey(collection, key); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(collection, key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("record %s/%s: %w", collection, key, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting record %s/%s: %w: %w", collection, key, store.ErrDatabase, err)
	}
	return value, nil
}

func (s *RecordStore) Put(_ context.Context, collection, key string, value []byte) error {
	if err := store.CheckKey(collection, key); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(collection, key), value)
	})
	if err != nil {
		return fmt.Errorf("putting record %s/%s: %w: %w", collection, key, store.ErrDatabase, err)
	}
	return nil
}

func (s *RecordStore) List(ctx context.Context, collection string) ([]store.Record, error) {
	if collection == "" {
		return nil, fmt.Errorf("empty collection: %w", store.ErrInvalidInput)
	}

	prefix := []byte(collection + "/")
	var out []store.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, store.Record{
				Key:   string(item.Key()[len(prefix):]),
				Value: v,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w: %w", collection, store.ErrDatabase, err)
	}
	return out, nil
}
