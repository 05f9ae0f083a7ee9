// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

// Package store persists collections and their items in BadgerDB.
//
// Keys:
//
//	collection/<id>                 JSON models.Collection
//	item/<collectionID>/<itemID>    JSON models.CollectionItem
//
// A refresh replaces a collection's items and stamps LastSyncAt in a single
// transaction, so readers see either the old snapshot or the new one.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	retrygo "github.com/avast/retry-go/v4"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/curator/internal/metrics"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
	ErrClosed   = errors.New("store closed")
)

const (
	prefixCollection = "collection/"
	prefixItem       = "item/"

	// conflictAttempts bounds optimistic read-modify-write retries.
	conflictAttempts = 8
)

// Config selects the on-disk location or an in-memory database.
type Config struct {
	Path     string
	InMemory bool
	// SyncWrites fsyncs every commit. Ignored in memory.
	SyncWrites bool
}

// Store is safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the database.
//
//nolint:gocritic // hugeParam: zerolog.Logger is designed to be passed by value
func Open(cfg Config, logger zerolog.Logger) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("store path is required unless in_memory is set")
		}
		opts = badger.DefaultOptions(cfg.Path)
		opts.SyncWrites = cfg.SyncWrites
		opts.Compression = options.Snappy
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
		now:    time.Now,
	}
	s.logger.Info().Str("path", cfg.Path).Bool("in_memory", cfg.InMemory).Msg("store opened")
	return s, nil
}

// Close flushes and closes the database. It is safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	s.logger.Info().Msg("store closed")
	return nil
}

// RunGC reclaims value log space until badger reports nothing to rewrite.
func (s *Store) RunGC(discardRatio float64) error {
	if err := s.check(context.Background()); err != nil {
		return err
	}
	if s.db.Opts().InMemory {
		return nil
	}
	for {
		err := s.db.RunValueLogGC(discardRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("value log gc: %w", err)
		}
	}
}

// Ping reports whether the store is open.
func (s *Store) Ping(ctx context.Context) error {
	return s.check(ctx)
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on badger conflicts.
func (s *Store) update(ctx context.Context, op, table string, fn func(txn *badger.Txn) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	start := time.Now()
	err := retrygo.Do(
		func() error { return s.db.Update(fn) },
		retrygo.Context(ctx),
		retrygo.Attempts(conflictAttempts),
		retrygo.Delay(time.Millisecond),
		retrygo.MaxJitter(5*time.Millisecond),
		retrygo.DelayType(retrygo.CombineDelay(retrygo.BackOffDelay, retrygo.RandomDelay)),
		retrygo.LastErrorOnly(true),
		retrygo.RetryIf(func(err error) bool { return errors.Is(err, badger.ErrConflict) }),
	)
	metrics.RecordDBQuery(op, table, time.Since(start), ignoreNotFound(err))
	return err
}

func (s *Store) view(ctx context.Context, op, table string, fn func(txn *badger.Txn) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	start := time.Now()
	err := s.db.View(fn)
	metrics.RecordDBQuery(op, table, time.Since(start), ignoreNotFound(err))
	return err
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

// scan decodes every value under prefix with decode.
func scan(txn *badger.Txn, prefix []byte, decode func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(decode); err != nil {
			return err
		}
	}
	return nil
}

// keysWithPrefix collects keys only, without fetching values.
func keysWithPrefix(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()
	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

func collectionKey(id string) []byte {
	return []byte(prefixCollection + id)
}

func itemPrefix(collectionID string) []byte {
	return []byte(prefixItem + collectionID + "/")
}

func itemKey(collectionID, itemID string) []byte {
	return []byte(prefixItem + collectionID + "/" + itemID)
}
